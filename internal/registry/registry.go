package registry

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// User is the database model for everyone who has ever talked to the bot.
// Users are created on first observed interaction and never deleted; only
// the display fields and LastSeen are refreshed.
type User struct {
	TelegramID int64 `gorm:"primaryKey"`
	Username   string
	FirstName  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

func (User) TableName() string {
	return "users"
}

// Registry is the append-only user set the broadcast dispatcher fans out to.
type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Touch records an interaction: creates the user on first sight, refreshes
// display name and LastSeen otherwise. Empty name fields never clobber a
// previously seen value.
func (r *Registry) Touch(id int64, username, firstName string) error {
	now := time.Now()

	var u User
	err := r.db.First(&u, "telegram_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(&User{
			TelegramID: id,
			Username:   username,
			FirstName:  firstName,
			FirstSeen:  now,
			LastSeen:   now,
		}).Error
	}
	if err != nil {
		return err
	}

	if username != "" {
		u.Username = username
	}
	if firstName != "" {
		u.FirstName = firstName
	}
	u.LastSeen = now

	return r.db.Save(&u).Error
}

// All returns every known user id, for broadcast fan-out.
func (r *Registry) All() ([]int64, error) {
	var ids []int64
	err := r.db.Model(&User{}).Order("first_seen").Pluck("telegram_id", &ids).Error
	return ids, err
}

func (r *Registry) Count() (int64, error) {
	var count int64
	err := r.db.Model(&User{}).Count(&count).Error
	return count, err
}
