package gate

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrChannelExists   = errors.New("channel already required")
	ErrChannelNotFound = errors.New("channel not in required set")
)

// Status is the membership state reported by the external oracle.
type Status string

const (
	StatusMember        Status = "member"
	StatusAdministrator Status = "administrator"
	StatusCreator       Status = "creator"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
	StatusUnknown       Status = "unknown"
)

// Satisfied reports whether a membership status passes the gate.
func (s Status) Satisfied() bool {
	switch s {
	case StatusMember, StatusAdministrator, StatusCreator:
		return true
	}
	return false
}

// Oracle answers per-channel membership queries. Implemented by the
// transport adapter; queries may block on network I/O.
type Oracle interface {
	GetMembershipStatus(ctx context.Context, channel string, userID int64) (Status, error)
}

// Verdict is the outcome of one gate check. It is never cached across
// requests: membership can change between checks.
type Verdict struct {
	Granted bool
	Missing []string // channels the user has not satisfied, display order
}

// RequiredChannel is the database model for one force-join channel.
type RequiredChannel struct {
	ID      uint   `gorm:"primaryKey"`
	Handle  string `gorm:"uniqueIndex"` // normalized: no @, lower-cased
	AddedBy int64
	AddedAt time.Time
}

func (RequiredChannel) TableName() string {
	return "required_channels"
}

// Gate checks users against the configured set of required channels.
type Gate struct {
	db     *gorm.DB
	oracle Oracle
}

func New(db *gorm.DB, oracle Oracle) *Gate {
	return &Gate{db: db, oracle: oracle}
}

// NormalizeHandle strips a leading @ and lower-cases a channel handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Check queries the oracle for every required channel and accumulates the
// unsatisfied ones. An oracle failure counts the channel as unsatisfied:
// access is never granted on an inconclusive check. The walk never
// short-circuits, so Missing lists exactly the channels that failed.
func (g *Gate) Check(ctx context.Context, userID int64) (Verdict, error) {
	channels, err := g.Channels()
	if err != nil {
		return Verdict{}, err
	}

	if len(channels) == 0 {
		return Verdict{Granted: true}, nil
	}

	var missing []string
	for _, ch := range channels {
		status, err := g.oracle.GetMembershipStatus(ctx, ch.Handle, userID)
		if err != nil {
			log.Printf("Membership check failed for @%s user %d: %v", ch.Handle, userID, err)
			missing = append(missing, ch.Handle)
			continue
		}
		if !status.Satisfied() {
			missing = append(missing, ch.Handle)
		}
	}

	if len(missing) > 0 {
		return Verdict{Missing: missing}, nil
	}
	return Verdict{Granted: true}, nil
}

func (g *Gate) AddChannel(handle string, addedBy int64) error {
	norm := NormalizeHandle(handle)

	var count int64
	if err := g.db.Model(&RequiredChannel{}).Where("handle = ?", norm).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrChannelExists
	}

	return g.db.Create(&RequiredChannel{
		Handle:  norm,
		AddedBy: addedBy,
		AddedAt: time.Now(),
	}).Error
}

func (g *Gate) RemoveChannel(handle string) error {
	res := g.db.Delete(&RequiredChannel{}, "handle = ?", NormalizeHandle(handle))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// Channels returns the required set in deterministic display order.
func (g *Gate) Channels() ([]RequiredChannel, error) {
	var channels []RequiredChannel
	err := g.db.Order("handle").Find(&channels).Error
	return channels, err
}
