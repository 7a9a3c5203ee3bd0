package roles

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrDenied is returned for every authorization failure. It carries no
// detail on purpose: denials must not reveal why they happened.
var ErrDenied = errors.New("not authorized")

// AdminModel is the database model for promoted admins. The owner is not
// stored here; it is fixed at configuration time.
type AdminModel struct {
	UserID     int64 `gorm:"primaryKey"`
	PromotedBy int64
	PromotedAt time.Time
}

func (AdminModel) TableName() string {
	return "admins"
}

// Store holds the privileged role set: one immutable owner plus zero or
// more promoted admins, mirrored in memory for cheap IsAuthorized checks.
type Store struct {
	db      *gorm.DB
	ownerID int64
	secret  string

	mu     sync.RWMutex
	admins map[int64]bool
}

func New(db *gorm.DB, ownerID int64, secret string) *Store {
	return &Store{
		db:      db,
		ownerID: ownerID,
		secret:  secret,
		admins:  make(map[int64]bool),
	}
}

func (s *Store) LoadAdminsFromDB() {
	var models []AdminModel
	if err := s.db.Find(&models).Error; err != nil {
		log.Printf("Error loading admins from database: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range models {
		s.admins[m.UserID] = true
	}

	log.Printf("Loaded %d admins from database", len(models))
}

func (s *Store) IsOwner(userID int64) bool {
	return userID == s.ownerID
}

// IsAuthorized reports whether userID may invoke administrative
// operations: the owner always, promoted admins otherwise.
func (s *Store) IsAuthorized(userID int64) bool {
	if s.IsOwner(userID) {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[userID]
}

// Promote adds target to the admin set. Only the owner presenting the
// pre-shared secret may promote; promotion of an existing admin is a
// no-op, not an error.
func (s *Store) Promote(requester int64, secret string, target int64) error {
	if requester != s.ownerID {
		return ErrDenied
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		return ErrDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.admins[target] || target == s.ownerID {
		return nil
	}

	if err := s.db.Create(&AdminModel{
		UserID:     target,
		PromotedBy: requester,
		PromotedAt: time.Now(),
	}).Error; err != nil {
		return err
	}

	s.admins[target] = true
	return nil
}

func (s *Store) AdminCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.admins)
}
