package catalog

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	ErrCodeExists   = errors.New("code already exists")
	ErrCodeNotFound = errors.New("code not found")
	ErrRefAttached  = errors.New("code already has content attached")
)

// ContentRef locates a piece of media on the transport side: either a
// transport file id, a (source chat, source message) pair, or both.
type ContentRef struct {
	FileID        string
	SourceChat    int64
	SourceMessage int
}

func (r ContentRef) IsZero() bool {
	return r.FileID == "" && r.SourceMessage == 0
}

// Entry is the database model for one redeemable code.
type Entry struct {
	ID            uint   `gorm:"primaryKey"`
	Code          string // display form, as entered or minted
	NormCode      string `gorm:"uniqueIndex"` // lower-cased lookup key
	Serial        int64  `gorm:"index"`       // non-zero for integer-typed codes
	FileID        string
	SourceChat    int64
	SourceMessage int
	Caption       string
	CreatedAt     time.Time
}

func (Entry) TableName() string {
	return "catalog_entries"
}

func (e *Entry) Ref() ContentRef {
	return ContentRef{FileID: e.FileID, SourceChat: e.SourceChat, SourceMessage: e.SourceMessage}
}

// Store owns the code catalog. All writes go through mu so that computing
// the next serial and inserting the entry is a single step; two concurrent
// ingestions must never mint the same serial.
type Store struct {
	db *gorm.DB
	mu *sync.Mutex
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, mu: &sync.Mutex{}}
}

// WithTx returns a view of the store that runs its statements inside tx.
// The view shares the original's write lock, so serial assignment stays
// serialized across transactional and direct callers.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, mu: s.mu}
}

// Normalize trims and case-folds a submitted code so that string codes
// compare case-insensitively. Integer codes canonicalize to their plain
// decimal form, so "007" and "+7" are the same code as "7".
func Normalize(code string) string {
	norm := strings.ToLower(strings.TrimSpace(code))
	if serial, err := strconv.ParseInt(norm, 10, 64); err == nil && serial > 0 {
		return strconv.FormatInt(serial, 10)
	}
	return norm
}

// Put inserts an admin-declared code. The content reference may be zero
// when the code is pre-declared ahead of its media (see Attach).
func (s *Store) Put(code string, ref ContentRef, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(code, ref, caption)
}

func (s *Store) insert(code string, ref ContentRef, caption string) error {
	norm := Normalize(code)

	var count int64
	if err := s.db.Model(&Entry{}).Where("norm_code = ?", norm).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrCodeExists
	}

	entry := Entry{
		Code:          strings.TrimSpace(code),
		NormCode:      norm,
		FileID:        ref.FileID,
		SourceChat:    ref.SourceChat,
		SourceMessage: ref.SourceMessage,
		Caption:       caption,
		CreatedAt:     time.Now(),
	}
	if serial, err := strconv.ParseInt(norm, 10, 64); err == nil && serial > 0 {
		// numeric codes display in canonical form so the serial and the
		// lookup key always agree
		entry.Serial = serial
		entry.Code = norm
	}

	return s.db.Create(&entry).Error
}

// PutSerial mints the next serial (max existing + 1, starting at 1) and
// inserts the entry under it in one critical section.
func (s *Store) PutSerial(ref ContentRef, caption string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	row := s.db.Model(&Entry{}).Select("COALESCE(MAX(serial), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, err
	}

	serial := max + 1
	err := s.insert(strconv.FormatInt(serial, 10), ref, caption)
	if err != nil {
		return 0, err
	}
	return serial, nil
}

// Attach fills in the content reference of a pre-declared code. A code
// that already carries content is not overwritten.
func (s *Store) Attach(code string, ref ContentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookup(code)
	if err != nil {
		return err
	}
	if !entry.Ref().IsZero() {
		return ErrRefAttached
	}

	return s.db.Model(&Entry{}).Where("id = ?", entry.ID).Updates(map[string]interface{}{
		"file_id":        ref.FileID,
		"source_chat":    ref.SourceChat,
		"source_message": ref.SourceMessage,
	}).Error
}

// Resolve looks a code up, case-insensitively for string codes.
func (s *Store) Resolve(code string) (*Entry, error) {
	return s.lookup(code)
}

func (s *Store) lookup(code string) (*Entry, error) {
	var entry Entry
	err := s.db.Where("norm_code = ?", Normalize(code)).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns all entries ordered for display: serial codes ascending
// numerically first, then string codes lexically.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	if err := s.db.Find(&entries).Error; err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Serial != 0 && b.Serial != 0:
			return a.Serial < b.Serial
		case a.Serial != 0:
			return true
		case b.Serial != 0:
			return false
		default:
			return a.NormCode < b.NormCode
		}
	})

	return entries, nil
}

func (s *Store) Count() (int64, error) {
	var count int64
	err := s.db.Model(&Entry{}).Count(&count).Error
	return count, err
}
