package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gatebot/internal/catalog"
	"gatebot/internal/stats"

	"gorm.io/gorm"
)

// ProcessedMessage marks a source-channel message as already ingested, so
// a re-delivery or a backfill sweep never double-counts it.
type ProcessedMessage struct {
	ID          uint  `gorm:"primaryKey"`
	SourceChat  int64 `gorm:"uniqueIndex:idx_processed_source"`
	MessageID   int   `gorm:"uniqueIndex:idx_processed_source"`
	ProcessedAt time.Time
}

func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// Media is one piece of incoming media as seen by the transport.
type Media struct {
	Chat      int64
	MessageID int
	FileID    string
	Caption   string
}

type Status string

const (
	StatusIgnored   Status = "ignored"   // not from the trusted source channel
	StatusDuplicate Status = "duplicate" // source message already processed
	StatusAttached  Status = "attached"  // filled a pre-declared code
	StatusMinted    Status = "minted"    // fresh serial assigned
)

type Outcome struct {
	Status Status
	Code   string
	Serial int64
}

// HistoryWalker yields every media message of a channel's history, oldest
// first. Walk stops early when the callback returns an error.
type HistoryWalker interface {
	Walk(ctx context.Context, chat int64, fn func(Media) error) error
}

// Sync turns arrivals in the trusted source channel into catalog entries.
type Sync struct {
	db            *gorm.DB
	catalog       *catalog.Store
	captionAsCode bool
	source        atomic.Int64
	mu            sync.Mutex
}

func New(db *gorm.DB, cat *catalog.Store, source int64, captionAsCode bool) *Sync {
	s := &Sync{db: db, catalog: cat, captionAsCode: captionAsCode}
	s.source.Store(source)
	return s
}

// SetSource switches the trusted source channel at runtime.
func (s *Sync) SetSource(chat int64) {
	s.source.Store(chat)
}

func (s *Sync) Source() int64 {
	return s.source.Load()
}

// OnIncomingMedia registers one media message. Media from any chat other
// than the configured source channel is a silent no-op. Re-delivery of a
// message already marked processed is a no-op as well.
func (s *Sync) OnIncomingMedia(m Media) (Outcome, error) {
	source := s.source.Load()
	if source == 0 || m.Chat != source {
		return Outcome{Status: StatusIgnored}, nil
	}

	return s.process(m)
}

// OnAdminMedia registers media an authorized admin uploads directly in a
// private chat, bypassing the source-channel filter. The caller is
// responsible for the authorization check.
func (s *Sync) OnAdminMedia(m Media) (Outcome, error) {
	return s.process(m)
}

func (s *Sync) process(m Media) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.Model(&ProcessedMessage{}).
		Where("source_chat = ? AND message_id = ?", m.Chat, m.MessageID).
		Count(&count).Error
	if err != nil {
		return Outcome{}, err
	}
	if count > 0 {
		return Outcome{Status: StatusDuplicate}, nil
	}

	ref := catalog.ContentRef{
		FileID:        m.FileID,
		SourceChat:    m.Chat,
		SourceMessage: m.MessageID,
	}
	caption := strings.TrimSpace(m.Caption)

	// entry and marker commit together: a crash can never leave the entry
	// behind without its idempotence marker
	var outcome Outcome
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = s.register(s.catalog.WithTx(tx), ref, caption)
		if err != nil {
			return err
		}

		return tx.Create(&ProcessedMessage{
			SourceChat:  m.Chat,
			MessageID:   m.MessageID,
			ProcessedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return Outcome{}, err
	}

	stats.AddIngested(1)
	return outcome, nil
}

func (s *Sync) register(cat *catalog.Store, ref catalog.ContentRef, caption string) (Outcome, error) {
	if s.captionAsCode && caption != "" {
		err := cat.Attach(caption, ref)
		switch {
		case err == nil:
			return Outcome{Status: StatusAttached, Code: catalog.Normalize(caption)}, nil
		case errors.Is(err, catalog.ErrCodeNotFound), errors.Is(err, catalog.ErrRefAttached):
			// no declared code to fill; mint a serial instead
		default:
			return Outcome{}, err
		}
	}

	serial, err := cat.PutSerial(ref, caption)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusMinted, Serial: serial}, nil
}

// Backfill walks the source channel's history and registers anything not
// yet in the catalog, keyed by source message id. Interruptible through
// ctx; every individual write is atomic, an interrupted run just reports
// fewer additions.
func (s *Sync) Backfill(ctx context.Context, walker HistoryWalker) (int, error) {
	source := s.source.Load()
	if source == 0 {
		return 0, errors.New("no source channel configured")
	}

	added := 0
	err := walker.Walk(ctx, source, func(m Media) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := s.OnIncomingMedia(m)
		if err != nil {
			return err
		}
		if outcome.Status == StatusMinted || outcome.Status == StatusAttached {
			added++
		}
		return nil
	})

	return added, err
}
