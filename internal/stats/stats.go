package stats

import (
	"log"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

var (
	redeemGranted   int64
	redeemDenied    int64
	broadcastSent   int64
	broadcastFailed int64
	itemsIngested   int64
)

func AddRedeemGranted(n int64)   { atomic.AddInt64(&redeemGranted, n) }
func AddRedeemDenied(n int64)    { atomic.AddInt64(&redeemDenied, n) }
func AddBroadcastSent(n int64)   { atomic.AddInt64(&broadcastSent, n) }
func AddBroadcastFailed(n int64) { atomic.AddInt64(&broadcastFailed, n) }
func AddIngested(n int64)        { atomic.AddInt64(&itemsIngested, n) }

// Totals is a point-in-time copy of the counters.
type Totals struct {
	RedeemGranted   int64
	RedeemDenied    int64
	BroadcastSent   int64
	BroadcastFailed int64
	ItemsIngested   int64
}

func Current() Totals {
	return Totals{
		RedeemGranted:   atomic.LoadInt64(&redeemGranted),
		RedeemDenied:    atomic.LoadInt64(&redeemDenied),
		BroadcastSent:   atomic.LoadInt64(&broadcastSent),
		BroadcastFailed: atomic.LoadInt64(&broadcastFailed),
		ItemsIngested:   atomic.LoadInt64(&itemsIngested),
	}
}

type Snapshot struct {
	ID              uint      `gorm:"primaryKey"`
	Timestamp       time.Time `gorm:"index"`
	RedeemGranted   int64     `gorm:"default:0"`
	RedeemDenied    int64     `gorm:"default:0"`
	BroadcastSent   int64     `gorm:"default:0"`
	BroadcastFailed int64     `gorm:"default:0"`
	ItemsIngested   int64     `gorm:"default:0"`
}

func (Snapshot) TableName() string {
	return "stats_snapshots"
}

// Service persists counter snapshots on a fixed interval so the admin
// panel numbers survive restarts.
type Service struct {
	db             *gorm.DB
	snapshotTicker *time.Ticker
	done           chan bool
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:             db,
		snapshotTicker: time.NewTicker(5 * time.Minute),
		done:           make(chan bool),
	}
}

func (s *Service) Start() {
	log.Println("Starting stats service...")

	go func() {
		for {
			select {
			case <-s.snapshotTicker.C:
				s.saveSnapshot()

			case <-s.done:
				log.Println("Stats service stopped")
				return
			}
		}
	}()
}

func (s *Service) Stop() {
	s.snapshotTicker.Stop()

	// Final snapshot on the way out
	s.saveSnapshot()

	close(s.done)
}

func (s *Service) saveSnapshot() {
	t := Current()
	snapshot := Snapshot{
		Timestamp:       time.Now(),
		RedeemGranted:   t.RedeemGranted,
		RedeemDenied:    t.RedeemDenied,
		BroadcastSent:   t.BroadcastSent,
		BroadcastFailed: t.BroadcastFailed,
		ItemsIngested:   t.ItemsIngested,
	}

	if err := s.db.Create(&snapshot).Error; err != nil {
		log.Printf("Error saving stats snapshot: %v", err)
	}
}
