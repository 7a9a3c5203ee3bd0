package broadcast

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gatebot/internal/stats"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Sender delivers one payload to one recipient. Implemented by the
// transport adapter.
type Sender interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendMedia(ctx context.Context, userID int64, fileID, caption string) error
}

// Payload is what a broadcast delivers: plain text, or media by file id.
type Payload struct {
	Text    string
	FileID  string
	Caption string
}

// Report is the aggregate outcome of one broadcast run. Failures are
// counted, never individually retained.
type Report struct {
	RunID   string
	Sent    int
	Failed  int
	Elapsed time.Duration
}

// Dispatcher fans one payload out to the whole user registry through a
// bounded worker pool, throttled to respect the transport's rate limits.
type Dispatcher struct {
	sender  Sender
	workers int
	limiter *rate.Limiter
}

func New(sender Sender, workers int, perSecond float64) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		workers: workers,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Broadcast delivers payload to every recipient. One recipient's failure
// never stops delivery to the rest; there is no retry within a run. A
// cancelled ctx stops dispatching further recipients and the report covers
// only what was attempted.
func (d *Dispatcher) Broadcast(ctx context.Context, payload Payload, recipients []int64) Report {
	start := time.Now()
	runID := uuid.NewString()

	log.Printf("Broadcast %s starting: %d recipients, %d workers", runID, len(recipients), d.workers)

	jobs := make(chan int64)
	var sent, failed int64

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				if err := d.limiter.Wait(ctx); err != nil {
					return
				}
				if err := d.deliver(ctx, payload, userID); err != nil {
					atomic.AddInt64(&failed, 1)
					log.Printf("Broadcast %s: failed to send to %d: %v", runID, userID, err)
					continue
				}
				atomic.AddInt64(&sent, 1)
			}
		}()
	}

feed:
	for _, userID := range recipients {
		select {
		case jobs <- userID:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	report := Report{
		RunID:   runID,
		Sent:    int(atomic.LoadInt64(&sent)),
		Failed:  int(atomic.LoadInt64(&failed)),
		Elapsed: time.Since(start),
	}

	stats.AddBroadcastSent(int64(report.Sent))
	stats.AddBroadcastFailed(int64(report.Failed))

	log.Printf("Broadcast %s complete: sent=%d failed=%d in %v", runID, report.Sent, report.Failed, report.Elapsed)
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, payload Payload, userID int64) error {
	if payload.FileID != "" {
		return d.sender.SendMedia(ctx, userID, payload.FileID, payload.Caption)
	}
	return d.sender.SendText(ctx, userID, payload.Text)
}
