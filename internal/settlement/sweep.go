package settlement

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ridepool/ridepool-backend/internal/models"
)

// SweepStats are the aggregate counters of one sweep run.
type SweepStats struct {
	Scanned       int `json:"scanned"`
	Locked        int `json:"locked"`
	SkippedLocked int `json:"skippedLocked"`
	MissingAuth   int `json:"missingAuth"`
	Voided        int `json:"voided"`
	Captured      int `json:"captured"`
	Errors        int `json:"errors"`
}

// Sweeper runs the scheduled pass over all bookings past their report
// window deadline. Each candidate is settled independently; one booking's
// failure never aborts its siblings.
type Sweeper struct {
	Store Store
	Exec  *Executor

	// BatchSize bounds one run, default 50.
	BatchSize int
	// Concurrency bounds the fan-out, default 8.
	Concurrency int
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 50
}

func (s *Sweeper) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return 8
}

// Run executes one sweep and returns its counters.
func (s *Sweeper) Run(ctx context.Context) SweepStats {
	now := s.Exec.now()
	var stats SweepStats

	candidates, err := s.Store.DueForSettlement(ctx, now, s.batchSize())
	if err != nil {
		log.Printf("sweep: candidate query failed: %v", err)
		return stats
	}
	stats.Scanned = len(candidates)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.concurrency())
	)
	for i := range candidates {
		b := candidates[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.settleOne(ctx, &b, now, &stats, &mu)
		}()
	}
	wg.Wait()

	log.Printf("sweep: scanned=%d locked=%d skippedLocked=%d missingAuth=%d voided=%d captured=%d errors=%d",
		stats.Scanned, stats.Locked, stats.SkippedLocked, stats.MissingAuth, stats.Voided, stats.Captured, stats.Errors)
	return stats
}

func (s *Sweeper) settleOne(ctx context.Context, b *models.Booking, now time.Time, stats *SweepStats, mu *sync.Mutex) {
	// Legacy rows predate deadline stamping and match the due query with a
	// zero deadline. Backfill the derived deadline and only proceed once it
	// has actually passed.
	if b.ReportWindowEndsAt == 0 {
		deadline, err := EnsureDeadline(ctx, s.Store, b)
		if err != nil {
			log.Printf("sweep: deadline backfill failed for booking %s: %v", b.ID, err)
			return
		}
		if now.UnixMilli() < deadline {
			return
		}
	}

	if !AcquireLock(ctx, s.Store, b.ID, now) {
		mu.Lock()
		stats.SkippedLocked++
		mu.Unlock()
		return
	}
	mu.Lock()
	stats.Locked++
	mu.Unlock()

	out := s.Exec.Settle(ctx, b.ID)

	mu.Lock()
	defer mu.Unlock()
	switch out.Result {
	case ResultVoided:
		stats.Voided++
		if out.Reason == ReasonMissingAuth {
			stats.MissingAuth++
		}
	case ResultCaptured:
		stats.Captured++
	case ResultError:
		stats.Errors++
	}
}
