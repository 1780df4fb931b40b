package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pixforge/pixforge/internal/logging"
	"github.com/rs/zerolog/log"
)

// Scheduler runs the daily bulk quota reset once per calendar day at the
// day boundary in the ledger's reference timezone. It checks on a coarse
// ticker rather than arming a precise timer; the reset itself is idempotent
// so an extra run is harmless.
type Scheduler struct {
	ledger   *Ledger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	lastDay  string
}

// NewScheduler creates a reset scheduler with the given check interval
func NewScheduler(ledger *Ledger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		ledger:   ledger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduled reset loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	// Mark the current day as done: counters for today are still live
	s.lastDay = s.currentDay(time.Now())
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	log.Info().Str("interval", s.interval.String()).Msg("Quota reset scheduler started")
	return nil
}

// Stop stops the scheduled reset loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	log.Info().Msg("Quota reset scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndReset(ctx)
		}
	}
}

// checkAndReset runs the bulk reset once per day boundary crossing
func (s *Scheduler) checkAndReset(ctx context.Context) {
	now := time.Now()
	day := s.currentDay(now)

	s.mu.Lock()
	if day == s.lastDay {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	reset, err := s.ledger.ResetAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Daily quota reset failed")
		return
	}

	s.mu.Lock()
	s.lastDay = day
	s.mu.Unlock()

	logging.LogQuotaReset(reset, day)
}

// RunNow triggers an immediate reset regardless of the day boundary
func (s *Scheduler) RunNow(ctx context.Context) (int64, error) {
	return s.ledger.ResetAll(ctx)
}

func (s *Scheduler) currentDay(t time.Time) string {
	return s.ledger.DayStart(t).Format("2006-01-02")
}
