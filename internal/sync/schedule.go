package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Schedule runs RunSync every interval until ctx is done or the returned stop
// function is called. Runs never overlap; a tick that arrives while a sync is
// still running is skipped.
func (s *Syncer) Schedule(ctx context.Context, interval time.Duration) (stop func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", interval)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err = scheduler.Every(interval).WaitForSchedule().Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunSync(ctx); err != nil {
			s.logger.Error("Scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sync: %w", err)
	}

	scheduler.StartAsync()
	s.logger.Info("Periodic sync scheduled", "interval", interval.String())

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			scheduler.Stop()
		case <-done:
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		scheduler.Stop()
	}, nil
}
