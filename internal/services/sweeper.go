package services

import (
	"context"
	"time"

	"github.com/google/logger"
)

// Expirer expires stale pending selections.
type Expirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
}

// Sweeper is the background janitor that expires abandoned pending
// selections so their stock goes back on sale.
type Sweeper struct {
	expirer  Expirer
	ttl      time.Duration
	interval time.Duration
}

// NewSweeper creates a Sweeper that every interval expires selections left
// pending for longer than ttl.
func NewSweeper(expirer Expirer, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{expirer: expirer, ttl: ttl, interval: interval}
}

// SweepOnce runs a single pass and returns how many selections expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.expirer.ExpireStale(ctx, s.ttl)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("sweeper: expired %d pending selections older than %s", n, s.ttl)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("sweeper: %v", err)
			}
		}
	}
}
