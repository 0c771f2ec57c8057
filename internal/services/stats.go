package services

import (
	"context"
	"sync"
	"time"

	"cashback/internal/models"

	"github.com/google/logger"
	"golang.org/x/sync/errgroup"
)

// StatsStore is the persistence the dashboard counters read.
type StatsStore interface {
	CountByStatus(ctx context.Context, status models.SelectionStatus) (int64, error)
	CountTable(ctx context.Context, table string) (int64, error)
}

// StatsService computes the admin dashboard counters.
type StatsService struct {
	store StatsStore
	now   func() time.Time
}

// NewStatsService creates a StatsService.
func NewStatsService(st StatsStore) *StatsService {
	return &StatsService{store: st, now: time.Now}
}

// Stats counts selections per status and the catalog tables concurrently.
func (s *StatsService) Stats(ctx context.Context) (models.AdminStats, error) {
	var out models.AdminStats
	g, ctx := errgroup.WithContext(ctx)

	byStatus := map[models.SelectionStatus]*int64{
		"":                     &out.TotalSelections,
		models.StatusPending:   &out.Pending,
		models.StatusCompleted: &out.Completed,
		models.StatusApproved:  &out.Approved,
		models.StatusRejected:  &out.Rejected,
		models.StatusExpired:   &out.Expired,
	}
	for status, dst := range byStatus {
		g.Go(func() error {
			n, err := s.store.CountByStatus(ctx, status)
			*dst = n
			return err
		})
	}
	byTable := map[string]*int64{
		"zones":        &out.TotalZones,
		"outlets":      &out.TotalOutlets,
		"items":        &out.TotalItems,
		"form_entries": &out.FormEntries,
	}
	for table, dst := range byTable {
		g.Go(func() error {
			n, err := s.store.CountTable(ctx, table)
			*dst = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.AdminStats{}, storageErr("stats", err)
	}
	out.RefreshedAt = s.now()
	return out, nil
}

// StatsSource is anything that can produce a stats snapshot.
type StatsSource interface {
	Stats(ctx context.Context) (models.AdminStats, error)
}

// StatsPoller re-fetches the dashboard counters on a fixed interval until
// its context is cancelled.
type StatsPoller struct {
	source   StatsSource
	interval time.Duration

	mu      sync.RWMutex
	latest  models.AdminStats
	lastErr error
	ok      bool
}

// NewStatsPoller creates a poller. Call Run to start it.
func NewStatsPoller(source StatsSource, interval time.Duration) *StatsPoller {
	return &StatsPoller{source: source, interval: interval}
}

// Run refreshes once immediately and then on every tick. It returns when
// ctx is done.
func (p *StatsPoller) Run(ctx context.Context) {
	p.Refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh fetches a new snapshot. A failed fetch keeps the previous one.
func (p *StatsPoller) Refresh(ctx context.Context) {
	stats, err := p.source.Stats(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		if ctx.Err() == nil {
			logger.Warningf("stats: refresh failed: %v", err)
		}
		return
	}
	p.latest = stats
	p.ok = true
}

// Latest returns the most recent snapshot and whether one exists.
func (p *StatsPoller) Latest() (models.AdminStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ok
}

// Err returns the error of the last refresh, if it failed.
func (p *StatsPoller) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
