package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cashback/internal/models"
	"cashback/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStatsService(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	svc := NewSelectionService(st, SelectionOptions{Mode: ModeInventory})
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet, tea := storetest.Item(t, st, "Kothrud", "Tea")

	for _, phone := range []string{"9000000001", "9000000002"} {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: phone, ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		require.NoError(t, err)
	}
	_, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: "9000000001", ScreenshotRef: "http://x/1.png"})
	require.NoError(t, err)

	stats, err := NewStatsService(st).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSelections)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Approved)
	assert.Equal(t, int64(3), stats.TotalZones)
	assert.Equal(t, int64(4), stats.TotalOutlets)
	assert.Equal(t, int64(5), stats.TotalItems)
	assert.False(t, stats.RefreshedAt.IsZero())
}

type countingSource struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingSource) Stats(context.Context) (models.AdminStats, error) {
	n := c.calls.Add(1)
	if c.fail.Load() {
		return models.AdminStats{}, errors.New("db down")
	}
	return models.AdminStats{TotalSelections: int64(n)}, nil
}

func TestStatsPoller(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &countingSource{}
	p := NewStatsPoller(src, 5*time.Millisecond)
	_, ok := p.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	latest, ok := p.Latest()
	assert.True(t, ok)
	assert.Positive(t, latest.TotalSelections)

	src.fail.Store(true)
	before := src.calls.Load()
	require.Eventually(t, func() bool { return src.calls.Load() > before+1 }, time.Second, time.Millisecond)
	assert.Error(t, p.Err())
	kept, ok := p.Latest()
	assert.True(t, ok, "a failed refresh keeps the last snapshot")
	assert.Positive(t, kept.TotalSelections)

	cancel()
	<-done
}

type countingExpirer struct {
	calls atomic.Int32
	ttl   atomic.Int64
}

func (c *countingExpirer) ExpireStale(_ context.Context, ttl time.Duration) (int, error) {
	c.calls.Add(1)
	c.ttl.Store(int64(ttl))
	return 1, nil
}

func TestSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	exp := &countingExpirer{}
	s := NewSweeper(exp, 30*time.Minute, 5*time.Millisecond)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(30*time.Minute), exp.ttl.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestLaunchService(t *testing.T) {
	launch := time.Date(2025, time.October, 21, 0, 0, 0, 0, time.UTC)
	sender := &recordingSender{}
	l := NewLaunchService(launch, sender)

	l.SetClock(func() time.Time { return launch.Add(-(26*time.Hour + 3*time.Minute + 4*time.Second)) })
	c := l.Countdown()
	assert.False(t, c.Launched)
	assert.Equal(t, Countdown{LaunchAt: launch, Days: 1, Hours: 2, Minutes: 3, Seconds: 4}, c)

	l.SetClock(func() time.Time { return launch.Add(time.Second) })
	assert.True(t, l.Countdown().Launched)

	require.NoError(t, l.NotifyMe(context.Background(), " Asha@Example.com ", ""))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "asha@example.com", sender.sent[0].recipient)
	assert.Equal(t, "Valued Customer", sender.sent[0].vars["to_name"])
	assert.Contains(t, sender.sent[0].vars["message"], "October 21, 2025")

	assert.ErrorIs(t, l.NotifyMe(context.Background(), "not-an-email", ""), ErrValidation)

	sender.err = errors.New("quota exceeded")
	assert.ErrorIs(t, l.NotifyMe(context.Background(), "b@example.com", "B"), ErrStorageFailure)
}
