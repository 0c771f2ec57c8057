package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cashback/internal/models"
	"cashback/internal/store"
	"cashback/internal/store/storetest"
	"cashback/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInventory(t *testing.T) (*SelectionService, *store.Store) {
	t.Helper()
	st := storetest.Open(t)
	return NewSelectionService(st, SelectionOptions{Mode: ModeInventory}), st
}

func newReview(t *testing.T) (*SelectionService, *store.Store) {
	t.Helper()
	st := storetest.Open(t)
	return NewSelectionService(st, SelectionOptions{Mode: ModeReview}), st
}

func TestSelectionService_SwargateScenario(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	zone := storetest.Zone(t, st, "Swargate")
	_, coffee := storetest.Item(t, st, "Swargate", "Coffee")

	outlet, err := svc.AssignOutlet(ctx, zone.ID)
	require.NoError(t, err)
	assert.Equal(t, "Swargate Cafe", outlet.Name)

	sel, err := svc.ReserveItem(ctx, ReserveRequest{
		Phone: "9876543210", ZoneID: zone.ID, OutletID: outlet.ID, ItemID: coffee.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, sel.Status)
	require.NotNil(t, sel.Item)
	assert.Equal(t, "Coffee", sel.Item.Name)
	assert.Equal(t, 0, storetest.Quantity(t, st, coffee.ID))

	_, err = svc.ReserveItem(ctx, ReserveRequest{
		Phone: "9123456789", ZoneID: zone.ID, OutletID: outlet.ID, ItemID: coffee.ID,
	})
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 0, storetest.Quantity(t, st, coffee.ID))
}

func TestSelectionService_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	zone := storetest.Zone(t, st, "Swargate")
	outlet, coffee := storetest.Item(t, st, "Swargate", "Coffee")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, phone := range []string{"9000000001", "9000000002"} {
		wg.Add(1)
		go func(phone string) {
			defer wg.Done()
			_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: phone, ZoneID: zone.ID, OutletID: outlet.ID, ItemID: coffee.ID})
			errs <- err
		}(phone)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
		} else if errors.Is(err, ErrOutOfStock) {
			lost++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestSelectionService_AssignOutlet(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	kothrud := storetest.Zone(t, st, "Kothrud")

	svc.SetPicker(func(n int) int { return n - 1 })
	outlet, err := svc.AssignOutlet(ctx, kothrud.ID)
	require.NoError(t, err)
	assert.Equal(t, "Karve Nagar", outlet.Name)

	t.Run("only inactive outlets", func(t *testing.T) {
		_, err := svc.AssignOutlet(ctx, storetest.Zone(t, st, "Baner").ID)
		assert.ErrorIs(t, err, ErrNoOutletAvailable)
	})

	t.Run("unknown zone", func(t *testing.T) {
		_, err := svc.AssignOutlet(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSelectionService_ReserveGuards(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	swargate := storetest.Zone(t, st, "Swargate")
	outlet, tea := storetest.Item(t, st, "Kothrud", "Tea")
	_, coffee := storetest.Item(t, st, "Swargate", "Coffee")

	t.Run("bad phone", func(t *testing.T) {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "12345", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		assert.ErrorIs(t, err, ErrValidation)
		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "phone", verr.Field)
	})

	t.Run("outlet outside zone", func(t *testing.T) {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9876543210", ZoneID: swargate.ID, OutletID: outlet.ID, ItemID: tea.ID})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("item from another outlet", func(t *testing.T) {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9876543210", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: coffee.ID})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 1, storetest.Quantity(t, st, coffee.ID))
	})

	t.Run("inactive outlet", func(t *testing.T) {
		baner := storetest.Zone(t, st, "Baner")
		closed, juice := storetest.Item(t, st, "Baner", "Juice")
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9876543210", ZoneID: baner.ID, OutletID: closed.ID, ItemID: juice.ID})
		assert.ErrorIs(t, err, ErrNoOutletAvailable)
	})

	t.Run("second pending selection", func(t *testing.T) {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9876543210", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		require.NoError(t, err)
		_, err = svc.ReserveItem(ctx, ReserveRequest{Phone: "9876543210", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		assert.ErrorIs(t, err, ErrDuplicateParticipation)
		assert.ErrorIs(t, err, ErrPendingSelectionExists)
		assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))
	})

	t.Run("completed participant is blocked", func(t *testing.T) {
		_, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: "9876543210", ScreenshotRef: "http://x/a.png"})
		require.NoError(t, err)

		done, err := svc.HasCompletedParticipation(ctx, "9876543210")
		require.NoError(t, err)
		assert.True(t, done)

		_, err = svc.ReserveItem(ctx, ReserveRequest{Phone: "98765 43210", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		assert.ErrorIs(t, err, ErrDuplicateParticipation)
		assert.NotErrorIs(t, err, ErrPendingSelectionExists)
		assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))
	})

	t.Run("required name", func(t *testing.T) {
		strict := NewSelectionService(st, SelectionOptions{Mode: ModeInventory, RequireName: true})
		_, err := strict.ReserveItem(ctx, ReserveRequest{Phone: "9111111111", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestSelectionService_CompleteAndCancel(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet, tea := storetest.Item(t, st, "Kothrud", "Tea")
	const phone = "9876543210"

	_, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: phone, ScreenshotRef: "http://x/a.png"})
	assert.ErrorIs(t, err, ErrNoPendingSelection)

	returning, err := svc.IsReturningParticipant(ctx, phone)
	require.NoError(t, err)
	assert.False(t, returning)

	_, err = svc.ReserveItem(ctx, ReserveRequest{Phone: phone, ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))

	returning, err = svc.IsReturningParticipant(ctx, phone)
	require.NoError(t, err)
	assert.True(t, returning)

	t.Run("empty screenshot reference", func(t *testing.T) {
		_, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: phone, ScreenshotRef: "  "})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		require.NoError(t, svc.CancelPendingSelection(ctx, phone))
		assert.Equal(t, 5, storetest.Quantity(t, st, tea.ID))
		require.NoError(t, svc.CancelPendingSelection(ctx, phone))
		assert.Equal(t, 5, storetest.Quantity(t, st, tea.ID))
	})

	t.Run("complete after re-reserving", func(t *testing.T) {
		_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: phone, ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
		require.NoError(t, err)
		sel, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: phone, ScreenshotRef: "http://x/a.png"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, sel.Status)
		assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))

		// Nothing pending, so cancelling does not give the unit back.
		require.NoError(t, svc.CancelPendingSelection(ctx, phone))
		assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))

		cur, err := svc.CurrentSelection(ctx, phone)
		require.NoError(t, err)
		assert.Equal(t, sel.ID, cur.ID)
	})
}

func TestSelectionService_StockAccounting(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet, tea := storetest.Item(t, st, "Kothrud", "Tea")
	initial := storetest.Quantity(t, st, tea.ID)

	phones := []string{"9000000001", "9000000002", "9000000003", "9000000004", "9000000005", "9000000006"}
	steps := []struct {
		phone  string
		cancel bool
	}{
		{phones[0], false}, {phones[1], false}, {phones[0], true}, {phones[2], false},
		{phones[3], false}, {phones[4], false}, {phones[5], false}, {phones[1], true},
		{phones[5], false}, {phones[0], false},
	}
	for _, step := range steps {
		if step.cancel {
			require.NoError(t, svc.CancelPendingSelection(ctx, step.phone))
		} else {
			_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: step.phone, ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
			if err != nil && !errors.Is(err, ErrOutOfStock) && !errors.Is(err, ErrDuplicateParticipation) {
				t.Fatalf("reserve %s: %v", step.phone, err)
			}
		}
		views, err := svc.ListSelections(ctx, store.SelectionFilter{Status: models.StatusPending})
		require.NoError(t, err)
		q := storetest.Quantity(t, st, tea.ID)
		assert.GreaterOrEqual(t, q, 0)
		assert.Equal(t, initial-len(views), q)
	}
}

// blindUPIStore pretends every UPI id is free, as a client that skipped the
// pre-check would.
type blindUPIStore struct{ SelectionStore }

func (blindUPIStore) UPIInUse(context.Context, string) (bool, error) { return false, nil }

func TestSelectionService_UPIScenario(t *testing.T) {
	ctx := context.Background()
	svc, st := newReview(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet := kothrud.Outlets[0]

	for _, phone := range []string{"9000000001", "9000000002", "9000000003"} {
		sel, err := svc.ReserveItem(ctx, ReserveRequest{Phone: phone, ZoneID: kothrud.ID, OutletID: outlet.ID})
		require.NoError(t, err)
		assert.Nil(t, sel.ItemID)
	}

	_, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: "9000000001", ScreenshotRef: "http://x/1.png"})
	assert.ErrorIs(t, err, ErrValidation, "review campaigns need a UPI id")

	sel, err := svc.CompleteSelection(ctx, CompleteRequest{Phone: "9000000001", ScreenshotRef: "http://x/1.png", UPIID: "user@bank"})
	require.NoError(t, err)
	require.NotNil(t, sel.UPIID)
	assert.Equal(t, "user@bank", *sel.UPIID)

	free, err := svc.CheckUPIAvailable(ctx, "user@bank")
	require.NoError(t, err)
	assert.False(t, free)

	_, err = svc.CompleteSelection(ctx, CompleteRequest{Phone: "9000000002", ScreenshotRef: "http://x/2.png", UPIID: "user@bank"})
	assert.ErrorIs(t, err, ErrDuplicateParticipation)

	bypass := NewSelectionService(blindUPIStore{st}, SelectionOptions{Mode: ModeReview})
	_, err = bypass.CompleteSelection(ctx, CompleteRequest{Phone: "9000000003", ScreenshotRef: "http://x/3.png", UPIID: "user@bank"})
	assert.ErrorIs(t, err, ErrDuplicateParticipation)

	pending, err := svc.ListSelections(ctx, store.SelectionFilter{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSelectionService_AdminSetStatus(t *testing.T) {
	ctx := context.Background()
	svc, st := newReview(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet := kothrud.Outlets[0]

	sel, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9000000001", ZoneID: kothrud.ID, OutletID: outlet.ID})
	require.NoError(t, err)

	_, err = svc.AdminSetStatus(ctx, sel.ID, models.StatusApproved, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.CompleteSelection(ctx, CompleteRequest{Phone: "9000000001", ScreenshotRef: "http://x/1.png", UPIID: "a@okbank"})
	require.NoError(t, err)

	got, err := svc.AdminSetStatus(ctx, sel.ID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "Approved by admin", got.AdminNotes)
	assert.NotNil(t, got.ReviewedAt)

	_, err = svc.AdminSetStatus(ctx, sel.ID, models.StatusRejected, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.AdminSetStatus(ctx, sel.ID, models.StatusExpired, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdminSetStatus(ctx, "SEL-nope", models.StatusRejected, "")
	assert.ErrorIs(t, err, ErrNotFound)

	done, err := svc.HasCompletedParticipation(ctx, "9000000001")
	require.NoError(t, err)
	assert.True(t, done, "approved rows still count as participation")
}

func TestSelectionService_ExpireStale(t *testing.T) {
	ctx := context.Background()
	svc, st := newInventory(t)
	kothrud := storetest.Zone(t, st, "Kothrud")
	outlet, tea := storetest.Item(t, st, "Kothrud", "Tea")

	t0 := time.Now()
	svc.SetClock(func() time.Time { return t0 })
	_, err := svc.ReserveItem(ctx, ReserveRequest{Phone: "9000000001", ZoneID: kothrud.ID, OutletID: outlet.ID, ItemID: tea.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, storetest.Quantity(t, st, tea.ID))

	n, err := svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.SetClock(func() time.Time { return t0.Add(2 * time.Hour) })
	n, err = svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, storetest.Quantity(t, st, tea.ID))

	cur, err := svc.CurrentSelection(ctx, "9000000001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, cur.Status)
}

type brokenStore struct{ SelectionStore }

func (brokenStore) CountSelections(context.Context, string, ...models.SelectionStatus) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestSelectionService_StorageFailure(t *testing.T) {
	svc := NewSelectionService(brokenStore{}, SelectionOptions{})
	_, err := svc.IsReturningParticipant(context.Background(), "9876543210")
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = svc.ReserveItem(context.Background(), ReserveRequest{Phone: "9876543210"})
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestSelectionService_FormModeHasNoSelections(t *testing.T) {
	svc := NewSelectionService(brokenStore{}, SelectionOptions{Mode: ModeForm})
	_, err := svc.ReserveItem(context.Background(), ReserveRequest{Phone: "9876543210"})
	assert.ErrorIs(t, err, ErrValidation)
}
