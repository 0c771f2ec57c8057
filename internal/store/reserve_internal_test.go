package store

import (
	"context"
	"testing"

	"cashback/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// openWithItem returns a store holding one outlet with one item of qty
// units, and the ids of both.
func openWithItem(t *testing.T, qty int) (*Store, models.Zone, uint) {
	t.Helper()
	s, err := Open(Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.SeedCatalog(context.Background(), &Catalog{Zones: []CatalogZone{{
		Name: "Hadapsar",
		Outlets: []CatalogOutlet{{
			Name:  "Hadapsar Gate",
			Items: []CatalogItem{{Name: "Vada Pav", AvailableQuantity: qty}},
		}},
	}}})
	require.NoError(t, err)

	zones, err := s.ListZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	require.Len(t, zones[0].Outlets, 1)
	require.Len(t, zones[0].Outlets[0].Items, 1)
	return s, zones[0], zones[0].Outlets[0].Items[0].ID
}

// stealBeforeUpdate takes one unit of the item inside the reserving
// transaction right before each of the first n conditional updates, so
// the update matches no row. It returns a pointer to the number of
// updates seen.
func stealBeforeUpdate(t *testing.T, s *Store, itemID uint, n int) *int {
	t.Helper()
	updates := 0
	err := s.db.Callback().Update().Before("gorm:update").Register("test:steal_unit", func(db *gorm.DB) {
		if db.Statement.Table != "items" {
			return
		}
		updates++
		if updates > n {
			return
		}
		_, err := db.Statement.ConnPool.ExecContext(db.Statement.Context,
			"UPDATE items SET available_quantity = available_quantity - 1 WHERE id = ?", itemID)
		if err != nil {
			db.AddError(err)
		}
	})
	require.NoError(t, err)
	return &updates
}

func quantityOf(t *testing.T, s *Store, itemID uint) int {
	t.Helper()
	var item models.Item
	require.NoError(t, s.db.First(&item, itemID).Error)
	return item.AvailableQuantity
}

func TestReserveItemRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	s, zone, itemID := openWithItem(t, 5)
	updates := stealBeforeUpdate(t, s, itemID, 1)

	sel := &models.Selection{Phone: "9876543210", ZoneID: zone.ID, OutletID: zone.Outlets[0].ID, ItemID: &itemID}
	require.NoError(t, s.ReserveItem(ctx, sel))

	assert.Equal(t, 2, *updates)
	// One unit to the competing writer, one to this reservation.
	assert.Equal(t, 3, quantityOf(t, s, itemID))
	got, err := s.GetSelection(ctx, sel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestReserveItemGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s, zone, itemID := openWithItem(t, 10)
	updates := stealBeforeUpdate(t, s, itemID, maxReserveAttempts+1)

	sel := &models.Selection{Phone: "9876543210", ZoneID: zone.ID, OutletID: zone.Outlets[0].ID, ItemID: &itemID}
	err := s.ReserveItem(ctx, sel)
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Equal(t, maxReserveAttempts, *updates)
	// The stolen units were taken inside the rolled back transaction.
	assert.Equal(t, 10, quantityOf(t, s, itemID))
	n, err := s.CountSelections(ctx, "9876543210")
	require.NoError(t, err)
	assert.Zero(t, n)
}
