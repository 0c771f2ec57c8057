// Package storetest opens throwaway SQLite stores seeded with a small
// catalog for tests in other packages.
package storetest

import (
	"context"
	"strings"
	"testing"

	"cashback/internal/models"
	"cashback/internal/store"
)

// CatalogYAML is the seed used by Open: Swargate has one outlet with a
// single coffee, Kothrud has two outlets, Baner has none active.
const CatalogYAML = `
zones:
  - name: Swargate
    description: Swargate and Shukrawar Peth
    outlets:
      - name: Swargate Cafe
        address_line_1: Shop 4, Lakshmi Complex
        main_street: Satara Road
        items:
          - name: Coffee
            available_quantity: 1
            per_order_quantity: 1
  - name: Kothrud
    outlets:
      - name: Kothrud Depot
        address_line_1: Paud Road
        items:
          - name: Tea
            available_quantity: 5
          - name: Samosa
            available_quantity: 0
      - name: Karve Nagar
        address_line_1: Karve Road
        items:
          - name: Tea
            available_quantity: 2
  - name: Baner
    outlets:
      - name: Baner Closed
        active: false
        items:
          - name: Juice
            available_quantity: 3
`

// Open returns an in-memory store seeded with CatalogYAML. It is closed
// when the test ends.
func Open(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cat, err := store.LoadCatalog(strings.NewReader(CatalogYAML))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if _, err := s.SeedCatalog(context.Background(), cat); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return s
}

// Zone returns the seeded zone with the given name.
func Zone(t testing.TB, s *store.Store, name string) *models.Zone {
	t.Helper()
	zones, err := s.ListZones(context.Background())
	if err != nil {
		t.Fatalf("list zones: %v", err)
	}
	for i := range zones {
		if zones[i].Name == name {
			return &zones[i]
		}
	}
	t.Fatalf("zone %q not seeded", name)
	return nil
}

// Item returns the item with the given name at the first outlet of a zone
// that stocks it.
func Item(t testing.TB, s *store.Store, zone, item string) (*models.Outlet, *models.Item) {
	t.Helper()
	z := Zone(t, s, zone)
	for i := range z.Outlets {
		for j := range z.Outlets[i].Items {
			if z.Outlets[i].Items[j].Name == item {
				return &z.Outlets[i], &z.Outlets[i].Items[j]
			}
		}
	}
	t.Fatalf("item %q not seeded in %q", item, zone)
	return nil, nil
}

// Quantity reads the current stock of an item.
func Quantity(t testing.TB, s *store.Store, itemID uint) int {
	t.Helper()
	it, err := s.GetItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("get item %d: %v", itemID, err)
	}
	return it.AvailableQuantity
}
