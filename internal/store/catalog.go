package store

import (
	"context"
	"fmt"
	"io"

	"cashback/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Catalog is the seed file layout: zones with their outlets and items.
type Catalog struct {
	Zones []CatalogZone `yaml:"zones"`
}

// CatalogZone is one zone in a seed file.
type CatalogZone struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Outlets     []CatalogOutlet `yaml:"outlets"`
}

// CatalogOutlet is one outlet in a seed file. Outlets are active unless
// the file says otherwise.
type CatalogOutlet struct {
	Name           string        `yaml:"name"`
	AddressLine1   string        `yaml:"address_line_1"`
	MainStreet     string        `yaml:"main_street"`
	Active         *bool         `yaml:"active"`
	MaxOrderAmount int           `yaml:"max_order_amount"`
	Items          []CatalogItem `yaml:"items"`
}

// CatalogItem is one stocked item in a seed file.
type CatalogItem struct {
	Name              string `yaml:"name"`
	AvailableQuantity int    `yaml:"available_quantity"`
	PerOrderQuantity  int    `yaml:"per_order_quantity"`
	NoOfUsers         int    `yaml:"no_of_users"`
}

// LoadCatalog decodes a YAML seed catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for _, z := range c.Zones {
		if z.Name == "" {
			return nil, fmt.Errorf("catalog: zone without a name")
		}
		for _, o := range z.Outlets {
			if o.Name == "" {
				return nil, fmt.Errorf("catalog: outlet without a name in zone %q", z.Name)
			}
			for _, it := range o.Items {
				if it.AvailableQuantity < 0 {
					return nil, fmt.Errorf("catalog: item %q has negative quantity", it.Name)
				}
			}
		}
	}
	return &c, nil
}

// SeedCatalog inserts zones that do not exist yet, with their outlets and
// items. Existing zones are left untouched. It returns the number of zones
// created.
func (s *Store) SeedCatalog(ctx context.Context, c *Catalog) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, cz := range c.Zones {
			var count int64
			if err := tx.Model(&models.Zone{}).Where("name = ?", cz.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			zone := models.Zone{Name: cz.Name, Description: cz.Description}
			if err := tx.Create(&zone).Error; err != nil {
				return err
			}
			for _, co := range cz.Outlets {
				active := true
				if co.Active != nil {
					active = *co.Active
				}
				outlet := models.Outlet{
					ZoneID:         zone.ID,
					Name:           co.Name,
					AddressLine1:   co.AddressLine1,
					MainStreet:     co.MainStreet,
					IsActive:       active,
					MaxOrderAmount: co.MaxOrderAmount,
				}
				if err := tx.Create(&outlet).Error; err != nil {
					return err
				}
				for _, ci := range co.Items {
					item := models.Item{
						OutletID:          outlet.ID,
						Name:              ci.Name,
						AvailableQuantity: ci.AvailableQuantity,
						PerOrderQuantity:  ci.PerOrderQuantity,
						NoOfUsers:         ci.NoOfUsers,
					}
					if err := tx.Create(&item).Error; err != nil {
						return err
					}
				}
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, translate(err)
	}
	return created, nil
}

// ListZones returns every zone with its outlets and their items.
func (s *Store) ListZones(ctx context.Context) ([]models.Zone, error) {
	var zones []models.Zone
	err := s.db.WithContext(ctx).
		Preload("Outlets", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Outlets.Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("id").
		Find(&zones).Error
	if err != nil {
		return nil, translate(err)
	}
	return zones, nil
}

// GetZone returns one zone with its outlets and items.
func (s *Store) GetZone(ctx context.Context, id uint) (*models.Zone, error) {
	var zone models.Zone
	err := s.db.WithContext(ctx).
		Preload("Outlets", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Outlets.Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", id).
		First(&zone).Error
	if err != nil {
		return nil, translate(err)
	}
	return &zone, nil
}

// ListActiveOutlets returns the active outlets of a zone, ordered by id.
func (s *Store) ListActiveOutlets(ctx context.Context, zoneID uint) ([]models.Outlet, error) {
	var outlets []models.Outlet
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("zone_id = ? AND is_active = ?", zoneID, true).
		Order("id").
		Find(&outlets).Error
	if err != nil {
		return nil, translate(err)
	}
	return outlets, nil
}

// GetOutlet returns an outlet with its items.
func (s *Store) GetOutlet(ctx context.Context, id uint) (*models.Outlet, error) {
	var outlet models.Outlet
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", id).
		First(&outlet).Error
	if err != nil {
		return nil, translate(err)
	}
	return &outlet, nil
}

// GetItem returns an item.
func (s *Store) GetItem(ctx context.Context, id uint) (*models.Item, error) {
	var item models.Item
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// ItemStock is one row of a stock import.
type ItemStock struct {
	OutletID          uint
	Name              string
	AvailableQuantity int
}

// ImportItems upserts stock by (outlet, name): existing items get their
// available quantity replaced, unknown ones are created. The whole import
// is one transaction.
func (s *Store) ImportItems(ctx context.Context, rows []ItemStock) (created, updated int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			if r.AvailableQuantity < 0 {
				return fmt.Errorf("item %q: quantity must not be negative", r.Name)
			}
			var outletCount int64
			if err := tx.Model(&models.Outlet{}).Where("id = ?", r.OutletID).Count(&outletCount).Error; err != nil {
				return err
			}
			if outletCount == 0 {
				return fmt.Errorf("item %q: outlet %d: %w", r.Name, r.OutletID, ErrNotFound)
			}
			res := tx.Model(&models.Item{}).
				Where("outlet_id = ? AND name = ?", r.OutletID, r.Name).
				Update("available_quantity", r.AvailableQuantity)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				updated++
				continue
			}
			item := models.Item{OutletID: r.OutletID, Name: r.Name, AvailableQuantity: r.AvailableQuantity, PerOrderQuantity: 1}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, 0, translate(err)
	}
	return created, updated, nil
}
