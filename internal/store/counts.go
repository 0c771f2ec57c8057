package store

import (
	"context"

	"cashback/internal/models"
)

// CountByStatus counts selections in one status; an empty status counts all.
func (s *Store) CountByStatus(ctx context.Context, status models.SelectionStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Selection{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// CountTable counts the rows of one of the catalog tables: "zones",
// "outlets", "items" or "form_entries".
func (s *Store) CountTable(ctx context.Context, table string) (int64, error) {
	var model interface{}
	switch table {
	case "zones":
		model = &models.Zone{}
	case "outlets":
		model = &models.Outlet{}
	case "items":
		model = &models.Item{}
	case "form_entries":
		model = &models.FormEntry{}
	default:
		return 0, ErrNotFound
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}
