package store

import (
	"context"
	"time"

	"cashback/internal/models"
)

// CreateFormEntry inserts a form submission.
func (s *Store) CreateFormEntry(ctx context.Context, e *models.FormEntry) error {
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = s.now()
	}
	e.SubmittedAt = e.SubmittedAt.UTC()
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

// CountFormEntries counts entries for a phone (and email, when non-empty)
// submitted in [from, to).
func (s *Store) CountFormEntries(ctx context.Context, phone, email string, from, to time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.FormEntry{}).
		Where("mobile_number = ? AND submitted_at >= ? AND submitted_at < ?", phone, from.UTC(), to.UTC())
	if email != "" {
		q = q.Where("email = ?", email)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// ListFormEntries returns the newest form entries first.
func (s *Store) ListFormEntries(ctx context.Context, limit int) ([]models.FormEntry, error) {
	q := s.db.WithContext(ctx).Order("submitted_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.FormEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}
