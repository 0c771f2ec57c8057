package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashback/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewSelectionID returns a fresh selection id.
func NewSelectionID() string {
	return "SEL-" + uuid.NewString()
}

// guardPhone fails when the phone already holds a pending selection or has
// participated. It runs inside the inserting transaction so a completion
// landing after the caller's own checks is still seen.
func guardPhone(tx *gorm.DB, phone string) error {
	var statuses []models.SelectionStatus
	err := tx.Model(&models.Selection{}).
		Where("mobile_number = ? AND status IN ?", phone, append([]models.SelectionStatus{models.StatusPending}, models.Participated...)).
		Pluck("status", &statuses).Error
	if err != nil {
		return err
	}
	pendingFound := false
	for _, st := range statuses {
		if st != models.StatusPending {
			return ErrAlreadyParticipated
		}
		pendingFound = true
	}
	if pendingFound {
		return ErrPendingExists
	}
	return nil
}

func (s *Store) prepareSelection(sel *models.Selection) {
	if sel.ID == "" {
		sel.ID = NewSelectionID()
	}
	if sel.SelectedAt.IsZero() {
		sel.SelectedAt = s.now()
	}
	sel.SelectedAt = sel.SelectedAt.UTC()
	sel.Status = models.StatusPending
}

// ReserveItem takes one unit of sel.ItemID and inserts sel as a pending
// selection, in one transaction. The decrement is conditioned on the
// quantity read inside the transaction so two reservations racing for the
// last unit cannot both succeed; a lost race is retried against the fresh
// quantity. A phone that already participated or holds a pending row fails
// with ErrAlreadyParticipated or ErrPendingExists before stock is touched.
// Any failure rolls the decrement back.
func (s *Store) ReserveItem(ctx context.Context, sel *models.Selection) error {
	if sel.ItemID == nil {
		return fmt.Errorf("reserve: selection has no item")
	}
	s.prepareSelection(sel)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := guardPhone(tx, sel.Phone); err != nil {
			return err
		}
		reserved := false
		for attempt := 0; attempt < maxReserveAttempts && !reserved; attempt++ {
			var item models.Item
			if err := tx.Where("id = ?", *sel.ItemID).First(&item).Error; err != nil {
				return err
			}
			if item.AvailableQuantity <= 0 {
				return ErrOutOfStock
			}
			res := tx.Model(&models.Item{}).
				Where("id = ? AND available_quantity = ?", item.ID, item.AvailableQuantity).
				Update("available_quantity", item.AvailableQuantity-1)
			if res.Error != nil {
				return res.Error
			}
			reserved = res.RowsAffected == 1
		}
		if !reserved {
			return ErrOutOfStock
		}
		return tx.Create(sel).Error
	})
	return translate(err)
}

// CreateSelection inserts sel as a pending selection without touching
// stock. Used by campaigns that do not track items. The phone guard is the
// same as ReserveItem's.
func (s *Store) CreateSelection(ctx context.Context, sel *models.Selection) error {
	s.prepareSelection(sel)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := guardPhone(tx, sel.Phone); err != nil {
			return err
		}
		return tx.Create(sel).Error
	})
	return translate(err)
}

// CountSelections counts the rows for a phone, optionally restricted to
// some statuses.
func (s *Store) CountSelections(ctx context.Context, phone string, statuses ...models.SelectionStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Selection{}).Where("mobile_number = ?", phone)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func withNames(db *gorm.DB) *gorm.DB {
	return db.Preload("Zone").Preload("Outlet").Preload("Item")
}

// FindPendingSelection returns the pending selection of a phone with its
// zone, outlet and item loaded.
func (s *Store) FindPendingSelection(ctx context.Context, phone string) (*models.Selection, error) {
	var sel models.Selection
	err := withNames(s.db.WithContext(ctx)).
		Where("mobile_number = ? AND status = ?", phone, models.StatusPending).
		Order("selected_at DESC").
		First(&sel).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sel, nil
}

// LatestSelection returns the most recent selection of a phone in any status.
func (s *Store) LatestSelection(ctx context.Context, phone string) (*models.Selection, error) {
	var sel models.Selection
	err := withNames(s.db.WithContext(ctx)).
		Where("mobile_number = ?", phone).
		Order("selected_at DESC").
		First(&sel).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sel, nil
}

// GetSelection returns a selection by id with its relations loaded.
func (s *Store) GetSelection(ctx context.Context, id string) (*models.Selection, error) {
	var sel models.Selection
	if err := withNames(s.db.WithContext(ctx)).Where("selection_id = ?", id).First(&sel).Error; err != nil {
		return nil, translate(err)
	}
	return &sel, nil
}

// SelectionFilter narrows ListSelections.
type SelectionFilter struct {
	Status models.SelectionStatus
	Phone  string
	Limit  int
}

// ListSelections returns selections newest first, with relations loaded.
func (s *Store) ListSelections(ctx context.Context, f SelectionFilter) ([]models.Selection, error) {
	q := withNames(s.db.WithContext(ctx)).Order("selected_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Phone != "" {
		q = q.Where("mobile_number = ?", f.Phone)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Selection
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// UPIInUse reports whether any selection already carries the UPI id.
func (s *Store) UPIInUse(ctx context.Context, upi string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Selection{}).Where("upi_id = ?", upi).Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// CompletePending moves the pending selection of a phone to completed,
// attaching the screenshot reference and, when given, the UPI id. A UPI id
// already used by another selection fails with ErrConflict.
func (s *Store) CompletePending(ctx context.Context, phone, screenshotURL string, upi *string, at time.Time) (*models.Selection, error) {
	var done models.Selection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sel models.Selection
		err := tx.Where("mobile_number = ? AND status = ?", phone, models.StatusPending).First(&sel).Error
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":                 models.StatusCompleted,
			"screenshot_url":         screenshotURL,
			"screenshot_uploaded_at": at.UTC(),
		}
		if upi != nil {
			updates["upi_id"] = *upi
		}
		res := tx.Model(&models.Selection{}).
			Where("selection_id = ? AND status = ?", sel.ID, models.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return withNames(tx).Where("selection_id = ?", sel.ID).First(&done).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &done, nil
}

// DeletePending removes the pending selection of a phone and gives its
// reserved unit back to stock. It returns nil, nil when nothing is pending.
func (s *Store) DeletePending(ctx context.Context, phone string) (*models.Selection, error) {
	var removed *models.Selection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sel models.Selection
		err := tx.Where("mobile_number = ? AND status = ?", phone, models.StatusPending).First(&sel).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Where("selection_id = ? AND status = ?", sel.ID, models.StatusPending).Delete(&models.Selection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := restoreUnit(tx, sel.ItemID); err != nil {
			return err
		}
		removed = &sel
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return removed, nil
}

// ExpirePending marks pending selections made before cutoff as expired and
// restores their stock. It returns how many rows expired.
func (s *Store) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	expired := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []models.Selection
		err := tx.Where("status = ? AND selected_at < ?", models.StatusPending, cutoff.UTC()).Find(&stale).Error
		if err != nil {
			return err
		}
		for _, sel := range stale {
			res := tx.Model(&models.Selection{}).
				Where("selection_id = ? AND status = ?", sel.ID, models.StatusPending).
				Update("status", models.StatusExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := restoreUnit(tx, sel.ItemID); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, translate(err)
	}
	return expired, nil
}

func restoreUnit(tx *gorm.DB, itemID *uint) error {
	if itemID == nil {
		return nil
	}
	return tx.Model(&models.Item{}).
		Where("id = ?", *itemID).
		Update("available_quantity", gorm.Expr("available_quantity + ?", 1)).Error
}

// SetReview records an admin decision on a completed selection. Only
// completed rows can be reviewed; anything else fails with
// ErrInvalidTransition, and an unknown id with ErrNotFound.
func (s *Store) SetReview(ctx context.Context, id string, status models.SelectionStatus, notes string, at time.Time) (*models.Selection, error) {
	if status != models.StatusApproved && status != models.StatusRejected {
		return nil, fmt.Errorf("review status %q: %w", status, ErrInvalidTransition)
	}
	var out models.Selection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Selection{}).
			Where("selection_id = ? AND status = ?", id, models.StatusCompleted).
			Updates(map[string]interface{}{
				"status":      status,
				"admin_notes": notes,
				"reviewed_at": at.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Selection{}).Where("selection_id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrInvalidTransition
		}
		return withNames(tx).Where("selection_id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}
