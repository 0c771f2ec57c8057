package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"cashback/internal/models"
	"cashback/internal/store"
	"cashback/internal/validation"

	"github.com/google/logger"
)

// Mode is the campaign shape a deployment runs.
type Mode string

const (
	// ModeInventory reserves a stock unit per selection.
	ModeInventory Mode = "inventory"
	// ModeReview takes a UPI id and a screenshot for admin review.
	ModeReview Mode = "review"
	// ModeForm is the plain monthly-capped form; it has no selections.
	ModeForm Mode = "form"
)

// SelectionStore is the persistence the SelectionService needs.
// *store.Store implements it.
type SelectionStore interface {
	GetZone(ctx context.Context, id uint) (*models.Zone, error)
	ListActiveOutlets(ctx context.Context, zoneID uint) ([]models.Outlet, error)
	GetOutlet(ctx context.Context, id uint) (*models.Outlet, error)
	CountSelections(ctx context.Context, phone string, statuses ...models.SelectionStatus) (int64, error)
	ReserveItem(ctx context.Context, sel *models.Selection) error
	CreateSelection(ctx context.Context, sel *models.Selection) error
	GetSelection(ctx context.Context, id string) (*models.Selection, error)
	LatestSelection(ctx context.Context, phone string) (*models.Selection, error)
	ListSelections(ctx context.Context, f store.SelectionFilter) ([]models.Selection, error)
	UPIInUse(ctx context.Context, upi string) (bool, error)
	CompletePending(ctx context.Context, phone, screenshotURL string, upi *string, at time.Time) (*models.Selection, error)
	DeletePending(ctx context.Context, phone string) (*models.Selection, error)
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
	SetReview(ctx context.Context, id string, status models.SelectionStatus, notes string, at time.Time) (*models.Selection, error)
}

// SelectionOptions configure the participation rules.
type SelectionOptions struct {
	Mode              Mode
	StrictPhonePrefix bool
	RequireName       bool
}

// SelectionService owns the participation rules: one pending selection per
// phone, single use after completion, and stock bookkeeping.
type SelectionService struct {
	store SelectionStore
	opts  SelectionOptions
	pick  func(n int) int
	now   func() time.Time
}

// NewSelectionService creates a SelectionService. An empty mode means
// ModeInventory.
func NewSelectionService(st SelectionStore, opts SelectionOptions) *SelectionService {
	if opts.Mode == "" {
		opts.Mode = ModeInventory
	}
	return &SelectionService{
		store: st,
		opts:  opts,
		pick:  rand.Intn,
		now:   time.Now,
	}
}

// Mode returns the campaign mode the service was built for.
func (s *SelectionService) Mode() Mode { return s.opts.Mode }

// SetPicker replaces the random index used by AssignOutlet.
func (s *SelectionService) SetPicker(pick func(n int) int) { s.pick = pick }

// SetClock replaces the time source.
func (s *SelectionService) SetClock(now func() time.Time) { s.now = now }

func (s *SelectionService) phone(raw string) (string, error) {
	p, err := validation.Phone(raw, s.opts.StrictPhonePrefix)
	if err != nil {
		return "", invalid(err)
	}
	return p, nil
}

// IsReturningParticipant reports whether the phone has any selection at all.
func (s *SelectionService) IsReturningParticipant(ctx context.Context, phone string) (bool, error) {
	p, err := s.phone(phone)
	if err != nil {
		return false, err
	}
	n, err := s.store.CountSelections(ctx, p)
	if err != nil {
		return false, storageErr("count selections", err)
	}
	return n > 0, nil
}

// HasCompletedParticipation reports whether the phone already finished a
// participation (completed, approved or rejected).
func (s *SelectionService) HasCompletedParticipation(ctx context.Context, phone string) (bool, error) {
	p, err := s.phone(phone)
	if err != nil {
		return false, err
	}
	n, err := s.store.CountSelections(ctx, p, models.Participated...)
	if err != nil {
		return false, storageErr("count completed selections", err)
	}
	return n > 0, nil
}

// AssignOutlet picks one active outlet of the zone uniformly at random.
func (s *SelectionService) AssignOutlet(ctx context.Context, zoneID uint) (*models.Outlet, error) {
	if _, err := s.store.GetZone(ctx, zoneID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("zone %d: %w", zoneID, ErrNotFound)
		}
		return nil, storageErr("get zone", err)
	}
	outlets, err := s.store.ListActiveOutlets(ctx, zoneID)
	if err != nil {
		return nil, storageErr("list outlets", err)
	}
	if len(outlets) == 0 {
		return nil, fmt.Errorf("zone %d: %w", zoneID, ErrNoOutletAvailable)
	}
	outlet := outlets[s.pick(len(outlets))]
	return &outlet, nil
}

// ReserveRequest is a participant's claim on an outlet (and item, in
// inventory campaigns).
type ReserveRequest struct {
	Phone    string
	Name     string
	Email    string
	ZoneID   uint
	OutletID uint
	ItemID   uint
}

// ReserveItem creates the pending selection for a participant. In inventory
// campaigns one unit of the item is taken in the same unit of work; the last
// unit goes to exactly one of any concurrent callers.
func (s *SelectionService) ReserveItem(ctx context.Context, req ReserveRequest) (*models.Selection, error) {
	if s.opts.Mode == ModeForm {
		return nil, invalidf("form campaigns take no selections")
	}
	phone, err := s.phone(req.Phone)
	if err != nil {
		return nil, err
	}
	sel := &models.Selection{Phone: phone, ZoneID: req.ZoneID, OutletID: req.OutletID}
	if strings.TrimSpace(req.Name) != "" || s.opts.RequireName {
		name, err := validation.Name(req.Name)
		if err != nil {
			return nil, invalid(err)
		}
		sel.Name = name
	}
	if strings.TrimSpace(req.Email) != "" {
		email, err := validation.Email(req.Email)
		if err != nil {
			return nil, invalid(err)
		}
		sel.Email = email
	}

	done, err := s.store.CountSelections(ctx, phone, models.Participated...)
	if err != nil {
		return nil, storageErr("count completed selections", err)
	}
	if done > 0 {
		return nil, fmt.Errorf("phone %s: %w", phone, ErrDuplicateParticipation)
	}

	outlet, err := s.store.GetOutlet(ctx, req.OutletID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalidf("outlet %d does not exist", req.OutletID)
	}
	if err != nil {
		return nil, storageErr("get outlet", err)
	}
	if outlet.ZoneID != req.ZoneID {
		return nil, invalidf("outlet %d is not in zone %d", req.OutletID, req.ZoneID)
	}
	if !outlet.IsActive {
		return nil, fmt.Errorf("outlet %d is inactive: %w", outlet.ID, ErrNoOutletAvailable)
	}

	if s.opts.Mode == ModeInventory {
		var item *models.Item
		for i := range outlet.Items {
			if outlet.Items[i].ID == req.ItemID {
				item = &outlet.Items[i]
				break
			}
		}
		if item == nil {
			return nil, invalidf("item %d is not offered at outlet %d", req.ItemID, outlet.ID)
		}
		sel.ItemID = &item.ID
		sel.SelectedAt = s.now()
		err = s.store.ReserveItem(ctx, sel)
	} else {
		sel.SelectedAt = s.now()
		err = s.store.CreateSelection(ctx, sel)
	}
	switch {
	case errors.Is(err, store.ErrOutOfStock):
		return nil, fmt.Errorf("item %d: %w", req.ItemID, ErrOutOfStock)
	case errors.Is(err, store.ErrAlreadyParticipated):
		return nil, fmt.Errorf("phone %s: %w", phone, ErrDuplicateParticipation)
	case errors.Is(err, store.ErrPendingExists), errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("phone %s: %w", phone, ErrPendingSelectionExists)
	case err != nil:
		return nil, storageErr("reserve", err)
	}
	logger.Infof("selection: %s reserved outlet %d for %s", sel.ID, outlet.ID, phone)

	full, err := s.store.GetSelection(ctx, sel.ID)
	if err != nil {
		logger.Warningf("selection: reload %s: %v", sel.ID, err)
		sel.Outlet = outlet
		return sel, nil
	}
	return full, nil
}

// CompleteRequest carries what an upload produced.
type CompleteRequest struct {
	Phone         string
	ScreenshotRef string
	UPIID         string
}

// CompleteSelection moves the phone's pending selection to completed. Review
// campaigns also require a UPI id that no other selection carries; the
// pre-check gives the friendly error and the store's unique index closes the
// race.
func (s *SelectionService) CompleteSelection(ctx context.Context, req CompleteRequest) (*models.Selection, error) {
	phone, err := s.phone(req.Phone)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(req.ScreenshotRef)
	if ref == "" {
		return nil, invalid(&validation.Error{Field: "screenshot", Message: "Please upload a screenshot"})
	}

	var upi *string
	if s.opts.Mode == ModeReview || strings.TrimSpace(req.UPIID) != "" {
		u, err := validation.UPI(req.UPIID)
		if err != nil {
			return nil, invalid(err)
		}
		inUse, err := s.store.UPIInUse(ctx, u)
		if err != nil {
			return nil, storageErr("check upi", err)
		}
		if inUse {
			return nil, fmt.Errorf("upi %s: %w", u, ErrDuplicateParticipation)
		}
		upi = &u
	}

	sel, err := s.store.CompletePending(ctx, phone, ref, upi, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("phone %s: %w", phone, ErrNoPendingSelection)
	case errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("upi already used: %w", ErrDuplicateParticipation)
	case err != nil:
		return nil, storageErr("complete selection", err)
	}
	logger.Infof("selection: %s completed for %s", sel.ID, phone)
	return sel, nil
}

// CancelPendingSelection removes the phone's pending selection and returns
// its unit to stock. Without a pending selection it does nothing.
func (s *SelectionService) CancelPendingSelection(ctx context.Context, phone string) error {
	p, err := s.phone(phone)
	if err != nil {
		return err
	}
	removed, err := s.store.DeletePending(ctx, p)
	if err != nil {
		return storageErr("cancel selection", err)
	}
	if removed != nil {
		logger.Infof("selection: %s cancelled by %s", removed.ID, p)
	}
	return nil
}

// AdminSetStatus approves or rejects a completed selection. Stock is never
// touched. Empty notes get a default.
func (s *SelectionService) AdminSetStatus(ctx context.Context, id string, status models.SelectionStatus, notes string) (*models.Selection, error) {
	switch status {
	case models.StatusApproved:
		if notes == "" {
			notes = "Approved by admin"
		}
	case models.StatusRejected:
		if notes == "" {
			notes = "Rejected by admin"
		}
	default:
		return nil, invalidf("status must be approved or rejected, got %q", status)
	}
	sel, err := s.store.SetReview(ctx, id, status, notes, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("selection %s: %w", id, ErrNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, fmt.Errorf("selection %s: %w", id, ErrInvalidTransition)
	case err != nil:
		return nil, storageErr("review selection", err)
	}
	logger.Infof("selection: %s %s", id, status)
	return sel, nil
}

// CurrentSelection returns the phone's most recent selection, or
// ErrNotFound when it has none.
func (s *SelectionService) CurrentSelection(ctx context.Context, phone string) (*models.Selection, error) {
	p, err := s.phone(phone)
	if err != nil {
		return nil, err
	}
	sel, err := s.store.LatestSelection(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("phone %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("latest selection", err)
	}
	return sel, nil
}

// CheckUPIAvailable reports whether a UPI id is still unused.
func (s *SelectionService) CheckUPIAvailable(ctx context.Context, upi string) (bool, error) {
	u, err := validation.UPI(upi)
	if err != nil {
		return false, invalid(err)
	}
	inUse, err := s.store.UPIInUse(ctx, u)
	if err != nil {
		return false, storageErr("check upi", err)
	}
	return !inUse, nil
}

// ListSelections returns selections with zone, outlet and item names.
func (s *SelectionService) ListSelections(ctx context.Context, f store.SelectionFilter) ([]models.SelectionView, error) {
	rows, err := s.store.ListSelections(ctx, f)
	if err != nil {
		return nil, storageErr("list selections", err)
	}
	out := make([]models.SelectionView, 0, len(rows))
	for i := range rows {
		out = append(out, models.NewSelectionView(&rows[i]))
	}
	return out, nil
}

// ExpireStale expires pending selections older than ttl and restores their
// stock.
func (s *SelectionService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	n, err := s.store.ExpirePending(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, storageErr("expire pending", err)
	}
	return n, nil
}
