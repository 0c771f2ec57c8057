package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cashback/internal/models"
	"cashback/internal/notify"
	"cashback/internal/validation"

	"github.com/google/logger"
)

// FormStore is the persistence the FormService needs.
type FormStore interface {
	CreateFormEntry(ctx context.Context, e *models.FormEntry) error
	CountFormEntries(ctx context.Context, phone, email string, from, to time.Time) (int64, error)
}

// FormOptions configure the monthly cap.
type FormOptions struct {
	MonthlyCap        int
	CapByEmail        bool // count per phone+email pair instead of per phone
	StrictPhonePrefix bool
	ConfirmTemplateID string
}

// FormRequest is one submission of the plain-form campaign.
type FormRequest struct {
	Name          string `json:"user_name" binding:"required,personname"`
	Phone         string `json:"mobile_number" binding:"required,phone"`
	Email         string `json:"email" binding:"required,email"`
	PinCode       string `json:"pin_code"`
	AddressLine1  string `json:"address_line_1"`
	AddressLine2  string `json:"address_line_2"`
	Landmark      string `json:"landmark"`
	City          string `json:"city"`
	ProductLink   string `json:"product_link"`
	ProductName   string `json:"product_name"`
	ProductAmount int    `json:"product_amount" binding:"gte=0"`
	UPIID         string `json:"upi_id" binding:"required,upi"`
}

// FormService accepts form entries up to a monthly cap per participant.
type FormService struct {
	store  FormStore
	sender notify.Sender
	opts   FormOptions
	now    func() time.Time
}

// NewFormService creates a FormService. A nil sender disables the
// confirmation email.
func NewFormService(st FormStore, sender notify.Sender, opts FormOptions) *FormService {
	if opts.MonthlyCap <= 0 {
		opts.MonthlyCap = validation.DefaultMonthlyCap
	}
	return &FormService{store: st, sender: sender, opts: opts, now: time.Now}
}

// SetClock replaces the time source.
func (f *FormService) SetClock(now func() time.Time) { f.now = now }

// Submit validates and stores an entry. Once the participant has used up the
// monthly cap in the current calendar month it fails with
// ErrDuplicateParticipation.
func (f *FormService) Submit(ctx context.Context, req FormRequest) (*models.FormEntry, error) {
	name, err := validation.Name(req.Name)
	if err != nil {
		return nil, invalid(err)
	}
	phone, err := validation.Phone(req.Phone, f.opts.StrictPhonePrefix)
	if err != nil {
		return nil, invalid(err)
	}
	email, err := validation.Email(req.Email)
	if err != nil {
		return nil, invalid(err)
	}
	upi, err := validation.UPI(req.UPIID)
	if err != nil {
		return nil, invalid(err)
	}
	if req.ProductAmount < 0 {
		return nil, invalidf("product amount must not be negative")
	}

	now := f.now()
	from, to := validation.MonthWindow(now)
	keyEmail := ""
	if f.opts.CapByEmail {
		keyEmail = email
	}
	count, err := f.store.CountFormEntries(ctx, phone, keyEmail, from, to)
	if err != nil {
		return nil, storageErr("count form entries", err)
	}
	if validation.MonthlyCapReached(count, f.opts.MonthlyCap) {
		return nil, fmt.Errorf("%d entries this month for %s: %w", count, phone, ErrDuplicateParticipation)
	}

	entry := &models.FormEntry{
		Name:          name,
		Phone:         phone,
		Email:         email,
		PinCode:       strings.TrimSpace(req.PinCode),
		AddressLine1:  strings.TrimSpace(req.AddressLine1),
		AddressLine2:  strings.TrimSpace(req.AddressLine2),
		Landmark:      strings.TrimSpace(req.Landmark),
		City:          strings.TrimSpace(req.City),
		ProductLink:   strings.TrimSpace(req.ProductLink),
		ProductName:   strings.TrimSpace(req.ProductName),
		ProductAmount: req.ProductAmount,
		UPIID:         upi,
		SubmittedAt:   now,
	}
	if err := f.store.CreateFormEntry(ctx, entry); err != nil {
		return nil, storageErr("create form entry", err)
	}
	logger.Infof("form: entry %d stored for %s (%d/%d this month)", entry.ID, phone, count+1, f.opts.MonthlyCap)

	if f.sender != nil {
		err := f.sender.Send(ctx, f.opts.ConfirmTemplateID, email, map[string]string{
			"to_name":   name,
			"from_name": "CashVertz Team",
			"message":   fmt.Sprintf("We received your cashback request for %s. We will verify it and credit %s shortly.", entry.ProductName, upi),
			"reply_to":  "noreply@cashvertz.com",
		})
		if err != nil {
			logger.Warningf("form: confirmation email to %s failed: %v", email, err)
		}
	}
	return entry, nil
}
