// Package wizard sequences a participant through identify, zone selection,
// outlet confirmation, screenshot upload and completion. Progress lives in
// client-held Storage so a reload resumes where the participant left off.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cashback/internal/models"
	"cashback/internal/services"
	"cashback/internal/validation"

	"github.com/google/logger"
)

// Step is a wizard position.
type Step string

const (
	StepIdentify      Step = "identify"
	StepZoneSelect    Step = "zone_select"
	StepOutletConfirm Step = "outlet_confirm"
	StepUpload        Step = "upload"
	StepComplete      Step = "complete"
)

func (s Step) valid() bool {
	switch s {
	case StepIdentify, StepZoneSelect, StepOutletConfirm, StepUpload, StepComplete:
		return true
	}
	return false
}

var (
	// ErrBusy is returned while another transition of the same machine runs.
	ErrBusy = errors.New("wizard: a request is already in progress")
	// ErrWrongStep is returned for a transition the current step does not allow.
	ErrWrongStep = errors.New("wizard: action not allowed at this step")
)

// State is the persisted progress: the step plus the choices made so far.
type State struct {
	Step          Step   `json:"step"`
	Phone         string `json:"phone,omitempty"`
	Name          string `json:"name,omitempty"`
	Returning     bool   `json:"returning,omitempty"`
	ZoneID        uint   `json:"zone_id,omitempty"`
	OutletID      uint   `json:"outlet_id,omitempty"`
	OutletName    string `json:"outlet_name,omitempty"`
	OutletAddress string `json:"outlet_address,omitempty"`
	ItemID        uint   `json:"item_id,omitempty"`
	ItemName      string `json:"item_name,omitempty"`
	SelectionID   string `json:"selection_id,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

// Draft holds what the participant typed, kept across failed transitions.
type Draft struct {
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	UPIID string `json:"upi_id,omitempty"`
}

// Participation is the selection service as the wizard uses it.
type Participation interface {
	IsReturningParticipant(ctx context.Context, phone string) (bool, error)
	HasCompletedParticipation(ctx context.Context, phone string) (bool, error)
	AssignOutlet(ctx context.Context, zoneID uint) (*models.Outlet, error)
	ReserveItem(ctx context.Context, req services.ReserveRequest) (*models.Selection, error)
	CompleteSelection(ctx context.Context, req services.CompleteRequest) (*models.Selection, error)
	CancelPendingSelection(ctx context.Context, phone string) error
	CurrentSelection(ctx context.Context, phone string) (*models.Selection, error)
	CheckUPIAvailable(ctx context.Context, upi string) (bool, error)
}

// Uploader stores a screenshot and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, phone string, data []byte) (string, error)
}

// Options tune the identify guard and the campaign shape.
type Options struct {
	Mode              services.Mode
	RequireName       bool
	StrictPhonePrefix bool
}

// Machine drives one participant's wizard. A transition either commits
// (service call and storage write both succeed) or leaves the step as it was.
type Machine struct {
	svc      Participation
	uploader Uploader
	storage  Storage
	opts     Options

	busy  sync.Mutex
	mu    sync.RWMutex
	state State
	draft Draft
}

// New rebuilds a machine from what storage holds.
func New(storage Storage, svc Participation, uploader Uploader, opts Options) *Machine {
	if opts.Mode == "" {
		opts.Mode = services.ModeInventory
	}
	return &Machine{
		svc:      svc,
		uploader: uploader,
		storage:  storage,
		opts:     opts,
		state:    Load(storage),
		draft:    LoadDraft(storage),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Draft returns the retained form fields.
func (m *Machine) Draft() Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.draft
}

// begin claims the in-flight slot. The returned func releases it.
func (m *Machine) begin() (func(), error) {
	if !m.busy.TryLock() {
		return nil, ErrBusy
	}
	return m.busy.Unlock, nil
}

func (m *Machine) commit(next State) error {
	if err := Save(m.storage, next); err != nil {
		return fmt.Errorf("%w: %w", services.ErrStorageFailure, err)
	}
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return nil
}

func (m *Machine) keepDraft(update func(*Draft)) {
	m.mu.Lock()
	update(&m.draft)
	d := m.draft
	m.mu.Unlock()
	if err := SaveDraft(m.storage, d); err != nil {
		logger.Warningf("wizard: %v", err)
	}
}

func (m *Machine) expect(steps ...Step) error {
	cur := m.State().Step
	for _, s := range steps {
		if cur == s {
			return nil
		}
	}
	return fmt.Errorf("%w: at %s", ErrWrongStep, cur)
}

// IdentifyInput is what the participant enters on the first step.
type IdentifyInput struct {
	Phone string
	Name  string
	Email string
}

// Identify checks the phone and moves to zone selection. A participant who
// already has a pending selection resumes at the upload step; one who
// already completed is turned away with ErrDuplicateParticipation.
func (m *Machine) Identify(ctx context.Context, in IdentifyInput) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()

	m.keepDraft(func(d *Draft) {
		d.Phone, d.Name, d.Email = in.Phone, in.Name, in.Email
	})
	if err := m.expect(StepIdentify); err != nil {
		return m.State(), err
	}

	phone, err := validation.Phone(in.Phone, m.opts.StrictPhonePrefix)
	if err != nil {
		return m.State(), fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	name := strings.TrimSpace(in.Name)
	if name != "" || m.opts.RequireName {
		if name, err = validation.Name(in.Name); err != nil {
			return m.State(), fmt.Errorf("%w: %w", services.ErrValidation, err)
		}
	}
	if strings.TrimSpace(in.Email) != "" {
		if _, err := validation.Email(in.Email); err != nil {
			return m.State(), fmt.Errorf("%w: %w", services.ErrValidation, err)
		}
	}

	completed, err := m.svc.HasCompletedParticipation(ctx, phone)
	if err != nil {
		return m.State(), err
	}
	if completed {
		return m.State(), fmt.Errorf("phone %s: %w", phone, services.ErrDuplicateParticipation)
	}
	returning, err := m.svc.IsReturningParticipant(ctx, phone)
	if err != nil {
		return m.State(), err
	}

	next := State{Step: StepZoneSelect, Phone: phone, Name: name, Returning: returning}
	if returning {
		cur, err := m.svc.CurrentSelection(ctx, phone)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return m.State(), err
		}
		if cur != nil && cur.Status == models.StatusPending {
			next = fromSelection(next, cur)
		}
	}
	if err := m.commit(next); err != nil {
		return m.State(), err
	}
	return next, nil
}

// SelectZone assigns an outlet in the zone and moves to outlet confirmation.
func (m *Machine) SelectZone(ctx context.Context, zoneID uint) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()
	if err := m.expect(StepZoneSelect); err != nil {
		return m.State(), err
	}

	outlet, err := m.svc.AssignOutlet(ctx, zoneID)
	if err != nil {
		return m.State(), err
	}
	next := m.State()
	next.Step = StepOutletConfirm
	next.ZoneID = zoneID
	next.OutletID = outlet.ID
	next.OutletName = outlet.Name
	next.OutletAddress = address(outlet)
	if err := m.commit(next); err != nil {
		return m.State(), err
	}
	return next, nil
}

// ConfirmOutlet reserves the chosen item (or, without stock tracking, just
// records the selection) and moves to the upload step. On ErrOutOfStock the
// participant stays here to pick another item or change the outlet. If the
// phone already holds a pending selection, as after a confirm whose response
// was lost, the machine resumes that selection at the upload step.
func (m *Machine) ConfirmOutlet(ctx context.Context, itemID uint) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()
	if err := m.expect(StepOutletConfirm); err != nil {
		return m.State(), err
	}

	cur := m.State()
	d := m.Draft()
	if m.opts.Mode == services.ModeInventory && itemID == 0 {
		return cur, fmt.Errorf("%w: %w", services.ErrValidation,
			&validation.Error{Field: "item", Message: "Please choose an item"})
	}
	sel, err := m.svc.ReserveItem(ctx, services.ReserveRequest{
		Phone:    cur.Phone,
		Name:     cur.Name,
		Email:    d.Email,
		ZoneID:   cur.ZoneID,
		OutletID: cur.OutletID,
		ItemID:   itemID,
	})
	if errors.Is(err, services.ErrPendingSelectionExists) {
		resumed, rerr := m.resync(ctx)
		if rerr != nil {
			logger.Warningf("wizard: resync after confirm: %v", rerr)
			return m.State(), err
		}
		if resumed.Step == StepUpload {
			return resumed, nil
		}
		return resumed, err
	}
	if err != nil {
		return cur, err
	}
	next := fromSelection(cur, sel)
	if err := m.commit(next); err != nil {
		// The row exists server-side; Resync will find it on the next load.
		return m.State(), err
	}
	return next, nil
}

// Upload stores the screenshot and completes the pending selection. Review
// campaigns pass the participant's UPI id. If the server has no pending
// selection any more the machine resynchronises before returning the error.
func (m *Machine) Upload(ctx context.Context, data []byte, upiID string) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()

	if upiID != "" {
		m.keepDraft(func(d *Draft) { d.UPIID = upiID })
	}
	if err := m.expect(StepUpload); err != nil {
		return m.State(), err
	}
	cur := m.State()
	if m.opts.Mode == services.ModeReview {
		if _, err := validation.UPI(upiID); err != nil {
			return cur, fmt.Errorf("%w: %w", services.ErrValidation, err)
		}
	}
	// Nothing is stored for a UPI id that completion would refuse.
	if m.opts.Mode == services.ModeReview || upiID != "" {
		ok, err := m.svc.CheckUPIAvailable(ctx, upiID)
		if err != nil {
			return cur, err
		}
		if !ok {
			return cur, fmt.Errorf("upi %s: %w", upiID, services.ErrDuplicateParticipation)
		}
	}

	ref, err := m.uploader.Upload(ctx, cur.Phone, data)
	if err != nil {
		return cur, err
	}
	sel, err := m.svc.CompleteSelection(ctx, services.CompleteRequest{
		Phone:         cur.Phone,
		ScreenshotRef: ref,
		UPIID:         upiID,
	})
	if errors.Is(err, services.ErrNoPendingSelection) {
		if _, rerr := m.resync(ctx); rerr != nil {
			logger.Warningf("wizard: resync after upload: %v", rerr)
		}
		return m.State(), err
	}
	if err != nil {
		return cur, err
	}
	next := fromSelection(cur, sel)
	next.Step = StepComplete
	next.ScreenshotURL = ref
	if err := m.commit(next); err != nil {
		return m.State(), err
	}
	return next, nil
}

// ChangeChoice drops the zone and outlet choice, cancels any pending
// selection so its stock is released, and goes back to zone selection.
func (m *Machine) ChangeChoice(ctx context.Context) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()
	if err := m.expect(StepOutletConfirm, StepUpload); err != nil {
		return m.State(), err
	}

	cur := m.State()
	// At outlet_confirm a reservation may exist whose response never
	// arrived; cancelling without one is a no-op.
	if err := m.svc.CancelPendingSelection(ctx, cur.Phone); err != nil {
		return cur, err
	}
	next := State{Step: StepZoneSelect, Phone: cur.Phone, Name: cur.Name, Returning: cur.Returning}
	if err := m.commit(next); err != nil {
		return m.State(), err
	}
	return next, nil
}

// Resync rebuilds the state from the participant's latest selection on the
// server. Without a known phone it returns the current state unchanged.
func (m *Machine) Resync(ctx context.Context) (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()
	return m.resync(ctx)
}

func (m *Machine) resync(ctx context.Context) (State, error) {
	cur := m.State()
	if cur.Phone == "" {
		return cur, nil
	}
	base := State{Step: StepZoneSelect, Phone: cur.Phone, Name: cur.Name, Returning: cur.Returning}
	sel, err := m.svc.CurrentSelection(ctx, cur.Phone)
	switch {
	case errors.Is(err, services.ErrNotFound):
	case err != nil:
		return cur, err
	default:
		base.Returning = true
		switch sel.Status {
		case models.StatusPending:
			base = fromSelection(base, sel)
		case models.StatusCompleted, models.StatusApproved, models.StatusRejected:
			base = fromSelection(base, sel)
			base.Step = StepComplete
			if sel.ScreenshotURL != nil {
				base.ScreenshotURL = *sel.ScreenshotURL
			}
		}
	}
	if base == cur {
		return cur, nil
	}
	if err := m.commit(base); err != nil {
		return m.State(), err
	}
	logger.Infof("wizard: resynced %s to %s", cur.Phone, base.Step)
	return base, nil
}

// Reset clears the stored progress and draft and starts over.
func (m *Machine) Reset() (State, error) {
	done, err := m.begin()
	if err != nil {
		return m.State(), err
	}
	defer done()

	if err := m.storage.Clear(); err != nil {
		return m.State(), fmt.Errorf("%w: %w", services.ErrStorageFailure, err)
	}
	fresh := State{Step: StepIdentify}
	m.mu.Lock()
	m.state = fresh
	m.draft = Draft{}
	m.mu.Unlock()
	return fresh, nil
}

func fromSelection(base State, sel *models.Selection) State {
	base.Step = StepUpload
	base.SelectionID = sel.ID
	base.ZoneID = sel.ZoneID
	base.OutletID = sel.OutletID
	base.ItemID = 0
	base.ItemName = ""
	if sel.ItemID != nil {
		base.ItemID = *sel.ItemID
	}
	if sel.Outlet != nil {
		base.OutletName = sel.Outlet.Name
		base.OutletAddress = address(sel.Outlet)
	}
	if sel.Item != nil {
		base.ItemName = sel.Item.Name
	}
	return base
}

func address(o *models.Outlet) string {
	if o.MainStreet == "" {
		return o.AddressLine1
	}
	if o.AddressLine1 == "" {
		return o.MainStreet
	}
	return o.AddressLine1 + ", " + o.MainStreet
}
