package handlers

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"cashback/internal/blob"
	"cashback/internal/models"
	"cashback/internal/services"
	"cashback/internal/store"
	"cashback/internal/validation"
	"cashback/internal/wizard"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/logger"
	"github.com/google/uuid"
)

// Catalog is the read side of the store the handlers use directly.
type Catalog interface {
	ListZones(ctx context.Context) ([]models.Zone, error)
	GetZone(ctx context.Context, id uint) (*models.Zone, error)
	ImportItems(ctx context.Context, rows []store.ItemStock) (created, updated int, err error)
	ListFormEntries(ctx context.Context, limit int) ([]models.FormEntry, error)
	Ping(ctx context.Context) error
}

// BlobReader serves stored screenshots.
type BlobReader interface {
	Open(bucket, path string) (io.ReadCloser, blob.Meta, error)
}

// Deps are the services the handlers are wired to. Forms is nil unless the
// form campaign runs; Selections and Uploader are nil when it does.
type Deps struct {
	Catalog    Catalog
	Selections *services.SelectionService
	Uploader   *services.ScreenshotUploader
	Forms      *services.FormService
	Launch     *services.LaunchService
	Stats      *services.StatsService
	Poller     *services.StatsPoller
	Blobs      BlobReader
	Templates  *template.Template

	Wizard        wizard.Options
	CookieSecure  bool
	AdminUser     string
	AdminPassword string
}

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	Deps
	inflight sync.Map // participant id -> struct{}
}

var registerOnce sync.Once

// NewHTTPHandler creates a new HTTPHandler and installs the campaign
// validation tags on gin's validator.
func NewHTTPHandler(deps Deps) *HTTPHandler {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := validation.Register(v); err != nil {
				logger.Errorf("handlers: %v", err)
			}
		}
	})
	return &HTTPHandler{Deps: deps}
}

// renderPage is a helper to perform a two-step template rendering.
// It first executes the content template into a buffer, then executes the main
// layout template, passing the rendered content as a variable.
func (h *HTTPHandler) renderPage(c *gin.Context, pageData gin.H, contentTmpl string) {
	buf := new(bytes.Buffer)
	err := h.Templates.ExecuteTemplate(buf, contentTmpl, pageData)
	if err != nil {
		logger.Infof("Error executing content template %s: %v", contentTmpl, err)
		c.String(http.StatusInternalServerError, "Template rendering error")
		return
	}

	pageData["PageContent"] = template.HTML(buf.String())

	err = h.Templates.ExecuteTemplate(c.Writer, "layout.html", pageData)
	if err != nil {
		logger.Infof("Error executing layout template: %v", err)
		c.String(http.StatusInternalServerError, "Template rendering error")
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/storage/:bucket/*path", h.ServeObject)

	api := router.Group("/api")
	api.GET("/launch", h.GetLaunch)
	api.POST("/launch/notify", h.NotifyLaunch)
	api.GET("/zones", h.ListZones)
	api.GET("/zones/:id", h.GetZone)

	if h.Selections != nil {
		api.GET("/upi/check", h.CheckUPI)
		api.GET("/wizard", h.GetWizard)
		wz := api.Group("/wizard", h.ParticipantGuard())
		wz.POST("/identify", h.Identify)
		wz.POST("/zone", h.SelectZone)
		wz.POST("/confirm", h.ConfirmOutlet)
		wz.POST("/upload", h.UploadScreenshot)
		wz.POST("/change", h.ChangeChoice)
		wz.POST("/reset", h.ResetWizard)
	}
	if h.Forms != nil {
		api.POST("/form", h.SubmitForm)
	}

	admin := router.Group("/admin", gin.BasicAuth(gin.Accounts{h.AdminUser: h.AdminPassword}))
	admin.GET("", h.ShowDashboard)
	admin.GET("/api/stats", h.GetStats)
	admin.GET("/api/form-entries", h.ListFormEntries)
	if h.Selections != nil {
		admin.GET("/api/selections", h.ListSelections)
		admin.GET("/api/selections.csv", h.ExportSelectionsCSV)
		admin.POST("/api/selections/:id/approve", h.ApproveSelection)
		admin.POST("/api/selections/:id/reject", h.RejectSelection)
		admin.POST("/api/items/csv", h.UploadItemsCSV)
	}
}

// Health reports whether the database answers.
func (h *HTTPHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Catalog.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps a service or wizard error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wizard.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrWrongStep),
		errors.Is(err, services.ErrOutOfStock),
		errors.Is(err, services.ErrDuplicateParticipation),
		errors.Is(err, services.ErrNoPendingSelection),
		errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoOutletAvailable),
		errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStorageFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable name of an error kind.
func errorCode(err error) string {
	switch {
	case errors.Is(err, wizard.ErrBusy):
		return "busy"
	case errors.Is(err, wizard.ErrWrongStep):
		return "wrong_step"
	case errors.Is(err, services.ErrValidation):
		return "validation_error"
	case errors.Is(err, services.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, services.ErrDuplicateParticipation):
		return "duplicate_participation"
	case errors.Is(err, services.ErrNoPendingSelection):
		return "no_pending_selection"
	case errors.Is(err, services.ErrNoOutletAvailable):
		return "no_outlet_available"
	case errors.Is(err, services.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, services.ErrNotFound):
		return "not_found"
	case errors.Is(err, services.ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal_error"
	}
}

// respondError writes the error as JSON and logs the ones that are not the
// caller's fault.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": errorCode(err), "message": wizard.UserMessage(err)})
}

// bindError turns a binding failure into a validation error.
func bindError(err error) error {
	return errors.Join(services.ErrValidation, validation.FromValidator(err))
}

const participantCookie = "participant_id"

// participantID returns the caller's participant cookie, issuing one if
// missing.
func (h *HTTPHandler) participantID(c *gin.Context) string {
	if id, err := c.Cookie(participantCookie); err == nil && id != "" {
		return id
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(participantCookie, id, int(cookieMaxAge/time.Second), "/", "", h.CookieSecure, true)
	return id
}

// ParticipantGuard lets one wizard request per participant run at a time.
// A second click while the first is in flight gets 429.
func (h *HTTPHandler) ParticipantGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := h.participantID(c)
		if _, busy := h.inflight.LoadOrStore(id, struct{}{}); busy {
			respondError(c, wizard.ErrBusy)
			c.Abort()
			return
		}
		defer h.inflight.Delete(id)
		c.Next()
	}
}
