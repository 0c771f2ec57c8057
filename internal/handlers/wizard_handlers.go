package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"cashback/internal/services"
	"cashback/internal/validation"
	"cashback/internal/wizard"

	"github.com/gin-gonic/gin"
)

// machine rebuilds the participant's wizard from their cookies.
func (h *HTTPHandler) machine(c *gin.Context) *wizard.Machine {
	return wizard.New(NewCookieStorage(c, h.CookieSecure), h.Selections, h.Uploader, h.Wizard)
}

func wizardResponse(c *gin.Context, m *wizard.Machine, err error) {
	body := gin.H{"state": m.State(), "draft": m.Draft()}
	if err != nil {
		body["error"] = errorCode(err)
		body["message"] = wizard.UserMessage(err)
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// GetWizard returns the saved progress. With ?resync=1 it is rebuilt from
// the participant's selection on the server first.
func (h *HTTPHandler) GetWizard(c *gin.Context) {
	m := h.machine(c)
	if c.Query("resync") == "1" {
		_, err := m.Resync(c.Request.Context())
		wizardResponse(c, m, err)
		return
	}
	wizardResponse(c, m, nil)
}

type identifyRequest struct {
	Phone string `json:"mobile_number"`
	Name  string `json:"user_name"`
	Email string `json:"email"`
}

// Identify handles the mobile number step.
func (h *HTTPHandler) Identify(c *gin.Context) {
	m := h.machine(c)
	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		wizardResponse(c, m, bindError(err))
		return
	}
	_, err := m.Identify(c.Request.Context(), wizard.IdentifyInput{Phone: req.Phone, Name: req.Name, Email: req.Email})
	wizardResponse(c, m, err)
}

type zoneRequest struct {
	ZoneID uint `json:"zone_id" binding:"required"`
}

// SelectZone assigns an outlet in the chosen zone.
func (h *HTTPHandler) SelectZone(c *gin.Context) {
	m := h.machine(c)
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		wizardResponse(c, m, bindError(err))
		return
	}
	_, err := m.SelectZone(c.Request.Context(), req.ZoneID)
	wizardResponse(c, m, err)
}

type confirmRequest struct {
	ItemID uint `json:"item_id"`
}

// ConfirmOutlet reserves the chosen item at the assigned outlet.
func (h *HTTPHandler) ConfirmOutlet(c *gin.Context) {
	m := h.machine(c)
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		wizardResponse(c, m, bindError(err))
		return
	}
	_, err := m.ConfirmOutlet(c.Request.Context(), req.ItemID)
	wizardResponse(c, m, err)
}

// UploadScreenshot takes the multipart "screenshot" file (and "upi_id" in
// review campaigns) and completes the selection.
func (h *HTTPHandler) UploadScreenshot(c *gin.Context) {
	m := h.machine(c)
	limit := h.Uploader.MaxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	file, _, err := c.Request.FormFile("screenshot")
	if err != nil {
		msg := "Please select a screenshot to upload"
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			msg = fmt.Sprintf("File size must be less than %dMB", limit>>20)
		}
		wizardResponse(c, m, errors.Join(services.ErrValidation, &validation.Error{Field: "screenshot", Message: msg}))
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the size check to fail.
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		wizardResponse(c, m, errors.Join(services.ErrStorageFailure, err))
		return
	}
	_, err = m.Upload(c.Request.Context(), data, c.PostForm("upi_id"))
	wizardResponse(c, m, err)
}

// ChangeChoice releases the current outlet choice.
func (h *HTTPHandler) ChangeChoice(c *gin.Context) {
	m := h.machine(c)
	_, err := m.ChangeChoice(c.Request.Context())
	wizardResponse(c, m, err)
}

// ResetWizard clears all saved progress.
func (h *HTTPHandler) ResetWizard(c *gin.Context) {
	m := h.machine(c)
	_, err := m.Reset()
	wizardResponse(c, m, err)
}
