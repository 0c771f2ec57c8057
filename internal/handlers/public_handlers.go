package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cashback/internal/blob"
	"cashback/internal/models"
	"cashback/internal/services"
	"cashback/internal/store"

	"github.com/gin-gonic/gin"
)

// GetLaunch returns the countdown to launch.
func (h *HTTPHandler) GetLaunch(c *gin.Context) {
	c.JSON(http.StatusOK, h.Launch.Countdown())
}

type notifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// NotifyLaunch signs an address up for the launch email.
func (h *HTTPHandler) NotifyLaunch(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	if err := h.Launch.NotifyMe(c.Request.Context(), req.Email, req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Thank you! We'll notify you when we launch."})
}

// ListZones returns the catalog of zones with their active outlets.
func (h *HTTPHandler) ListZones(c *gin.Context) {
	zones, err := h.Catalog.ListZones(c.Request.Context())
	if err != nil {
		respondError(c, errors.Join(services.ErrStorageFailure, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"zones": models.NewZoneCatalog(zones)})
}

// GetZone returns one zone.
func (h *HTTPHandler) GetZone(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, services.ErrNotFound)
		return
	}
	zone, err := h.Catalog.GetZone(c.Request.Context(), uint(id))
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, services.ErrNotFound)
		return
	}
	if err != nil {
		respondError(c, errors.Join(services.ErrStorageFailure, err))
		return
	}
	c.JSON(http.StatusOK, models.NewZoneView(zone))
}

// CheckUPI is the optimistic uniqueness check run while the participant
// types their UPI id.
func (h *HTTPHandler) CheckUPI(c *gin.Context) {
	ok, err := h.Selections.CheckUPIAvailable(c.Request.Context(), c.Query("upi_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": ok})
}

// SubmitForm handles the plain-form campaign.
func (h *HTTPHandler) SubmitForm(c *gin.Context) {
	var req services.FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	entry, err := h.Forms.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Your cashback request has been submitted successfully!",
		"entry":   entry,
	})
}

// ServeObject streams a stored screenshot.
func (h *HTTPHandler) ServeObject(c *gin.Context) {
	rc, meta, err := h.Blobs.Open(c.Param("bucket"), strings.TrimPrefix(c.Param("path"), "/"))
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(c, errors.Join(services.ErrStorageFailure, err))
		return
	}
	defer rc.Close()

	headers := map[string]string{}
	if meta.CacheControl != "" {
		headers["Cache-Control"] = "public, max-age=" + meta.CacheControl
	}
	c.DataFromReader(http.StatusOK, meta.Size, meta.ContentType, rc, headers)
}
