package handlers

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cashback/internal/models"
	"cashback/internal/services"
	"cashback/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

func (h *HTTPHandler) currentStats(c *gin.Context) (models.AdminStats, error) {
	if h.Poller != nil {
		if stats, ok := h.Poller.Latest(); ok {
			return stats, nil
		}
	}
	return h.Stats.Stats(c.Request.Context())
}

func selectionFilter(c *gin.Context) store.SelectionFilter {
	f := store.SelectionFilter{
		Status: models.SelectionStatus(c.Query("status")),
		Phone:  c.Query("phone"),
		Limit:  100,
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 && n <= 1000 {
		f.Limit = n
	}
	return f
}

// ShowDashboard renders the admin page.
func (h *HTTPHandler) ShowDashboard(c *gin.Context) {
	stats, err := h.currentStats(c)
	if err != nil {
		logger.Errorf("admin: stats: %v", err)
	}
	data := gin.H{
		"title":   "Admin Dashboard",
		"Stats":   stats,
		"Status":  c.Query("status"),
		"Entries": nil,
	}
	if h.Selections != nil {
		data["Mode"] = string(h.Selections.Mode())
		rows, err := h.Selections.ListSelections(c.Request.Context(), selectionFilter(c))
		if err != nil {
			logger.Errorf("admin: selections: %v", err)
		}
		data["Selections"] = rows
	} else {
		data["Mode"] = string(services.ModeForm)
		entries, err := h.Catalog.ListFormEntries(c.Request.Context(), 100)
		if err != nil {
			logger.Errorf("admin: form entries: %v", err)
		}
		data["Entries"] = entries
	}
	h.renderPage(c, data, "admin.html")
}

// GetStats returns the dashboard counters.
func (h *HTTPHandler) GetStats(c *gin.Context) {
	stats, err := h.currentStats(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListSelections returns selections filtered by ?status= and ?phone=.
func (h *HTTPHandler) ListSelections(c *gin.Context) {
	rows, err := h.Selections.ListSelections(c.Request.Context(), selectionFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selections": rows})
}

type reviewRequest struct {
	Notes string `json:"notes" form:"notes"`
}

func (h *HTTPHandler) review(c *gin.Context, status models.SelectionStatus) {
	var req reviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
	}
	sel, err := h.Selections.AdminSetStatus(c.Request.Context(), c.Param("id"), status, strings.TrimSpace(req.Notes))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewSelectionView(sel))
}

// ApproveSelection approves a completed selection.
func (h *HTTPHandler) ApproveSelection(c *gin.Context) {
	h.review(c, models.StatusApproved)
}

// RejectSelection rejects a completed selection.
func (h *HTTPHandler) RejectSelection(c *gin.Context) {
	h.review(c, models.StatusRejected)
}

// ListFormEntries returns the newest form campaign entries.
func (h *HTTPHandler) ListFormEntries(c *gin.Context) {
	limit := 100
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}
	entries, err := h.Catalog.ListFormEntries(c.Request.Context(), limit)
	if err != nil {
		respondError(c, errors.Join(services.ErrStorageFailure, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// UploadItemsCSV replaces stock levels from a CSV of
// outlet_id,item_name,available_quantity rows. Malformed rows are skipped;
// the valid ones are applied in one transaction.
func (h *HTTPHandler) UploadItemsCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("itemsCSV")
	if err != nil {
		c.String(http.StatusBadRequest, "Error retrieving file: %v", err)
		return
	}
	defer file.Close()

	var rows []store.ItemStock
	skipped := 0
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.String(http.StatusBadRequest, "Error reading CSV: %v", err)
			return
		}

		if len(record) != 3 {
			logger.Infof("Skipping malformed item CSV record: %v", record)
			skipped++
			continue
		}
		outletID, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			logger.Infof("Skipping item CSV record with invalid outlet id: %v", record)
			skipped++
			continue
		}
		quantity, err := strconv.Atoi(strings.TrimSpace(record[2]))
		if err != nil || quantity < 0 {
			logger.Infof("Skipping item CSV record with invalid quantity: %v", record)
			skipped++
			continue
		}
		name := strings.TrimSpace(record[1])
		if name == "" {
			skipped++
			continue
		}
		rows = append(rows, store.ItemStock{OutletID: uint(outletID), Name: name, AvailableQuantity: quantity})
	}

	created, updated, err := h.Catalog.ImportItems(c.Request.Context(), rows)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	if err != nil {
		respondError(c, errors.Join(services.ErrStorageFailure, err))
		return
	}
	logger.Infof("admin: item import created %d, updated %d, skipped %d", created, updated, skipped)
	c.JSON(http.StatusOK, gin.H{"created": created, "updated": updated, "skipped": skipped})
}

// ExportSelectionsCSV downloads the selections as a CSV file.
func (h *HTTPHandler) ExportSelectionsCSV(c *gin.Context) {
	f := selectionFilter(c)
	f.Limit = 0
	rows, err := h.Selections.ListSelections(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=selections.csv")

	// Add BOM to ensure UTF-8 compatibility in Excel
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	header := []string{"selection_id", "mobile_number", "user_name", "zone", "outlet", "item", "upi_id", "status", "screenshot_url", "selected_at", "admin_notes"}
	if err := w.Write(header); err != nil {
		logger.Infof("Error writing CSV header: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
		return
	}

	for _, s := range rows {
		row := []string{
			s.ID, s.Phone, s.Name, s.ZoneName, s.OutletName, s.ItemName, s.UPIID,
			string(s.Status), s.ScreenshotURL, s.SelectedAt.UTC().Format(time.RFC3339), s.AdminNotes,
		}
		if err := w.Write(row); err != nil {
			logger.Infof("Error writing CSV row: %v", err)
			c.String(http.StatusInternalServerError, "Error writing CSV")
			return
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		logger.Infof("Error flushing CSV writer: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
	}
}
