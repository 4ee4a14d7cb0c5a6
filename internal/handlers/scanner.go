package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/coordinator"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/validator"
)

// ScannerHandler implements the Scanner surface: scan creation, status,
// results, and cancellation. Authentication on this surface is optional
// (auth.OptionalScannerToken) — callers that omit a token are still
// served, per the surface's upstream-facing trust model.
type ScannerHandler struct {
	coordinator *coordinator.Coordinator
}

// NewScannerHandler wires the Scanner surface to the Coordinator.
func NewScannerHandler(c *coordinator.Coordinator) *ScannerHandler {
	return &ScannerHandler{coordinator: c}
}

// CreateScan handles POST /scans.
func (h *ScannerHandler) CreateScan(c *gin.Context) {
	var req models.CreateScanRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	resp, err := h.coordinator.CreateScan(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ScanAction handles POST /scans/{id} (start|stop).
func (h *ScannerHandler) ScanAction(c *gin.Context) {
	scanID := c.Param("id")

	var action models.ScanAction
	if !validator.BindAndValidate(c, &action) {
		return
	}

	switch action.Action {
	case "stop":
		if err := h.coordinator.CancelScan(c.Request.Context(), scanID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "canceled"})
	case "start":
		// Scans are queued and dispatched as soon as CreateScan returns;
		// "start" is accepted as a no-op so callers that always send an
		// explicit start action aren't rejected.
		c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "queued"})
	default:
		respondError(c, apperrors.InvalidRequest("action must be start or stop"))
	}
}

// Status handles GET /scans/{id}/status.
func (h *ScannerHandler) Status(c *gin.Context) {
	scanID := c.Param("id")
	resp, err := h.coordinator.GetStatus(c.Request.Context(), scanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Results handles GET /scans/{id}/results?range=a-b.
func (h *ScannerHandler) Results(c *gin.Context) {
	scanID := c.Param("id")
	resp, err := h.coordinator.GetResults(c.Request.Context(), scanID)
	if err != nil {
		respondError(c, err)
		return
	}

	if rng := c.Query("range"); rng != "" {
		resp.Results = sliceByRange(resp.Results, rng)
		resp.Range = rng
	}
	c.JSON(http.StatusOK, resp)
}

// sliceByRange applies an inclusive "a-b" index range to a result slice,
// clamping to the slice bounds. Malformed ranges are ignored and the full
// slice is returned.
func sliceByRange(results []models.Result, rng string) []models.Result {
	parts := splitRange(rng)
	if parts == nil {
		return results
	}
	start, end := parts[0], parts[1]
	if start < 0 {
		start = 0
	}
	if end >= len(results) {
		end = len(results) - 1
	}
	if start > end || start >= len(results) {
		return []models.Result{}
	}
	return results[start : end+1]
}

func splitRange(rng string) []int {
	dash := -1
	for i, r := range rng {
		if r == '-' {
			dash = i
			break
		}
	}
	if dash <= 0 || dash == len(rng)-1 {
		return nil
	}
	start, err1 := strconv.Atoi(rng[:dash])
	end, err2 := strconv.Atoi(rng[dash+1:])
	if err1 != nil || err2 != nil {
		return nil
	}
	return []int{start, end}
}

// Delete handles DELETE /scans/{id}.
func (h *ScannerHandler) Delete(c *gin.Context) {
	scanID := c.Param("id")
	if err := h.coordinator.CancelScan(c.Request.Context(), scanID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Preferences handles GET /scans/preferences: the enumerated config
// option catalog.
func (h *ScannerHandler) Preferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"options": models.RecognizedOptions})
}
