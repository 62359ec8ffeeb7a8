package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"polyarb/internal/repository"
	"polyarb/internal/scan"
)

type ScanHandler struct {
	Service *scan.Service
	Repo    repository.Repository
}

func (h *ScanHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/scans")
	group.POST("", h.triggerScan)
	group.GET("", h.listScans)
	group.GET("/latest", h.latestScan)
	group.GET("/:scan_id", h.getScan)
}

// @Summary Trigger a scan
// @Tags scans
// @Success 200 {object} models.ScanReport
// @Router /api/v1/scans [post]
func (h *ScanHandler) triggerScan(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "scanner unavailable", nil)
		return
	}
	report, err := h.Service.Trigger(c.Request.Context())
	if err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			Error(c, http.StatusConflict, "a scan is already running", nil)
			return
		}
		if report != nil && report.Canceled {
			Ok(c, report, map[string]any{"canceled": true})
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary List scan runs
// @Tags scans
// @Success 200 {array} models.ScanRecord
// @Router /api/v1/scans [get]
func (h *ScanHandler) listScans(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	order := strings.TrimSpace(strings.ToLower(c.Query("order")))
	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"started_at": "started_at",
		"duration":   "duration",
		"created_at": "created_at",
	})

	params := repository.ListScansParams{
		Limit:   limit,
		Offset:  offset,
		OrderBy: orderBy,
		Asc:     boolPtr(order == "asc"),
	}
	items, err := h.Repo.ListScans(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountScans(c.Request.Context(), repository.ListScansParams{})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Latest scan run
// @Tags scans
// @Success 200 {object} models.ScanRecord
// @Router /api/v1/scans/latest [get]
func (h *ScanHandler) latestScan(c *gin.Context) {
	if h.Service != nil {
		if report := h.Service.LastReport(); report != nil {
			Ok(c, report, map[string]any{"source": "memory"})
			return
		}
	}
	if h.Repo == nil {
		Error(c, http.StatusNotFound, "no scans yet", nil)
		return
	}
	rec, err := h.Repo.LatestScan(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if rec == nil {
		Error(c, http.StatusNotFound, "no scans yet", nil)
		return
	}
	Ok(c, rec, map[string]any{"source": "db"})
}

// @Summary Scan run with its opportunities
// @Tags scans
// @Success 200 {object} models.ScanRecord
// @Router /api/v1/scans/{scan_id} [get]
func (h *ScanHandler) getScan(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	scanID := strings.TrimSpace(c.Param("scan_id"))
	if scanID == "" {
		Error(c, http.StatusBadRequest, "scan_id required", nil)
		return
	}
	rec, err := h.Repo.GetScanByScanID(c.Request.Context(), scanID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if rec == nil {
		Error(c, http.StatusNotFound, "scan not found", nil)
		return
	}
	opps, err := h.Repo.ListOpportunities(c.Request.Context(), repository.ListOpportunitiesParams{
		ScanID: &scanID,
		Limit:  500,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"scan": rec, "opportunities": opps}, nil)
}
