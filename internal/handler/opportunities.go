package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"polyarb/internal/repository"
)

type OpportunityHandler struct {
	Repo repository.Repository
}

func (h *OpportunityHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/opportunities")
	group.GET("", h.listOpportunities)
}

// @Summary List persisted opportunities
// @Tags opportunities
// @Success 200 {array} models.OpportunityRecord
// @Router /api/v1/opportunities [get]
func (h *OpportunityHandler) listOpportunities(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	order := strings.TrimSpace(strings.ToLower(c.Query("order")))
	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"apy":                "apy",
		"effective_profit":   "effective_profit",
		"discovered_at":      "discovered_at",
		"created_at":         "created_at",
		"days_to_resolution": "days_to_resolution",
	})

	params := repository.ListOpportunitiesParams{
		Limit:    limit,
		Offset:   offset,
		ScanID:   stringQueryPtr(c, "scan_id"),
		Strategy: stringQueryPtr(c, "strategy"),
		Status:   stringQueryPtr(c, "status"),
		MinAPY:   floatQueryPtr(c, "min_apy"),
		OrderBy:  orderBy,
		Asc:      boolPtr(order == "asc"),
	}
	items, err := h.Repo.ListOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	countParams := params
	countParams.Limit = 0
	countParams.Offset = 0
	total, err := h.Repo.CountOpportunities(c.Request.Context(), countParams)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
