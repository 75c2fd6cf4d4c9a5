package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/trustgate/internal/tenant"
	"github.com/mbd888/trustgate/internal/validation"
)

// Handler provides read access to recorded risk assessments.
type Handler struct {
	store Store
}

// NewHandler creates a new risk handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/devices/:fingerprint/assessments", h.ListByDevice)
}

// ListByDevice handles GET /api/v1/sfe/devices/:fingerprint/assessments
//
// The fingerprint is the salted digest returned in telemetry, never a raw
// device identifier. With a resolved tenant only that tenant's assessments
// are returned.
func (h *Handler) ListByDevice(c *gin.Context) {
	fp := c.Param("fingerprint")
	if len(fp) > 128 || !validation.IsSafeIdentifier(fp) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid device fingerprint",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	assessments, err := h.store.ListByDevice(c.Request.Context(), fp, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}

	if tenantID := tenant.GetTenantID(c); tenantID != "" {
		filtered := assessments[:0]
		for _, a := range assessments {
			if a.TenantID == tenantID {
				filtered = append(filtered, a)
			}
		}
		assessments = filtered
	}
	if assessments == nil {
		assessments = []*Assessment{}
	}

	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "count": len(assessments)})
}
