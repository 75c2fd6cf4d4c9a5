package policy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/trustgate/internal/tenant"
)

// Clients re-fetch after this long even if nothing changed.
const (
	maxPolicyAge      = 24 * time.Hour
	nextCheckInterval = 3600 // seconds
)

// Handler serves the policy query endpoint used by client SDKs.
type Handler struct {
	store *Store
}

// NewHandler creates a new policy handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policies", h.Get)
}

// Get handles GET /api/v1/sfe/policies?lastUpdate=<epoch ms>
func (h *Handler) Get(c *gin.Context) {
	now := time.Now()
	tenantID := tenant.GetTenantID(c)

	var lastUpdate *time.Time
	if raw := c.Query("lastUpdate"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "lastUpdate must be epoch milliseconds"})
			return
		}
		t := time.UnixMilli(ms)
		lastUpdate = &t
	}

	snap := h.store.Load()
	table := Resolve(tenantID, h.store)

	resp := gin.H{
		"timestamp":                now.UnixMilli(),
		"version":                  Version,
		"policies":                 table,
		"updateRequired":           UpdateRequired(lastUpdate, snap.UpdatedAt, now),
		"nextCheckIntervalSeconds": nextCheckInterval,
	}
	if tenantID != "" {
		resp["tenantId"] = tenantID
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateRequired reports whether a client that last fetched policies at
// lastUpdate should fetch again. A missing timestamp, one older than a day,
// or one older than the current snapshot all require an update.
func UpdateRequired(lastUpdate *time.Time, snapshotAt, now time.Time) bool {
	if lastUpdate == nil {
		return true
	}
	if now.Sub(*lastUpdate) > maxPolicyAge {
		return true
	}
	return lastUpdate.Before(snapshotAt)
}
