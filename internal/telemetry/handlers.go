package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/tenant"
	"github.com/mbd888/trustgate/internal/validation"
)

// MaxSubmissionEvents caps the number of events in one POST /telemetry.
const MaxSubmissionEvents = 500

// EventRequest is one client-submitted telemetry event.
type EventRequest struct {
	EventType         EventType        `json:"eventType"`
	Timestamp         int64            `json:"timestamp"` // epoch millis, 0 means now
	DeviceFingerprint string           `json:"deviceFingerprint"`
	RiskLevel         policy.RiskLevel `json:"riskLevel"`
	Payload           map[string]any   `json:"payload"`
}

// SubmissionResponse acknowledges a telemetry submission.
type SubmissionResponse struct {
	SubmissionID           string `json:"submissionId"`
	Timestamp              int64  `json:"timestamp"`
	EventsProcessed        int    `json:"eventsProcessed"`
	CriticalEventsReported int    `json:"criticalEventsReported"`
	Status                 string `json:"status"`
}

// Handler provides HTTP endpoints for telemetry and compliance reports.
type Handler struct {
	pipeline *Pipeline
	reporter *Reporter
	extra    map[string]func() any
}

// NewHandler creates a new telemetry handler. reporter may be nil.
func NewHandler(p *Pipeline, reporter *Reporter) *Handler {
	return &Handler{pipeline: p, reporter: reporter, extra: map[string]func() any{}}
}

// WithStats adds a named section to the /telemetry/stats response.
func (h *Handler) WithStats(name string, fn func() any) *Handler {
	h.extra[name] = fn
	return h
}

// RegisterRoutes sets up telemetry routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/telemetry", h.Submit)
	r.GET("/telemetry/events", h.RecentEvents)
	r.GET("/telemetry/stats", h.Stats)
	r.GET("/compliance/reports", h.ListReports)
	r.GET("/compliance/reports/latest", h.LatestReport)
}

// Submit handles POST /api/v1/sfe/telemetry
func (h *Handler) Submit(c *gin.Context) {
	var reqs []EventRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if len(reqs) == 0 || len(reqs) > MaxSubmissionEvents {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Submission must contain between 1 and 500 events",
		})
		return
	}

	var errs validation.ValidationErrors
	for _, req := range reqs {
		if !req.EventType.Valid() {
			errs = append(errs, validation.ValidationError{Field: "eventType", Message: "unknown event type"})
		}
		if req.RiskLevel != "" && !req.RiskLevel.Valid() {
			errs = append(errs, validation.ValidationError{Field: "riskLevel", Message: "unknown risk level"})
		}
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tenantID := tenant.GetTenantID(c)
	critical := 0
	for _, req := range reqs {
		e := req.toEvent(tenantID)
		if e.RiskLevel.AtLeast(policy.LevelHigh) {
			critical++
		}
		h.pipeline.Record(e)
	}

	c.JSON(http.StatusOK, SubmissionResponse{
		SubmissionID:           idgen.WithPrefix(idgen.PrefixSubmission),
		Timestamp:              time.Now().UnixMilli(),
		EventsProcessed:        len(reqs),
		CriticalEventsReported: critical,
		Status:                 "ACCEPTED",
	})
}

func (r EventRequest) toEvent(tenantID string) *Event {
	level := r.RiskLevel
	if level == "" {
		level = policy.LevelLow
	}
	e := NewEvent(r.EventType, r.DeviceFingerprint, level, r.Payload)
	if r.Timestamp > 0 {
		e.Timestamp = time.UnixMilli(r.Timestamp).UTC()
	}
	e.TenantID = tenantID
	return e
}

// RecentEvents handles GET /api/v1/sfe/telemetry/events
// A resolved tenant only sees its own events.
func (h *Handler) RecentEvents(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	events, err := h.pipeline.RecentEvents(c.Request.Context(), tenant.GetTenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list telemetry events",
		})
		return
	}
	if events == nil {
		events = []*Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// Stats handles GET /api/v1/sfe/telemetry/stats
func (h *Handler) Stats(c *gin.Context) {
	resp := gin.H{"pipeline": h.pipeline.Stats()}
	if h.reporter != nil {
		resp["currentWindow"] = h.reporter.Window()
	}
	for name, fn := range h.extra {
		resp[name] = fn()
	}
	c.JSON(http.StatusOK, resp)
}

// LatestReport handles GET /api/v1/sfe/compliance/reports/latest
func (h *Handler) LatestReport(c *gin.Context) {
	var latest *ComplianceReport
	if h.reporter != nil {
		latest = h.reporter.Latest()
	}
	if latest == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No compliance report generated yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": latest})
}

// ListReports handles GET /api/v1/sfe/compliance/reports
func (h *Handler) ListReports(c *gin.Context) {
	reports := []*ComplianceReport{}
	if h.reporter != nil {
		reports = append(reports, h.reporter.Reports()...)
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}
