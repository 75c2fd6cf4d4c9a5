package decision

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/logging"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/validation"
)

// maxTokenLength bounds attestation tokens accepted over HTTP.
const maxTokenLength = 16 << 10

// Handler provides the verification endpoint.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new verification handler.
func NewHandler(c *Coordinator) *Handler {
	return &Handler{coordinator: c}
}

// RegisterRoutes sets up verification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verify", h.Verify)
}

// Verify handles POST /api/v1/sfe/verify
func (h *Handler) Verify(c *gin.Context) {
	var ev attestation.Evidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidVersion("appVersion", ev.AppVersion),
		validation.ValidVersion("sdkVersion", ev.SDKVersion),
		validation.MaxLength("attestationToken", ev.Token, maxTokenLength),
		validation.MaxLength("deviceInfo.deviceModel", ev.Device.Model, 256),
		validation.MaxLength("bindingInfo.networkOperator", ev.Binding.NetworkOperator, 256),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	d := h.coordinator.Decide(c.Request.Context(), &ev)

	logging.L(c.Request.Context()).Info("verification completed",
		"verificationId", d.ID,
		"riskLevel", d.RiskLevel,
		"action", d.Action,
	)
	c.Header("X-Verification-ID", d.ID)
	c.JSON(StatusCode(d), d)
}

// StatusCode maps a decision to its HTTP status: 500 for an internal
// failure, 403 when blocked, 422 when CRITICAL but not blocked, else 200.
func StatusCode(d *Decision) int {
	switch {
	case !d.Success:
		return http.StatusInternalServerError
	case d.Action == policy.ActionBlock:
		return http.StatusForbidden
	case d.RiskLevel == policy.LevelCritical:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}
