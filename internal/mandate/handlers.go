package mandate

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// EventEmitter receives decision and execution events for real-time
// streaming. Nil-safe at the call sites.
type EventEmitter interface {
	EmitDecision(decision map[string]interface{})
	EmitExecution(execution map[string]interface{})
}

// Handler provides HTTP handlers for mandate operations.
type Handler struct {
	provider Provider
	events   EventEmitter
}

// NewHandler creates a mandate handler backed by any Provider variant.
func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

// WithEvents returns a handler that emits real-time events.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the mandate routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/mandates", h.CreateMandate)
	r.GET("/mandates/:id", h.GetMandate)
	r.POST("/mandates/:id/validate", h.ValidateMandate)
	r.POST("/mandates/:id/execute", h.ExecuteAction)
	r.POST("/mandates/:id/executions", h.RecordExecution)
	r.GET("/mandates/:id/signature", h.ValidateSignature)
	r.DELETE("/mandates/:id", h.RevokeMandate)
	r.GET("/agents/:address/mandates", h.ListForAgent)
	r.GET("/principals/:address/mandates", h.ListFromPrincipal)
}

// CreateMandateRequest is the payload for issuing a new mandate.
type CreateMandateRequest struct {
	Agent     string `json:"agent" binding:"required"`
	Principal string `json:"principal" binding:"required"`
	Scope     Scope  `json:"scope" binding:"required"`
	// Duration string, e.g. "24h". Defaults to 24h.
	Duration string `json:"duration,omitempty"`
}

// CreateMandate handles POST /mandates.
func (h *Handler) CreateMandate(c *gin.Context) {
	var req CreateMandateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	duration := 24 * time.Hour
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_duration",
				"message": "duration must be a positive Go duration string",
			})
			return
		}
		duration = d
	}

	m, err := h.provider.CreateMandate(c.Request.Context(), req.Agent, req.Principal, req.Scope, duration)
	if err != nil {
		writeError(c, err, http.StatusBadRequest, "creation_failed", "Failed to create mandate")
		return
	}

	c.JSON(http.StatusCreated, m)
}

// GetMandate handles GET /mandates/:id.
func (h *Handler) GetMandate(c *gin.Context) {
	m, err := h.provider.GetMandate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrMandateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Mandate not found",
			})
			return
		}
		writeError(c, err, http.StatusInternalServerError, "get_failed", "Failed to get mandate")
		return
	}
	c.JSON(http.StatusOK, m)
}

// ValidateMandate handles POST /mandates/:id/validate.
// Denials are 200s with approved=false: a rejection is a decision, not an error.
func (h *Handler) ValidateMandate(c *gin.Context) {
	var action Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid action body",
		})
		return
	}

	d, err := h.provider.ValidateMandate(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "validation_failed", "Failed to validate action")
		return
	}

	if h.events != nil {
		h.events.EmitDecision(map[string]interface{}{
			"mandateId": d.MandateID,
			"approved":  d.Approved,
			"reason":    d.Reason,
			"recipient": action.Recipient,
			"amount":    action.Amount,
		})
	}

	c.JSON(http.StatusOK, d)
}

// ExecuteAction handles POST /mandates/:id/execute.
func (h *Handler) ExecuteAction(c *gin.Context) {
	var action Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid action body",
		})
		return
	}

	result, err := h.provider.ExecuteAction(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		var na *NotApprovedError
		if errors.As(err, &na) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_approved",
				"message": na.Reason,
			})
			return
		}
		if errors.Is(err, ErrMandateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Mandate not found",
			})
			return
		}
		writeError(c, err, http.StatusInternalServerError, "execution_failed", "Failed to execute action")
		return
	}

	if h.events != nil {
		h.events.EmitExecution(map[string]interface{}{
			"mandateId": result.MandateID,
			"reference": result.Reference,
			"recipient": action.Recipient,
			"amount":    action.Amount,
		})
	}

	c.JSON(http.StatusOK, result)
}

// RecordExecutionRequest is the payload for recording an external execution.
type RecordExecutionRequest struct {
	Action    Action `json:"action" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// RecordExecution handles POST /mandates/:id/executions.
func (h *Handler) RecordExecution(c *gin.Context) {
	var req RecordExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := h.provider.RecordExecution(c.Request.Context(), c.Param("id"), req.Action, req.Reference); err != nil {
		if errors.Is(err, ErrMandateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Mandate not found",
			})
			return
		}
		writeError(c, err, http.StatusInternalServerError, "record_failed", "Failed to record execution")
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// ValidateSignature handles GET /mandates/:id/signature.
func (h *Handler) ValidateSignature(c *gin.Context) {
	m, err := h.provider.GetMandate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Mandate not found",
		})
		return
	}

	report, err := h.provider.ValidateMandateSignature(c.Request.Context(), m)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "verification_failed", "Failed to verify signature")
		return
	}
	c.JSON(http.StatusOK, report)
}

// RevokeMandate handles DELETE /mandates/:id.
func (h *Handler) RevokeMandate(c *gin.Context) {
	if err := h.provider.RevokeMandate(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrMandateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Mandate not found",
			})
			return
		}
		writeError(c, err, http.StatusInternalServerError, "revoke_failed", "Failed to revoke mandate")
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// ListForAgent handles GET /agents/:address/mandates.
func (h *Handler) ListForAgent(c *gin.Context) {
	mandates, err := h.provider.GetMandatesForAgent(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "list_failed", "Failed to list mandates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mandates": mandates, "count": len(mandates)})
}

// ListFromPrincipal handles GET /principals/:address/mandates.
func (h *Handler) ListFromPrincipal(c *gin.Context) {
	mandates, err := h.provider.GetMandatesFromPrincipal(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "list_failed", "Failed to list mandates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mandates": mandates, "count": len(mandates)})
}

func writeError(c *gin.Context, err error, fallbackStatus int, fallbackCode, fallbackMsg string) {
	var coded *Error
	if errors.As(err, &coded) {
		status := fallbackStatus
		if coded.Code == "not_found" {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": coded.Code, "message": coded.Message})
		return
	}
	c.JSON(fallbackStatus, gin.H{"error": fallbackCode, "message": fallbackMsg})
}
