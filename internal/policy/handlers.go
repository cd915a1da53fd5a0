package policy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for policy operations.
type Handler struct {
	provider Provider
}

// NewHandler creates a policy handler backed by any Provider variant.
func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

// RegisterRoutes sets up the policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/policies", h.AddPolicy)
	r.GET("/policies", h.ListPolicies)
	r.GET("/policies/:id", h.GetPolicy)
	r.PUT("/policies/:id", h.UpdatePolicy)
	r.DELETE("/policies/:id", h.RemovePolicy)
	r.POST("/policies/:id/enable", h.enableHandler(true))
	r.POST("/policies/:id/disable", h.enableHandler(false))
	r.POST("/evaluate", h.Evaluate)
	r.POST("/evaluate/batch", h.EvaluateBatch)
	r.POST("/policy-blacklist", h.AddToBlacklist)
	r.GET("/policy-blacklist", h.GetBlacklist)
	r.GET("/policy-blacklist/:address", h.CheckBlacklist)
	r.DELETE("/policy-blacklist/:address", h.RemoveFromBlacklist)
}

// Evaluate handles POST /evaluate. Denials are 200s with allowed=false.
func (h *Handler) Evaluate(c *gin.Context) {
	var pc Context
	if err := c.ShouldBindJSON(&pc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid context body",
		})
		return
	}

	d, err := h.provider.Evaluate(c.Request.Context(), &pc)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "evaluation_failed", "Failed to evaluate context")
		return
	}
	c.JSON(http.StatusOK, d)
}

// EvaluateBatch handles POST /evaluate/batch.
func (h *Handler) EvaluateBatch(c *gin.Context) {
	var pcs []*Context
	if err := c.ShouldBindJSON(&pcs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid batch body",
		})
		return
	}

	batch, err := h.provider.EvaluateBatch(c.Request.Context(), pcs)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "evaluation_failed", "Failed to evaluate batch")
		return
	}
	c.JSON(http.StatusOK, batch)
}

// AddPolicy handles POST /policies.
func (h *Handler) AddPolicy(c *gin.Context) {
	var p Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid policy body",
		})
		return
	}

	created, err := h.provider.AddPolicy(c.Request.Context(), &p)
	if err != nil {
		writeError(c, err, http.StatusBadRequest, "creation_failed", "Failed to add policy")
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdatePolicy handles PUT /policies/:id.
func (h *Handler) UpdatePolicy(c *gin.Context) {
	var p Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid policy body",
		})
		return
	}
	p.ID = c.Param("id")

	updated, err := h.provider.UpdatePolicy(c.Request.Context(), &p)
	if err != nil {
		writeError(c, err, http.StatusBadRequest, "update_failed", "Failed to update policy")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// RemovePolicy handles DELETE /policies/:id.
func (h *Handler) RemovePolicy(c *gin.Context) {
	if err := h.provider.RemovePolicy(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, http.StatusInternalServerError, "remove_failed", "Failed to remove policy")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// GetPolicy handles GET /policies/:id.
func (h *Handler) GetPolicy(c *gin.Context) {
	p, err := h.provider.GetPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "get_failed", "Failed to get policy")
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListPolicies handles GET /policies. Optional query filters: enabled,
// appliesTo.
func (h *Handler) ListPolicies(c *gin.Context) {
	var filter ListFilter
	if v := c.Query("enabled"); v != "" {
		enabled := v == "true"
		filter.Enabled = &enabled
	}
	filter.AppliesTo = c.Query("appliesTo")

	policies, err := h.provider.ListPolicies(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "list_failed", "Failed to list policies")
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

func (h *Handler) enableHandler(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.provider.SetEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
			writeError(c, err, http.StatusInternalServerError, "update_failed", "Failed to update policy")
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	}
}

// BlacklistRequest is the payload for blocking an address.
type BlacklistRequest struct {
	Address string `json:"address" binding:"required"`
	Reason  string `json:"reason,omitempty"`
}

// AddToBlacklist handles POST /policy-blacklist.
func (h *Handler) AddToBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if err := h.provider.AddToBlacklist(c.Request.Context(), req.Address, req.Reason); err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to add to blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blacklisted": true})
}

// RemoveFromBlacklist handles DELETE /policy-blacklist/:address.
func (h *Handler) RemoveFromBlacklist(c *gin.Context) {
	if err := h.provider.RemoveFromBlacklist(c.Request.Context(), c.Param("address")); err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to remove from blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blacklisted": false})
}

// CheckBlacklist handles GET /policy-blacklist/:address.
func (h *Handler) CheckBlacklist(c *gin.Context) {
	blocked, err := h.provider.IsBlacklisted(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to check blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "blacklisted": blocked})
}

// GetBlacklist handles GET /policy-blacklist.
func (h *Handler) GetBlacklist(c *gin.Context) {
	entries, err := h.provider.GetBlacklist(c.Request.Context())
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to list blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
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
