package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// EventEmitter receives risk alerts and blacklist changes for real-time
// streaming.
type EventEmitter interface {
	EmitRiskAlert(alert map[string]interface{})
	EmitBlacklistUpdate(update map[string]interface{})
}

// Handler provides HTTP handlers for risk operations.
type Handler struct {
	provider Provider
	events   EventEmitter
}

// NewHandler creates a risk handler backed by any Provider variant.
func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

// WithEvents returns a handler that emits real-time events.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reputation/:address", h.GetReputation)
	r.PUT("/reputation/:address", h.UpdateReputation)
	r.GET("/reputation/:address/threshold", h.CheckThreshold)
	r.POST("/blacklist", h.AddToBlacklist)
	r.GET("/blacklist", h.GetBlacklist)
	r.GET("/blacklist/:address", h.CheckBlacklist)
	r.DELETE("/blacklist/:address", h.RemoveFromBlacklist)
	r.POST("/analyze", h.AnalyzeTransaction)
	r.POST("/analyze/batch", h.AnalyzeBatch)
	r.POST("/patterns", h.DetectPatterns)
	r.POST("/alerts", h.ReportActivity)
	r.GET("/alerts/:address", h.GetRecentAlerts)
	r.GET("/assessments/:address", h.RecentAssessments)
}

// GetReputation handles GET /reputation/:address.
func (h *Handler) GetReputation(c *gin.Context) {
	rep, err := h.provider.GetReputation(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "reputation_failed", "Failed to get reputation")
		return
	}
	c.JSON(http.StatusOK, rep)
}

// UpdateReputation handles PUT /reputation/:address with a Factor body.
func (h *Handler) UpdateReputation(c *gin.Context) {
	var factor Factor
	if err := c.ShouldBindJSON(&factor); err != nil || factor.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid factor body",
		})
		return
	}

	rep, err := h.provider.UpdateReputation(c.Request.Context(), c.Param("address"), factor)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "reputation_failed", "Failed to update reputation")
		return
	}
	c.JSON(http.StatusOK, rep)
}

// CheckThreshold handles GET /reputation/:address/threshold?min=50.
func (h *Handler) CheckThreshold(c *gin.Context) {
	min, err := strconv.ParseFloat(c.DefaultQuery("min", "50"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "min must be a number",
		})
		return
	}

	meets, err := h.provider.MeetsReputationThreshold(c.Request.Context(), c.Param("address"), min)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "reputation_failed", "Failed to check threshold")
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "min": min, "meets": meets})
}

// AddToBlacklist handles POST /blacklist.
func (h *Handler) AddToBlacklist(c *gin.Context) {
	var entry BlacklistEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid entry body",
		})
		return
	}
	if err := h.provider.AddToBlacklist(c.Request.Context(), &entry); err != nil {
		writeError(c, err, http.StatusBadRequest, "blacklist_failed", "Failed to add to blacklist")
		return
	}

	if h.events != nil {
		h.events.EmitBlacklistUpdate(map[string]interface{}{
			"address":  entry.Address,
			"action":   "added",
			"severity": string(entry.Severity),
			"reason":   entry.Reason,
		})
	}

	c.JSON(http.StatusOK, gin.H{"blacklisted": true})
}

// RemoveFromBlacklist handles DELETE /blacklist/:address.
func (h *Handler) RemoveFromBlacklist(c *gin.Context) {
	if err := h.provider.RemoveFromBlacklist(c.Request.Context(), c.Param("address")); err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to remove from blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blacklisted": false})
}

// CheckBlacklist handles GET /blacklist/:address. An unlisted address is a
// 200 with entry null, not a 404: absence is a decision input, not an error.
func (h *Handler) CheckBlacklist(c *gin.Context) {
	entry, err := h.provider.CheckBlacklist(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to check blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":     c.Param("address"),
		"blacklisted": entry != nil,
		"entry":       entry,
	})
}

// GetBlacklist handles GET /blacklist with optional severity and source
// filters.
func (h *Handler) GetBlacklist(c *gin.Context) {
	filter := BlacklistFilter{
		Severity: Severity(c.Query("severity")),
		Source:   c.Query("source"),
	}
	entries, err := h.provider.GetBlacklist(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "blacklist_failed", "Failed to list blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// AnalyzeTransaction handles POST /analyze.
func (h *Handler) AnalyzeTransaction(c *gin.Context) {
	var tx Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid transaction body",
		})
		return
	}

	analysis, err := h.provider.AnalyzeTransaction(c.Request.Context(), &tx)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "analysis_failed", "Failed to analyze transaction")
		return
	}

	// Only noteworthy analyses become alerts
	if h.events != nil && (analysis.ShouldBlock || analysis.RiskLevel == LevelHigh || analysis.RiskLevel == LevelCritical) {
		h.events.EmitRiskAlert(map[string]interface{}{
			"address":       tx.From,
			"transactionId": analysis.TransactionID,
			"riskScore":     analysis.RiskScore,
			"riskLevel":     string(analysis.RiskLevel),
			"shouldBlock":   analysis.ShouldBlock,
		})
	}

	c.JSON(http.StatusOK, analysis)
}

// AnalyzeBatch handles POST /analyze/batch.
func (h *Handler) AnalyzeBatch(c *gin.Context) {
	var txs []*Transaction
	if err := c.ShouldBindJSON(&txs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid batch body",
		})
		return
	}

	analyses, err := h.provider.AnalyzeBatch(c.Request.Context(), txs)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "analysis_failed", "Failed to analyze batch")
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": analyses, "count": len(analyses)})
}

// DetectPatterns handles POST /patterns.
func (h *Handler) DetectPatterns(c *gin.Context) {
	var txs []*Transaction
	if err := c.ShouldBindJSON(&txs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid batch body",
		})
		return
	}

	patterns, err := h.provider.DetectPatterns(c.Request.Context(), txs)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "analysis_failed", "Failed to detect patterns")
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "count": len(patterns)})
}

// ReportActivity handles POST /alerts.
func (h *Handler) ReportActivity(c *gin.Context) {
	var alert Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid alert body",
		})
		return
	}
	if err := h.provider.ReportActivity(c.Request.Context(), &alert); err != nil {
		writeError(c, err, http.StatusBadRequest, "alert_failed", "Failed to report activity")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reported": true})
}

// GetRecentAlerts handles GET /alerts/:address?limit=20.
func (h *Handler) GetRecentAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	alerts, err := h.provider.GetRecentAlerts(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "alert_failed", "Failed to list alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// RecentAssessments handles GET /assessments/:address?limit=20.
func (h *Handler) RecentAssessments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	assessments, err := h.provider.RecentAssessments(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "audit_failed", "Failed to list assessments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "count": len(assessments)})
}

func writeError(c *gin.Context, err error, fallbackStatus int, fallbackCode, fallbackMsg string) {
	var coded *Error
	if errors.As(err, &coded) {
		c.JSON(fallbackStatus, gin.H{"error": coded.Code, "message": coded.Message})
		return
	}
	c.JSON(fallbackStatus, gin.H{"error": fallbackCode, "message": fallbackMsg})
}
