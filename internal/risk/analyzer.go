package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kordell-io/agentgate/internal/amount"
	"github.com/kordell-io/agentgate/internal/idgen"
	"github.com/kordell-io/agentgate/internal/metrics"
	"github.com/kordell-io/agentgate/internal/traces"
)

// AnalyzeTransaction scores one transaction for threat indicators. The
// transaction is appended to the sender's bounded history afterwards, so this
// read operation has a deliberate write side effect feeding future velocity
// and pattern checks.
func (e *Engine) AnalyzeTransaction(ctx context.Context, tx *Transaction) (*TransactionAnalysis, error) {
	ctx, span := traces.StartSpan(ctx, "risk.analyze", traces.Amount(tx.Amount))
	defer span.End()

	if tx.ID == "" {
		tx.ID = idgen.WithPrefix("txn_")
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}

	analysis := &TransactionAnalysis{
		TransactionID: tx.ID,
		AnalyzedAt:    time.Now(),
	}
	var score float64
	blacklistHit := false

	for _, party := range []struct{ role, addr string }{
		{"sender", tx.From},
		{"recipient", tx.To},
	} {
		entry, _ := e.CheckBlacklist(ctx, party.addr)
		if entry == nil {
			continue
		}
		blacklistHit = true
		points := 30.0
		if entry.Severity == SeverityCritical {
			points = 50
		}
		score += points
		analysis.Threats = append(analysis.Threats, ThreatIndicator{
			Type:        ThreatBlacklist,
			Severity:    entry.Severity,
			Description: fmt.Sprintf("%s %s is blacklisted", party.role, entry.Address),
			Details: map[string]interface{}{
				"address": entry.Address,
				"reason":  entry.Reason,
				"role":    party.role,
			},
		})
	}

	if amt, ok := amount.Parse(tx.Amount); ok {
		if threshold, ok := amount.Parse(e.cfg.HighValueThreshold); ok && amt.Cmp(threshold) >= 0 {
			score += 15
			analysis.Threats = append(analysis.Threats, ThreatIndicator{
				Type:        ThreatHighValue,
				Severity:    SeverityWarning,
				Description: "transaction value at or above the high-value threshold",
				Details:     map[string]interface{}{"amount": tx.Amount},
			})
		}
	}

	if velocity := e.senderVelocity(tx.From, tx.Timestamp); velocity >= e.cfg.VelocityLimit {
		score += 20
		analysis.Threats = append(analysis.Threats, ThreatIndicator{
			Type:        ThreatVelocity,
			Severity:    SeverityDanger,
			Description: fmt.Sprintf("sender issued %d transactions in the trailing hour", velocity),
			Details:     map[string]interface{}{"count": velocity, "limit": e.cfg.VelocityLimit},
		})
	}

	rep, err := e.GetReputation(ctx, tx.From)
	if err == nil && (rep.RiskLevel == LevelHigh || rep.RiskLevel == LevelCritical) {
		score += 10
		analysis.Threats = append(analysis.Threats, ThreatIndicator{
			Type:        ThreatReputation,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("sender reputation is %s (score %.0f)", rep.RiskLevel, rep.Score),
			Details:     map[string]interface{}{"score": rep.Score},
		})
	}

	analysis.RiskScore = clampScore(score)
	analysis.RiskLevel = analysisLevel(analysis.RiskScore)
	analysis.ShouldBlock = analysis.RiskLevel == LevelCritical || blacklistHit
	analysis.Recommendations = recommendations(analysis)

	e.appendHistory(tx)
	e.recordAssessment(tx, analysis)

	metrics.RiskAnalysesTotal.WithLabelValues(string(analysis.RiskLevel)).Inc()
	if analysis.ShouldBlock {
		metrics.RiskBlocksTotal.Inc()
	}
	span.SetAttributes(traces.RiskLevel(string(analysis.RiskLevel)))
	return analysis, nil
}

// AnalyzeBatch analyzes each transaction independently. The only
// cross-transaction effect is the per-sender history each analysis appends.
func (e *Engine) AnalyzeBatch(ctx context.Context, txs []*Transaction) ([]*TransactionAnalysis, error) {
	out := make([]*TransactionAnalysis, 0, len(txs))
	for _, tx := range txs {
		analysis, err := e.AnalyzeTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		out = append(out, analysis)
	}
	return out, nil
}

// senderVelocity counts the sender's stored transactions in the trailing hour.
func (e *Engine) senderVelocity(sender string, now time.Time) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cutoff := now.Add(-time.Hour)
	n := 0
	for _, tx := range e.histories[strings.ToLower(sender)] {
		if tx.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// appendHistory adds the transaction to the sender's bounded history,
// evicting oldest-first past the cap.
func (e *Engine) appendHistory(tx *Transaction) {
	addr := strings.ToLower(tx.From)
	cp := *tx

	e.mu.Lock()
	defer e.mu.Unlock()

	h := append(e.histories[addr], &cp)
	if len(h) > e.cfg.HistoryLimit {
		h = h[len(h)-e.cfg.HistoryLimit:]
	}
	e.histories[addr] = h
}

// recordAssessment persists the analysis asynchronously; audit writes never
// slow down or fail the scoring path.
func (e *Engine) recordAssessment(tx *Transaction, analysis *TransactionAnalysis) {
	if e.audit == nil {
		return
	}
	a := &Assessment{
		ID:            idgen.WithPrefix("rsk_"),
		TransactionID: tx.ID,
		Sender:        strings.ToLower(tx.From),
		Recipient:     strings.ToLower(tx.To),
		Amount:        tx.Amount,
		RiskScore:     analysis.RiskScore,
		RiskLevel:     analysis.RiskLevel,
		ShouldBlock:   analysis.ShouldBlock,
		CreatedAt:     analysis.AnalyzedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.audit.Record(ctx, a); err != nil {
			e.logger.Warn("failed to record risk assessment", "error", err, "tx", a.TransactionID)
		}
	}()
}

func recommendations(analysis *TransactionAnalysis) []string {
	var recs []string
	if analysis.ShouldBlock {
		recs = append(recs, "block this transaction")
	}
	for _, threat := range analysis.Threats {
		switch threat.Type {
		case ThreatBlacklist:
			recs = append(recs, "review the blacklist entry before any manual override")
		case ThreatHighValue:
			recs = append(recs, "require additional approval for high-value transfers")
		case ThreatVelocity:
			recs = append(recs, "throttle the sender until velocity normalizes")
		case ThreatReputation:
			recs = append(recs, "request identity verification from the sender")
		}
	}
	if len(recs) == 0 && analysis.RiskLevel != LevelLow {
		recs = append(recs, "monitor for repeated elevated scores")
	}
	return recs
}
