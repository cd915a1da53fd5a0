package risk

import (
	"context"
	"strings"
	"time"

	"github.com/kordell-io/agentgate/internal/idgen"
)

// ReportActivity appends an alert to the address's bounded log. The log is
// independent of reputation and blacklist state.
func (e *Engine) ReportActivity(_ context.Context, alert *Alert) error {
	if alert.Address == "" {
		return &Error{Code: "validation_error", Message: "Alert requires an address"}
	}
	cp := *alert
	cp.Address = strings.ToLower(alert.Address)
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("alr_")
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.Severity == "" {
		cp.Severity = SeverityWarning
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := append(e.alerts[cp.Address], &cp)
	if len(log) > e.cfg.AlertLimit {
		log = log[len(log)-e.cfg.AlertLimit:]
	}
	e.alerts[cp.Address] = log
	return nil
}

// GetRecentAlerts returns up to limit alerts for an address, newest first.
func (e *Engine) GetRecentAlerts(_ context.Context, address string, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 20
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	log := e.alerts[strings.ToLower(address)]
	out := make([]*Alert, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}
