package risk

import (
	"sync/atomic"
	"time"

	"github.com/kordell-io/agentgate/internal/metrics"
)

// sweeper drives periodic eviction of expired reputation and blacklist
// entries and trims oversized histories and alert logs. Sweeps run under the
// engine's own mutex, so they never race a concurrent read or write.
type sweeper struct {
	running atomic.Bool
	stop    chan struct{}
}

// StartSweeper launches the background eviction loop. Starting twice is a
// no-op.
func (e *Engine) StartSweeper() {
	if !e.sweep.running.CompareAndSwap(false, true) {
		return
	}
	e.sweep.stop = make(chan struct{})
	go e.sweepLoop()
	e.logger.Info("risk sweeper started", "interval", e.cfg.SweepInterval)
}

// StopSweeper halts the eviction loop. Stopping an idle sweeper is a no-op.
func (e *Engine) StopSweeper() {
	if !e.sweep.running.CompareAndSwap(true, false) {
		return
	}
	close(e.sweep.stop)
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweepOnce(time.Now())
		case <-e.sweep.stop:
			return
		}
	}
}

// sweepOnce performs a single eviction pass.
func (e *Engine) sweepOnce(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for addr, rep := range e.reputations {
		if now.After(rep.ValidUntil) {
			delete(e.reputations, addr)
			evicted++
		}
	}
	for addr, entry := range e.blacklist {
		if entry.expired(now) {
			delete(e.blacklist, addr)
			delete(e.reputations, addr)
			evicted++
		}
	}
	metrics.BlacklistSize.WithLabelValues("risk").Set(float64(len(e.blacklist)))

	for addr, h := range e.histories {
		if len(h) > e.cfg.HistoryLimit {
			e.histories[addr] = h[len(h)-e.cfg.HistoryLimit:]
		}
	}
	for addr, log := range e.alerts {
		if len(log) > e.cfg.AlertLimit {
			e.alerts[addr] = log[len(log)-e.cfg.AlertLimit:]
		}
	}

	if evicted > 0 {
		e.logger.Debug("risk sweep evicted entries", "count", evicted)
	}
}
