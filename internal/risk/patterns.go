package risk

import (
	"context"
	"fmt"
	"strings"
)

// DetectPatterns inspects a batch for behavioral patterns. Analysis is pure
// over the given transactions; stored history is not consulted.
func (e *Engine) DetectPatterns(_ context.Context, txs []*Transaction) ([]*Pattern, error) {
	var patterns []*Pattern

	// Self-transfer loops: the same address on both ends, repeatedly.
	selfTransfers := make(map[string]int)
	for _, tx := range txs {
		from := strings.ToLower(tx.From)
		if from == strings.ToLower(tx.To) {
			selfTransfers[from]++
		}
	}
	for addr, count := range selfTransfers {
		if count < 3 {
			continue
		}
		confidence := float64(count) / 10
		if confidence > 1 {
			confidence = 1
		}
		patterns = append(patterns, &Pattern{
			Type:        PatternSelfTransfer,
			Addresses:   []string{addr},
			Confidence:  confidence,
			Description: fmt.Sprintf("%d self-transfers in one batch", count),
			Occurrences: count,
		})
	}

	// Reciprocal edges: A pays B and B pays A within the same batch.
	edges := make(map[string]bool)
	for _, tx := range txs {
		from, to := strings.ToLower(tx.From), strings.ToLower(tx.To)
		if from == to {
			continue
		}
		edges[from+">"+to] = true
	}
	seen := make(map[string]bool)
	for edge := range edges {
		parts := strings.SplitN(edge, ">", 2)
		from, to := parts[0], parts[1]
		if !edges[to+">"+from] {
			continue
		}
		// Report each pair once regardless of direction.
		key := pairKey(from, to)
		if seen[key] {
			continue
		}
		seen[key] = true
		patterns = append(patterns, &Pattern{
			Type:        PatternWashTrading,
			Addresses:   []string{from, to},
			Confidence:  0.7,
			Description: "circular transfers between two addresses",
			Occurrences: 2,
		})
	}

	return patterns, nil
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
