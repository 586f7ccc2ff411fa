package reviewer

import (
	"github.com/streamgift/kestrel/internal/domain"
)

// detectPatterns scans a session's transactions for structural abuse signals.
// An empty session produces no flags.
func detectPatterns(txs []*domain.Transaction, cfg domain.RiskConfig) []string {
	total := len(txs)
	if total == 0 {
		return nil
	}

	var flags []string

	// One sender dominating the tip volume suggests collusion or
	// self-funding rather than an organic audience.
	counts := make(map[string]int)
	maxCount := 0
	for _, tx := range txs {
		counts[tx.UserID]++
		if counts[tx.UserID] > maxCount {
			maxCount = counts[tx.UserID]
		}
	}
	if float64(maxCount)/float64(total) > cfg.DominantTipperRatio {
		flags = append(flags, "Dominant Tipper (>80% of tips from one user)")
	}

	microCount := 0
	for _, tx := range txs {
		if tx.Amount.LessThan(cfg.MicroTipAmount) {
			microCount++
		}
	}
	if float64(microCount)/float64(total) > cfg.MicroTipRatio {
		flags = append(flags, "High Micro-tip Ratio (>70% of tips under 5 coins)")
	}

	failureCount := 0
	for _, tx := range txs {
		if tx.Failed {
			failureCount++
		}
	}
	if float64(failureCount)/float64(total) > cfg.FailureRateThreshold {
		flags = append(flags, "High Failure Rate (>50%)")
	}

	return flags
}
