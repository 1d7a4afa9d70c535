package underwriting

import "math"

// Score implements spec.md §4.6.5's optional deterministic scoring: a
// pure function with bounded per-factor contributions, not load-bearing
// for any testable invariant. Grounded on aristath-sentinel's
// internal/modules/scoring/scorers package shape (independent scorers,
// each contributing a bounded [0, weight] share of a composite score).
func Score(m Metrics) float64 {
	capRateScore := bounded(m.CapRatePct/8*30, 30)
	cocScore := bounded(m.CashOnCashPct/10*25, 25)
	dscrScore := bounded((m.DSCR-1)/0.5*25, 25)
	cashFlowScore := 0.0
	if m.CashFlowAnnual > 0 {
		cashFlowScore = 20
	}

	total := capRateScore + cocScore + dscrScore + cashFlowScore
	return math.Max(0, math.Min(100, total))
}

func bounded(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
