package underwriting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_BoundedZeroToHundred(t *testing.T) {
	good := Metrics{CapRatePct: 8, CashOnCashPct: 12, DSCR: 1.6, CashFlowAnnual: 5000}
	bad := Metrics{CapRatePct: 0, CashOnCashPct: -5, DSCR: 0.5, CashFlowAnnual: -1000}

	assert.GreaterOrEqual(t, Score(good), 0.0)
	assert.LessOrEqual(t, Score(good), 100.0)
	assert.GreaterOrEqual(t, Score(bad), 0.0)
	assert.Less(t, Score(bad), Score(good))
}
