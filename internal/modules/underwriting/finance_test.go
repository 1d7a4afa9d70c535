package underwriting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAnnuityFactor_ZeroRate(t *testing.T) {
	af := computeAnnuityFactor(0, 360)
	assert.InDelta(t, 1.0/360.0, af, 1e-12)
}

func TestComputeAnnuityFactor_PositiveRate(t *testing.T) {
	af := computeAnnuityFactor(500, 360)
	assert.Greater(t, af, 0.0)
	assert.Less(t, af, 1.0)
}

func TestAnnuityFactorCache_CachesResult(t *testing.T) {
	c := NewAnnuityFactorCache()
	a := c.Get(475, 300)
	b := c.Get(475, 300)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, c.Len())
}

func TestAnnuityFactorCache_Warm(t *testing.T) {
	c := NewAnnuityFactorCache()
	c.Warm([]int{300, 500}, []int{240, 360})
	assert.Equal(t, 4, c.Len())
}

// S1 - grid monotonicity: holding (rentScenario, rateBps, amortMonths,
// price) fixed, increasing downPct strictly increases dscr and
// cashFlowAnnual, strictly decreases loan and dsAnnual, and never changes
// noi (spec.md §4.6.2, §8 S1).
func TestComputeMetrics_S1_GridMonotonicity(t *testing.T) {
	base := BaseInputs{Price: 1_000_000, ClosingCosts: 25_000, NOIP50: 50_000}
	af := computeAnnuityFactor(500, 360)

	m20 := ComputeMetrics(base, Assumptions{DownPct: 0.20, RateBps: 500, AmortMonths: 360, RentScenario: RentP50}, af)
	m25 := ComputeMetrics(base, Assumptions{DownPct: 0.25, RateBps: 500, AmortMonths: 360, RentScenario: RentP50}, af)

	assert.Greater(t, m25.DSCR, m20.DSCR)
	assert.Greater(t, m25.CashFlowAnnual, m20.CashFlowAnnual)
	assert.Less(t, m25.Loan, m20.Loan)
	assert.Less(t, m25.DSAnnual, m20.DSAnnual)
	assert.Equal(t, m20.NOI, m25.NOI)
}

func TestComputeMetrics_ZeroRateBoundary(t *testing.T) {
	base := BaseInputs{Price: 1_000_000, ClosingCosts: 20_000, NOIP50: 60_000}
	af := computeAnnuityFactor(0, 360)
	m := ComputeMetrics(base, Assumptions{DownPct: 0.20, RateBps: 0, AmortMonths: 360, RentScenario: RentP50}, af)

	loan := base.Price * 0.8
	wantDSAnnual := loan / 360 * 12
	assert.InDelta(t, wantDSAnnual, m.DSAnnual, 1e-6)
	assert.False(t, math.IsNaN(m.DSCR))
	assert.False(t, math.IsInf(m.DSCR, 0))
}

func TestAssumptions_Validate_Boundaries(t *testing.T) {
	valid := Assumptions{DownPct: 0.05, RateBps: 500, AmortMonths: 360, RentScenario: RentP50}
	require.NoError(t, valid.Validate())

	valid.DownPct = 0.35
	require.NoError(t, valid.Validate())

	tooLow := Assumptions{DownPct: 0.04999, RateBps: 500, AmortMonths: 360, RentScenario: RentP50}
	assert.Error(t, tooLow.Validate())

	tooHigh := Assumptions{DownPct: 0.35001, RateBps: 500, AmortMonths: 360, RentScenario: RentP50}
	assert.Error(t, tooHigh.Validate())

	badAmort := Assumptions{DownPct: 0.2, RateBps: 500, AmortMonths: 359, RentScenario: RentP50}
	assert.Error(t, badAmort.Validate())
}
