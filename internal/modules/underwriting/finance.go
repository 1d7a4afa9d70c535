package underwriting

import (
	"fmt"
	"math"
	"sync"
)

// afKey is the annuity-factor cache's composite key.
type afKey struct {
	rateBps     int
	amortMonths int
}

// AnnuityFactorCache is the process-local (rateBps, amortMonths) -> AF
// map of spec.md §5 "Shared resources": read-heavy, lazily filled, and
// safe to pre-populate at startup via Warm.
type AnnuityFactorCache struct {
	mu    sync.RWMutex
	table map[afKey]float64
}

// NewAnnuityFactorCache constructs an empty cache.
func NewAnnuityFactorCache() *AnnuityFactorCache {
	return &AnnuityFactorCache{table: make(map[afKey]float64)}
}

// Get returns the cached or freshly computed annuity factor for
// (rateBps, amortMonths), per spec.md §4.6.1's formula.
func (c *AnnuityFactorCache) Get(rateBps, amortMonths int) float64 {
	key := afKey{rateBps, amortMonths}

	c.mu.RLock()
	af, ok := c.table[key]
	c.mu.RUnlock()
	if ok {
		return af
	}

	af = computeAnnuityFactor(rateBps, amortMonths)

	c.mu.Lock()
	c.table[key] = af
	c.mu.Unlock()
	return af
}

// Warm pre-populates the cache over the cartesian product of rateBps and
// amortMonths values, so the first real grid computation never pays the
// cold-cache cost (SPEC_FULL.md §4 "Annuity factor pre-population").
func (c *AnnuityFactorCache) Warm(rateBpsValues []int, amortMonthsValues []int) {
	for _, rate := range rateBpsValues {
		for _, amort := range amortMonthsValues {
			c.Get(rate, amort)
		}
	}
}

// Len reports how many (rateBps, amortMonths) pairs are currently cached,
// mostly useful for tests asserting the warm pass ran.
func (c *AnnuityFactorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.table)
}

// computeAnnuityFactor implements spec.md §4.6.1: AF(rateBps, amortMonths).
// r = rateBps/10000/12; AF = r*(1+r)^n / ((1+r)^n - 1), or 1/n when r=0.
func computeAnnuityFactor(rateBps, amortMonths int) float64 {
	n := float64(amortMonths)
	r := float64(rateBps) / 10000.0 / 12.0
	if r == 0 {
		return 1 / n
	}
	pow := math.Pow(1+r, n)
	return r * pow / (pow - 1)
}

// ComputeMetrics implements spec.md §4.6.1's metric derivation from
// (BaseInputs, Assumptions, AF). Assumptions must already be validated.
func ComputeMetrics(base BaseInputs, assumptions Assumptions, af float64) Metrics {
	noi := base.NOIFor(assumptions.RentScenario)
	if assumptions.MgmtPct != nil {
		noi *= 1 - *assumptions.MgmtPct
	}
	if assumptions.ReservesMonthly != nil {
		noi -= *assumptions.ReservesMonthly * 12
	}

	loan := base.Price * (1 - assumptions.DownPct)
	downPayment := base.Price - loan
	cashInvested := downPayment + base.ClosingCosts

	monthlyDS := loan * af
	dsAnnual := monthlyDS * 12

	capRatePct := safeDiv(noi, base.Price) * 100
	cashFlowAnnual := noi - dsAnnual

	var dscr float64
	if dsAnnual > 0 {
		dscr = noi / dsAnnual
	}

	var cashOnCashPct float64
	if cashInvested > 0 {
		cashOnCashPct = safeDiv(cashFlowAnnual, cashInvested) * 100
	}

	breakevenOccPct := math.Min(100, safeDiv(dsAnnual, noi)*100)

	return Metrics{
		Price:           base.Price,
		NOI:             noi,
		CapRatePct:      capRatePct,
		Loan:            loan,
		DSAnnual:        dsAnnual,
		CashFlowAnnual:  cashFlowAnnual,
		DSCR:            dscr,
		CashOnCashPct:   cashOnCashPct,
		BreakevenOccPct: breakevenOccPct,
		Inputs:          assumptions,
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// roundDownPct rounds a downPct bin value to 4 decimals so repeated grid
// enumeration produces byte-stable keys (spec.md §4.6.2).
func roundDownPct(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (k GridKey) String() string {
	return fmt.Sprintf("%s:v%d:%s:%.4f:%d:%d", k.ListingID, k.ListingVersion, k.RentScenario, k.DownPctBin, k.RateBpsBin, k.AmortMonths)
}
