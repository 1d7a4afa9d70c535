// Package underwriting owns the Underwriting Engine (C6): the annuity
// factor cache, the bin-grid computation, the exact assumptions-hash
// cache, and the handler orchestration that emits underwrite_completed.
// Grounded on aristath-sentinel's internal/modules/calculations (pure
// compute split from its sync_processor store writer) and
// internal/modules/opportunities/calculators (scenario grids over a
// small set of bins), generalized from their price/position math to
// spec.md §4.6's mortgage/grid math.
package underwriting

import "github.com/propyield/platform/internal/apperr"

// RentScenario enumerates spec.md §3 Assumptions.rentScenario.
type RentScenario string

const (
	RentP25 RentScenario = "P25"
	RentP50 RentScenario = "P50"
	RentP75 RentScenario = "P75"
)

// Assumptions is spec.md §3's underwriting assumption set. Optional fields
// are nil-able so the canonical hash (hash.go) can omit them when unset.
type Assumptions struct {
	DownPct          float64       `json:"downPct"`
	RateBps          int           `json:"rateBps"`
	AmortMonths      int           `json:"amortMonths"`
	RentScenario     RentScenario  `json:"rentScenario"`
	MgmtPct          *float64      `json:"mgmtPct,omitempty"`
	ReservesMonthly  *float64      `json:"reservesMonthly,omitempty"`
	ExitCapPct       *float64      `json:"exitCapPct,omitempty"`
	GrowthRentPct    *float64      `json:"growthRentPct,omitempty"`
	GrowthExpensePct *float64      `json:"growthExpensePct,omitempty"`
	HoldYears        *int          `json:"holdYears,omitempty"`
}

// Validate enforces spec.md §4.6.1's declared ranges, returning an
// apperr.InvalidInput error naming the first violated field.
func (a Assumptions) Validate() error {
	const op = "underwriting.Assumptions.Validate"
	switch {
	case a.DownPct < 0.05 || a.DownPct > 0.35:
		return apperr.New(apperr.InvalidInput, op, "downPct must be in [0.05, 0.35]")
	case a.RateBps < 100 || a.RateBps > 2000:
		return apperr.New(apperr.InvalidInput, op, "rateBps must be in [100, 2000]")
	case !validAmort(a.AmortMonths):
		return apperr.New(apperr.InvalidInput, op, "amortMonths must be one of 240, 300, 360")
	case a.RentScenario != RentP25 && a.RentScenario != RentP50 && a.RentScenario != RentP75:
		return apperr.New(apperr.InvalidInput, op, "rentScenario must be one of P25, P50, P75")
	case a.MgmtPct != nil && (*a.MgmtPct < 0 || *a.MgmtPct > 0.5):
		return apperr.New(apperr.InvalidInput, op, "mgmtPct must be in [0, 0.5]")
	case a.ReservesMonthly != nil && *a.ReservesMonthly < 0:
		return apperr.New(apperr.InvalidInput, op, "reservesMonthly must be >= 0")
	case a.ExitCapPct != nil && (*a.ExitCapPct <= 0 || *a.ExitCapPct > 0.2):
		return apperr.New(apperr.InvalidInput, op, "exitCapPct must be in (0, 0.2]")
	case a.GrowthRentPct != nil && (*a.GrowthRentPct < -0.1 || *a.GrowthRentPct > 0.2):
		return apperr.New(apperr.InvalidInput, op, "growthRentPct must be in [-0.1, 0.2]")
	case a.GrowthExpensePct != nil && (*a.GrowthExpensePct < -0.1 || *a.GrowthExpensePct > 0.2):
		return apperr.New(apperr.InvalidInput, op, "growthExpensePct must be in [-0.1, 0.2]")
	case a.HoldYears != nil && (*a.HoldYears < 1 || *a.HoldYears > 50):
		return apperr.New(apperr.InvalidInput, op, "holdYears must be in [1, 50]")
	}
	return nil
}

func validAmort(months int) bool {
	return months == 240 || months == 300 || months == 360
}

// BaseInputs is spec.md §3's per-listing snapshot join, treated as
// immutable for a given ListingVersion.
type BaseInputs struct {
	ListingID      string
	ListingVersion int64
	Price          float64
	ClosingCosts   float64
	NOIP25         float64
	NOIP50         float64
	NOIP75         float64
	City           string
	Province       string
	PropertyType   string
}

// NOIFor selects the scenario-appropriate NOI before management/reserves
// adjustments.
func (b BaseInputs) NOIFor(scenario RentScenario) float64 {
	switch scenario {
	case RentP25:
		return b.NOIP25
	case RentP75:
		return b.NOIP75
	default:
		return b.NOIP50
	}
}

// Metrics is spec.md §3's underwriting output for one assumption set.
type Metrics struct {
	Price             float64     `json:"price"`
	NOI               float64     `json:"noi"`
	CapRatePct        float64     `json:"capRatePct"`
	Loan              float64     `json:"loan"`
	DSAnnual          float64     `json:"dsAnnual"`
	CashFlowAnnual    float64     `json:"cashFlowAnnual"`
	DSCR              float64     `json:"dscr"`
	CashOnCashPct     float64     `json:"cashOnCashPct"`
	BreakevenOccPct   float64     `json:"breakevenOccPct"`
	IRRPct            *float64    `json:"irrPct,omitempty"`
	Inputs            Assumptions `json:"inputs"`
}

// GridKey identifies one GridRow per spec.md §3.
type GridKey struct {
	ListingID      string       `json:"listingId"`
	ListingVersion int64        `json:"listingVersion"`
	RentScenario   RentScenario `json:"rentScenario"`
	DownPctBin     float64      `json:"downPctBin"`
	RateBpsBin     int          `json:"rateBpsBin"`
	AmortMonths    int          `json:"amortMonths"`
}

// GridRow is spec.md §3's grid cell.
type GridRow struct {
	GridKey
	Metrics Metrics `json:"metrics"`
}

// ExactResult is spec.md §3's exact-cache entry.
type ExactResult struct {
	ResultID        string  `json:"resultId"`
	ListingID       string  `json:"listingId"`
	ListingVersion  int64   `json:"listingVersion"`
	AssumptionsHash string  `json:"assumptionsHash"`
	Metrics         Metrics `json:"metrics"`
}

// ExactResultOutcome is computeExact's return shape (spec.md §4.6.3
// "POST /api/v1/underwrite -> {resultId, metrics, fromCache}").
type ExactResultOutcome struct {
	ResultID  string  `json:"resultId"`
	Metrics   Metrics `json:"metrics"`
	FromCache bool    `json:"fromCache"`
}
