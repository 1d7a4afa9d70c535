package underwriting

import (
	"fmt"

	"github.com/propyield/platform/internal/apperr"
)

// GridConfig holds the bin ranges spec.md §4.6.2 names explicitly.
type GridConfig struct {
	DownPctMin, DownPctMax, DownPctStep float64
	RateBpsMin, RateBpsMax, RateBpsStep int
	AmortMonths                         []int
}

// DefaultGridConfig returns the spec's stated default bin ranges.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		DownPctMin: 0.05, DownPctMax: 0.35, DownPctStep: 0.01,
		RateBpsMin: 300, RateBpsMax: 800, RateBpsStep: 5,
		AmortMonths: []int{240, 300, 360},
	}
}

var allRentScenarios = []RentScenario{RentP25, RentP50, RentP75}

// BaseInputsLoader is the bounded interface Engine depends on to resolve
// BaseInputs; *BaseInputsProvider is the production implementation, and
// tests substitute a fixed-version fake to exercise spec.md §8 S3's
// version-invalidation scenario without standing up every upstream store.
type BaseInputsLoader interface {
	Load(listingID string) (BaseInputs, error)
}

// downPctBins enumerates the rounded down% axis values.
func (c GridConfig) downPctBins() []float64 {
	var out []float64
	for v := c.DownPctMin; v <= c.DownPctMax+1e-9; v += c.DownPctStep {
		out = append(out, roundDownPct(v))
	}
	return out
}

// rateBpsBins enumerates the rate-bps axis values.
func (c GridConfig) rateBpsBins() []int {
	var out []int
	for v := c.RateBpsMin; v <= c.RateBpsMax; v += c.RateBpsStep {
		out = append(out, v)
	}
	return out
}

// Engine is C6: the bin-grid computation, the exact-hash cache, and the
// annuity-factor cache over a shared BaseInputsProvider and Repository.
type Engine struct {
	repo   *Repository
	base   BaseInputsLoader
	af     *AnnuityFactorCache
	config GridConfig
}

// NewEngine constructs an Engine.
func NewEngine(repo *Repository, base BaseInputsLoader, af *AnnuityFactorCache, cfg GridConfig) *Engine {
	if len(cfg.AmortMonths) == 0 {
		cfg = DefaultGridConfig()
	}
	return &Engine{repo: repo, base: base, af: af, config: cfg}
}

// GridResultID synthesizes the deterministic resultId grid rows carry on
// underwrite_completed (spec.md §4.6.3 "Result id").
func GridResultID(listingID string, listingVersion int64) string {
	return fmt.Sprintf("grid:%s:v%d", listingID, listingVersion)
}

// ComputeGrid implements spec.md §4.6.2: load BaseInputs for the current
// listingVersion, enumerate bins, pre-fetch the unique (rateBps,
// amortMonths) AFs in one pass, compute Metrics per bin, and bulk-upsert.
// Idempotent: identical BaseInputs always yields identical rows.
func (e *Engine) ComputeGrid(listingID string) (resultID string, rowCount int, err error) {
	base, err := e.base.Load(listingID)
	if err != nil {
		return "", 0, err
	}

	downBins := e.config.downPctBins()
	rateBins := e.config.rateBpsBins()
	amorts := e.config.AmortMonths

	// Pre-fetch the unique (rateBps, amortMonths) AF set once, per spec.md
	// §4.6.2, rather than recomputing per grid row.
	for _, rate := range rateBins {
		for _, amort := range amorts {
			e.af.Get(rate, amort)
		}
	}

	rows := make([]GridRow, 0, len(downBins)*len(rateBins)*len(amorts)*len(allRentScenarios))
	for _, scenario := range allRentScenarios {
		for _, down := range downBins {
			for _, rate := range rateBins {
				for _, amort := range amorts {
					assumptions := Assumptions{DownPct: down, RateBps: rate, AmortMonths: amort, RentScenario: scenario}
					if verr := assumptions.Validate(); verr != nil {
						// Bin enumeration only ever produces in-range values; a
						// validation failure here means a config error. The bin
						// is skipped without a log line (Engine has no logger)
						// and the remaining rows are still upserted.
						continue
					}
					af := e.af.Get(rate, amort)
					metrics := ComputeMetrics(base, assumptions, af)
					rows = append(rows, GridRow{
						GridKey: GridKey{
							ListingID:      listingID,
							ListingVersion: base.ListingVersion,
							RentScenario:   scenario,
							DownPctBin:     down,
							RateBpsBin:     rate,
							AmortMonths:    amort,
						},
						Metrics: metrics,
					})
				}
			}
		}
	}

	if err := e.repo.UpsertGridRows(rows); err != nil {
		return "", 0, err
	}

	return GridResultID(listingID, base.ListingVersion), len(rows), nil
}

// gridResultPrefix identifies a synthesized grid resultId so
// ResolveMetrics can branch between the grid and exact tables.
const gridResultPrefix = "grid:"

// ResolveMetrics looks up the Metrics a previously published
// underwrite_completed{resultId} refers to, for the Alerts Matcher (C7)
// to evaluate thresholds against (spec.md §4.7 "the referenced Metrics").
// A grid resultId has no single cell of its own, so it resolves to a
// fixed representative bin (P50 rent scenario, 20% down, 500bps, 360
// months) — the same convention the optional grid-score lookup uses.
func (e *Engine) ResolveMetrics(resultID string) (Metrics, error) {
	if len(resultID) > len(gridResultPrefix) && resultID[:len(gridResultPrefix)] == gridResultPrefix {
		listingID, version := parseGridResultID(resultID)
		row, err := e.repo.GetGridRow(GridKey{
			ListingID: listingID, ListingVersion: version,
			RentScenario: RentP50, DownPctBin: 0.20, RateBpsBin: 500, AmortMonths: 360,
		})
		if err != nil {
			return Metrics{}, err
		}
		return row.Metrics, nil
	}

	result, err := e.repo.GetExactResultByID(resultID)
	if err != nil {
		return Metrics{}, err
	}
	return result.Metrics, nil
}

// ResolveVersion returns the listingVersion a resultId was computed
// against, for the Alerts Matcher's superseded-version observability
// (the alert payload's staleVersion flag, SPEC_FULL.md §4).
func (e *Engine) ResolveVersion(resultID string) (int64, error) {
	if len(resultID) > len(gridResultPrefix) && resultID[:len(gridResultPrefix)] == gridResultPrefix {
		_, version := parseGridResultID(resultID)
		return version, nil
	}
	result, err := e.repo.GetExactResultByID(resultID)
	if err != nil {
		return 0, err
	}
	return result.ListingVersion, nil
}

// parseGridResultID splits a "grid:{listingId}:v{listingVersion}" id.
func parseGridResultID(resultID string) (listingID string, version int64) {
	rest := resultID[len(gridResultPrefix):]
	sep := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return rest, 0
	}
	listingID = rest[:sep]
	version = gridVersionFromResultID(rest)
	return
}

// ComputeExact implements spec.md §4.6.3: validate, load BaseInputs, hash
// assumptions, and return the cached or freshly computed result.
func (e *Engine) ComputeExact(listingID string, assumptions Assumptions) (ExactResultOutcome, error) {
	if err := assumptions.Validate(); err != nil {
		return ExactResultOutcome{}, err
	}

	base, err := e.base.Load(listingID)
	if err != nil {
		return ExactResultOutcome{}, err
	}

	hash := AssumptionsHash(assumptions)
	af := e.af.Get(assumptions.RateBps, assumptions.AmortMonths)
	metrics := ComputeMetrics(base, assumptions, af)

	outcome, err := e.repo.GetOrCreateExactResult(listingID, base.ListingVersion, hash, metrics)
	if err != nil {
		return ExactResultOutcome{}, apperr.Wrap(apperr.Transient, "underwriting.Engine.ComputeExact", "store failed", err)
	}
	return outcome, nil
}
