// Package enrichment owns the Enrichment state store and the Enrichment
// pipeline (C4): on listing_changed, best-effort geo/tax/fees/scores/
// rent-prior lookups, diff-upserted and published as data_enriched, with
// underwrite_requested raised when financially relevant fields moved.
// Grounded on aristath-sentinel's internal/modules/universe/security_repository.go
// (versioned upsert store) and internal/testing/mocks.go's
// SetX-configurable-mock convention for the external collaborators.
package enrichment

import "time"

// GeoSource distinguishes a listing's own coordinates from a geocoded fallback.
type GeoSource string

const (
	GeoFromListing GeoSource = "listing"
	GeoGeocoded    GeoSource = "geocoded"
)

// GeoInfo is the enrichment's location sub-object.
type GeoInfo struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	FSA          string    `json:"fsa"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Source       GeoSource `json:"source"`
}

// TaxMethod reports how TaxInfo.AnnualEstimate was derived.
type TaxMethod string

const (
	TaxExact     TaxMethod = "exact"
	TaxRateTable TaxMethod = "rate_table"
	TaxUnknown   TaxMethod = "unknown"
)

// TaxInfo is the enrichment's annual property tax estimate.
type TaxInfo struct {
	AnnualEstimate float64   `json:"annualEstimate"`
	Method         TaxMethod `json:"method"`
}

// FeesInfo is the enrichment's condo fee sanity check result.
type FeesInfo struct {
	CondoFeeMonthly *float64 `json:"condoFeeMonthly,omitempty"`
	SanityFlags     []string `json:"sanityFlags,omitempty"`
}

// RentPriorSource identifies where RentPriors came from.
type RentPriorSource string

const (
	RentPriorCMHC  RentPriorSource = "cmhc"
	RentPriorTable RentPriorSource = "table"
	RentPriorNone  RentPriorSource = "none"
)

// RentPriors is a coarse, externally-sourced rent distribution used as a
// fallback by the Rent Estimator (C5) when comps are unavailable.
// Invariant: P25 <= P50 <= P75 whenever the source is not RentPriorNone.
type RentPriors struct {
	P25    float64         `json:"p25"`
	P50    float64         `json:"p50"`
	P75    float64         `json:"p75"`
	Source RentPriorSource `json:"source"`
	Metro  string          `json:"metro,omitempty"`
	FSA    string          `json:"fsa,omitempty"`
	AsOf   time.Time       `json:"asOf"`
}

// LocationScores is the enrichment's walkability/transit/bike sub-object.
type LocationScores struct {
	Walk     *int   `json:"walk,omitempty"`
	Transit  *int   `json:"transit,omitempty"`
	Bike     *int   `json:"bike,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// CostRules is the enrichment's jurisdiction-specific closing/holding cost
// sub-object.
type CostRules struct {
	LTTRule                  string  `json:"lttRule,omitempty"`
	InsuranceMonthlyEstimate float64 `json:"insuranceMonthlyEstimate"`
}

// Enrichment is spec.md §3's enrichment entity. Every sub-object is
// best-effort and may be nil when its collaborator failed or had nothing
// to report; a nil sub-object never fails the enrichment as a whole.
type Enrichment struct {
	ListingID         string          `json:"listingId"`
	ListingVersion    int64           `json:"listingVersion"`
	EnrichmentVersion string          `json:"enrichmentVersion"`
	Geo               *GeoInfo        `json:"geo,omitempty"`
	Taxes             *TaxInfo        `json:"taxes,omitempty"`
	Fees              *FeesInfo       `json:"fees,omitempty"`
	RentPriors        *RentPriors     `json:"rentPriors,omitempty"`
	LocationScores    *LocationScores `json:"locationScores,omitempty"`
	CostRules         *CostRules      `json:"costRules,omitempty"`
	ComputedAt        time.Time       `json:"computedAt"`
}

// EnrichedType enumerates the enrichmentTypes[] values carried on
// data_enriched; it names which sub-objects were successfully populated
// on this computation (not necessarily changed from the prior row).
const (
	TypeGeo            = "geo"
	TypeTaxes          = "taxes"
	TypeFees           = "fees"
	TypeRentPriors     = "rentPriors"
	TypeLocationScores = "locationScores"
	TypeCostRules      = "costRules"
)

// CurrentEnrichmentVersion stamps the revision of the pipeline logic in
// this binary; bump it when the pipeline's computation changes in a way
// that should be visible to consumers comparing enrichmentVersion.
const CurrentEnrichmentVersion = "v1"
