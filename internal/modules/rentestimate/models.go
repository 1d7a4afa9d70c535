// Package rentestimate owns the RentEstimate state store and the Rent
// Estimator (C5): on listing_changed/data_enriched, pick a rent estimation
// strategy (comps, priors, or a per-bedroom formula), diff-upsert the
// result, and publish underwrite_requested when the estimate materially
// moved. Grounded on aristath-sentinel's internal/modules/universe package
// layout (state store + pure calculation split) and gonum.org/v1/gonum's
// stat package, which the broader example pack declares but the teacher's
// own root module never exercises.
package rentestimate

import (
	"time"

	"github.com/propyield/platform/internal/modules/enrichment"
)

// Method enumerates spec.md §3's RentEstimate.method values.
type Method string

const (
	MethodComps  Method = "comps"
	MethodPriors Method = "priors"
	MethodModel  Method = "model"
)

// Comp is one comparable rental used by the comps strategy.
type Comp struct {
	ListingID  string  `json:"listingId"`
	DistanceKm float64 `json:"distanceKm"`
	AgeDays    int     `json:"ageDays"`
	Rent       float64 `json:"rent"`
	Beds       int     `json:"beds"`
	Baths      float64 `json:"baths"`
	SqFt       int     `json:"sqft"`
}

// FeaturesUsed captures the inputs behind a RentEstimate, for audit and
// the read gateway's explain surface.
type FeaturesUsed struct {
	Comps          []Comp                `json:"comps,omitempty"`
	PriorsSnapshot *enrichment.RentPriors `json:"priorsSnapshot,omitempty"`
}

// RentEstimate is spec.md §3's rent estimate entity. Invariant: P50 is
// always present; if P25/P75 are set, P25 <= P50 <= P75.
type RentEstimate struct {
	ListingID        string       `json:"listingId"`
	ListingVersion   int64        `json:"listingVersion"`
	EstimatorVersion string       `json:"estimatorVersion"`
	Method           Method       `json:"method"`
	P25              *float64     `json:"p25,omitempty"`
	P50              float64      `json:"p50"`
	P75              *float64     `json:"p75,omitempty"`
	StdDev           *float64     `json:"stdDev,omitempty"`
	FeaturesUsed     FeaturesUsed `json:"featuresUsed"`
	ComputedAt       time.Time    `json:"computedAt"`
}

// CurrentEstimatorVersion stamps the revision of the estimation logic in
// this binary.
const CurrentEstimatorVersion = "v1"
