package rentestimate

import (
	"sort"

	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"gonum.org/v1/gonum/stat"
)

// EstimatorConfig holds the thresholds spec.md §4.5 names explicitly.
type EstimatorConfig struct {
	CompsMinCount   int
	CompsRadiusKm   float64
	CompsWindowDays int
}

// Estimator implements spec.md §4.5's strategy chain: comps, else
// enrichment's rentPriors, else a per-bedroom formula. It has no side
// effects and takes no dependency on the event bus or storage, so it's
// trivially unit testable in isolation from the Service.
type Estimator struct {
	comps CompsProvider
	cfg   EstimatorConfig
}

// NewEstimator constructs an Estimator. Zero-valued cfg fields fall back
// to the spec's stated defaults (3 comps, 2km, 120 days).
func NewEstimator(comps CompsProvider, cfg EstimatorConfig) *Estimator {
	if cfg.CompsMinCount <= 0 {
		cfg.CompsMinCount = 3
	}
	if cfg.CompsRadiusKm <= 0 {
		cfg.CompsRadiusKm = 2.0
	}
	if cfg.CompsWindowDays <= 0 {
		cfg.CompsWindowDays = 120
	}
	return &Estimator{comps: comps, cfg: cfg}
}

// Estimate computes a RentEstimate for l, consulting enr's rentPriors
// (possibly nil) as the secondary strategy.
func (e *Estimator) Estimate(l *listings.Listing, enr *enrichment.Enrichment) (*RentEstimate, error) {
	fsa := ""
	if enr != nil && enr.Geo != nil {
		fsa = enr.Geo.FSA
	}

	var comps []Comp
	if e.comps != nil {
		c, err := e.comps.Comps(CompsQuery{
			ListingID:    l.ID,
			City:         l.Address.City,
			FSA:          fsa,
			PropertyType: l.PropertyType,
			Beds:         l.Beds,
			Baths:        l.Baths,
			SqFt:         l.SqFt,
			RadiusKm:     e.cfg.CompsRadiusKm,
			WindowDays:   e.cfg.CompsWindowDays,
		})
		if err == nil {
			comps = c
		}
	}

	if len(comps) >= e.cfg.CompsMinCount {
		return e.fromComps(l, comps), nil
	}

	if enr != nil && enr.RentPriors != nil && enr.RentPriors.Source != enrichment.RentPriorNone {
		return e.fromPriors(l, enr.RentPriors), nil
	}

	return e.fromFormula(l), nil
}

func (e *Estimator) fromComps(l *listings.Listing, comps []Comp) *RentEstimate {
	rents := make([]float64, len(comps))
	for i, c := range comps {
		rents[i] = c.Rent
	}
	sort.Float64s(rents)

	p25 := stat.Quantile(0.25, stat.Empirical, rents, nil)
	p50 := stat.Quantile(0.50, stat.Empirical, rents, nil)
	p75 := stat.Quantile(0.75, stat.Empirical, rents, nil)
	sd := stat.StdDev(rents, nil)

	return &RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: CurrentEstimatorVersion,
		Method:           MethodComps,
		P25:              &p25,
		P50:              p50,
		P75:              &p75,
		StdDev:           &sd,
		FeaturesUsed:     FeaturesUsed{Comps: comps},
	}
}

func (e *Estimator) fromPriors(l *listings.Listing, priors *enrichment.RentPriors) *RentEstimate {
	p25, p75 := priors.P25, priors.P75
	return &RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: CurrentEstimatorVersion,
		Method:           MethodPriors,
		P25:              &p25,
		P50:              priors.P50,
		P75:              &p75,
		FeaturesUsed:     FeaturesUsed{PriorsSnapshot: priors},
	}
}

// perBedroomBaseRent is the formula fallback's flat per-bedroom rate, used
// only when neither comps nor priors are available.
var perBedroomBaseRent = map[int]float64{
	0: 1400,
	1: 1700,
	2: 2100,
	3: 2600,
	4: 3100,
}

func (e *Estimator) fromFormula(l *listings.Listing) *RentEstimate {
	beds := l.Beds
	if beds > 4 {
		beds = 4
	}
	base, ok := perBedroomBaseRent[beds]
	if !ok {
		base = perBedroomBaseRent[2]
	}
	return &RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: CurrentEstimatorVersion,
		Method:           MethodModel,
		P50:              base,
	}
}
