package underwriting

import (
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/modules/rentestimate"
)

// lttRates is a small fixed land-transfer-tax rate table keyed by the
// enrichment cost-rule name enrichment.CostRules.LTTRule carries, standing
// in for the real jurisdiction-specific LTT schedules spec.md §4.4 step 7
// leaves as a mocked external collaborator.
var lttRates = map[string]float64{
	"ontario_toronto_combined": 0.025,
	"bc_standard":              0.018,
	"unknown":                  0.015,
}

// defaultClosingCostPct covers legal and miscellaneous closing costs and
// is added on top of the LTT rate for every listing.
const defaultClosingCostPct = 0.015

// BaseInputsProvider joins the Listing, Enrichment, and RentEstimate
// stores into the immutable-per-version snapshot spec.md §3 calls
// BaseInputs. It is the only place C6 reads another service's state.
type BaseInputsProvider struct {
	listings    listings.Reader
	enrichments enrichment.Reader
	rents       rentestimate.Reader
}

// NewBaseInputsProvider constructs a BaseInputsProvider.
func NewBaseInputsProvider(l listings.Reader, e enrichment.Reader, r rentestimate.Reader) *BaseInputsProvider {
	return &BaseInputsProvider{listings: l, enrichments: e, rents: r}
}

// Load builds BaseInputs for listingID from the current state of all three
// upstream stores. A missing listing or missing rent estimate is
// apperr.NotFound (spec.md §4.6.4 "Missing BaseInputs -> log and skip").
// A missing enrichment row degrades gracefully: taxes come only from the
// listing's own taxesAnnual (else zero), insurance is zero, and the LTT
// rule defaults to "unknown"; condo fees always come from the listing. This
// mirrors the best-effort
// posture enrichment itself uses for its sub-objects.
func (p *BaseInputsProvider) Load(listingID string) (BaseInputs, error) {
	const op = "underwriting.BaseInputsProvider.Load"

	listing, err := p.listings.GetByID(listingID)
	if err != nil {
		return BaseInputs{}, err
	}

	rent, err := p.rents.GetByListingID(listingID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return BaseInputs{}, apperr.New(apperr.NotFound, op, "rent estimate not yet available for listing")
		}
		return BaseInputs{}, err
	}

	var enr *enrichment.Enrichment
	if e, eerr := p.enrichments.GetByListingID(listingID); eerr == nil {
		enr = e
	} else if apperr.KindOf(eerr) != apperr.NotFound {
		return BaseInputs{}, eerr
	}

	annualExpenses := annualOperatingExpenses(listing, enr)
	p25, p50, p75 := rentPercentiles(rent)

	return BaseInputs{
		ListingID:      listing.ID,
		ListingVersion: listing.ListingVersion,
		Price:          listing.ListPrice,
		ClosingCosts:   closingCosts(listing.ListPrice, enr),
		NOIP25:         p25*12 - annualExpenses,
		NOIP50:         p50*12 - annualExpenses,
		NOIP75:         p75*12 - annualExpenses,
		City:           listing.Address.City,
		Province:       listing.Address.Province,
		PropertyType:   string(listing.PropertyType),
	}, nil
}

func rentPercentiles(r *rentestimate.RentEstimate) (p25, p50, p75 float64) {
	p50 = r.P50
	p25, p75 = p50, p50
	if r.P25 != nil {
		p25 = *r.P25
	}
	if r.P75 != nil {
		p75 = *r.P75
	}
	return
}

func annualOperatingExpenses(l *listings.Listing, enr *enrichment.Enrichment) float64 {
	var taxes, fees, insurance float64
	if l.TaxesAnnual != nil {
		taxes = *l.TaxesAnnual
	} else if enr != nil && enr.Taxes != nil {
		taxes = enr.Taxes.AnnualEstimate
	}
	if l.CondoFeeMonthly != nil {
		fees = *l.CondoFeeMonthly * 12
	}
	if enr != nil && enr.CostRules != nil {
		insurance = enr.CostRules.InsuranceMonthlyEstimate * 12
	}
	return taxes + fees + insurance
}

func closingCosts(price float64, enr *enrichment.Enrichment) float64 {
	rule := "unknown"
	if enr != nil && enr.CostRules != nil && enr.CostRules.LTTRule != "" {
		rule = enr.CostRules.LTTRule
	}
	lttPct, ok := lttRates[rule]
	if !ok {
		lttPct = lttRates["unknown"]
	}
	return price * (lttPct + defaultClosingCostPct)
}
