package enrichment

import (
	"strconv"
	"time"

	"github.com/propyield/platform/internal/modules/listings"
)

// Geocoder resolves an address to coordinates when a listing doesn't carry
// its own lat/lng. Real providers are out of scope (spec.md §1); only a
// deterministic mock ships here.
type Geocoder interface {
	Geocode(addr listings.Address) (lat, lng float64, err error)
}

// TaxRateTableProvider estimates annual property tax by city, falling back
// to a province-wide default, per spec.md §4.4 step 3.
type TaxRateTableProvider interface {
	Lookup(city, province string, listPrice float64) (annualEstimate float64, method TaxMethod, err error)
}

// FeesValidator flags implausible condo fees. It never errors: an
// unvalidatable fee is simply reported via SanityFlags rather than failing
// the pipeline.
type FeesValidator interface {
	Validate(condoFeeMonthly *float64, sqft *int, propertyType listings.PropertyType) []string
}

// LocationScoreProvider fetches walk/transit/bike scores for a point.
type LocationScoreProvider interface {
	Scores(lat, lng float64) (walk, transit, bike *int, provider string, err error)
}

// RentPriorsProvider fetches a CMHC-style coarse rent distribution keyed
// by city or FSA, beds, and property type.
type RentPriorsProvider interface {
	Priors(cityOrFSA string, beds int, propertyType listings.PropertyType) (*RentPriors, error)
}

// CostRulesProvider fetches jurisdiction cost rules keyed by city.
type CostRulesProvider interface {
	Rules(city string) (lttRule string, insuranceMonthlyEstimate float64, err error)
}

// MockGeocoder returns a deterministic offset from a fixed reference point
// based on a hash of the street address, so repeated calls for the same
// address always resolve to the same coordinates.
type MockGeocoder struct{}

func (MockGeocoder) Geocode(addr listings.Address) (float64, float64, error) {
	h := simpleHash(addr.Street + addr.City)
	lat := 43.0 + float64(h%1000)/10000
	lng := -79.0 - float64((h/1000)%1000)/10000
	return lat, lng, nil
}

// MockTaxRateTable is a small fixed city->rate table with a province
// default, grounded on spec.md §4.4's "city match -> province default ->
// unknown" method chain.
type MockTaxRateTable struct {
	CityRates     map[string]float64 // annual rate as a fraction of list price
	ProvinceRates map[string]float64
}

// NewMockTaxRateTable returns a table seeded with a few illustrative rates.
func NewMockTaxRateTable() *MockTaxRateTable {
	return &MockTaxRateTable{
		CityRates: map[string]float64{
			"Toronto":   0.0063,
			"Vancouver": 0.0028,
			"Calgary":   0.0074,
		},
		ProvinceRates: map[string]float64{
			"ON": 0.0110,
			"BC": 0.0050,
			"AB": 0.0080,
		},
	}
}

// unknownProvinceRate is the assessed-value multiplier spec.md §8's S4
// scenario names for a province with no table entry at all ("annual =
// assessedValue · 0.01").
const unknownProvinceRate = 0.01

func (t *MockTaxRateTable) Lookup(city, province string, listPrice float64) (float64, TaxMethod, error) {
	if rate, ok := t.CityRates[city]; ok {
		return listPrice * rate, TaxRateTable, nil
	}
	if rate, ok := t.ProvinceRates[province]; ok {
		return listPrice * rate, TaxRateTable, nil
	}
	return listPrice * unknownProvinceRate, TaxUnknown, nil
}

// MockFeesValidator rejects condo fees above a plausible per-sqft ceiling,
// and flags houses/townhouses carrying a condo fee at all (spec.md §4.4
// "reject implausible condo fees").
type MockFeesValidator struct {
	MaxPerSqFt float64
}

func NewMockFeesValidator() *MockFeesValidator {
	return &MockFeesValidator{MaxPerSqFt: 1.25}
}

func (v *MockFeesValidator) Validate(condoFeeMonthly *float64, sqft *int, propertyType listings.PropertyType) []string {
	var flags []string
	if condoFeeMonthly == nil {
		return flags
	}
	if propertyType != "Condo" && *condoFeeMonthly > 0 {
		flags = append(flags, "fee_on_non_condo")
	}
	if sqft != nil && *sqft > 0 {
		perSqFt := *condoFeeMonthly / float64(*sqft)
		if perSqFt > v.MaxPerSqFt {
			flags = append(flags, "fee_exceeds_per_sqft_ceiling")
		}
	}
	if *condoFeeMonthly < 0 {
		flags = append(flags, "fee_negative")
	}
	return flags
}

// MockLocationScoreProvider derives deterministic 0-100 scores from the
// coordinate so tests and demos see stable values without a live API.
type MockLocationScoreProvider struct{}

func (MockLocationScoreProvider) Scores(lat, lng float64) (*int, *int, *int, string, error) {
	h := simpleHash(strconv.FormatFloat(lat, 'f', 4, 64) + strconv.FormatFloat(lng, 'f', 4, 64))
	walk := h % 100
	transit := (h / 7) % 100
	bike := (h / 13) % 100
	return &walk, &transit, &bike, "mockscore", nil
}

// MockRentPriorsProvider is a small fixed (city, beds) -> distribution
// table standing in for a CMHC-style dataset.
type MockRentPriorsProvider struct {
	ByCityBeds map[string]map[int][3]float64 // city -> beds -> [p25, p50, p75]
}

func NewMockRentPriorsProvider() *MockRentPriorsProvider {
	return &MockRentPriorsProvider{
		ByCityBeds: map[string]map[int][3]float64{
			"Toronto": {
				0: {1500, 1700, 1950},
				1: {1800, 2100, 2400},
				2: {2200, 2600, 3000},
				3: {2800, 3300, 3800},
			},
			"Vancouver": {
				0: {1600, 1850, 2100},
				1: {1950, 2250, 2600},
				2: {2400, 2800, 3200},
				3: {3000, 3500, 4000},
			},
		},
	}
}

func (p *MockRentPriorsProvider) Priors(cityOrFSA string, beds int, propertyType listings.PropertyType) (*RentPriors, error) {
	byBeds, ok := p.ByCityBeds[cityOrFSA]
	if !ok {
		return &RentPriors{Source: RentPriorNone, AsOf: time.Now().UTC()}, nil
	}
	capped := beds
	if capped > 3 {
		capped = 3
	}
	vals, ok := byBeds[capped]
	if !ok {
		return &RentPriors{Source: RentPriorNone, AsOf: time.Now().UTC()}, nil
	}
	return &RentPriors{
		P25:    vals[0],
		P50:    vals[1],
		P75:    vals[2],
		Source: RentPriorCMHC,
		Metro:  cityOrFSA,
		AsOf:   time.Now().UTC(),
	}, nil
}

// MockCostRulesProvider returns a fixed land-transfer-tax rule name and a
// flat insurance estimate keyed by city.
type MockCostRulesProvider struct {
	LTTRules map[string]string
}

func NewMockCostRulesProvider() *MockCostRulesProvider {
	return &MockCostRulesProvider{
		LTTRules: map[string]string{
			"Toronto":   "ontario_toronto_combined",
			"Vancouver": "bc_standard",
		},
	}
}

func (p *MockCostRulesProvider) Rules(city string) (string, float64, error) {
	rule, ok := p.LTTRules[city]
	if !ok {
		rule = "unknown"
	}
	return rule, 65.0, nil
}

func simpleHash(s string) int {
	h := 2166136261
	for _, c := range s {
		h = (h ^ int(c)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}
