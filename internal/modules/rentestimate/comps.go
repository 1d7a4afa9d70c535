package rentestimate

import (
	"math"

	"github.com/propyield/platform/internal/modules/listings"
)

// CompsQuery bundles the filters spec.md §4.5 applies to candidate comps.
type CompsQuery struct {
	ListingID    string
	City         string
	FSA          string
	PropertyType listings.PropertyType
	Beds         int
	Baths        float64
	SqFt         *int
	RadiusKm     float64
	WindowDays   int
}

// CompsProvider fetches comparable rental listings for a query. Real
// comps sourcing is out of scope (spec.md §1); only a deterministic mock
// ships here.
type CompsProvider interface {
	Comps(q CompsQuery) ([]Comp, error)
}

// MockCompsProvider holds a small fixed pool of comps per city and filters
// it on beds +/-1, baths +/-1, sqft +/-20%, window and radius. Only the
// query's city pool is searched; comps are not matched on propertyType or
// FSA.
type MockCompsProvider struct {
	ByCity map[string][]Comp
}

// NewMockCompsProvider seeds a pool of comps for a couple of cities so
// tests and demos can exercise both the comps and priors/model paths.
func NewMockCompsProvider() *MockCompsProvider {
	return &MockCompsProvider{
		ByCity: map[string][]Comp{
			"Toronto": {
				{ListingID: "C-1", DistanceKm: 0.4, AgeDays: 10, Rent: 2450, Beds: 2, Baths: 1.5, SqFt: 780},
				{ListingID: "C-2", DistanceKm: 0.8, AgeDays: 30, Rent: 2600, Beds: 2, Baths: 1.0, SqFt: 820},
				{ListingID: "C-3", DistanceKm: 1.2, AgeDays: 60, Rent: 2550, Beds: 2, Baths: 2.0, SqFt: 750},
				{ListingID: "C-4", DistanceKm: 1.9, AgeDays: 90, Rent: 2700, Beds: 3, Baths: 2.0, SqFt: 900},
			},
		},
	}
}

// Comps returns the city pool's comps other than the listing itself that
// pass the beds, baths and sqft filters, are no older than WindowDays, and
// (when RadiusKm > 0) lie within RadiusKm.
func (p *MockCompsProvider) Comps(q CompsQuery) ([]Comp, error) {
	pool := p.ByCity[q.City]
	var out []Comp
	for _, c := range pool {
		if c.ListingID == q.ListingID {
			continue
		}
		if abs(c.Beds-q.Beds) > 1 {
			continue
		}
		if math.Abs(c.Baths-q.Baths) > 1.0 {
			continue
		}
		if q.SqFt != nil && *q.SqFt > 0 {
			lower := float64(*q.SqFt) * 0.8
			upper := float64(*q.SqFt) * 1.2
			if float64(c.SqFt) < lower || float64(c.SqFt) > upper {
				continue
			}
		}
		if c.AgeDays > q.WindowDays {
			continue
		}
		if q.RadiusKm > 0 && c.DistanceKm > q.RadiusKm {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
