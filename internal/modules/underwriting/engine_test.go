package underwriting

import (
	"testing"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/testingdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	base BaseInputs
}

func (f *fakeLoader) Load(listingID string) (BaseInputs, error) { return f.base, nil }

func newTestEngine(t *testing.T, base BaseInputs) (*Engine, *Repository) {
	t.Helper()
	db := testingdb.New(t, "underwriting")
	repo, err := NewRepository(db)
	require.NoError(t, err)
	engine := NewEngine(repo, &fakeLoader{base: base}, NewAnnuityFactorCache(), DefaultGridConfig())
	return engine, repo
}

// S2 - exact cache hit: the first call computes and stores a result; an
// identical second call returns fromCache=true with the same id
// (spec.md §8 S2).
func TestComputeExact_S2_CacheHit(t *testing.T) {
	base := BaseInputs{ListingID: "L-1", ListingVersion: 1, Price: 1_000_000, ClosingCosts: 22_000, NOIP75: 55_000}
	engine, _ := newTestEngine(t, base)

	assumptions := Assumptions{DownPct: 0.25, RateBps: 475, AmortMonths: 300, RentScenario: RentP75}

	first, err := engine.ComputeExact("L-1", assumptions)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := engine.ComputeExact("L-1", assumptions)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.ResultID, second.ResultID)
	assert.Equal(t, first.Metrics, second.Metrics)
}

// S3 - version invalidation: after bumping listingVersion, the same
// assumptions produce a fresh, different resultId (spec.md §8 S3).
func TestComputeExact_S3_VersionInvalidation(t *testing.T) {
	base := BaseInputs{ListingID: "L-1", ListingVersion: 1, Price: 1_000_000, ClosingCosts: 22_000, NOIP75: 55_000}
	db := testingdb.New(t, "underwriting")
	repo, err := NewRepository(db)
	require.NoError(t, err)
	loader := &fakeLoader{base: base}
	engine := NewEngine(repo, loader, NewAnnuityFactorCache(), DefaultGridConfig())

	assumptions := Assumptions{DownPct: 0.25, RateBps: 475, AmortMonths: 300, RentScenario: RentP75}

	first, err := engine.ComputeExact("L-1", assumptions)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	loader.base.ListingVersion = 2
	second, err := engine.ComputeExact("L-1", assumptions)
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.NotEqual(t, first.ResultID, second.ResultID)
}

func TestComputeExact_InvalidAssumptionsRejected(t *testing.T) {
	engine, _ := newTestEngine(t, BaseInputs{ListingID: "L-1", ListingVersion: 1, Price: 1_000_000, NOIP50: 40_000})
	_, err := engine.ComputeExact("L-1", Assumptions{DownPct: 0.9, RateBps: 500, AmortMonths: 360, RentScenario: RentP50})
	assert.Error(t, err)
}

// Invariant 4: re-upserting with identical BaseInputs yields byte-identical
// Metrics.
func TestComputeGrid_IdempotentOnRepeat(t *testing.T) {
	base := BaseInputs{ListingID: "L-9", ListingVersion: 3, Price: 700_000, ClosingCosts: 15_000, NOIP25: 30_000, NOIP50: 35_000, NOIP75: 40_000}
	engine, repo := newTestEngine(t, base)

	resultID1, count1, err := engine.ComputeGrid("L-9")
	require.NoError(t, err)
	assert.Equal(t, "grid:L-9:v3", resultID1)
	assert.Greater(t, count1, 0)

	row1, err := repo.GetGridRow(GridKey{ListingID: "L-9", ListingVersion: 3, RentScenario: RentP50, DownPctBin: 0.20, RateBpsBin: 500, AmortMonths: 360})
	require.NoError(t, err)

	resultID2, count2, err := engine.ComputeGrid("L-9")
	require.NoError(t, err)
	assert.Equal(t, resultID1, resultID2)
	assert.Equal(t, count1, count2)

	row2, err := repo.GetGridRow(GridKey{ListingID: "L-9", ListingVersion: 3, RentScenario: RentP50, DownPctBin: 0.20, RateBpsBin: 500, AmortMonths: 360})
	require.NoError(t, err)
	assert.Equal(t, row1.Metrics, row2.Metrics)
}

func TestComputeGrid_MissingBaseInputsIsNotFound(t *testing.T) {
	db := testingdb.New(t, "underwriting")
	repo, err := NewRepository(db)
	require.NoError(t, err)
	failing := &errLoader{}
	engine := NewEngine(repo, failing, NewAnnuityFactorCache(), DefaultGridConfig())

	_, _, err = engine.ComputeGrid("missing")
	assert.Error(t, err)
}

type errLoader struct{}

func (errLoader) Load(listingID string) (BaseInputs, error) {
	return BaseInputs{}, apperr.New(apperr.NotFound, "test", "base inputs not found")
}
