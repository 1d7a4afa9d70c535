package underwriting

import (
	"testing"

	"github.com/propyield/platform/internal/testingdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertGridRows_OverwritesOnSameKey(t *testing.T) {
	db := testingdb.New(t, "underwriting_repo")
	repo, err := NewRepository(db)
	require.NoError(t, err)

	key := GridKey{ListingID: "L-1", ListingVersion: 1, RentScenario: RentP50, DownPctBin: 0.2, RateBpsBin: 500, AmortMonths: 360}

	require.NoError(t, repo.UpsertGridRows([]GridRow{{GridKey: key, Metrics: Metrics{NOI: 1000}}}))
	require.NoError(t, repo.UpsertGridRows([]GridRow{{GridKey: key, Metrics: Metrics{NOI: 2000}}}))

	row, err := repo.GetGridRow(key)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, row.Metrics.NOI)
}

func TestGetOrCreateExactResult_ConvergesOnSameRow(t *testing.T) {
	db := testingdb.New(t, "underwriting_repo")
	repo, err := NewRepository(db)
	require.NoError(t, err)

	m := Metrics{NOI: 5000}
	first, err := repo.GetOrCreateExactResult("L-1", 1, "hash-a", m)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := repo.GetOrCreateExactResult("L-1", 1, "hash-a", Metrics{NOI: 9999})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.ResultID, second.ResultID)
	assert.Equal(t, 5000.0, second.Metrics.NOI)
}

func TestAssumptionsStore_SaveAndGet(t *testing.T) {
	db := testingdb.New(t, "assumptions_store")
	store, err := NewAssumptionsStore(db)
	require.NoError(t, err)

	id, err := store.Save(Assumptions{DownPct: 0.2, RateBps: 450, AmortMonths: 360, RentScenario: RentP50})
	require.NoError(t, err)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.DownPct)
}

func TestAssumptionsStore_SaveRejectsInvalid(t *testing.T) {
	db := testingdb.New(t, "assumptions_store")
	store, err := NewAssumptionsStore(db)
	require.NoError(t, err)

	_, err = store.Save(Assumptions{DownPct: 0.9, RateBps: 450, AmortMonths: 360, RentScenario: RentP50})
	assert.Error(t, err)
}
