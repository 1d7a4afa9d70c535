package alerts

import (
	"testing"

	"github.com/propyield/platform/internal/testingdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavedSearch_SaveGetDelete(t *testing.T) {
	db := testingdb.New(t, "alerts_repo")
	repo, err := NewRepository(db)
	require.NoError(t, err)

	maxPrice := 800000.0
	saved, err := repo.SaveSavedSearch(SavedSearch{
		UserID: "u1",
		Name:   "Toronto condos",
		Filter: Filter{City: "Toronto", PropertyType: "Condo", MaxPrice: &maxPrice},
		Notify: Notify{Channels: []Channel{ChannelDevBrowser}},
		IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := repo.GetSavedSearch(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Toronto condos", got.Name)
	assert.Equal(t, 800000.0, *got.Filter.MaxPrice)

	active, err := repo.ActiveSearches()
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.DeleteSavedSearch(saved.ID))
	_, err = repo.GetSavedSearch(saved.ID)
	assert.Error(t, err)
}

func TestUpsertAlert_UniquePerUserListingResult(t *testing.T) {
	db := testingdb.New(t, "alerts_repo")
	repo, err := NewRepository(db)
	require.NoError(t, err)

	base := Alert{UserID: "u1", SavedSearchID: "s1", ListingID: "L-1", ResultID: "R-1", Payload: AlertPayload{Matched: []string{"dscr"}}}

	first, created1, err := repo.UpsertAlert(base)
	require.NoError(t, err)
	assert.True(t, created1)

	second, created2, err := repo.UpsertAlert(base)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, first.ID, second.ID)

	alerts, err := repo.ListAlertsForUser("u1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
