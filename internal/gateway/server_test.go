package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/modules/alerts"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/modules/rentestimate"
	"github.com/propyield/platform/internal/modules/underwriting"
	"github.com/propyield/platform/internal/testingdb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedBaseInputs is a BaseInputsLoader test double returning the same
// BaseInputs for every listing, grounded on underwriting's own
// engine_test.go fixed-version fake (no store round trip needed for the
// gateway's on-demand underwrite route).
type fixedBaseInputs struct {
	base underwriting.BaseInputs
	err  error
}

func (f fixedBaseInputs) Load(listingID string) (underwriting.BaseInputs, error) {
	if f.err != nil {
		return underwriting.BaseInputs{}, f.err
	}
	b := f.base
	b.ListingID = listingID
	return b, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	listingsRepo, err := listings.NewRepository(testingdb.New(t, "gw_listings"))
	require.NoError(t, err)
	enrichmentRepo, err := enrichment.NewRepository(testingdb.New(t, "gw_enrichment"))
	require.NoError(t, err)
	rentRepo, err := rentestimate.NewRepository(testingdb.New(t, "gw_rent"))
	require.NoError(t, err)
	underwritingRepo, err := underwriting.NewRepository(testingdb.New(t, "gw_underwriting"))
	require.NoError(t, err)
	assumptionsStore, err := underwriting.NewAssumptionsStore(testingdb.New(t, "gw_assumptions"))
	require.NoError(t, err)
	alertsRepo, err := alerts.NewRepository(testingdb.New(t, "gw_alerts"))
	require.NoError(t, err)

	base := fixedBaseInputs{base: underwriting.BaseInputs{
		ListingVersion: 1,
		Price:          1_000_000,
		ClosingCosts:   25_000,
		NOIP25:         45_000,
		NOIP50:         50_000,
		NOIP75:         55_000,
		City:           "Toronto",
		Province:       "ON",
		PropertyType:   "Condo",
	}}
	engine := underwriting.NewEngine(underwritingRepo, base, underwriting.NewAnnuityFactorCache(), underwriting.DefaultGridConfig())

	return New(Config{
		Log:          zerolog.Nop(),
		Port:         0,
		Listings:     listingsRepo,
		Enrichment:   enrichmentRepo,
		RentEstimate: rentRepo,
		Underwriting: underwritingRepo,
		Engine:       engine,
		Assumptions:  assumptionsStore,
		Alerts:       alertsRepo,
		DeadLetters:  nil,
	})
}

func seedListing(t *testing.T, s *Server, id, city string, price float64) {
	t.Helper()
	_, err := s.listings.Upsert(listings.FeedItem{
		ID:           id,
		MLSNumber:    "MLS-" + id,
		Source:       "demofeed",
		Status:       listings.StatusActive,
		ListedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Address:      listings.Address{City: city, Province: "ON", Country: "CA"},
		PropertyType: listings.PropertyCondo,
		Beds:         2,
		Baths:        1,
		ListPrice:    price,
	})
	require.NoError(t, err)
}

func TestHandleHealth_ReportsStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, []interface{}{"healthy", "degraded"}, body["status"])
}

func TestHandleSearchProperties_FiltersByCityAndPrice(t *testing.T) {
	s := newTestServer(t)
	seedListing(t, s, "listing-1", "Toronto", 750_000)
	seedListing(t, s, "listing-2", "Ottawa", 400_000)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties?city=Toronto&minPrice=500000", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp propertySearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "listing-1", resp.Items[0].ID)
}

func TestHandleSearchProperties_ClampsLimitToMax(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties?limit=500", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp propertySearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, maxPageLimit, resp.Limit)
}

func TestHandlePropertyDetail_ComposesListingAndSidecars(t *testing.T) {
	s := newTestServer(t)
	seedListing(t, s, "listing-1", "Toronto", 750_000)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/listing-1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp propertyDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Listing)
	assert.Equal(t, "listing-1", resp.Listing.ID)
	assert.Nil(t, resp.Enrichment)
}

func TestHandlePropertyDetail_UnknownListing_Returns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/ghost", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUnderwriteOnDemand_ComputesAndCaches(t *testing.T) {
	s := newTestServer(t)
	seedListing(t, s, "listing-1", "Toronto", 750_000)

	body, _ := json.Marshal(map[string]interface{}{
		"listingId": "listing-1",
		"assumptions": map[string]interface{}{
			"downPct": 0.25, "rateBps": 475, "amortMonths": 300, "rentScenario": "P75",
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/underwrite", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var first underwriting.ExactResultOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.FromCache)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/underwrite", bytes.NewReader(body))
	s.router.ServeHTTP(rec2, req2)
	var second underwriting.ExactResultOutcome
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))
	assert.True(t, second.FromCache)
	assert.Equal(t, first.ResultID, second.ResultID)
}

func TestHandleUnderwriteOnDemand_InvalidAssumptions_Returns400(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"listingId": "listing-1",
		"assumptions": map[string]interface{}{
			"downPct": 0.01, "rateBps": 475, "amortMonths": 300, "rentScenario": "P75",
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/underwrite", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchCRUD_RoundTrips(t *testing.T) {
	s := newTestServer(t)

	createBody, _ := json.Marshal(alerts.SavedSearch{
		UserID:   "user-1",
		Name:     "Toronto condos",
		Filter:   alerts.Filter{City: "Toronto", PropertyType: "Condo"},
		IsActive: true,
	})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/searches", bytes.NewReader(createBody)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created alerts.SavedSearch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/searches/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/searches/"+created.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/searches/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAlerts_RequiresUserID(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor_MapsErrorKindsToHTTPStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.NotFound:     http.StatusNotFound,
		apperr.InvalidInput: http.StatusBadRequest,
		apperr.Transient:    http.StatusServiceUnavailable,
		apperr.Conflict:     http.StatusConflict,
		apperr.Fatal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		got := statusFor(apperr.New(kind, "op", "message"))
		assert.Equal(t, want, got, "kind %s", kind)
	}
}
