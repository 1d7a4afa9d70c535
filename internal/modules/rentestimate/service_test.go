package rentestimate

import (
	"sync"
	"testing"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/testingdb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRepo(t *testing.T) *Repository {
	db := testingdb.New(t, "rent_estimate")
	repo, err := NewRepository(db)
	require.NoError(t, err)
	return repo
}

type stubListingReader struct {
	mu       sync.Mutex
	listings map[string]*listings.Listing
}

func newStubListingReader() *stubListingReader {
	return &stubListingReader{listings: make(map[string]*listings.Listing)}
}

func (s *stubListingReader) put(l *listings.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *stubListingReader) GetByID(id string) (*listings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "stubListingReader.GetByID", "not found")
	}
	return l, nil
}

type stubEnrichmentReader struct {
	mu   sync.Mutex
	byID map[string]*enrichment.Enrichment
}

func newStubEnrichmentReader() *stubEnrichmentReader {
	return &stubEnrichmentReader{byID: make(map[string]*enrichment.Enrichment)}
}

func (s *stubEnrichmentReader) put(listingID string, e *enrichment.Enrichment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[listingID] = e
}

func (s *stubEnrichmentReader) GetByListingID(id string) (*enrichment.Enrichment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "stubEnrichmentReader.GetByListingID", "not found")
	}
	return e, nil
}

type recorder struct {
	mu             sync.Mutex
	underwriteReqs []*events.UnderwriteRequestedData
}

func (r *recorder) onUnderwriteRequested(env *eventbus.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.underwriteReqs = append(r.underwriteReqs, env.Data.(*events.UnderwriteRequestedData))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.underwriteReqs)
}

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	db := testingdb.New(t, "dlq")
	dlq, err := eventbus.NewDeadLetterStore(db, zerolog.Nop())
	require.NoError(t, err)
	return eventbus.New(eventbus.Config{DeadLetters: dlq}, zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleListing(id string) *listings.Listing {
	sqft := 780
	return &listings.Listing{
		ID:             id,
		MLSNumber:      "MLS" + id,
		Source:         "demofeed",
		Status:         listings.StatusActive,
		ListedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Address:        listings.Address{Street: "1 Main St", City: "Toronto", Province: "ON", PostalCode: "M5V 1A1", Country: "CA"},
		PropertyType:   listings.PropertyCondo,
		Beds:           2,
		Baths:          1.5,
		SqFt:           &sqft,
		ListPrice:      650000,
		ListingVersion: 1,
	}
}

func newServiceForTest(t *testing.T, lr listings.Reader, er enrichment.Reader, bus *eventbus.Bus, c clock.Clock, debounce time.Duration, materialChangePct float64) *Service {
	repo := mustRepo(t)
	est := NewEstimator(NewMockCompsProvider(), EstimatorConfig{CompsMinCount: 3})
	return NewService(Deps{
		Repo:              repo,
		Estimator:         est,
		Listings:          lr,
		Enrichments:       er,
		Bus:               bus,
		Clock:             c,
		DebounceWindow:    debounce,
		MaterialChangePct: materialChangePct,
	}, zerolog.Nop())
}

func TestService_HandleListingChanged_ComputesAndPublishesOnFirstEstimate(t *testing.T) {
	reader := newStubListingReader()
	l := sampleListing("L-1") // Toronto condo matches the mock comps pool
	reader.put(l)

	bus := newTestBus(t)
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(events.TopicUnderwriteRequested, "test", rec.onUnderwriteRequested, eventbus.SubscribeOptions{Workers: 1})

	svc := newServiceForTest(t, reader, newStubEnrichmentReader(), bus, clock.Real{}, time.Millisecond, 0.03)

	bus.Publish(eventbus.NewEnvelope(&events.ListingChangedData{
		ID: "L-1", Change: events.ChangeCreate, Source: "demofeed",
	}, time.Now()))

	waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 })

	assert.Equal(t, 1, rec.count(), "a first-ever estimate is always a material change")

	stored, err := svc.repo.GetByListingID("L-1")
	require.NoError(t, err)
	assert.Equal(t, MethodComps, stored.Method)
}

func TestService_HandleDataEnriched_BypassesDebounceGate(t *testing.T) {
	reader := newStubListingReader()
	l := sampleListing("L-2")
	reader.put(l)

	bus := newTestBus(t)
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(events.TopicUnderwriteRequested, "test", rec.onUnderwriteRequested, eventbus.SubscribeOptions{Workers: 1})

	fixed := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	// a long listing_changed debounce window must not affect data_enriched handling
	newServiceForTest(t, reader, newStubEnrichmentReader(), bus, fixed, time.Hour, 0.03)

	env1 := eventbus.NewEnvelope(&events.DataEnrichedData{ID: "L-2"}, fixed.Now())
	bus.Publish(env1)
	waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 })

	// moving the listing out of the comps pool makes the second pass
	// observable: it switches the method to the formula, a material change
	moved := sampleListing("L-2")
	moved.Address.City = "Unknown City"
	reader.put(moved)

	env2 := eventbus.NewEnvelope(&events.DataEnrichedData{ID: "L-2"}, fixed.Now())
	bus.Publish(env2)
	waitFor(t, 500*time.Millisecond, func() bool { return rec.count() > 1 })

	assert.Equal(t, 2, rec.count(), "a second data_enriched inside the listing_changed debounce window must still be processed")
}

func TestService_HandleListingChanged_DebounceDropsRepeatedEvent(t *testing.T) {
	reader := newStubListingReader()
	l := sampleListing("L-3")
	reader.put(l)

	bus := newTestBus(t)
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(events.TopicUnderwriteRequested, "test", rec.onUnderwriteRequested, eventbus.SubscribeOptions{Workers: 1})

	fixed := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newServiceForTest(t, reader, newStubEnrichmentReader(), bus, fixed, time.Minute, 0.03)

	env := eventbus.NewEnvelope(&events.ListingChangedData{
		ID: "L-3", Change: events.ChangeUpdate, Source: "demofeed",
	}, fixed.Now())

	bus.Publish(env)
	waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 })
	bus.Publish(env)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, rec.count(), "second listing_changed event within the debounce window must be dropped")

	_, err := svc.repo.GetByListingID("L-3")
	require.NoError(t, err)
}

func TestService_Recompute_SkipsPublishWhenChangeIsImmaterial(t *testing.T) {
	reader := newStubListingReader()
	l := sampleListing("L-4")
	l.Address.City = "Unknown City" // no comps fixtures, falls to the flat per-bedroom formula
	reader.put(l)

	bus := newTestBus(t)
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(events.TopicUnderwriteRequested, "test", rec.onUnderwriteRequested, eventbus.SubscribeOptions{Workers: 1})

	svc := newServiceForTest(t, reader, newStubEnrichmentReader(), bus, clock.Real{}, time.Millisecond, 0.03)

	bus.Publish(eventbus.NewEnvelope(&events.ListingChangedData{ID: "L-4", Change: events.ChangeCreate, Source: "demofeed"}, time.Now()))
	waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 })
	require.Equal(t, 1, rec.count())

	// Re-publish with the same inputs: the formula result is identical, so the
	// second pass must not cross the material-change threshold.
	bus.Publish(eventbus.NewEnvelope(&events.DataEnrichedData{ID: "L-4"}, time.Now()))
	waitFor(t, 500*time.Millisecond, func() bool { return rec.count() > 1 })

	assert.Equal(t, 1, rec.count(), "an unchanged formula estimate must not republish underwrite_requested")

	stored, err := svc.repo.GetByListingID("L-4")
	require.NoError(t, err)
	assert.Equal(t, MethodModel, stored.Method)
}
