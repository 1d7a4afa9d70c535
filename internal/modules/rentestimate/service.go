package rentestimate

import (
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/rs/zerolog"
)

// Service is C5: it subscribes to listing_changed (debounced 30s per
// spec.md §4.5) and data_enriched (always processed), recomputes the rent
// estimate, diff-upserts it, and publishes underwrite_requested when the
// new estimate materially moved.
type Service struct {
	repo              *Repository
	estimator         *Estimator
	listings          listings.Reader
	enrichments       enrichment.Reader
	bus               *eventbus.Bus
	clock             clock.Clock
	log               zerolog.Logger
	gate              *eventbus.Gate
	materialChangePct float64
}

// Deps bundles Service's external collaborators.
type Deps struct {
	Repo              *Repository
	Estimator         *Estimator
	Listings          listings.Reader
	Enrichments       enrichment.Reader
	Bus               *eventbus.Bus
	Clock             clock.Clock
	DebounceWindow    time.Duration
	MaterialChangePct float64
}

// NewService constructs the rentestimate Service and subscribes it to
// listing_changed and data_enriched. debounceWindow defaults to 30s.
func NewService(d Deps, log zerolog.Logger) *Service {
	c := d.Clock
	if c == nil {
		c = clock.Real{}
	}
	window := d.DebounceWindow
	if window <= 0 {
		window = 30 * time.Second
	}

	s := &Service{
		repo:              d.Repo,
		estimator:         d.Estimator,
		listings:          d.Listings,
		enrichments:       d.Enrichments,
		bus:               d.Bus,
		clock:             c,
		log:               log.With().Str("component", "rent_estimator").Logger(),
		gate:              eventbus.NewGate(window, c),
		materialChangePct: d.MaterialChangePct,
	}

	s.bus.Subscribe(events.TopicListingChanged, "rent_estimator", s.handleListingChanged, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.ListingChangedData).ID },
	})
	s.bus.Subscribe(events.TopicDataEnriched, "rent_estimator", s.handleDataEnriched, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.DataEnrichedData).ID },
	})

	return s
}

func (s *Service) handleListingChanged(env *eventbus.Envelope) error {
	data := env.Data.(*events.ListingChangedData)
	bypass := events.HasDirty(data.Dirty, events.DirtyAddress)
	if !s.gate.Allow(data.ID, bypass) {
		return nil
	}
	return s.recompute(data.ID)
}

// handleDataEnriched always processes the event, per spec.md §4.5
// "always process data_enriched" — it bypasses the listing_changed
// debounce gate entirely rather than sharing its key space.
func (s *Service) handleDataEnriched(env *eventbus.Envelope) error {
	data := env.Data.(*events.DataEnrichedData)
	return s.recompute(data.ID)
}

func (s *Service) recompute(listingID string) error {
	listing, err := s.listings.GetByID(listingID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			s.log.Info().Str("listing_id", listingID).Msg("listing not found, skipping rent estimate")
			return nil
		}
		return err
	}

	var enr *enrichment.Enrichment
	if s.enrichments != nil {
		e, err := s.enrichments.GetByListingID(listingID)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			return err
		}
		enr = e
	}

	next, err := s.estimator.Estimate(listing, enr)
	if err != nil {
		return err
	}
	next.ComputedAt = s.clock.Now()

	result, err := s.repo.Upsert(next, s.materialChangePct)
	if err != nil {
		return err
	}
	if !result.MateriallyChanged {
		return nil
	}

	s.bus.Publish(eventbus.NewEnvelope(&events.UnderwriteRequestedData{
		ID: listingID,
	}, s.clock.Now()))

	s.log.Info().
		Str("listing_id", listingID).
		Str("method", string(next.Method)).
		Float64("p50", next.P50).
		Msg("materially changed rent estimate published underwrite_requested")

	return nil
}
