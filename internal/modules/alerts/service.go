package alerts

import (
	"context"
	"strings"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/modules/underwriting"
	"github.com/rs/zerolog"
)

// MetricsResolver is the bounded interface Service depends on to turn a
// resultId into Metrics and the listingVersion it was computed against;
// *underwriting.Engine is the production implementation.
type MetricsResolver interface {
	ResolveMetrics(resultID string) (underwriting.Metrics, error)
	ResolveVersion(resultID string) (int64, error)
}

// Service is C7's handler orchestration (spec.md §4.7): on
// underwrite_completed, evaluate every active SavedSearch's filter and
// thresholds against the listing snapshot and resolved Metrics, upsert a
// matching Alert, and dispatch to each requested channel.
type Service struct {
	repo       *Repository
	listings   listings.Reader
	resolver   MetricsResolver
	dispatcher Dispatcher
	bus        *eventbus.Bus
	clock      clock.Clock
	log        zerolog.Logger
}

// Deps bundles Service's external collaborators.
type Deps struct {
	Repo       *Repository
	Listings   listings.Reader
	Resolver   MetricsResolver
	Dispatcher Dispatcher
	Bus        *eventbus.Bus
	Clock      clock.Clock
}

// NewService constructs the Alerts Matcher and subscribes it to
// underwrite_completed.
func NewService(d Deps, log zerolog.Logger) *Service {
	c := d.Clock
	if c == nil {
		c = clock.Real{}
	}
	s := &Service{
		repo:       d.Repo,
		listings:   d.Listings,
		resolver:   d.Resolver,
		dispatcher: d.Dispatcher,
		bus:        d.Bus,
		clock:      c,
		log:        log.With().Str("component", "alerts").Logger(),
	}

	s.bus.Subscribe(events.TopicUnderwriteCompleted, "alerts", s.handleUnderwriteCompleted, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.UnderwriteCompletedData).ID },
	})

	return s
}

func (s *Service) handleUnderwriteCompleted(env *eventbus.Envelope) error {
	data := env.Data.(*events.UnderwriteCompletedData)

	listing, err := s.listings.GetByID(data.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			s.log.Info().Str("listing_id", data.ID).Msg("listing not found, skipping alert evaluation")
			return nil
		}
		return err
	}

	metrics, err := s.resolver.ResolveMetrics(data.ResultID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			s.log.Warn().Str("result_id", data.ResultID).Msg("referenced result not found, skipping alert evaluation")
			return nil
		}
		return err
	}

	// SPEC_FULL.md's resolution of the Open Question on stale versions: the
	// Alerts Matcher still evaluates, but flags the Alert when the event's
	// underlying resultId was computed against a listingVersion older than
	// the listing's current one.
	resultVersion, err := s.resolver.ResolveVersion(data.ResultID)
	if err != nil {
		return err
	}
	stale := resultVersion < listing.ListingVersion

	snapshot := ListingSnapshot{
		City:         listing.Address.City,
		Province:     listing.Address.Province,
		PropertyType: string(listing.PropertyType),
		Beds:         listing.Beds,
		Baths:        listing.Baths,
		Price:        listing.ListPrice,
	}
	msnap := MetricsSnapshot{
		DSCR:           metrics.DSCR,
		CashOnCashPct:  metrics.CashOnCashPct,
		CapRatePct:     metrics.CapRatePct,
		CashFlowAnnual: metrics.CashFlowAnnual,
		Score:          data.Score,
	}

	searches, err := s.repo.ActiveSearches()
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, search := range searches {
		if !matchFilter(search.Filter, snapshot) {
			continue
		}
		matched, ok := matchThresholds(search.Thresholds, msnap)
		if !ok {
			continue
		}

		alert := Alert{
			UserID:        search.UserID,
			SavedSearchID: search.ID,
			ListingID:     data.ID,
			ResultID:      data.ResultID,
			Payload: AlertPayload{
				Snapshot:     snapshot,
				Metrics:      msnap,
				Score:        data.Score,
				Matched:      matched,
				StaleVersion: stale,
			},
			Delivery: deliveryFor(search.Notify.Channels),
		}

		saved, created, err := s.repo.UpsertAlert(alert)
		if err != nil {
			return err
		}
		if !created {
			s.log.Info().Str("user_id", search.UserID).Str("listing_id", data.ID).Str("result_id", data.ResultID).
				Msg("alert already recorded for this result, skipping duplicate dispatch")
			continue
		}

		s.dispatchAll(ctx, saved)
	}

	return nil
}

func (s *Service) dispatchAll(ctx context.Context, a Alert) {
	delivery := make([]DeliveryState, len(a.Delivery))
	copy(delivery, a.Delivery)

	for i, d := range delivery {
		fired := events.AlertFiredData{
			UserID:    a.UserID,
			ListingID: a.ListingID,
			ResultID:  a.ResultID,
			Channel:   string(d.Channel),
		}
		if err := s.dispatcher.Dispatch(ctx, d.Channel, fired, a.Payload); err != nil {
			delivery[i].State = "failed"
			delivery[i].LastError = err.Error()
			s.log.Warn().Err(err).Str("channel", string(d.Channel)).Str("alert_id", a.ID).Msg("dispatch failed")
			continue
		}
		delivery[i].State = "sent"
		s.bus.Publish(eventbus.NewEnvelope(&fired, s.clock.Now()))
	}

	if err := s.repo.UpdateDeliveryState(a.ID, delivery); err != nil {
		s.log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist delivery state")
	}
}

func deliveryFor(channels []Channel) []DeliveryState {
	out := make([]DeliveryState, len(channels))
	for i, c := range channels {
		out[i] = DeliveryState{Channel: c, State: "pending"}
	}
	return out
}

// matchFilter implements spec.md §4.7.1: every present filter field must
// match; string fields case-insensitive, numeric min/max inclusive.
func matchFilter(f Filter, snap ListingSnapshot) bool {
	if f.City != "" && !strings.EqualFold(f.City, snap.City) {
		return false
	}
	if f.Province != "" && !strings.EqualFold(f.Province, snap.Province) {
		return false
	}
	if f.PropertyType != "" && !strings.EqualFold(f.PropertyType, snap.PropertyType) {
		return false
	}
	if f.MinBeds != nil && snap.Beds < *f.MinBeds {
		return false
	}
	if f.MaxBeds != nil && snap.Beds > *f.MaxBeds {
		return false
	}
	if f.MinPrice != nil && snap.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && snap.Price > *f.MaxPrice {
		return false
	}
	return true
}

// matchThresholds implements spec.md §4.7.2: every present threshold must
// hold; matched[] records which thresholds were evaluated and passed, for
// user-visible explanation (spec.md §4.7.3).
func matchThresholds(t Thresholds, m MetricsSnapshot) ([]string, bool) {
	var matched []string

	if t.MinDSCR != nil {
		if m.DSCR < *t.MinDSCR {
			return nil, false
		}
		matched = append(matched, "dscr")
	}
	if t.MinCoC != nil {
		if m.CashOnCashPct < *t.MinCoC {
			return nil, false
		}
		matched = append(matched, "coc")
	}
	if t.MinCapRate != nil {
		if m.CapRatePct < *t.MinCapRate {
			return nil, false
		}
		matched = append(matched, "capRate")
	}
	if t.MinScore != nil {
		if m.Score == nil || *m.Score < *t.MinScore {
			return nil, false
		}
		matched = append(matched, "score")
	}
	if t.RequireNonNegativeCF {
		if m.CashFlowAnnual < 0 {
			return nil, false
		}
		matched = append(matched, "cf")
	}

	return matched, true
}
