package enrichment

import (
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/rs/zerolog"
)

// Service is C4: it subscribes to listing_changed, runs the best-effort
// enrichment pipeline (spec.md §4.4), diff-upserts the result, and
// publishes data_enriched (and conditionally underwrite_requested).
type Service struct {
	repo      *Repository
	listings  listings.Reader
	geocoder  Geocoder
	taxes     TaxRateTableProvider
	fees      FeesValidator
	scores    LocationScoreProvider
	rent      RentPriorsProvider
	costRules CostRulesProvider
	bus       *eventbus.Bus
	clock     clock.Clock
	log       zerolog.Logger
	gate      *eventbus.Gate
}

// Deps bundles Service's external collaborators.
type Deps struct {
	Repo      *Repository
	Listings  listings.Reader
	Geocoder  Geocoder
	Taxes     TaxRateTableProvider
	Fees      FeesValidator
	Scores    LocationScoreProvider
	Rent      RentPriorsProvider
	CostRules CostRulesProvider
	Bus       *eventbus.Bus
	Clock     clock.Clock
	DebounceWindow time.Duration
}

// NewService constructs the enrichment Service and subscribes it to
// listing_changed. debounceWindow defaults to 60s per spec.md §4.4.
func NewService(d Deps, log zerolog.Logger) *Service {
	c := d.Clock
	if c == nil {
		c = clock.Real{}
	}
	window := d.DebounceWindow
	if window <= 0 {
		window = 60 * time.Second
	}

	s := &Service{
		repo:      d.Repo,
		listings:  d.Listings,
		geocoder:  d.Geocoder,
		taxes:     d.Taxes,
		fees:      d.Fees,
		scores:    d.Scores,
		rent:      d.Rent,
		costRules: d.CostRules,
		bus:       d.Bus,
		clock:     c,
		log:       log.With().Str("component", "enrichment").Logger(),
		gate:      eventbus.NewGate(window, c),
	}

	s.bus.Subscribe(events.TopicListingChanged, "enrichment", s.handleListingChanged, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.ListingChangedData).ID },
	})

	return s
}

func (s *Service) handleListingChanged(env *eventbus.Envelope) error {
	data := env.Data.(*events.ListingChangedData)

	bypass := events.HasDirty(data.Dirty, events.DirtyAddress)
	if !s.gate.Allow(data.ID, bypass) {
		return nil
	}

	listing, err := s.listings.GetByID(data.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			s.log.Info().Str("listing_id", data.ID).Msg("listing not found, skipping enrichment")
			return nil
		}
		return err
	}

	next := s.compute(listing)

	result, err := s.repo.Upsert(next)
	if err != nil {
		return err
	}
	if !result.Changed {
		return nil
	}

	s.bus.Publish(eventbus.NewEnvelope(&events.DataEnrichedData{
		ID:              listing.ID,
		EnrichmentTypes: result.ChangedTypes,
		UpdatedAt:       next.ComputedAt.Format(time.RFC3339),
	}, s.clock.Now()))

	financiallyRelevant := events.HasAnyDirty(data.Dirty, events.DirtyPrice, events.DirtyFees, events.DirtyTax)
	enrichmentFinancial := result.TaxChanged || result.FeesChanged || result.RentChanged || result.GeoChanged
	if enrichmentFinancial && financiallyRelevant {
		s.bus.Publish(eventbus.NewEnvelope(&events.UnderwriteRequestedData{
			ID: listing.ID,
		}, s.clock.Now()))
	}

	s.log.Info().
		Str("listing_id", listing.ID).
		Strs("changed_types", result.ChangedTypes).
		Msg("data_enriched published")

	return nil
}

// compute runs the best-effort pipeline of spec.md §4.4. Each sub-call's
// failure drops only that sub-object; it never aborts the whole pass.
func (s *Service) compute(l *listings.Listing) *Enrichment {
	now := s.clock.Now()
	e := &Enrichment{
		ListingID:         l.ID,
		ListingVersion:    l.ListingVersion,
		EnrichmentVersion: CurrentEnrichmentVersion,
		ComputedAt:        now,
	}

	e.Geo = s.computeGeo(l)
	e.Taxes = s.computeTaxes(l)
	e.Fees = s.computeFees(l)
	e.LocationScores = s.computeLocationScores(e.Geo)
	e.RentPriors = s.computeRentPriors(l)
	e.CostRules = s.computeCostRules(l)

	return e
}

func (s *Service) computeGeo(l *listings.Listing) *GeoInfo {
	if l.Address.Lat != nil && l.Address.Lng != nil {
		return &GeoInfo{Lat: *l.Address.Lat, Lng: *l.Address.Lng, FSA: fsaOf(l.Address.PostalCode), Source: GeoFromListing}
	}
	if s.geocoder == nil {
		return nil
	}
	lat, lng, err := s.geocoder.Geocode(l.Address)
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("geocode failed, dropping geo sub-object")
		return nil
	}
	return &GeoInfo{Lat: lat, Lng: lng, FSA: fsaOf(l.Address.PostalCode), Source: GeoGeocoded}
}

func (s *Service) computeTaxes(l *listings.Listing) *TaxInfo {
	if l.TaxesAnnual != nil {
		return &TaxInfo{AnnualEstimate: *l.TaxesAnnual, Method: TaxExact}
	}
	if s.taxes == nil {
		return nil
	}
	est, method, err := s.taxes.Lookup(l.Address.City, l.Address.Province, l.ListPrice)
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("tax lookup failed, dropping taxes sub-object")
		return nil
	}
	return &TaxInfo{AnnualEstimate: est, Method: method}
}

func (s *Service) computeFees(l *listings.Listing) *FeesInfo {
	if s.fees == nil {
		return nil
	}
	flags := s.fees.Validate(l.CondoFeeMonthly, l.SqFt, l.PropertyType)
	return &FeesInfo{CondoFeeMonthly: l.CondoFeeMonthly, SanityFlags: flags}
}

func (s *Service) computeLocationScores(geo *GeoInfo) *LocationScores {
	if geo == nil || s.scores == nil {
		return nil
	}
	walk, transit, bike, provider, err := s.scores.Scores(geo.Lat, geo.Lng)
	if err != nil {
		s.log.Warn().Err(err).Msg("location score lookup failed, dropping locationScores sub-object")
		return nil
	}
	return &LocationScores{Walk: walk, Transit: transit, Bike: bike, Provider: provider}
}

func (s *Service) computeRentPriors(l *listings.Listing) *RentPriors {
	if s.rent == nil {
		return nil
	}
	priors, err := s.rent.Priors(l.Address.City, l.Beds, l.PropertyType)
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("rent priors lookup failed, dropping rentPriors sub-object")
		return nil
	}
	return priors
}

func (s *Service) computeCostRules(l *listings.Listing) *CostRules {
	if s.costRules == nil {
		return nil
	}
	rule, insurance, err := s.costRules.Rules(l.Address.City)
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("cost rules lookup failed, dropping costRules sub-object")
		return nil
	}
	return &CostRules{LTTRule: rule, InsuranceMonthlyEstimate: insurance}
}

func fsaOf(postalCode string) string {
	if len(postalCode) < 3 {
		return ""
	}
	return postalCode[:3]
}
