// Command server is the PropYield platform's single-process monolith
// entrypoint (spec.md §1): it wires every module's store, service, and the
// Read Gateway over one shared event bus, then serves HTTP until signaled
// to stop. Grounded on aristath-sentinel's trader-go/cmd/server/main.go
// (logger -> config -> database -> background jobs -> HTTP server ->
// signal-driven graceful shutdown), generalized from its single SQLite
// database to one per module plus the C1 event bus wiring every one of
// them together.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/config"
	"github.com/propyield/platform/internal/database"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/gateway"
	"github.com/propyield/platform/internal/modules/alerts"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/modules/rentestimate"
	"github.com/propyield/platform/internal/modules/underwriting"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	log.Info().Msg("starting propyield platform")

	cfg := config.Load()

	stores, err := openStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open databases")
	}
	defer stores.closeAll(log)

	repos, err := newRepositories(stores)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize repositories")
	}

	dlqs, bus, err := newBus(cfg, stores, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event bus")
	}

	ingestor := listings.NewIngestor(
		repos.listings,
		listings.NewMockFeedClient("demofeed", 50, nil),
		bus, clock.Real{}, log, "demofeed", cfg.IngestCronSpec)
	if err := ingestor.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start ingestor")
	}
	defer ingestor.Stop()

	enrichment.NewService(enrichment.Deps{
		Repo:           repos.enrichment,
		Listings:       repos.listings,
		Geocoder:       enrichment.MockGeocoder{},
		Taxes:          enrichment.NewMockTaxRateTable(),
		Fees:           enrichment.NewMockFeesValidator(),
		Scores:         enrichment.MockLocationScoreProvider{},
		Rent:           enrichment.NewMockRentPriorsProvider(),
		CostRules:      enrichment.NewMockCostRulesProvider(),
		Bus:            bus,
		Clock:          clock.Real{},
		DebounceWindow: cfg.EnrichmentDebounce,
	}, log)

	estimator := rentestimate.NewEstimator(rentestimate.NewMockCompsProvider(), rentestimate.EstimatorConfig{
		CompsMinCount:   cfg.CompsMinCount,
		CompsRadiusKm:   cfg.CompsRadiusKm,
		CompsWindowDays: cfg.CompsWindowDays,
	})
	rentestimate.NewService(rentestimate.Deps{
		Repo:              repos.rentEstimate,
		Estimator:         estimator,
		Listings:          repos.listings,
		Enrichments:       repos.enrichment,
		Bus:               bus,
		Clock:             clock.Real{},
		DebounceWindow:    cfg.RentDebounce,
		MaterialChangePct: cfg.MaterialChangePct,
	}, log)

	baseInputs := underwriting.NewBaseInputsProvider(repos.listings, repos.enrichment, repos.rentEstimate)
	annuityCache := underwriting.NewAnnuityFactorCache()
	annuityCache.Warm(rateBpsAxis(cfg), cfg.AmortMonths)
	log.Info().Int("cached_pairs", annuityCache.Len()).Msg("annuity factor cache warmed")
	engine := underwriting.NewEngine(repos.underwriting, baseInputs, annuityCache, underwriting.GridConfig{
		DownPctMin: cfg.DownPctMin, DownPctMax: cfg.DownPctMax, DownPctStep: cfg.DownPctStep,
		RateBpsMin: cfg.RateBpsMin, RateBpsMax: cfg.RateBpsMax, RateBpsStep: cfg.RateBpsStep,
		AmortMonths: cfg.AmortMonths,
	})
	underwriting.NewService(underwriting.Deps{
		Engine:      engine,
		Assumptions: repos.assumptions,
		Bus:         bus,
		Clock:       clock.Real{},
	}, log)

	if cfg.EnableS3Archival {
		startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		exporter, err := underwriting.NewArchivalExporter(startupCtx, repos.underwriting, cfg.S3Bucket, cfg.S3Prefix,
			cfg.S3AccessKeyID, cfg.S3SecretAccessKey, log)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize archival exporter, continuing without it")
		} else {
			wireArchival(bus, repos.listings, exporter, log)
		}
	}

	devBrowserHub := alerts.NewDevBrowserHub(log)
	dispatcher := alerts.NewChannelDispatcher(devBrowserHub, log)
	alerts.NewService(alerts.Deps{
		Repo:       repos.alerts,
		Listings:   repos.listings,
		Resolver:   engine,
		Dispatcher: dispatcher,
		Bus:        bus,
		Clock:      clock.Real{},
	}, log)

	gw := gateway.New(gateway.Config{
		Log:          log,
		Port:         cfg.Port,
		Listings:     repos.listings,
		Enrichment:   repos.enrichment,
		RentEstimate: repos.rentEstimate,
		Underwriting: repos.underwriting,
		Engine:       engine,
		Assumptions:  repos.assumptions,
		Alerts:       repos.alerts,
		DeadLetters:  dlqs,
		Clock:        clock.Real{},
		EnableCache:  cfg.EnableCache,
	})

	go func() {
		if err := gw.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("propyield platform started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}

	bus.Shutdown()

	log.Info().Msg("propyield platform stopped")
}

// wireArchival subscribes a best-effort listener that archives superseded
// grid/exact rows whenever a listing_changed fires (whatever its dirty
// fields), since that's the only signal that a listing's version (and
// therefore its supersession boundary) may have just advanced.
func wireArchival(bus *eventbus.Bus, listingsReader listings.Reader, exporter *underwriting.ArchivalExporter, log zerolog.Logger) {
	bus.Subscribe(events.TopicListingChanged, "underwriting_archival", func(env *eventbus.Envelope) error {
		data := env.Data.(*events.ListingChangedData)
		listing, err := listingsReader.GetByID(data.ID)
		if err != nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := exporter.ArchiveSupersededVersions(ctx, data.ID, listing.ListingVersion, time.Now()); err != nil {
			log.Warn().Err(err).Str("listing_id", data.ID).Msg("archival pass failed")
		}
		return nil
	}, eventbus.SubscribeOptions{
		Workers:   2,
		EntityKey: func(d events.EventData) string { return d.(*events.ListingChangedData).ID },
	})
}

// rateBpsAxis enumerates the grid's rate axis so the annuity factor cache
// can be warmed over the same bins ComputeGrid will later request.
func rateBpsAxis(cfg *config.Config) []int {
	var out []int
	for rate := cfg.RateBpsMin; rate <= cfg.RateBpsMax; rate += cfg.RateBpsStep {
		out = append(out, rate)
	}
	return out
}

type stores struct {
	listings     *database.DB
	enrichment   *database.DB
	rentEstimate *database.DB
	underwriting *database.DB
	alerts       *database.DB
	busLedger    *database.DB
}

func (s *stores) closeAll(log zerolog.Logger) {
	for _, db := range []*database.DB{s.listings, s.enrichment, s.rentEstimate, s.underwriting, s.alerts, s.busLedger} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("db", db.Name).Msg("error closing database")
		}
	}
}

func openStores(cfg *config.Config) (*stores, error) {
	open := func(name string, profile database.Profile) (*database.DB, error) {
		return database.Open(database.Config{Path: cfg.DataDir + "/" + name + ".db", Profile: profile, Name: name})
	}

	listingsDB, err := open("listings", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	enrichmentDB, err := open("enrichment", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	rentEstimateDB, err := open("rent_estimate", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	underwritingDB, err := open("underwriting", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	alertsDB, err := open("alerts", database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	busLedgerDB, err := open("bus_ledger", database.ProfileCache)
	if err != nil {
		return nil, err
	}

	return &stores{
		listings:     listingsDB,
		enrichment:   enrichmentDB,
		rentEstimate: rentEstimateDB,
		underwriting: underwritingDB,
		alerts:       alertsDB,
		busLedger:    busLedgerDB,
	}, nil
}

type repositories struct {
	listings     *listings.Repository
	enrichment   *enrichment.Repository
	rentEstimate *rentestimate.Repository
	underwriting *underwriting.Repository
	assumptions  *underwriting.AssumptionsStore
	alerts       *alerts.Repository
}

func newRepositories(s *stores) (*repositories, error) {
	listingsRepo, err := listings.NewRepository(s.listings)
	if err != nil {
		return nil, err
	}
	enrichmentRepo, err := enrichment.NewRepository(s.enrichment)
	if err != nil {
		return nil, err
	}
	rentEstimateRepo, err := rentestimate.NewRepository(s.rentEstimate)
	if err != nil {
		return nil, err
	}
	underwritingRepo, err := underwriting.NewRepository(s.underwriting)
	if err != nil {
		return nil, err
	}
	assumptionsStore, err := underwriting.NewAssumptionsStore(s.underwriting)
	if err != nil {
		return nil, err
	}
	alertsRepo, err := alerts.NewRepository(s.alerts)
	if err != nil {
		return nil, err
	}

	return &repositories{
		listings:     listingsRepo,
		enrichment:   enrichmentRepo,
		rentEstimate: rentEstimateRepo,
		underwriting: underwritingRepo,
		assumptions:  assumptionsStore,
		alerts:       alertsRepo,
	}, nil
}

// newBus builds one Bus shared by every module, which parks exhausted
// envelopes to the shared bus_ledger dead-letter store. It also opens a
// dead-letter store on each module's own database and returns the full set
// keyed by service name for the gateway's admin inspection route.
func newBus(cfg *config.Config, s *stores, log zerolog.Logger) (map[string]*eventbus.DeadLetterStore, *eventbus.Bus, error) {
	dlqFor := func(db *database.DB) (*eventbus.DeadLetterStore, error) {
		return eventbus.NewDeadLetterStore(db, log)
	}

	listingsDLQ, err := dlqFor(s.listings)
	if err != nil {
		return nil, nil, err
	}
	enrichmentDLQ, err := dlqFor(s.enrichment)
	if err != nil {
		return nil, nil, err
	}
	rentEstimateDLQ, err := dlqFor(s.rentEstimate)
	if err != nil {
		return nil, nil, err
	}
	underwritingDLQ, err := dlqFor(s.underwriting)
	if err != nil {
		return nil, nil, err
	}
	alertsDLQ, err := dlqFor(s.alerts)
	if err != nil {
		return nil, nil, err
	}

	// The Bus itself parks to a single shared store (bus_ledger); the
	// per-module stores above exist so each service's own repository test
	// helpers and the admin route can inspect a DLQ scoped to their domain.
	busDLQ, err := dlqFor(s.busLedger)
	if err != nil {
		return nil, nil, err
	}

	bus := eventbus.New(eventbus.Config{
		Clock:          clock.Real{},
		MaxRetries:     cfg.BusMaxRetries,
		HandlerTimeout: cfg.HandlerTimeout,
		DrainTimeout:   cfg.DrainTimeout,
		DeadLetters:    busDLQ,
	}, log)

	return map[string]*eventbus.DeadLetterStore{
		"listings":      listingsDLQ,
		"enrichment":    enrichmentDLQ,
		"rent_estimate": rentEstimateDLQ,
		"underwriting":  underwritingDLQ,
		"alerts":        alertsDLQ,
		"bus":           busDLQ,
	}, bus, nil
}
