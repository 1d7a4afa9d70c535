package listings

import (
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ingestor is C3: it polls a FeedClient on a cron schedule, diff-upserts
// normalized listings, and publishes listing_changed. Grounded on
// aristath-sentinel's internal/queue/scheduler.go poll-loop shape,
// generalized from a ticker to robfig/cron so the schedule is a spec
// string rather than a fixed Go duration.
type Ingestor struct {
	repo   *Repository
	feed   FeedClient
	bus    *eventbus.Bus
	clock  clock.Clock
	log    zerolog.Logger
	cron   *cron.Cron
	spec   string
	source string
}

// NewIngestor constructs an Ingestor for source, polling feed on cronSpec
// (e.g. "@every 1m").
func NewIngestor(repo *Repository, feed FeedClient, bus *eventbus.Bus, c clock.Clock, log zerolog.Logger, source, cronSpec string) *Ingestor {
	if c == nil {
		c = clock.Real{}
	}
	return &Ingestor{
		repo:   repo,
		feed:   feed,
		bus:    bus,
		clock:  c,
		log:    log.With().Str("component", "ingestor").Str("source", source).Logger(),
		spec:   cronSpec,
		source: source,
	}
}

// Start schedules the poll loop. It does not block; call Stop to halt it.
func (ing *Ingestor) Start() error {
	ing.cron = cron.New()
	if _, err := ing.cron.AddFunc(ing.spec, ing.pollOnce); err != nil {
		return apperr.Wrap(apperr.Fatal, "ingestor.Start", "invalid cron spec", err)
	}
	ing.cron.Start()
	return nil
}

// Stop halts the cron scheduler. In-flight polls are allowed to finish.
func (ing *Ingestor) Stop() {
	if ing.cron != nil {
		ctx := ing.cron.Stop()
		<-ctx.Done()
	}
}

// PollOnce runs a single poll-to-exhaustion cycle synchronously; exported
// so tests and a manual "ingest now" admin trigger can call it directly.
func (ing *Ingestor) PollOnce() { ing.pollOnce() }

func (ing *Ingestor) pollOnce() {
	watermark, err := ing.repo.Watermark(ing.source)
	if err != nil {
		ing.log.Error().Err(err).Msg("failed to read watermark")
		return
	}

	pageToken := ""
	maxSeen := watermark
	for {
		page, err := ing.feed.FetchUpdatedSince(watermark, pageToken)
		if err != nil {
			ing.log.Error().Err(err).Msg("feed fetch failed, aborting poll cycle")
			return
		}

		for _, item := range page.Items {
			if err := ing.processItem(item); err != nil {
				ing.log.Error().Err(err).Str("listing_id", item.ID).Msg("failed to process feed item, aborting poll cycle")
				return
			}
			if item.UpdatedAt.After(maxSeen) {
				maxSeen = item.UpdatedAt
			}
		}

		// Watermark only advances after every item on the page has been
		// successfully diff-upserted, so a crash mid-page simply reprocesses
		// the page (idempotent via diff-and-bump) rather than skipping items.
		// Every page of one cycle is fetched with the cycle's starting
		// watermark, since page tokens index the set that watermark selects.
		if len(page.Items) > 0 {
			if err := ing.repo.AdvanceWatermark(ing.source, maxSeen); err != nil {
				ing.log.Error().Err(err).Msg("failed to advance watermark, aborting poll cycle")
				return
			}
		}

		if !page.HasMore {
			return
		}
		pageToken = page.NextPageToken
	}
}

func (ing *Ingestor) processItem(item FeedItem) error {
	previous, err := ing.repo.GetByID(item.ID)
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	result, err := ing.repo.Upsert(item)
	if err != nil {
		return err
	}
	if !result.Changed {
		return nil
	}

	change := events.ChangeUpdate
	if previous == nil {
		change = events.ChangeCreate
	} else if previous.Status != result.Listing.Status {
		change = events.ChangeStatusChange
	}

	dirty := dirtyFields(previous, result.Listing)

	ing.bus.Publish(eventbus.NewEnvelope(&events.ListingChangedData{
		ID:        result.Listing.ID,
		UpdatedAt: result.Listing.UpdatedAt.Format(rfc3339),
		Change:    change,
		Source:    result.Listing.Source,
		Dirty:     dirty,
	}, ing.clock.Now()))

	ing.log.Info().
		Str("listing_id", result.Listing.ID).
		Str("change", string(change)).
		Int64("listing_version", result.Listing.ListingVersion).
		Msg("listing_changed published")

	return nil
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// dirtyFields compares previous (nil for a newly created listing) against
// current and returns the spec.md §3 semantic fields that changed. A new
// listing is reported dirty on every field so downstream consumers (C4,
// C5) treat it as a full first-time enrichment.
func dirtyFields(previous, current *Listing) []events.DirtyField {
	if previous == nil {
		return []events.DirtyField{
			events.DirtyPrice, events.DirtyStatus, events.DirtyFees,
			events.DirtyTax, events.DirtyMedia, events.DirtyAddress,
		}
	}

	var dirty []events.DirtyField
	if previous.ListPrice != current.ListPrice {
		dirty = append(dirty, events.DirtyPrice)
	}
	if previous.Status != current.Status {
		dirty = append(dirty, events.DirtyStatus)
	}
	if !eqFloatPtr(previous.CondoFeeMonthly, current.CondoFeeMonthly) {
		dirty = append(dirty, events.DirtyFees)
	}
	if !eqFloatPtr(previous.TaxesAnnual, current.TaxesAnnual) {
		dirty = append(dirty, events.DirtyTax)
	}
	if !mediaEqual(previous.Media, current.Media) {
		dirty = append(dirty, events.DirtyMedia)
	}
	if !previous.Address.Equal(current.Address) {
		dirty = append(dirty, events.DirtyAddress)
	}
	return dirty
}
