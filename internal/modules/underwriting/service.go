package underwriting

import (
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/rs/zerolog"
)

// Service is C6's handler orchestration (spec.md §4.6.4): on
// underwrite_requested it resolves named assumptions (if any) and runs
// computeExact, otherwise computeGrid; on listing_changed with a
// financially dirty field it runs computeGrid directly. Either path
// publishes underwrite_completed on success.
type Service struct {
	engine      *Engine
	assumptions *AssumptionsStore
	bus         *eventbus.Bus
	clock       clock.Clock
	log         zerolog.Logger
	scoreGrid   bool
}

// Deps bundles Service's external collaborators.
type Deps struct {
	Engine      *Engine
	Assumptions *AssumptionsStore
	Bus         *eventbus.Bus
	Clock       clock.Clock
	// ScoreGridResults attaches Score to the synthesized grid resultId's
	// underwrite_completed event, using the P50, 20% down, 500 bps,
	// 360-month cell as a representative score. Off by default since scoring is optional and
	// a full grid has no single "the" score.
	ScoreGridResults bool
}

// NewService constructs the underwriting Service and subscribes it to
// underwrite_requested and listing_changed.
func NewService(d Deps, log zerolog.Logger) *Service {
	c := d.Clock
	if c == nil {
		c = clock.Real{}
	}
	s := &Service{
		engine:      d.Engine,
		assumptions: d.Assumptions,
		bus:         d.Bus,
		clock:       c,
		log:         log.With().Str("component", "underwriting").Logger(),
		scoreGrid:   d.ScoreGridResults,
	}

	s.bus.Subscribe(events.TopicUnderwriteRequested, "underwriting", s.handleUnderwriteRequested, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.UnderwriteRequestedData).ID },
	})
	s.bus.Subscribe(events.TopicListingChanged, "underwriting", s.handleListingChanged, eventbus.SubscribeOptions{
		Workers:   4,
		EntityKey: func(d events.EventData) string { return d.(*events.ListingChangedData).ID },
	})

	return s
}

func (s *Service) handleUnderwriteRequested(env *eventbus.Envelope) error {
	data := env.Data.(*events.UnderwriteRequestedData)

	if data.AssumptionsID != nil {
		assumptions, err := s.assumptions.Get(*data.AssumptionsID)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				s.log.Warn().Str("listing_id", data.ID).Str("assumptions_id", *data.AssumptionsID).Msg("named assumptions not found, skipping")
				return nil
			}
			return err
		}

		outcome, err := s.engine.ComputeExact(data.ID, assumptions)
		if err != nil {
			return s.handleComputeError(data.ID, err)
		}
		s.publishCompleted(data.ID, outcome.ResultID, events.SourceExact, outcome.Metrics)
		return nil
	}

	resultID, rowCount, err := s.engine.ComputeGrid(data.ID)
	if err != nil {
		return s.handleComputeError(data.ID, err)
	}
	s.publishGridCompleted(data.ID, resultID, rowCount)
	return nil
}

func (s *Service) handleListingChanged(env *eventbus.Envelope) error {
	data := env.Data.(*events.ListingChangedData)

	if !events.HasAnyDirty(data.Dirty, events.DirtyPrice, events.DirtyFees, events.DirtyTax) {
		return nil
	}

	resultID, rowCount, err := s.engine.ComputeGrid(data.ID)
	if err != nil {
		return s.handleComputeError(data.ID, err)
	}
	s.publishGridCompleted(data.ID, resultID, rowCount)
	return nil
}

// handleComputeError implements spec.md §4.6.4's failure model: a missing
// BaseInputs is logged and skipped (not retried — the listing will be
// retried once enrichment/rent catch up and re-publish their own
// triggers), while InvalidAssumptions fails the request without
// publishing a completion.
func (s *Service) handleComputeError(listingID string, err error) error {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		s.log.Info().Str("listing_id", listingID).Err(err).Msg("base inputs not yet available, skipping underwrite")
		return nil
	case apperr.InvalidInput:
		s.log.Warn().Str("listing_id", listingID).Err(err).Msg("invalid assumptions, underwrite_completed not published")
		return nil
	default:
		return err
	}
}

func (s *Service) publishCompleted(listingID, resultID string, source events.ResultSource, metrics Metrics) {
	score := Score(metrics)
	s.bus.Publish(eventbus.NewEnvelope(&events.UnderwriteCompletedData{
		ID:       listingID,
		ResultID: resultID,
		Source:   source,
		Score:    &score,
	}, s.clock.Now()))

	s.log.Info().Str("listing_id", listingID).Str("result_id", resultID).Str("source", string(source)).Msg("underwrite_completed published")
}

func (s *Service) publishGridCompleted(listingID, resultID string, rowCount int) {
	var score *float64
	if s.scoreGrid {
		if row, err := s.engine.repo.GetGridRow(GridKey{
			ListingID: listingID, ListingVersion: gridVersionFromResultID(resultID),
			RentScenario: RentP50, DownPctBin: 0.20, RateBpsBin: 500, AmortMonths: 360,
		}); err == nil {
			sc := Score(row.Metrics)
			score = &sc
		}
	}

	s.bus.Publish(eventbus.NewEnvelope(&events.UnderwriteCompletedData{
		ID:       listingID,
		ResultID: resultID,
		Source:   events.SourceGrid,
		Score:    score,
	}, s.clock.Now()))

	s.log.Info().Str("listing_id", listingID).Str("result_id", resultID).Int("row_count", rowCount).Msg("underwrite_completed published (grid)")
}

// gridVersionFromResultID extracts the listingVersion embedded in a
// GridResultID ("grid:{listingId}:v{listingVersion}"); used only for the
// optional representative-score lookup.
func gridVersionFromResultID(resultID string) int64 {
	start := len(resultID)
	for start > 0 && resultID[start-1] >= '0' && resultID[start-1] <= '9' {
		start--
	}
	var n int64
	for _, c := range resultID[start:] {
		n = n*10 + int64(c-'0')
	}
	return n
}
