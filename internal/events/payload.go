// Package events defines the fixed topics and payload shapes of spec.md §6.
// Every payload type implements EventData so the bus can carry them behind
// a single interface while handlers still get compile-time typed access,
// mirroring aristath-sentinel/internal/events/event_data.go's
// EventData/EventType convention.
package events

// Topic identifies one of the five fixed event topics.
type Topic string

const (
	TopicListingChanged      Topic = "listing_changed"
	TopicDataEnriched        Topic = "data_enriched"
	TopicUnderwriteRequested Topic = "underwrite_requested"
	TopicUnderwriteCompleted Topic = "underwrite_completed"
	TopicAlertFired          Topic = "alert_fired"
)

// EventData is implemented by every typed payload so handlers can recover
// their concrete type from the envelope's Data field.
type EventData interface {
	Topic() Topic
}

// ChangeKind enumerates ListingChangedData.Change.
type ChangeKind string

const (
	ChangeCreate       ChangeKind = "create"
	ChangeUpdate       ChangeKind = "update"
	ChangeStatusChange ChangeKind = "status_change"
)

// DirtyField enumerates the semantic fields a listing_changed event may
// flag as changed (spec.md §3).
type DirtyField string

const (
	DirtyPrice   DirtyField = "price"
	DirtyStatus  DirtyField = "status"
	DirtyFees    DirtyField = "fees"
	DirtyTax     DirtyField = "tax"
	DirtyMedia   DirtyField = "media"
	DirtyAddress DirtyField = "address"
)

// HasDirty reports whether fields contains target.
func HasDirty(fields []DirtyField, target DirtyField) bool {
	for _, f := range fields {
		if f == target {
			return true
		}
	}
	return false
}

// HasAnyDirty reports whether fields intersects targets.
func HasAnyDirty(fields []DirtyField, targets ...DirtyField) bool {
	for _, t := range targets {
		if HasDirty(fields, t) {
			return true
		}
	}
	return false
}

// ListingChangedData is the listing_changed payload.
type ListingChangedData struct {
	ID        string       `json:"id"`
	UpdatedAt string       `json:"updatedAt"`
	Change    ChangeKind   `json:"change"`
	Source    string       `json:"source"`
	Dirty     []DirtyField `json:"dirty"`
}

func (d *ListingChangedData) Topic() Topic { return TopicListingChanged }

// DataEnrichedData is the data_enriched payload.
type DataEnrichedData struct {
	ID              string   `json:"id"`
	EnrichmentTypes []string `json:"enrichmentTypes"`
	UpdatedAt       string   `json:"updatedAt"`
}

func (d *DataEnrichedData) Topic() Topic { return TopicDataEnriched }

// UnderwriteRequestedData is the underwrite_requested payload.
type UnderwriteRequestedData struct {
	ID            string  `json:"id"`
	AssumptionsID *string `json:"assumptionsId,omitempty"`
}

func (d *UnderwriteRequestedData) Topic() Topic { return TopicUnderwriteRequested }

// ResultSource enumerates UnderwriteCompletedData.Source.
type ResultSource string

const (
	SourceGrid  ResultSource = "grid"
	SourceExact ResultSource = "exact"
)

// UnderwriteCompletedData is the underwrite_completed payload.
type UnderwriteCompletedData struct {
	ID       string       `json:"id"`
	ResultID string       `json:"resultId"`
	Source   ResultSource `json:"source"`
	Score    *float64     `json:"score,omitempty"`
}

func (d *UnderwriteCompletedData) Topic() Topic { return TopicUnderwriteCompleted }

// AlertFiredData is the alert_fired payload, emitted once per dispatched
// channel.
type AlertFiredData struct {
	UserID    string `json:"userId"`
	ListingID string `json:"listingId"`
	ResultID  string `json:"resultId"`
	Channel   string `json:"channel"`
}

func (d *AlertFiredData) Topic() Topic { return TopicAlertFired }
