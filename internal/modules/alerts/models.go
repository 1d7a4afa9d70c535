// Package alerts owns the SavedSearch/Alert state store and the Alerts
// Matcher (C7): on underwrite_completed, evaluate every active saved
// search's filter and numeric thresholds against the referenced listing
// and Metrics, upsert a per-(user,listing,result) Alert, and dispatch to
// each requested channel. Grounded on aristath-sentinel's
// internal/modules/universe/security_repository.go (JSON-blob columns for
// tag-like sub-objects) and internal/clients/tradernet/websocket_client.go
// (connection-hub push delivery, adapted server-side here).
package alerts

import "time"

// Channel enumerates SavedSearch.Notify.Channels.
type Channel string

const (
	ChannelDevBrowser Channel = "devbrowser"
	ChannelEmail      Channel = "email"
	ChannelSMS        Channel = "sms"
	ChannelSlack      Channel = "slack"
)

// Filter is SavedSearch's listing-attribute match criteria; nil/zero
// fields are not applied (spec.md §4.7 "all present filter fields must
// match").
type Filter struct {
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	PropertyType string `json:"propertyType,omitempty"`
	MinBeds      *int   `json:"minBeds,omitempty"`
	MaxBeds      *int   `json:"maxBeds,omitempty"`
	MinPrice     *float64 `json:"minPrice,omitempty"`
	MaxPrice     *float64 `json:"maxPrice,omitempty"`
}

// Thresholds is SavedSearch's numeric underwriting-metric gate.
type Thresholds struct {
	MinDSCR              *float64 `json:"minDSCR,omitempty"`
	MinCoC               *float64 `json:"minCoC,omitempty"`
	MinCapRate           *float64 `json:"minCapRate,omitempty"`
	MinScore             *float64 `json:"minScore,omitempty"`
	RequireNonNegativeCF bool     `json:"requireNonNegativeCF,omitempty"`
}

// Notify names the channels a matched search dispatches to.
type Notify struct {
	Channels []Channel `json:"channels"`
}

// SavedSearch is spec.md §3's saved-search entity.
type SavedSearch struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Name       string     `json:"name"`
	Filter     Filter     `json:"filter"`
	Thresholds Thresholds `json:"thresholds"`
	Notify     Notify     `json:"notify"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ListingSnapshot is the bounded subset of a Listing the matcher filters
// on, composed by the Service from listings.Reader rather than imported
// directly (spec.md §4.2 "bounded read-only interfaces").
type ListingSnapshot struct {
	City         string  `json:"city"`
	Province     string  `json:"province"`
	PropertyType string  `json:"propertyType"`
	Beds         int     `json:"beds"`
	Baths        float64 `json:"baths"`
	Price        float64 `json:"price"`
}

// MetricsSnapshot is the bounded subset of underwriting.Metrics the
// matcher thresholds against.
type MetricsSnapshot struct {
	DSCR           float64  `json:"dscr"`
	CashOnCashPct  float64  `json:"cashOnCashPct"`
	CapRatePct     float64  `json:"capRatePct"`
	CashFlowAnnual float64  `json:"cashFlowAnnual"`
	Score          *float64 `json:"score,omitempty"`
}

// DeliveryState tracks one channel's dispatch outcome (spec.md §4.7
// "Dispatch failures are recorded on the Alert's per-channel state").
type DeliveryState struct {
	Channel   Channel `json:"channel"`
	State     string  `json:"state"` // pending, sent, failed
	LastError string  `json:"lastError,omitempty"`
}

// AlertPayload is the evidence attached to an Alert for user-visible
// explanation (spec.md §3 "payload{snapshot, metrics, score?, matched[]}").
type AlertPayload struct {
	Snapshot     ListingSnapshot `json:"snapshot"`
	Metrics      MetricsSnapshot `json:"metrics"`
	Score        *float64        `json:"score,omitempty"`
	Matched      []string        `json:"matched"`
	StaleVersion bool            `json:"staleVersion,omitempty"`
}

// Alert is spec.md §3's alert entity. Invariant: at most one Alert per
// (userId, listingId, resultId).
type Alert struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	SavedSearchID string          `json:"savedSearchId"`
	ListingID     string          `json:"listingId"`
	ResultID      string          `json:"resultId"`
	Payload       AlertPayload    `json:"payload"`
	Delivery      []DeliveryState `json:"delivery"`
	TriggeredAt   time.Time       `json:"triggeredAt"`
}
