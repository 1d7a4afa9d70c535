// Package listings owns the Listing state store and the Ingestor (C3):
// polling an upstream feed, diff-upserting normalized listings, and
// emitting listing_changed. Grounded on aristath-sentinel's
// internal/modules/universe/security_repository.go (column-list SELECT,
// ISIN-style identifier normalization) and internal/modules/universe/
// sync_service_test.go (poll-then-diff-upsert test shape).
package listings

import "time"

// Status enumerates spec.md §3's listing lifecycle states.
type Status string

const (
	StatusActive    Status = "Active"
	StatusSold      Status = "Sold"
	StatusSuspended Status = "Suspended"
	StatusExpired   Status = "Expired"
	StatusDeleted   Status = "Deleted"
)

// PropertyType enumerates spec.md §3's property types.
type PropertyType string

const (
	PropertyCondo     PropertyType = "Condo"
	PropertyHouse     PropertyType = "House"
	PropertyTownhouse PropertyType = "Townhouse"
)

// Address is a listing's physical location.
type Address struct {
	Street     string   `json:"street"`
	City       string   `json:"city"`
	Province   string   `json:"province"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// Equal compares two addresses by value; Lat/Lng are compared by pointee
// value rather than pointer identity since each poll cycle produces a
// freshly allocated Address.
func (a Address) Equal(b Address) bool {
	return a.Street == b.Street &&
		a.City == b.City &&
		a.Province == b.Province &&
		a.PostalCode == b.PostalCode &&
		a.Country == b.Country &&
		floatPtrEqual(a.Lat, b.Lat) &&
		floatPtrEqual(a.Lng, b.Lng)
}

func floatPtrEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// Media holds listing photo references.
type Media struct {
	Photos []string `json:"photos,omitempty"`
}

// Listing is spec.md §3's core entity. (id, updatedAt) is monotonic per
// id; listings are never deleted in place, only transitioned to
// Deleted/Expired.
type Listing struct {
	ID               string       `json:"id"`
	MLSNumber        string       `json:"mlsNumber"`
	Source           string       `json:"source"`
	Status           Status       `json:"status"`
	ListedAt         time.Time    `json:"listedAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	Address          Address      `json:"address"`
	PropertyType     PropertyType `json:"propertyType"`
	Beds             int          `json:"beds"`
	Baths            float64      `json:"baths"`
	SqFt             *int         `json:"sqft,omitempty"`
	ListPrice        float64      `json:"listPrice"`
	TaxesAnnual      *float64     `json:"taxesAnnual,omitempty"`
	CondoFeeMonthly  *float64     `json:"condoFeeMonthly,omitempty"`
	Media            Media        `json:"media"`
	Brokerage        string       `json:"brokerage,omitempty"`
	ListingVersion   int64        `json:"listingVersion"`
}

// FeedItem is the normalized shape produced by FeedClient.FetchUpdatedSince
// before it becomes a Listing (spec.md §4.3 "normalize each item").
type FeedItem struct {
	ID              string
	MLSNumber       string
	Source          string
	Status          Status
	ListedAt        time.Time
	UpdatedAt       time.Time
	Address         Address
	PropertyType    PropertyType
	Beds            int
	Baths           float64
	SqFt            *int
	ListPrice       float64
	TaxesAnnual     *float64
	CondoFeeMonthly *float64
	Media           Media
	Brokerage       string
}
