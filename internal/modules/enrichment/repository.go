package enrichment

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS enrichments (
	listing_id         TEXT PRIMARY KEY,
	listing_version    INTEGER NOT NULL,
	enrichment_version TEXT NOT NULL,
	geo                TEXT,
	taxes              TEXT,
	fees               TEXT,
	rent_priors        TEXT,
	location_scores    TEXT,
	cost_rules         TEXT,
	computed_at        TEXT NOT NULL
)`

// Reader is the bounded read-only interface other services (C5, C6, C8)
// depend on.
type Reader interface {
	GetByListingID(id string) (*Enrichment, error)
}

// Repository is the Enrichment versioned state store (C2).
type Repository struct {
	db *database.DB
}

// NewRepository opens/initializes the enrichments schema on db.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// GetByListingID returns an enrichment row or apperr.ErrNotFound.
func (r *Repository) GetByListingID(listingID string) (*Enrichment, error) {
	row := r.db.Conn.QueryRow(
		`SELECT listing_id, listing_version, enrichment_version, geo, taxes, fees,
		        rent_priors, location_scores, cost_rules, computed_at
		 FROM enrichments WHERE listing_id = ?`, listingID)
	e, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "enrichment.GetByListingID", "enrichment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "enrichment.GetByListingID", "query failed", err)
	}
	return e, nil
}

func scan(row *sql.Row) (*Enrichment, error) {
	var e Enrichment
	var geo, taxes, fees, rentPriors, locationScores, costRules sql.NullString
	var computedAt string

	if err := row.Scan(&e.ListingID, &e.ListingVersion, &e.EnrichmentVersion, &geo, &taxes, &fees,
		&rentPriors, &locationScores, &costRules, &computedAt); err != nil {
		return nil, err
	}
	e.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)

	if geo.Valid {
		e.Geo = &GeoInfo{}
		_ = json.Unmarshal([]byte(geo.String), e.Geo)
	}
	if taxes.Valid {
		e.Taxes = &TaxInfo{}
		_ = json.Unmarshal([]byte(taxes.String), e.Taxes)
	}
	if fees.Valid {
		e.Fees = &FeesInfo{}
		_ = json.Unmarshal([]byte(fees.String), e.Fees)
	}
	if rentPriors.Valid {
		e.RentPriors = &RentPriors{}
		_ = json.Unmarshal([]byte(rentPriors.String), e.RentPriors)
	}
	if locationScores.Valid {
		e.LocationScores = &LocationScores{}
		_ = json.Unmarshal([]byte(locationScores.String), e.LocationScores)
	}
	if costRules.Valid {
		e.CostRules = &CostRules{}
		_ = json.Unmarshal([]byte(costRules.String), e.CostRules)
	}
	return &e, nil
}

// UpsertResult reports whether the row changed and which financial
// sub-objects changed, per spec.md §4.4's data_enriched{enrichmentTypes[]}
// and the underwrite_requested trigger. ChangedTypes lists the sub-objects
// populated on next, not only the ones that differ from the stored row.
type UpsertResult struct {
	Enrichment   *Enrichment
	Changed      bool
	ChangedTypes []string
	GeoChanged   bool
	TaxChanged   bool
	FeesChanged  bool
	RentChanged  bool
}

// Upsert diff-writes next against the stored row for next.ListingID,
// reporting per-sub-object change flags the service uses to decide
// data_enriched/underwrite_requested.
func (r *Repository) Upsert(next *Enrichment) (*UpsertResult, error) {
	existing, err := r.GetByListingID(next.ListingID)
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	res := &UpsertResult{Enrichment: next}
	if existing == nil {
		res.Changed = true
		res.GeoChanged = next.Geo != nil
		res.TaxChanged = next.Taxes != nil
		res.FeesChanged = next.Fees != nil
		res.RentChanged = next.RentPriors != nil
		res.ChangedTypes = populatedTypes(next)
	} else {
		res.GeoChanged = !jsonEqual(existing.Geo, next.Geo)
		res.TaxChanged = !jsonEqual(existing.Taxes, next.Taxes)
		res.FeesChanged = !jsonEqual(existing.Fees, next.Fees)
		res.RentChanged = !jsonEqual(existing.RentPriors, next.RentPriors)
		locationChanged := !jsonEqual(existing.LocationScores, next.LocationScores)
		costChanged := !jsonEqual(existing.CostRules, next.CostRules)
		versionChanged := existing.ListingVersion != next.ListingVersion

		res.Changed = res.GeoChanged || res.TaxChanged || res.FeesChanged || res.RentChanged ||
			locationChanged || costChanged || versionChanged
		res.ChangedTypes = populatedTypes(next)
	}

	if !res.Changed {
		res.Enrichment = existing
		return res, nil
	}

	if err := r.write(next); err != nil {
		return nil, err
	}
	return res, nil
}

func populatedTypes(e *Enrichment) []string {
	var types []string
	if e.Geo != nil {
		types = append(types, TypeGeo)
	}
	if e.Taxes != nil {
		types = append(types, TypeTaxes)
	}
	if e.Fees != nil {
		types = append(types, TypeFees)
	}
	if e.RentPriors != nil {
		types = append(types, TypeRentPriors)
	}
	if e.LocationScores != nil {
		types = append(types, TypeLocationScores)
	}
	if e.CostRules != nil {
		types = append(types, TypeCostRules)
	}
	return types
}

func jsonEqual(a, b interface{}) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func (r *Repository) write(e *Enrichment) error {
	geo, err := nullableJSON(e.Geo)
	if err != nil {
		return err
	}
	taxes, err := nullableJSON(e.Taxes)
	if err != nil {
		return err
	}
	fees, err := nullableJSON(e.Fees)
	if err != nil {
		return err
	}
	rentPriors, err := nullableJSON(e.RentPriors)
	if err != nil {
		return err
	}
	locationScores, err := nullableJSON(e.LocationScores)
	if err != nil {
		return err
	}
	costRules, err := nullableJSON(e.CostRules)
	if err != nil {
		return err
	}

	_, err = r.db.Conn.Exec(
		`INSERT INTO enrichments (listing_id, listing_version, enrichment_version, geo, taxes, fees,
		                          rent_priors, location_scores, cost_rules, computed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(listing_id) DO UPDATE SET
		   listing_version=excluded.listing_version, enrichment_version=excluded.enrichment_version,
		   geo=excluded.geo, taxes=excluded.taxes, fees=excluded.fees, rent_priors=excluded.rent_priors,
		   location_scores=excluded.location_scores, cost_rules=excluded.cost_rules,
		   computed_at=excluded.computed_at`,
		e.ListingID, e.ListingVersion, e.EnrichmentVersion, geo, taxes, fees, rentPriors, locationScores,
		costRules, e.ComputedAt.Format(time.RFC3339),
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "enrichment.write", "upsert failed", err)
	}
	return nil
}

func nullableJSON(v interface{}) (interface{}, error) {
	if v == nil || isNilPointer(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isNilPointer(v interface{}) bool {
	switch p := v.(type) {
	case *GeoInfo:
		return p == nil
	case *TaxInfo:
		return p == nil
	case *FeesInfo:
		return p == nil
	case *RentPriors:
		return p == nil
	case *LocationScores:
		return p == nil
	case *CostRules:
		return p == nil
	}
	return false
}
