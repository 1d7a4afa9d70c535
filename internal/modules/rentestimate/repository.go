package rentestimate

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS rent_estimates (
	listing_id        TEXT PRIMARY KEY,
	listing_version   INTEGER NOT NULL,
	estimator_version TEXT NOT NULL,
	method            TEXT NOT NULL,
	p25               REAL,
	p50               REAL NOT NULL,
	p75               REAL,
	std_dev           REAL,
	features_used     TEXT NOT NULL,
	computed_at       TEXT NOT NULL
)`

// defaultMaterialChangePct is the default threshold spec.md §4.5 names; the
// Service overrides it from config.
const defaultMaterialChangePct = 0.03

// Reader is the bounded read-only interface other services (C6, C8)
// depend on.
type Reader interface {
	GetByListingID(id string) (*RentEstimate, error)
}

// Repository is the RentEstimate versioned state store (C2).
type Repository struct {
	db *database.DB
}

// NewRepository opens/initializes the rent_estimates schema on db.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// GetByListingID returns a rent estimate or apperr.ErrNotFound.
func (r *Repository) GetByListingID(listingID string) (*RentEstimate, error) {
	row := r.db.Conn.QueryRow(
		`SELECT listing_id, listing_version, estimator_version, method, p25, p50, p75, std_dev,
		        features_used, computed_at
		 FROM rent_estimates WHERE listing_id = ?`, listingID)
	re, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "rentestimate.GetByListingID", "rent estimate not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "rentestimate.GetByListingID", "query failed", err)
	}
	return re, nil
}

func scan(row *sql.Row) (*RentEstimate, error) {
	var re RentEstimate
	var p25, p75, stdDev sql.NullFloat64
	var featuresJSON, computedAt string

	if err := row.Scan(&re.ListingID, &re.ListingVersion, &re.EstimatorVersion, &re.Method, &p25, &re.P50,
		&p75, &stdDev, &featuresJSON, &computedAt); err != nil {
		return nil, err
	}
	if p25.Valid {
		re.P25 = &p25.Float64
	}
	if p75.Valid {
		re.P75 = &p75.Float64
	}
	if stdDev.Valid {
		re.StdDev = &stdDev.Float64
	}
	_ = json.Unmarshal([]byte(featuresJSON), &re.FeaturesUsed)
	re.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)
	return &re, nil
}

// UpsertResult reports whether next was written and whether it counts as a
// material change per spec.md §4.5.
type UpsertResult struct {
	RentEstimate     *RentEstimate
	Written          bool
	MateriallyChanged bool
}

// Upsert writes next only when it differs from the stored row in anything
// but ComputedAt, and reports whether the change crosses the
// material-change threshold: |new.p50 - old.p50| / max(old.p50, 1) >=
// materialChangePct, or the method changed.
func (r *Repository) Upsert(next *RentEstimate, materialChangePct float64) (*UpsertResult, error) {
	if materialChangePct <= 0 {
		materialChangePct = defaultMaterialChangePct
	}

	existing, err := r.GetByListingID(next.ListingID)
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	res := &UpsertResult{RentEstimate: next, Written: true}
	if existing == nil {
		res.MateriallyChanged = true
	} else {
		methodChanged := existing.Method != next.Method
		denom := math.Max(existing.P50, 1)
		pctMove := math.Abs(next.P50-existing.P50) / denom
		res.MateriallyChanged = methodChanged || pctMove >= materialChangePct

		prev, cur := *existing, *next
		prev.ComputedAt, cur.ComputedAt = time.Time{}, time.Time{}
		prevJSON, perr := json.Marshal(prev)
		curJSON, cerr := json.Marshal(cur)
		if perr == nil && cerr == nil && string(prevJSON) == string(curJSON) {
			res.Written = false
			return res, nil
		}
	}

	if err := r.write(next); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repository) write(re *RentEstimate) error {
	featuresJSON, err := json.Marshal(re.FeaturesUsed)
	if err != nil {
		return err
	}

	_, err = r.db.Conn.Exec(
		`INSERT INTO rent_estimates (listing_id, listing_version, estimator_version, method, p25, p50,
		                              p75, std_dev, features_used, computed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(listing_id) DO UPDATE SET
		   listing_version=excluded.listing_version, estimator_version=excluded.estimator_version,
		   method=excluded.method, p25=excluded.p25, p50=excluded.p50, p75=excluded.p75,
		   std_dev=excluded.std_dev, features_used=excluded.features_used, computed_at=excluded.computed_at`,
		re.ListingID, re.ListingVersion, re.EstimatorVersion, re.Method, re.P25, re.P50, re.P75, re.StdDev,
		string(featuresJSON), re.ComputedAt.Format(time.RFC3339),
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rentestimate.write", "upsert failed", err)
	}
	return nil
}
