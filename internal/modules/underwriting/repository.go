package underwriting

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS grid_rows (
	listing_id      TEXT NOT NULL,
	listing_version INTEGER NOT NULL,
	rent_scenario   TEXT NOT NULL,
	down_pct_bin    REAL NOT NULL,
	rate_bps_bin    INTEGER NOT NULL,
	amort_months    INTEGER NOT NULL,
	metrics         TEXT NOT NULL,
	PRIMARY KEY (listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months)
);
CREATE TABLE IF NOT EXISTS exact_results (
	result_id        TEXT PRIMARY KEY,
	listing_id        TEXT NOT NULL,
	listing_version   INTEGER NOT NULL,
	assumptions_hash  TEXT NOT NULL,
	metrics           TEXT NOT NULL,
	UNIQUE (listing_id, listing_version, assumptions_hash)
)`

// Repository is the Underwriting Engine's versioned state store (C2):
// the grid and the exact-cache tables.
type Repository struct {
	db *database.DB
}

// NewRepository opens/initializes the underwriting schema on db.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// UpsertGridRows bulk-writes rows, keyed per spec.md §3's GridRow
// invariant: (key) is unique, rows with the same key are overwritten, not
// appended. Re-running with identical BaseInputs yields byte-identical
// Metrics (spec.md §8 invariant 4) since ComputeMetrics is pure.
func (r *Repository) UpsertGridRows(rows []GridRow) error {
	tx, err := r.db.Conn.Begin()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "underwriting.UpsertGridRows", "begin tx failed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO grid_rows (listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months, metrics)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months)
		 DO UPDATE SET metrics=excluded.metrics`)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "underwriting.UpsertGridRows", "prepare failed", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		metricsJSON, err := json.Marshal(row.Metrics)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(row.ListingID, row.ListingVersion, row.RentScenario, row.DownPctBin, row.RateBpsBin, row.AmortMonths, string(metricsJSON)); err != nil {
			return apperr.Wrap(apperr.Transient, "underwriting.UpsertGridRows", "upsert failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Transient, "underwriting.UpsertGridRows", "commit failed", err)
	}
	return nil
}

// GetGridRow returns one grid cell or apperr.ErrNotFound.
func (r *Repository) GetGridRow(key GridKey) (*GridRow, error) {
	row := r.db.Conn.QueryRow(
		`SELECT metrics FROM grid_rows
		 WHERE listing_id=? AND listing_version=? AND rent_scenario=? AND down_pct_bin=? AND rate_bps_bin=? AND amort_months=?`,
		key.ListingID, key.ListingVersion, key.RentScenario, key.DownPctBin, key.RateBpsBin, key.AmortMonths)

	var metricsJSON string
	if err := row.Scan(&metricsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "underwriting.GetGridRow", "grid row not found")
		}
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetGridRow", "query failed", err)
	}

	var metrics Metrics
	if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetGridRow", "decode failed", err)
	}
	return &GridRow{GridKey: key, Metrics: metrics}, nil
}

// GetGridRowsForVersion returns every grid row for (listingID, version),
// for the S3 archival exporter to serialize before deleting them locally.
func (r *Repository) GetGridRowsForVersion(listingID string, version int64) ([]GridRow, error) {
	rows, err := r.db.Conn.Query(
		`SELECT rent_scenario, down_pct_bin, rate_bps_bin, amort_months, metrics
		 FROM grid_rows WHERE listing_id = ? AND listing_version = ?`, listingID, version)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetGridRowsForVersion", "query failed", err)
	}
	defer rows.Close()

	var out []GridRow
	for rows.Next() {
		var gr GridRow
		var metricsJSON string
		if err := rows.Scan(&gr.RentScenario, &gr.DownPctBin, &gr.RateBpsBin, &gr.AmortMonths, &metricsJSON); err != nil {
			return nil, err
		}
		gr.ListingID = listingID
		gr.ListingVersion = version
		_ = json.Unmarshal([]byte(metricsJSON), &gr.Metrics)
		out = append(out, gr)
	}
	return out, rows.Err()
}

// GetExactResultByID returns one exact result by its assigned id, or
// apperr.ErrNotFound.
func (r *Repository) GetExactResultByID(resultID string) (*ExactResult, error) {
	row := r.db.Conn.QueryRow(
		`SELECT result_id, listing_id, listing_version, assumptions_hash, metrics FROM exact_results WHERE result_id = ?`, resultID)

	var er ExactResult
	var metricsJSON string
	if err := row.Scan(&er.ResultID, &er.ListingID, &er.ListingVersion, &er.AssumptionsHash, &metricsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "underwriting.GetExactResultByID", "exact result not found")
		}
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetExactResultByID", "query failed", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &er.Metrics); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetExactResultByID", "decode failed", err)
	}
	return &er, nil
}

// GetExactResultsOlderThan returns exact-result rows whose listing_version
// is strictly less than currentVersion, for the S3 archival exporter
// (SPEC_FULL.md §3 aws-sdk-go-v2 wiring) to ship off before local GC.
func (r *Repository) GetExactResultsOlderThan(listingID string, currentVersion int64) ([]ExactResult, error) {
	rows, err := r.db.Conn.Query(
		`SELECT result_id, listing_id, listing_version, assumptions_hash, metrics
		 FROM exact_results WHERE listing_id = ? AND listing_version < ?`, listingID, currentVersion)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetExactResultsOlderThan", "query failed", err)
	}
	defer rows.Close()

	var out []ExactResult
	for rows.Next() {
		var er ExactResult
		var metricsJSON string
		if err := rows.Scan(&er.ResultID, &er.ListingID, &er.ListingVersion, &er.AssumptionsHash, &metricsJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metricsJSON), &er.Metrics)
		out = append(out, er)
	}
	return out, rows.Err()
}

// GetSupersededGridListingVersions returns the distinct listing_version
// values in grid_rows for listingID that are below currentVersion, for the
// same archival pass.
func (r *Repository) GetSupersededGridListingVersions(listingID string, currentVersion int64) ([]int64, error) {
	rows, err := r.db.Conn.Query(
		`SELECT DISTINCT listing_version FROM grid_rows WHERE listing_id = ? AND listing_version < ?`,
		listingID, currentVersion)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "underwriting.GetSupersededGridListingVersions", "query failed", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteExactResults removes archived exact-result rows after a successful
// upload, by result id.
func (r *Repository) DeleteExactResults(resultIDs []string) error {
	for _, id := range resultIDs {
		if _, err := r.db.Conn.Exec(`DELETE FROM exact_results WHERE result_id = ?`, id); err != nil {
			return apperr.Wrap(apperr.Transient, "underwriting.DeleteExactResults", "delete failed", err)
		}
	}
	return nil
}

// DeleteGridRows removes archived grid rows for (listingID, version) after
// a successful upload.
func (r *Repository) DeleteGridRows(listingID string, version int64) error {
	_, err := r.db.Conn.Exec(`DELETE FROM grid_rows WHERE listing_id = ? AND listing_version = ?`, listingID, version)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "underwriting.DeleteGridRows", "delete failed", err)
	}
	return nil
}

// GetOrCreateExactResult implements spec.md §4.6.3's idempotent insert:
// INSERT ... ON CONFLICT DO NOTHING, then always SELECT by the unique key
// so a race between concurrent identical requests converges on one row
// (spec.md §5 "the canonical recipe").
func (r *Repository) GetOrCreateExactResult(listingID string, listingVersion int64, hash string, metrics Metrics) (ExactResultOutcome, error) {
	const op = "underwriting.GetOrCreateExactResult"

	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return ExactResultOutcome{}, err
	}
	newID := uuid.NewString()

	_, err = r.db.Conn.Exec(
		`INSERT INTO exact_results (result_id, listing_id, listing_version, assumptions_hash, metrics)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(listing_id, listing_version, assumptions_hash) DO NOTHING`,
		newID, listingID, listingVersion, hash, string(metricsJSON))
	if err != nil {
		return ExactResultOutcome{}, apperr.Wrap(apperr.Transient, op, "insert failed", err)
	}

	row := r.db.Conn.QueryRow(
		`SELECT result_id, metrics FROM exact_results WHERE listing_id=? AND listing_version=? AND assumptions_hash=?`,
		listingID, listingVersion, hash)

	var id, storedMetricsJSON string
	if err := row.Scan(&id, &storedMetricsJSON); err != nil {
		return ExactResultOutcome{}, apperr.Wrap(apperr.Transient, op, "select-after-insert failed", err)
	}

	var stored Metrics
	if err := json.Unmarshal([]byte(storedMetricsJSON), &stored); err != nil {
		return ExactResultOutcome{}, apperr.Wrap(apperr.Transient, op, "decode failed", err)
	}

	return ExactResultOutcome{ResultID: id, Metrics: stored, FromCache: id != newID}, nil
}
