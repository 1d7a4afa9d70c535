package alerts

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS saved_searches (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	filter      TEXT NOT NULL,
	thresholds  TEXT NOT NULL,
	notify      TEXT NOT NULL,
	is_active   INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saved_searches_active ON saved_searches(is_active);
CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	saved_search_id TEXT NOT NULL,
	listing_id      TEXT NOT NULL,
	result_id       TEXT NOT NULL,
	payload         TEXT NOT NULL,
	delivery        TEXT NOT NULL,
	triggered_at    TEXT NOT NULL,
	UNIQUE (user_id, listing_id, result_id)
)`

// Repository is the SavedSearch/Alert versioned state store (C2).
type Repository struct {
	db *database.DB
}

// NewRepository opens/initializes the alerts schema on db.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// SaveSavedSearch inserts a SavedSearch or, for an existing id, replaces its
// name, filter, thresholds, notify and isActive while the stored userId and
// createdAt are kept (SPEC_FULL.md §4's "Saved-search CRUD persistence");
// filter/thresholds/notify are
// stored as JSON columns, matching the teacher's JSON-blob sub-object
// columns in universe/security_repository.go.
func (r *Repository) SaveSavedSearch(s SavedSearch) (SavedSearch, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	filterJSON, err := json.Marshal(s.Filter)
	if err != nil {
		return SavedSearch{}, err
	}
	thresholdsJSON, err := json.Marshal(s.Thresholds)
	if err != nil {
		return SavedSearch{}, err
	}
	notifyJSON, err := json.Marshal(s.Notify)
	if err != nil {
		return SavedSearch{}, err
	}

	_, err = r.db.Conn.Exec(
		`INSERT INTO saved_searches (id, user_id, name, filter, thresholds, notify, is_active, created_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, filter=excluded.filter, thresholds=excluded.thresholds,
		   notify=excluded.notify, is_active=excluded.is_active`,
		s.ID, s.UserID, s.Name, string(filterJSON), string(thresholdsJSON), string(notifyJSON), s.IsActive, s.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return SavedSearch{}, apperr.Wrap(apperr.Transient, "alerts.SaveSavedSearch", "upsert failed", err)
	}
	return s, nil
}

// GetSavedSearch returns one saved search or apperr.ErrNotFound.
func (r *Repository) GetSavedSearch(id string) (*SavedSearch, error) {
	row := r.db.Conn.QueryRow(
		`SELECT id, user_id, name, filter, thresholds, notify, is_active, created_at FROM saved_searches WHERE id = ?`, id)
	s, err := scanSavedSearch(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "alerts.GetSavedSearch", "saved search not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "alerts.GetSavedSearch", "query failed", err)
	}
	return s, nil
}

// DeleteSavedSearch removes a saved search by id.
func (r *Repository) DeleteSavedSearch(id string) error {
	if _, err := r.db.Conn.Exec(`DELETE FROM saved_searches WHERE id = ?`, id); err != nil {
		return apperr.Wrap(apperr.Transient, "alerts.DeleteSavedSearch", "delete failed", err)
	}
	return nil
}

// ActiveSearches returns every saved search with isActive=true, for the
// matcher to evaluate on each underwrite_completed.
func (r *Repository) ActiveSearches() ([]SavedSearch, error) {
	rows, err := r.db.Conn.Query(
		`SELECT id, user_id, name, filter, thresholds, notify, is_active, created_at FROM saved_searches WHERE is_active = 1`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "alerts.ActiveSearches", "query failed", err)
	}
	defer rows.Close()

	var out []SavedSearch
	for rows.Next() {
		s, err := scanSavedSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListAlertsForUser returns every alert recorded for userID, most recent
// first, for the GET /api/v1/alerts gateway route.
func (r *Repository) ListAlertsForUser(userID string) ([]Alert, error) {
	rows, err := r.db.Conn.Query(
		`SELECT id, user_id, saved_search_id, listing_id, result_id, payload, delivery, triggered_at
		 FROM alerts WHERE user_id = ? ORDER BY triggered_at DESC`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "alerts.ListAlertsForUser", "query failed", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAlertsForUserAndListing returns userID's alerts for one listing, most
// recent first, for the gateway's composed property-detail route (spec.md
// §4.8 "recent alerts for the user").
func (r *Repository) ListAlertsForUserAndListing(userID, listingID string) ([]Alert, error) {
	rows, err := r.db.Conn.Query(
		`SELECT id, user_id, saved_search_id, listing_id, result_id, payload, delivery, triggered_at
		 FROM alerts WHERE user_id = ? AND listing_id = ? ORDER BY triggered_at DESC`, userID, listingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "alerts.ListAlertsForUserAndListing", "query failed", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSavedSearch(row scanner) (*SavedSearch, error) {
	var s SavedSearch
	var filterJSON, thresholdsJSON, notifyJSON, createdAt string
	var active int
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &filterJSON, &thresholdsJSON, &notifyJSON, &active, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filterJSON), &s.Filter); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &s.Thresholds); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(notifyJSON), &s.Notify); err != nil {
		return nil, err
	}
	s.IsActive = active != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = t
	return &s, nil
}

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var payloadJSON, deliveryJSON, triggeredAt string
	if err := row.Scan(&a.ID, &a.UserID, &a.SavedSearchID, &a.ListingID, &a.ResultID, &payloadJSON, &deliveryJSON, &triggeredAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deliveryJSON), &a.Delivery); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, triggeredAt)
	if err != nil {
		return nil, err
	}
	a.TriggeredAt = t
	return &a, nil
}

// UpsertAlert implements spec.md §3's alert-uniqueness invariant: at most
// one Alert per (userId, listingId, resultId). A second match against the
// same result re-reads and returns the existing row rather than firing a
// duplicate (spec.md §8 invariant 7), matching the idempotent-insert
// recipe Underwriting's exact cache already uses.
func (r *Repository) UpsertAlert(a Alert) (Alert, bool, error) {
	const op = "alerts.UpsertAlert"

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return Alert{}, false, err
	}
	deliveryJSON, err := json.Marshal(a.Delivery)
	if err != nil {
		return Alert{}, false, err
	}

	res, err := r.db.Conn.Exec(
		`INSERT INTO alerts (id, user_id, saved_search_id, listing_id, result_id, payload, delivery, triggered_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, listing_id, result_id) DO NOTHING`,
		a.ID, a.UserID, a.SavedSearchID, a.ListingID, a.ResultID, string(payloadJSON), string(deliveryJSON), a.TriggeredAt.Format(time.RFC3339))
	if err != nil {
		return Alert{}, false, apperr.Wrap(apperr.Transient, op, "insert failed", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Alert{}, false, apperr.Wrap(apperr.Transient, op, "rows affected failed", err)
	}

	row := r.db.Conn.QueryRow(
		`SELECT id, user_id, saved_search_id, listing_id, result_id, payload, delivery, triggered_at
		 FROM alerts WHERE user_id=? AND listing_id=? AND result_id=?`,
		a.UserID, a.ListingID, a.ResultID)
	existing, err := scanAlert(row)
	if err != nil {
		return Alert{}, false, apperr.Wrap(apperr.Transient, op, "select-after-insert failed", err)
	}

	return *existing, affected > 0, nil
}

// UpdateDeliveryState rewrites the delivery slice for an alert, for the
// dispatcher to record per-channel outcomes (spec.md §4.7 "Dispatch
// failures are recorded on the Alert's per-channel state").
func (r *Repository) UpdateDeliveryState(alertID string, delivery []DeliveryState) error {
	deliveryJSON, err := json.Marshal(delivery)
	if err != nil {
		return err
	}
	if _, err := r.db.Conn.Exec(`UPDATE alerts SET delivery = ? WHERE id = ?`, string(deliveryJSON), alertID); err != nil {
		return apperr.Wrap(apperr.Transient, "alerts.UpdateDeliveryState", "update failed", err)
	}
	return nil
}
