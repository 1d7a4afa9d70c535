package underwriting

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const assumptionsSchema = `
CREATE TABLE IF NOT EXISTS named_assumptions (
	id         TEXT PRIMARY KEY,
	assumptions TEXT NOT NULL
)`

// AssumptionsStore persists named Assumptions sets (spec.md §3 "may be
// persisted as a named set, stored with a uuid"), so underwrite_requested
// events carrying an assumptionsId can be resolved by C6's handler
// (spec.md §4.6.4).
type AssumptionsStore struct {
	db *database.DB
}

// NewAssumptionsStore opens/initializes the named_assumptions schema on db.
func NewAssumptionsStore(db *database.DB) (*AssumptionsStore, error) {
	if err := db.Exec(assumptionsSchema); err != nil {
		return nil, err
	}
	return &AssumptionsStore{db: db}, nil
}

// Save persists assumptions under a freshly assigned uuid and returns it.
func (s *AssumptionsStore) Save(assumptions Assumptions) (string, error) {
	if err := assumptions.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	b, err := json.Marshal(assumptions)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Conn.Exec(`INSERT INTO named_assumptions (id, assumptions) VALUES (?, ?)`, id, string(b)); err != nil {
		return "", apperr.Wrap(apperr.Transient, "underwriting.AssumptionsStore.Save", "insert failed", err)
	}
	return id, nil
}

// Get resolves a named assumptions set or apperr.ErrNotFound.
func (s *AssumptionsStore) Get(id string) (Assumptions, error) {
	row := s.db.Conn.QueryRow(`SELECT assumptions FROM named_assumptions WHERE id = ?`, id)
	var assumptionsJSON string
	if err := row.Scan(&assumptionsJSON); err != nil {
		if err == sql.ErrNoRows {
			return Assumptions{}, apperr.New(apperr.NotFound, "underwriting.AssumptionsStore.Get", "assumptions not found")
		}
		return Assumptions{}, apperr.Wrap(apperr.Transient, "underwriting.AssumptionsStore.Get", "query failed", err)
	}
	var a Assumptions
	if err := json.Unmarshal([]byte(assumptionsJSON), &a); err != nil {
		return Assumptions{}, apperr.Wrap(apperr.Transient, "underwriting.AssumptionsStore.Get", "decode failed", err)
	}
	return a, nil
}
