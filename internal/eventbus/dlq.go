package eventbus

import (
	"time"

	"github.com/propyield/platform/internal/database"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// deadLetterSchema creates the table a Bus parks exhausted-retry envelopes
// into. One DLQ table is shared by every topic/consumer-group pair in a
// service's database.
const deadLetterSchema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	topic           TEXT NOT NULL,
	consumer_group  TEXT NOT NULL,
	envelope_id     TEXT NOT NULL,
	envelope        BLOB NOT NULL,
	last_error      TEXT NOT NULL,
	retries         INTEGER NOT NULL,
	parked_at       TEXT NOT NULL
)`

// DeadLetterStore persists envelopes that exhausted their retry budget.
// Envelopes are encoded with msgpack (a compact binary codec) for storage;
// JSON remains the wire format for the HTTP API and event payloads proper
// (SPEC_FULL.md §3).
type DeadLetterStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDeadLetterStore opens/initializes the dead_letters table on db.
func NewDeadLetterStore(db *database.DB, log zerolog.Logger) (*DeadLetterStore, error) {
	if err := db.Exec(deadLetterSchema); err != nil {
		return nil, err
	}
	return &DeadLetterStore{db: db, log: log.With().Str("component", "dead_letter_store").Logger()}, nil
}

// Park persists env after its consumer group exhausted retries.
func (s *DeadLetterStore) Park(topic, group string, env *Envelope, retries int, lastErr error, now time.Time) error {
	blob, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.Conn.Exec(
		`INSERT INTO dead_letters (topic, consumer_group, envelope_id, envelope, last_error, retries, parked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		topic, group, env.ID, blob, lastErr.Error(), retries, now.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	s.log.Warn().
		Str("topic", topic).
		Str("consumer_group", group).
		Str("envelope_id", env.ID).
		Int("retries", retries).
		Err(lastErr).
		Msg("envelope parked to dead letter queue")
	return nil
}

// ParkedEnvelope is a dead_letters row surfaced for inspection.
type ParkedEnvelope struct {
	ID            int64     `json:"id"`
	Topic         string    `json:"topic"`
	ConsumerGroup string    `json:"consumerGroup"`
	EnvelopeID    string    `json:"envelopeId"`
	LastError     string    `json:"lastError"`
	Retries       int       `json:"retries"`
	ParkedAt      time.Time `json:"parkedAt"`
}

// List returns parked envelopes, newest first, for the admin inspection
// route (SPEC_FULL.md §4 "Dead-letter inspection").
func (s *DeadLetterStore) List(limit int) ([]ParkedEnvelope, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Conn.Query(
		`SELECT id, topic, consumer_group, envelope_id, last_error, retries, parked_at
		 FROM dead_letters ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParkedEnvelope
	for rows.Next() {
		var p ParkedEnvelope
		var parkedAt string
		if err := rows.Scan(&p.ID, &p.Topic, &p.ConsumerGroup, &p.EnvelopeID, &p.LastError, &p.Retries, &parkedAt); err != nil {
			return nil, err
		}
		p.ParkedAt, _ = time.Parse(time.RFC3339, parkedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
