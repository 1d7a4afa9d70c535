package eventbus

import (
	"time"

	"github.com/google/uuid"
	"github.com/propyield/platform/internal/events"
)

// Envelope is the fixed shape every event carries regardless of topic:
// type, a unique id, a timestamp, a payload schema version, and typed data
// (spec.md §4.1 "Event envelope").
type Envelope struct {
	Type      events.Topic     `json:"type"`
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Version   int              `json:"version"`
	Data      events.EventData `json:"data"`
}

// NewEnvelope stamps data with a fresh id and the current time.
func NewEnvelope(data events.EventData, now time.Time) *Envelope {
	return &Envelope{
		Type:      data.Topic(),
		ID:        uuid.NewString(),
		Timestamp: now,
		Version:   1,
		Data:      data,
	}
}

// SubscriptionState mirrors spec.md §4.1's subscription lifecycle.
type SubscriptionState string

const (
	StateStarting SubscriptionState = "starting"
	StateRunning  SubscriptionState = "running"
	StateDraining SubscriptionState = "draining"
	StateClosed   SubscriptionState = "closed"
)

// Handler processes one envelope. A returned error with apperr.Transient
// kind triggers a bounded retry; NotFound/InvalidInput/Conflict/Fatal are
// logged and dropped; untyped errors default to Transient (retried).
type Handler func(env *Envelope) error

// SubscribeOptions configures a single subscription.
type SubscribeOptions struct {
	// Workers is the number of concurrent per-key-ordered workers for this
	// subscription. Envelopes for the same EntityKey always land on the
	// same worker, so a given entity's events are processed in publish
	// order (spec.md §5 "Ordering guarantees").
	Workers int
	// EntityKey extracts the per-entity ordering key from an envelope's
	// data (e.g. listing id). A nil EntityKey, or an empty key, disables
	// key-based routing: such envelopes all go to the first worker.
	EntityKey func(events.EventData) string
	// MaxRetries overrides the bus default for this subscription.
	MaxRetries int
}
