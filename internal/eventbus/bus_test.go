package eventbus

import (
	"testing"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/testingdb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	return New(Config{
		Clock:          clock.Real{},
		MaxRetries:     2,
		HandlerTimeout: time.Second,
		DrainTimeout:   time.Second,
	}, zerolog.Nop())
}

func TestBus_PublishSubscribe_DeliversToHandler(t *testing.T) {
	bus := newTestBus(t)
	received := make(chan *Envelope, 1)

	bus.Subscribe(events.TopicListingChanged, "test_group", func(env *Envelope) error {
		received <- env
		return nil
	}, SubscribeOptions{})

	env := NewEnvelope(&events.ListingChangedData{ID: "listing-1", Change: events.ChangeCreate}, time.Now())
	bus.Publish(env)

	select {
	case got := <-received:
		assert.Equal(t, "listing-1", got.Data.(*events.ListingChangedData).ID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBus_FanOut_EachConsumerGroupReceivesIndependently(t *testing.T) {
	bus := newTestBus(t)
	groupA := make(chan *Envelope, 1)
	groupB := make(chan *Envelope, 1)

	bus.Subscribe(events.TopicDataEnriched, "group_a", func(env *Envelope) error {
		groupA <- env
		return nil
	}, SubscribeOptions{})
	bus.Subscribe(events.TopicDataEnriched, "group_b", func(env *Envelope) error {
		groupB <- env
		return nil
	}, SubscribeOptions{})

	bus.Publish(NewEnvelope(&events.DataEnrichedData{ID: "listing-2"}, time.Now()))

	for _, ch := range []chan *Envelope{groupA, groupB} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("one consumer group did not receive the envelope")
		}
	}
}

func TestBus_EntityKey_OrdersPerKey(t *testing.T) {
	bus := newTestBus(t)
	var seq []int
	done := make(chan struct{})

	bus.Subscribe(events.TopicListingChanged, "ordering_group", func(env *Envelope) error {
		data := env.Data.(*events.ListingChangedData)
		seq = append(seq, len(data.Dirty))
		if len(seq) == 5 {
			close(done)
		}
		return nil
	}, SubscribeOptions{
		Workers:   3,
		EntityKey: func(d events.EventData) string { return d.(*events.ListingChangedData).ID },
	})

	for i := 1; i <= 5; i++ {
		bus.Publish(NewEnvelope(&events.ListingChangedData{
			ID:    "same-listing",
			Dirty: make([]events.DirtyField, i),
		}, time.Now()))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all envelopes delivered")
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seq, "same-key envelopes must be processed in publish order")
}

func TestBus_TransientError_Retries(t *testing.T) {
	bus := newTestBus(t)
	var attempts int
	done := make(chan struct{})

	bus.Subscribe(events.TopicAlertFired, "retry_group", func(env *Envelope) error {
		attempts++
		if attempts < 2 {
			return apperr.New(apperr.Transient, "test.handler", "simulated transient failure")
		}
		close(done)
		return nil
	}, SubscribeOptions{MaxRetries: 3})

	bus.Publish(NewEnvelope(&events.AlertFiredData{UserID: "u1", ListingID: "l1", ResultID: "r1", Channel: "email"}, time.Now()))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never succeeded after retry")
	}
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestBus_NotFoundError_DoesNotRetry(t *testing.T) {
	bus := newTestBus(t)
	var attempts int
	processed := make(chan struct{}, 1)

	bus.Subscribe(events.TopicUnderwriteRequested, "notfound_group", func(env *Envelope) error {
		attempts++
		processed <- struct{}{}
		return apperr.New(apperr.NotFound, "test.handler", "listing missing")
	}, SubscribeOptions{MaxRetries: 3})

	bus.Publish(NewEnvelope(&events.UnderwriteRequestedData{ID: "ghost-listing"}, time.Now()))

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, attempts, "NotFound must not be retried")
}

func TestBus_ExhaustedRetries_ParksToDeadLetter(t *testing.T) {
	db := testingdb.New(t, "dlq")
	dlq, err := NewDeadLetterStore(db, zerolog.Nop())
	require.NoError(t, err)

	bus := New(Config{
		Clock:          clock.Real{},
		MaxRetries:     1,
		HandlerTimeout: time.Second,
		DrainTimeout:   time.Second,
		DeadLetters:    dlq,
	}, zerolog.Nop())

	done := make(chan struct{})
	bus.Subscribe(events.TopicUnderwriteCompleted, "dlq_group", func(env *Envelope) error {
		return apperr.New(apperr.Transient, "test.handler", "always fails")
	}, SubscribeOptions{MaxRetries: 1})

	bus.Publish(NewEnvelope(&events.UnderwriteCompletedData{ID: "l1", ResultID: "grid:l1:v1", Source: events.SourceGrid}, time.Now()))

	go func() {
		for {
			items, err := dlq.List(10)
			if err == nil && len(items) > 0 {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("envelope was never parked to the dead letter store")
	}
}

func TestBus_Shutdown_DrainsInFlightThenClosesDelivery(t *testing.T) {
	bus := newTestBus(t)
	handled := make(chan struct{}, 1)
	bus.Subscribe(events.TopicListingChanged, "shutdown_group", func(env *Envelope) error {
		handled <- struct{}{}
		return nil
	}, SubscribeOptions{})

	bus.Publish(NewEnvelope(&events.ListingChangedData{ID: "l1"}, time.Now()))
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("envelope was not handled before shutdown")
	}

	bus.Shutdown()

	// Publishing after shutdown must not panic or block; it is simply dropped.
	assert.NotPanics(t, func() {
		bus.Publish(NewEnvelope(&events.ListingChangedData{ID: "l2"}, time.Now()))
	})
}
