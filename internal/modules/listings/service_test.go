package listings

import (
	"sync"
	"testing"
	"time"

	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/events"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/testingdb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	db := testingdb.New(t, "dlq")
	dlq, err := eventbus.NewDeadLetterStore(db, zerolog.Nop())
	require.NoError(t, err)
	return eventbus.New(eventbus.Config{DeadLetters: dlq}, zerolog.Nop())
}

type captured struct {
	mu   sync.Mutex
	data []*events.ListingChangedData
}

func (c *captured) handler(env *eventbus.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, env.Data.(*events.ListingChangedData))
	return nil
}

func (c *captured) snapshot() []*events.ListingChangedData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*events.ListingChangedData(nil), c.data...)
}

func TestIngestor_PollOnce_PublishesListingChangedForNewItem(t *testing.T) {
	repo := mustRepo(t)
	bus := newTestBus(t)
	defer bus.Shutdown()

	capt := &captured{}
	bus.Subscribe(events.TopicListingChanged, "test", capt.handler, eventbus.SubscribeOptions{Workers: 1})

	item := baseItem()
	feed := NewMockFeedClient("demofeed", 50, []FeedItem{item})

	ing := NewIngestor(repo, feed, bus, clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), zerolog.Nop(), "demofeed", "@every 1m")
	ing.PollOnce()

	deadline := time.Now().Add(2 * time.Second)
	for len(capt.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := capt.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "L-1", got[0].ID)
	assert.Equal(t, events.ChangeCreate, got[0].Change)
	assert.ElementsMatch(t, []events.DirtyField{
		events.DirtyPrice, events.DirtyStatus, events.DirtyFees,
		events.DirtyTax, events.DirtyMedia, events.DirtyAddress,
	}, got[0].Dirty)

	wm, err := repo.Watermark("demofeed")
	require.NoError(t, err)
	assert.True(t, wm.Equal(item.UpdatedAt))
}

func TestIngestor_PollOnce_NoChangeEmitsNothing(t *testing.T) {
	repo := mustRepo(t)
	bus := newTestBus(t)
	defer bus.Shutdown()

	capt := &captured{}
	bus.Subscribe(events.TopicListingChanged, "test", capt.handler, eventbus.SubscribeOptions{Workers: 1})

	item := baseItem()
	_, err := repo.Upsert(item)
	require.NoError(t, err)
	require.NoError(t, repo.AdvanceWatermark("demofeed", item.UpdatedAt))

	feed := NewMockFeedClient("demofeed", 50, []FeedItem{item})
	ing := NewIngestor(repo, feed, bus, clock.Real{}, zerolog.Nop(), "demofeed", "@every 1m")
	ing.PollOnce()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, capt.snapshot())
}

func TestIngestor_PollOnce_PriceChangeIsDirtyPriceOnly(t *testing.T) {
	repo := mustRepo(t)
	bus := newTestBus(t)
	defer bus.Shutdown()

	capt := &captured{}
	bus.Subscribe(events.TopicListingChanged, "test", capt.handler, eventbus.SubscribeOptions{Workers: 1})

	item := baseItem()
	_, err := repo.Upsert(item)
	require.NoError(t, err)
	require.NoError(t, repo.AdvanceWatermark("demofeed", item.UpdatedAt))

	updated := item
	updated.ListPrice = 700000
	updated.UpdatedAt = item.UpdatedAt.Add(time.Hour)

	feed := NewMockFeedClient("demofeed", 50, []FeedItem{updated})
	ing := NewIngestor(repo, feed, bus, clock.Real{}, zerolog.Nop(), "demofeed", "@every 1m")
	ing.PollOnce()

	deadline := time.Now().Add(2 * time.Second)
	for len(capt.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := capt.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, events.ChangeUpdate, got[0].Change)
	assert.Equal(t, []events.DirtyField{events.DirtyPrice}, got[0].Dirty)
}

func TestMockFeedClient_Pagination(t *testing.T) {
	items := make([]FeedItem, 0, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		it := baseItem()
		it.ID = string(rune('A' + i))
		it.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		items = append(items, it)
	}

	feed := NewMockFeedClient("demofeed", 2, items)

	page1, err := feed.FetchUpdatedSince(time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)

	page2, err := feed.FetchUpdatedSince(time.Time{}, page1.NextPageToken)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.True(t, page2.HasMore)

	page3, err := feed.FetchUpdatedSince(time.Time{}, page2.NextPageToken)
	require.NoError(t, err)
	assert.Len(t, page3.Items, 1)
	assert.False(t, page3.HasMore)
}
