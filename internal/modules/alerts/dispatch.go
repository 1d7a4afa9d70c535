package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/propyield/platform/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// dispatchTimeout bounds a single channel send (spec.md §5 "every external
// call has an explicit timeout").
const dispatchTimeout = 5 * time.Second

// Dispatcher delivers one AlertFiredData to one channel. Email/SMS/Slack
// are out-of-scope external collaborators (spec.md §1); devbrowser is the
// one channel this repository implements for real, since it has no
// physical transport to mock — it is this process pushing to its own
// connected browsers.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel Channel, fired events.AlertFiredData, payload AlertPayload) error
}

// LoggingDispatcher is the default implementation for channels with no
// real transport in this repository's scope: it logs the would-be send
// and always succeeds, mirroring aristath-sentinel's mock-collaborator
// convention (internal/testing/mocks.go) applied to a production default
// rather than a test double.
type LoggingDispatcher struct {
	log zerolog.Logger
}

// NewLoggingDispatcher builds a LoggingDispatcher.
func NewLoggingDispatcher(log zerolog.Logger) *LoggingDispatcher {
	return &LoggingDispatcher{log: log.With().Str("component", "alerts_dispatch_logging").Logger()}
}

// Dispatch logs the delivery and returns nil.
func (d *LoggingDispatcher) Dispatch(_ context.Context, channel Channel, fired events.AlertFiredData, _ AlertPayload) error {
	d.log.Info().
		Str("channel", string(channel)).
		Str("user_id", fired.UserID).
		Str("listing_id", fired.ListingID).
		Str("result_id", fired.ResultID).
		Msg("alert dispatched (logging-only channel)")
	return nil
}

// DevBrowserHub is a server-side hub of connected browser subscribers,
// grounded on aristath-sentinel/internal/clients/tradernet/websocket_client.go's
// connection/cache/broadcast shape — that client dials out to a single
// upstream feed; this hub inverts the direction, accepting inbound
// connections from each signed-in user's browser and pushing alert_fired
// payloads to every connection registered for that userId.
type DevBrowserHub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
	log   zerolog.Logger
}

// NewDevBrowserHub builds an empty hub.
func NewDevBrowserHub(log zerolog.Logger) *DevBrowserHub {
	return &DevBrowserHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		log:   log.With().Str("component", "devbrowser_hub").Logger(),
	}
}

// Register adds conn as a subscriber for userID's alerts. Call Unregister
// (typically deferred by the gateway's websocket handler) when the
// connection closes.
func (h *DevBrowserHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

// Unregister removes conn from userID's subscriber set.
func (h *DevBrowserHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Dispatch pushes fired+payload as JSON text to every connection
// registered for fired.UserID. A send failure on one connection does not
// fail the others; it is logged and that connection is dropped, mirroring
// the teacher's read-loop "continue reading despite parse errors" posture
// applied to writes.
func (h *DevBrowserHub) Dispatch(ctx context.Context, channel Channel, fired events.AlertFiredData, payload AlertPayload) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[fired.UserID]))
	for c := range h.conns[fired.UserID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return nil
	}

	body, err := json.Marshal(struct {
		Fired   events.AlertFiredData `json:"fired"`
		Payload AlertPayload          `json:"payload"`
	}{fired, payload})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	for _, conn := range conns {
		if err := conn.Write(writeCtx, websocket.MessageText, body); err != nil {
			h.log.Warn().Err(err).Str("user_id", fired.UserID).Msg("devbrowser push failed, dropping connection")
			h.Unregister(fired.UserID, conn)
		}
	}
	return nil
}

// ChannelDispatcher routes to a per-channel Dispatcher, defaulting
// unregistered channels to logging-only.
type ChannelDispatcher struct {
	byChannel map[Channel]Dispatcher
	fallback  Dispatcher
}

// NewChannelDispatcher builds a router; devBrowser may be nil to fall back
// to logging for that channel too (e.g. in tests).
func NewChannelDispatcher(devBrowser *DevBrowserHub, log zerolog.Logger) *ChannelDispatcher {
	fallback := NewLoggingDispatcher(log)
	byChannel := map[Channel]Dispatcher{
		ChannelEmail: fallback,
		ChannelSMS:   fallback,
		ChannelSlack: fallback,
	}
	if devBrowser != nil {
		byChannel[ChannelDevBrowser] = devBrowser
	} else {
		byChannel[ChannelDevBrowser] = fallback
	}
	return &ChannelDispatcher{byChannel: byChannel, fallback: fallback}
}

// Dispatch routes to the channel's registered Dispatcher.
func (c *ChannelDispatcher) Dispatch(ctx context.Context, channel Channel, fired events.AlertFiredData, payload AlertPayload) error {
	d, ok := c.byChannel[channel]
	if !ok {
		d = c.fallback
	}
	return d.Dispatch(ctx, channel, fired, payload)
}
