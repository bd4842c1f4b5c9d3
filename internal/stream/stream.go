// Package stream connects the server's live post channel to the event
// bus. The channel is best-effort: malformed payloads are dropped with a
// diagnostic and never surface as user-facing errors, and reconnecting
// with backoff is the SSE client's own responsibility.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	sse "github.com/r3labs/sse/v2"

	"feedsync/internal/events"
	"feedsync/pkg/feed"
)

// Event names emitted by the server's SSE hub.
const (
	eventPost        = "post"
	eventPostDeleted = "postDeleted"
	eventHello       = "hello"
)

// Listener subscribes to the push channel and republishes decoded
// events on the bus.
type Listener struct {
	client *sse.Client
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a listener for the stream endpoint of the API at base.
func New(base string, httpClient *http.Client, bus *events.Bus, logger *slog.Logger) *Listener {
	client := sse.NewClient(strings.TrimSuffix(base, "/") + "/api/stream/posts")
	if httpClient != nil {
		client.Connection = httpClient
	}
	return &Listener{client: client, bus: bus, logger: logger}
}

// Run consumes the channel until the context is cancelled. Teardown of
// the owning view cancels the context; no events are processed after
// Run returns.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("Connecting to push channel", "url", l.client.URL)
	return l.client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		l.dispatch(string(msg.Event), msg.Data)
	})
}

// dispatch decodes one raw push event and publishes it. Unknown event
// names and undecodable payloads are dropped; the page set must never be
// corrupted by a bad frame.
func (l *Listener) dispatch(name string, data []byte) {
	switch name {
	case eventPost:
		var p feed.Post
		if err := json.Unmarshal(data, &p); err != nil {
			l.logger.Warn("Dropping malformed post event", "error", err)
			return
		}
		if p.ID == "" {
			l.logger.Warn("Dropping post event without id")
			return
		}
		l.bus.Publish(events.Event{Kind: events.PostUpserted, Post: &p})
	case eventPostDeleted:
		// The hub serializes the UUID as JSON, so the id arrives quoted.
		id := strings.Trim(strings.TrimSpace(string(data)), `"`)
		if id == "" {
			l.logger.Warn("Dropping postDeleted event without id")
			return
		}
		l.bus.Publish(events.Event{Kind: events.PostDeleted, PostID: id})
	case eventHello, "":
		// Stream-open greeting and keepalives.
	default:
		l.logger.Debug("Ignoring unknown push event", "event", name)
	}
}
