package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventsPath       = "/events"
	reconnectInitial = 1 * time.Second
	reconnectMax     = 30 * time.Second
)

// wireEvent is the provider's push message shape.
type wireEvent struct {
	Event   string          `json:"event"`
	Session json.RawMessage `json:"session"`
}

// Events opens the provider's push channel over a websocket. The provider
// sends an initial-session message immediately after connect, then pushes
// identity-changed notifications (cross-tab refreshes, revocations). The
// stream reconnects with backoff on failure and the returned channel closes
// only when ctx is cancelled.
func (c *HTTPClient) Events(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event, 8)

	go func() {
		defer close(events)

		backoff := reconnectInitial
		for {
			if err := c.streamEvents(ctx, events); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("identity event stream disconnected", "error", err, "retry_in", backoff)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
		}
	}()

	return events, nil
}

// streamEvents runs one websocket connection until it fails or ctx ends.
func (c *HTTPClient) streamEvents(ctx context.Context, events chan<- Event) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + eventsPath + "?apikey=" + c.apiKey

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the owning scope is torn down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var raw wireEvent
		if err := conn.ReadJSON(&raw); err != nil {
			return err
		}

		event, ok := decodeEvent(raw)
		if !ok {
			slog.Debug("ignoring unknown identity event", "event", raw.Event)
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeEvent maps one wire message to a typed Event.
func decodeEvent(raw wireEvent) (Event, bool) {
	var eventType EventType
	switch raw.Event {
	case "INITIAL_SESSION":
		eventType = EventInitialSession
	case "SIGNED_IN":
		eventType = EventSignedIn
	case "TOKEN_REFRESHED":
		eventType = EventTokenRefreshed
	case "SIGNED_OUT":
		eventType = EventSignedOut
	default:
		return Event{}, false
	}

	event := Event{Type: eventType}
	if len(raw.Session) > 0 && string(raw.Session) != "null" {
		var ident Identity
		if err := json.Unmarshal(raw.Session, &ident); err == nil && ident.AccessToken != "" {
			event.Identity = &ident
		}
	}
	return event, true
}
