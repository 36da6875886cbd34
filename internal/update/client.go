// Package update observes application version updates announced by the
// service worker and asks the worker to check for or activate them.
package update

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/crystaldolphin/swbridge/internal/comm"
	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

// AppVersion identifies one build of the application.
type AppVersion struct {
	Hash    string          `json:"hash"`
	AppData json.RawMessage `json:"appData,omitempty"`
}

// AvailableEvent announces that a newer version has been downloaded and is
// ready to activate.
type AvailableEvent struct {
	Type      string     `json:"type"`
	Current   AppVersion `json:"current"`
	Available AppVersion `json:"available"`
}

// ActivatedEvent announces that the host now runs Current. Previous is nil
// when the worker did not report one.
type ActivatedEvent struct {
	Type     string      `json:"type"`
	Previous *AppVersion `json:"previous,omitempty"`
	Current  AppVersion  `json:"current"`
}

// Client is the update client.
type Client struct {
	ch *comm.Channel

	available stream.Stream[AvailableEvent]
	activated stream.Stream[ActivatedEvent]
}

// NewClient builds a Client over ch. When ch is disabled both streams stay
// silent forever and both operations return comm.ErrNotSupported.
func NewClient(ch *comm.Channel) *Client {
	c := &Client{ch: ch}
	if !ch.IsEnabled() {
		c.available = stream.Never[AvailableEvent]()
		c.activated = stream.Never[ActivatedEvent]()
		return c
	}
	c.available = decoded[AvailableEvent](ch, schema.EventUpdateAvailable)
	c.activated = decoded[ActivatedEvent](ch, schema.EventUpdateActivated)
	return c
}

func decoded[T any](ch *comm.Channel, typ string) stream.Stream[T] {
	return stream.FilterMap(ch.EventsOfType(typ), func(ev comm.Event) (T, bool) {
		var v T
		if err := ev.Decode(&v); err != nil {
			slog.Debug("update: dropped malformed event", "type", typ, "err", err)
			return v, false
		}
		return v, true
	})
}

// IsEnabled reports whether the underlying channel is enabled.
func (c *Client) IsEnabled() bool { return c.ch.IsEnabled() }

// Available emits every UPDATE_AVAILABLE announcement.
func (c *Client) Available() stream.Stream[AvailableEvent] { return c.available }

// Activated emits every UPDATE_ACTIVATED announcement.
func (c *Client) Activated() stream.Stream[ActivatedEvent] { return c.activated }

// CheckForUpdate asks the worker to look for a new version and waits for its
// acknowledgement. A found update is reported on Available, not here.
func (c *Client) CheckForUpdate(ctx context.Context) error {
	return c.sendWithStatus(ctx, schema.ActionCheckForUpdates)
}

// ActivateUpdate asks the worker to switch the host to the latest downloaded
// version and waits for its acknowledgement.
func (c *Client) ActivateUpdate(ctx context.Context) error {
	return c.sendWithStatus(ctx, schema.ActionActivateUpdate)
}

func (c *Client) sendWithStatus(ctx context.Context, action string) error {
	if !c.ch.IsEnabled() {
		return comm.ErrNotSupported
	}
	nonce := c.ch.GenerateNonce()
	return c.ch.SendWithAck(ctx, action, map[string]any{"statusNonce": nonce}, nonce)
}
