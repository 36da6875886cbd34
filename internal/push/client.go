// Package push subscribes the host to push notifications through the
// service worker and surfaces push payloads and notification clicks.
package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crystaldolphin/swbridge/internal/comm"
	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

var (
	// ErrNotSubscribed is returned by Unsubscribe when there is no active
	// subscription.
	ErrNotSubscribed = errors.New("not subscribed to push notifications")
	// ErrUnsubscribeFailed is returned when the platform reports that the
	// subscription could not be removed.
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
)

// SubscribeOptions configures RequestSubscription.
type SubscribeOptions struct {
	// ServerPublicKey is the application server's VAPID public key,
	// base64url encoded with or without padding.
	ServerPublicKey string
}

// NotificationAction is one button shown on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is the options object of a displayed notification plus its
// title.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body,omitempty"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Image              string               `json:"image,omitempty"`
	Tag                string               `json:"tag,omitempty"`
	Lang               string               `json:"lang,omitempty"`
	Dir                string               `json:"dir,omitempty"`
	Renotify           bool                 `json:"renotify,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction,omitempty"`
	Silent             bool                 `json:"silent,omitempty"`
	Timestamp          int64                `json:"timestamp,omitempty"`
	Vibrate            VibratePattern       `json:"vibrate,omitempty"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	Data               json.RawMessage      `json:"data,omitempty"`
}

// VibratePattern is a vibration pattern in milliseconds. A single number
// decodes as a one-element pattern; any other shape decodes as no pattern.
type VibratePattern []int

func (p *VibratePattern) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil && string(data) != "null" {
		*p = VibratePattern{n}
		return nil
	}
	var pattern []int
	if err := json.Unmarshal(data, &pattern); err == nil {
		*p = pattern
	}
	return nil
}

// NotificationClick reports a user interaction with a notification. Action
// is empty when the notification body itself was clicked.
type NotificationClick struct {
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
	// Raw is the click body exactly as the worker sent it. Fields that did
	// not fit the typed members above are still present here.
	Raw json.RawMessage `json:"-"`
}

// decodeClick decodes a click body. Members of the wrong type are left
// zero; only a body that is not a JSON object is rejected.
func decodeClick(data json.RawMessage) (NotificationClick, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return NotificationClick{}, false
	}
	var click NotificationClick
	if err := json.Unmarshal(trimmed, &click); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return NotificationClick{}, false
		}
		slog.Debug("push: notification click field ignored", "err", err)
	}
	click.Raw = append(json.RawMessage(nil), trimmed...)
	return click, true
}

// Client is the push notification client.
type Client struct {
	ch *comm.Channel

	changes *stream.Broadcast[schema.PushSubscription]

	messages           stream.Stream[json.RawMessage]
	notificationClicks stream.Stream[NotificationClick]
	pushManager        stream.Stream[schema.PushManager]
	subscription       stream.Stream[schema.PushSubscription]
}

// NewClient builds a Client over ch. When ch is disabled every stream stays
// silent forever and every operation returns comm.ErrNotSupported.
func NewClient(ch *comm.Channel) *Client {
	c := &Client{ch: ch, changes: stream.NewBroadcast[schema.PushSubscription]()}
	if !ch.IsEnabled() {
		c.messages = stream.Never[json.RawMessage]()
		c.notificationClicks = stream.Never[NotificationClick]()
		c.pushManager = stream.Never[schema.PushManager]()
		c.subscription = stream.Never[schema.PushSubscription]()
		return c
	}

	c.messages = stream.Map(ch.EventsOfType(schema.EventPush), func(ev comm.Event) json.RawMessage {
		return ev.Data
	})
	c.notificationClicks = stream.FilterMap(ch.EventsOfType(schema.EventNotificationClick), func(ev comm.Event) (NotificationClick, bool) {
		click, ok := decodeClick(ev.Data)
		if !ok {
			slog.Debug("push: dropped notification click without a body", "type", ev.Type)
		}
		return click, ok
	})
	c.pushManager = stream.Map(ch.Registration(), func(reg schema.Registration) schema.PushManager {
		return reg.PushManager()
	})
	workerDriven := stream.SwitchMap(c.pushManager, func(ctx context.Context, pm schema.PushManager) (schema.PushSubscription, error) {
		return pm.GetSubscription(ctx)
	})
	c.subscription = stream.Merge(workerDriven, stream.Stream[schema.PushSubscription](c.changes))
	return c
}

// IsEnabled reports whether the underlying channel is enabled.
func (c *Client) IsEnabled() bool { return c.ch.IsEnabled() }

// Messages emits the data payload of every push message.
func (c *Client) Messages() stream.Stream[json.RawMessage] { return c.messages }

// NotificationClicks emits every notification click forwarded by the worker.
func (c *Client) NotificationClicks() stream.Stream[NotificationClick] { return c.notificationClicks }

// Subscription emits the current push subscription, or nil when there is
// none, each time the registration is resolved and after every
// RequestSubscription or Unsubscribe made through this client.
func (c *Client) Subscription() stream.Stream[schema.PushSubscription] { return c.subscription }

// RequestSubscription subscribes the host to user-visible push messages for
// the given application server key and announces the new subscription on
// Subscription.
func (c *Client) RequestSubscription(ctx context.Context, opts SubscribeOptions) (schema.PushSubscription, error) {
	if !c.ch.IsEnabled() {
		return nil, comm.ErrNotSupported
	}
	key, err := DecodeServerKey(opts.ServerPublicKey)
	if err != nil {
		return nil, err
	}

	pm, err := stream.First(ctx, c.pushManager)
	if err != nil {
		return nil, err
	}
	sub, err := pm.Subscribe(ctx, schema.PushSubscriptionOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("push subscribe: %w", err)
	}
	slog.Info("push: subscribed", "endpoint", sub.Endpoint())
	c.changes.Publish(sub)
	return sub, nil
}

// Unsubscribe removes the current subscription and announces its absence on
// Subscription.
func (c *Client) Unsubscribe(ctx context.Context) error {
	if !c.ch.IsEnabled() {
		return comm.ErrNotSupported
	}
	sub, err := stream.First(ctx, c.subscription)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNotSubscribed
	}

	ok, err := sub.Unsubscribe(ctx)
	if err != nil {
		return fmt.Errorf("push unsubscribe: %w", err)
	}
	if !ok {
		return ErrUnsubscribeFailed
	}
	slog.Info("push: unsubscribed", "endpoint", sub.Endpoint())
	c.changes.Publish(nil)
	return nil
}

// DecodeServerKey decodes a base64url application server key. Padding is
// optional.
func DecodeServerKey(key string) ([]byte, error) {
	std := strings.NewReplacer("_", "/", "-", "+").Replace(key)
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(std, "="))
	if err != nil {
		return nil, fmt.Errorf("decode server public key: %w", err)
	}
	return b, nil
}
