package schema

import "context"

// PushManager manages the push subscription of one registration.
type PushManager interface {
	// GetSubscription returns the active subscription, or nil if there is none.
	GetSubscription(ctx context.Context) (PushSubscription, error)
	Subscribe(ctx context.Context, opts PushSubscriptionOptions) (PushSubscription, error)
}

// PushSubscription is an active push subscription.
type PushSubscription interface {
	Endpoint() string
	JSON() PushSubscriptionJSON
	// Unsubscribe tears the subscription down and reports whether the
	// platform succeeded.
	Unsubscribe(ctx context.Context) (bool, error)
}

// PushSubscriptionOptions are passed to PushManager.Subscribe.
type PushSubscriptionOptions struct {
	UserVisibleOnly      bool   `json:"userVisibleOnly"`
	ApplicationServerKey []byte `json:"applicationServerKey,omitempty"`
}

// PushSubscriptionJSON is the serializable form of a subscription, the shape
// an application server needs to deliver pushes.
type PushSubscriptionJSON struct {
	Endpoint       string            `json:"endpoint"`
	ExpirationTime *int64            `json:"expirationTime,omitempty"`
	Keys           map[string]string `json:"keys,omitempty"`
}
