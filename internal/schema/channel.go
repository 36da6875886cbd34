package schema

import "context"

// Host describes the environment the clients run in.
type Host interface {
	// IsBrowser reports whether the host is a page context able to run
	// service workers at all.
	IsBrowser() bool
	// ServiceWorker returns the worker container, or nil when the host does
	// not support service workers.
	ServiceWorker() Container
}

// Container is the page-side handle on the service worker machinery.
// Implementations call listeners from their own goroutines.
type Container interface {
	// Controller returns the worker currently controlling the page, or nil.
	Controller() Worker
	// OnControllerChange registers fn to be called every time the
	// controlling worker changes. The returned func removes the listener.
	OnControllerChange(fn func()) (remove func())
	// OnMessage registers fn to receive every raw message posted by a worker.
	OnMessage(fn func(data []byte)) (remove func())
	// GetRegistration returns the registration for the page's scope.
	GetRegistration(ctx context.Context) (Registration, error)
	// Register installs the worker script at scriptURL.
	Register(ctx context.Context, scriptURL string, opts RegistrationOptions) (Registration, error)
}

// Worker is one running service worker instance.
type Worker interface {
	ID() string
	ScriptURL() string
	// PostMessage delivers a JSON encoded message to the worker.
	PostMessage(data []byte) error
}

// Registration is the platform record of an installed worker script.
type Registration interface {
	Scope() string
	PushManager() PushManager
}

// RegistrationOptions configures Container.Register.
type RegistrationOptions struct {
	Scope string `json:"scope,omitempty"`
}
