// Package bootstrap registers the service worker script once the host
// application settles and initializes every worker that takes control.
package bootstrap

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

// DefaultScript is the worker script registered when Options.Script is empty.
const DefaultScript = "ngsw-worker.js"

// Options controls registration.
type Options struct {
	Enabled bool
	Script  string
	// Scope restricts the URL space the worker controls; empty means the
	// platform default.
	Scope string
}

// StabilitySource is implemented by hosts that report when the application
// has settled, such as the bridge client.
type StabilitySource interface {
	Stable() stream.Stream[bool]
}

// Registrar performs the startup registration.
type Registrar struct {
	Host    schema.Host
	Options Options
	// Stable reports host stability; registration waits for its first
	// true value. A nil Stable counts as already stable.
	Stable stream.Stream[bool]
}

// Initialize attaches the controller-change hook and starts registration in
// the background. It does nothing when registration is disabled or the host
// has no service worker support. The returned stop detaches the hook and
// abandons a registration that has not started yet.
func (r *Registrar) Initialize(ctx context.Context) (stop func()) {
	if !r.Options.Enabled || r.Host == nil || !r.Host.IsBrowser() {
		return func() {}
	}
	container := r.Host.ServiceWorker()
	if container == nil {
		slog.Info("bootstrap: service workers not supported, skipping registration")
		return func() {}
	}

	removeHook := container.OnControllerChange(func() {
		initialize(container.Controller())
	})

	ctx, cancel := context.WithCancel(ctx)
	go r.register(ctx, container)

	return func() {
		cancel()
		removeHook()
	}
}

func (r *Registrar) register(ctx context.Context, container schema.Container) {
	if r.Stable != nil {
		if _, err := stream.First(ctx, stream.Filter(r.Stable, func(ok bool) bool { return ok })); err != nil {
			slog.Debug("bootstrap: registration abandoned", "err", err)
			return
		}
	}

	script := r.Options.Script
	if script == "" {
		script = DefaultScript
	}
	reg, err := container.Register(ctx, script, schema.RegistrationOptions{Scope: r.Options.Scope})
	if err != nil {
		slog.Error("bootstrap: service worker registration failed", "script", script, "err", err)
		return
	}
	slog.Info("bootstrap: service worker registered", "script", script, "scope", reg.Scope())
}

var initializeMessage, _ = json.Marshal(map[string]string{"action": schema.ActionInitialize})

func initialize(w schema.Worker) {
	if w == nil {
		return
	}
	if err := w.PostMessage(initializeMessage); err != nil {
		slog.Warn("bootstrap: initialize failed", "worker", w.ID(), "err", err)
		return
	}
	slog.Debug("bootstrap: worker initialized", "worker", w.ID())
}
