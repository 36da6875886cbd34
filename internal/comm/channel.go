// Package comm is the single point of contact with the service worker.
//
// A Channel republishes the controlling worker as a stream, fans every
// structured message from the worker out to any number of subscribers, and
// sends actions to the worker, optionally waiting for a correlated STATUS
// acknowledgement.
package comm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

// nonceMask keeps nonces within the integer range a JavaScript peer can
// represent exactly.
const nonceMask = 1<<53 - 1

// Channel wraps a schema.Container. A Channel built without a container is
// disabled: its streams fail with ErrNotSupported and its operations return
// ErrNotSupported without touching the platform.
type Channel struct {
	container schema.Container

	// mu orders controller change delivery against new ActiveWorker
	// subscriptions so a subscriber sees each controller exactly once.
	mu       sync.Mutex
	changes  *stream.Broadcast[schema.Worker]
	messages *stream.Broadcast[Event]

	activeWorker stream.Stream[schema.Worker]
	registration stream.Stream[schema.Registration]
	events       stream.Stream[Event]
}

// NewChannelForHost returns a Channel for host's service worker container,
// or a disabled Channel when the host is not a browser, lacks service worker
// support, or enabled is false.
func NewChannelForHost(host schema.Host, enabled bool) *Channel {
	if !enabled || host == nil || !host.IsBrowser() {
		return NewChannel(nil)
	}
	return NewChannel(host.ServiceWorker())
}

// NewChannel returns a Channel over container; nil yields a disabled Channel.
// The message listener is attached immediately and stays attached for the
// lifetime of the container.
func NewChannel(container schema.Container) *Channel {
	c := &Channel{container: container}
	if container == nil {
		c.activeWorker = stream.Fail[schema.Worker](ErrNotSupported)
		c.registration = stream.Fail[schema.Registration](ErrNotSupported)
		c.events = stream.Fail[Event](ErrNotSupported)
		return c
	}

	c.changes = stream.NewBroadcast[schema.Worker]()
	c.messages = stream.NewBroadcast[Event]()

	container.OnControllerChange(c.handleControllerChange)
	container.OnMessage(c.handleMessage)

	withCurrent := stream.StartWith[schema.Worker](c.changes, func() (schema.Worker, bool) {
		w := container.Controller()
		return w, w != nil
	})
	atomicSubscribe := stream.Func[schema.Worker](func() *stream.Subscription[schema.Worker] {
		c.mu.Lock()
		defer c.mu.Unlock()
		return withCurrent.Subscribe()
	})
	c.activeWorker = stream.Filter[schema.Worker](atomicSubscribe, func(w schema.Worker) bool {
		return w != nil
	})
	c.registration = stream.SwitchMap(c.activeWorker, func(ctx context.Context, _ schema.Worker) (schema.Registration, error) {
		return container.GetRegistration(ctx)
	})
	c.events = c.messages
	return c
}

// IsEnabled reports whether the Channel has a service worker container.
func (c *Channel) IsEnabled() bool { return c.container != nil }

// ActiveWorker emits the current controller on subscription, if there is one,
// then every later controller. It never emits nil.
func (c *Channel) ActiveWorker() stream.Stream[schema.Worker] { return c.activeWorker }

// Registration re-resolves the registration every time the controller
// changes, dropping lookups that were overtaken by a newer controller.
func (c *Channel) Registration() stream.Stream[schema.Registration] { return c.registration }

// Events is the shared broadcast of all tagged messages from the worker.
func (c *Channel) Events() stream.Stream[Event] { return c.events }

// EventsOfType filters Events down to messages tagged typ.
func (c *Channel) EventsOfType(typ string) stream.Stream[Event] {
	return stream.Filter(c.events, func(ev Event) bool { return ev.Type == typ })
}

// NextEventOfType waits for the next message tagged typ.
func (c *Channel) NextEventOfType(ctx context.Context, typ string) (Event, error) {
	return stream.First(ctx, c.EventsOfType(typ))
}

// Send waits for a controlling worker and posts {action, ...payload} to it.
func (c *Channel) Send(ctx context.Context, action string, payload map[string]any) error {
	if !c.IsEnabled() {
		return ErrNotSupported
	}

	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["action"] = action
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}

	w, err := stream.First(ctx, c.activeWorker)
	if err != nil {
		return err
	}
	if err := w.PostMessage(data); err != nil {
		return fmt.Errorf("post %s to worker %s: %w", action, w.ID(), err)
	}
	slog.Debug("comm: message sent", "action", action, "worker", w.ID())
	return nil
}

// SendWithAck sends action and waits for the STATUS event carrying nonce.
// The wait starts before the message is posted, so a worker that answers
// immediately is still observed. A failure status is returned as *AckError.
// There is no built-in timeout; bound ctx to get one.
func (c *Channel) SendWithAck(ctx context.Context, action string, payload map[string]any, nonce uint64) error {
	if !c.IsEnabled() {
		return ErrNotSupported
	}

	status := stream.Filter(c.EventsOfType(schema.EventStatus), func(ev Event) bool {
		return ev.Nonce == nonce
	}).Subscribe()
	defer status.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev, err := status.Next(gctx)
		if err != nil {
			return err
		}
		if !ev.Status {
			return &AckError{Nonce: nonce, Message: ev.Error}
		}
		return nil
	})
	g.Go(func() error {
		return c.Send(gctx, action, payload)
	})
	return g.Wait()
}

// GenerateNonce returns a random non-zero correlation token.
func (c *Channel) GenerateNonce() uint64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("comm: read random nonce: %v", err))
		}
		if n := binary.BigEndian.Uint64(buf[:]) & nonceMask; n != 0 {
			return n
		}
	}
}

func (c *Channel) handleControllerChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.container.Controller()
	if w != nil {
		slog.Info("comm: controller changed", "worker", w.ID())
	}
	c.changes.Publish(w)
}

func (c *Channel) handleMessage(data []byte) {
	ev, ok := DecodeEvent(data)
	if !ok {
		slog.Debug("comm: dropped untagged message", "bytes", len(data))
		return
	}
	c.messages.Publish(ev)
}
