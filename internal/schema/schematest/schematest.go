// Package schematest provides an in-memory service worker platform for tests.
// Every type records how it was used so tests can assert on platform calls.
package schematest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/crystaldolphin/swbridge/internal/schema"
)

// ErrNoRegistration is returned by GetRegistration when no registration is set.
var ErrNoRegistration = errors.New("schematest: no registration")

// Host is a configurable schema.Host.
type Host struct {
	Browser   bool
	Container *Container
}

func (h *Host) IsBrowser() bool { return h.Browser }

func (h *Host) ServiceWorker() schema.Container {
	if h.Container == nil {
		return nil
	}
	return h.Container
}

// RegisterCall records one Container.Register invocation.
type RegisterCall struct {
	ScriptURL string
	Options   schema.RegistrationOptions
}

// Container is an in-memory schema.Container.
type Container struct {
	mu           sync.Mutex
	controller   *Worker
	registration *Registration
	registerErr  error
	registered   []RegisterCall
	changeFns    map[int]func()
	messageFns   map[int]func([]byte)
	nextID       int

	lookups atomic.Int64
	calls   atomic.Int64

	// LookupHook, when set, runs at the start of every GetRegistration call.
	LookupHook func(ctx context.Context) error
}

// NewContainer returns a container with a registration at scope "/" and no
// controller.
func NewContainer() *Container {
	return &Container{
		registration: NewRegistration("/"),
		changeFns:    make(map[int]func()),
		messageFns:   make(map[int]func([]byte)),
	}
}

// Controller implements schema.Container.
func (c *Container) Controller() schema.Worker {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return nil
	}
	return c.controller
}

// OnControllerChange implements schema.Container.
func (c *Container) OnControllerChange(fn func()) func() {
	c.calls.Add(1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.changeFns[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.changeFns, id)
		c.mu.Unlock()
	}
}

// OnMessage implements schema.Container.
func (c *Container) OnMessage(fn func([]byte)) func() {
	c.calls.Add(1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.messageFns[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.messageFns, id)
		c.mu.Unlock()
	}
}

// GetRegistration implements schema.Container.
func (c *Container) GetRegistration(ctx context.Context) (schema.Registration, error) {
	c.calls.Add(1)
	c.lookups.Add(1)
	if c.LookupHook != nil {
		if err := c.LookupHook(ctx); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registration == nil {
		return nil, ErrNoRegistration
	}
	return c.registration, nil
}

// Register implements schema.Container.
func (c *Container) Register(_ context.Context, scriptURL string, opts schema.RegistrationOptions) (schema.Registration, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, RegisterCall{ScriptURL: scriptURL, Options: opts})
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	if c.registration == nil {
		c.registration = NewRegistration(opts.Scope)
	}
	return c.registration, nil
}

// SetController swaps the controlling worker and notifies change listeners.
func (c *Container) SetController(w *Worker) {
	c.mu.Lock()
	c.controller = w
	fns := make([]func(), 0, len(c.changeFns))
	for _, fn := range c.changeFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetRegistration replaces the registration returned by GetRegistration.
func (c *Container) SetRegistration(r *Registration) {
	c.mu.Lock()
	c.registration = r
	c.mu.Unlock()
}

// SetRegisterError makes Register fail with err.
func (c *Container) SetRegisterError(err error) {
	c.mu.Lock()
	c.registerErr = err
	c.mu.Unlock()
}

// Registered returns every Register call so far.
func (c *Container) Registered() []RegisterCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RegisterCall(nil), c.registered...)
}

// Emit posts v to every message listener as if a worker sent it.
// []byte and json.RawMessage values are delivered verbatim; anything else is
// JSON encoded first.
func (c *Container) Emit(v any) {
	var data []byte
	switch raw := v.(type) {
	case []byte:
		data = raw
	case json.RawMessage:
		data = raw
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			panic(fmt.Sprintf("schematest: marshal %T: %v", v, err))
		}
	}

	c.mu.Lock()
	fns := make([]func([]byte), 0, len(c.messageFns))
	for _, fn := range c.messageFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

// ChangeListeners returns the number of attached controller-change listeners.
func (c *Container) ChangeListeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changeFns)
}

// MessageListeners returns the number of attached message listeners.
func (c *Container) MessageListeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messageFns)
}

// Lookups returns the number of GetRegistration calls.
func (c *Container) Lookups() int64 { return c.lookups.Load() }

// Calls returns the number of calls made through the schema.Container methods.
func (c *Container) Calls() int64 { return c.calls.Load() }

// Worker is an in-memory schema.Worker that records posted messages.
type Worker struct {
	id        string
	scriptURL string

	mu     sync.Mutex
	posted []map[string]any
	err    error

	// OnPost, when set, is called with every decoded message after it has
	// been recorded. Use it to script worker replies.
	OnPost func(msg map[string]any)
}

// NewWorker returns a worker with the given id serving ngsw-worker.js.
func NewWorker(id string) *Worker {
	return &Worker{id: id, scriptURL: "/ngsw-worker.js"}
}

func (w *Worker) ID() string        { return w.id }
func (w *Worker) ScriptURL() string { return w.scriptURL }

// PostMessage implements schema.Worker.
func (w *Worker) PostMessage(data []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("schematest: worker received non-object message: %w", err)
	}
	w.mu.Lock()
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return err
	}
	w.posted = append(w.posted, msg)
	hook := w.OnPost
	w.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

// SetPostError makes PostMessage fail with err.
func (w *Worker) SetPostError(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Posted returns the decoded messages posted so far.
func (w *Worker) Posted() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.posted...)
}

// Registration is an in-memory schema.Registration.
type Registration struct {
	scope string
	Push  *PushManager
}

// NewRegistration returns a registration with an empty push manager.
func NewRegistration(scope string) *Registration {
	return &Registration{scope: scope, Push: &PushManager{}}
}

func (r *Registration) Scope() string                   { return r.scope }
func (r *Registration) PushManager() schema.PushManager { return r.Push }

// PushManager is an in-memory schema.PushManager.
type PushManager struct {
	mu           sync.Mutex
	current      *Subscription
	lastOptions  *schema.PushSubscriptionOptions
	subscribeErr error
	seq          int
}

// GetSubscription implements schema.PushManager.
func (p *PushManager) GetSubscription(context.Context) (schema.PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	return p.current, nil
}

// Subscribe implements schema.PushManager.
func (p *PushManager) Subscribe(_ context.Context, opts schema.PushSubscriptionOptions) (schema.PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOptions = &opts
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	p.seq++
	p.current = &Subscription{
		endpoint: fmt.Sprintf("https://push.example.com/send/%d", p.seq),
		pm:       p,
		result:   true,
	}
	return p.current, nil
}

// SetSubscription installs sub as the current subscription (nil clears it).
func (p *PushManager) SetSubscription(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub != nil {
		sub.pm = p
	}
	p.current = sub
}

// SetSubscribeError makes Subscribe fail with err.
func (p *PushManager) SetSubscribeError(err error) {
	p.mu.Lock()
	p.subscribeErr = err
	p.mu.Unlock()
}

// LastOptions returns the options of the most recent Subscribe call.
func (p *PushManager) LastOptions() *schema.PushSubscriptionOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOptions
}

// Subscription is an in-memory schema.PushSubscription.
type Subscription struct {
	endpoint string
	pm       *PushManager

	mu     sync.Mutex
	result bool
	err    error
	calls  int
}

// NewSubscription returns a subscription whose Unsubscribe succeeds.
func NewSubscription(endpoint string) *Subscription {
	return &Subscription{endpoint: endpoint, result: true}
}

// FailUnsubscribe makes Unsubscribe report failure (ok=false).
func (s *Subscription) FailUnsubscribe() {
	s.mu.Lock()
	s.result = false
	s.mu.Unlock()
}

// SetUnsubscribeError makes Unsubscribe return err.
func (s *Subscription) SetUnsubscribeError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// UnsubscribeCalls returns how many times Unsubscribe was called.
func (s *Subscription) UnsubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Subscription) Endpoint() string { return s.endpoint }

func (s *Subscription) JSON() schema.PushSubscriptionJSON {
	return schema.PushSubscriptionJSON{
		Endpoint: s.endpoint,
		Keys:     map[string]string{"p256dh": "test-p256dh", "auth": "test-auth"},
	}
}

// Unsubscribe implements schema.PushSubscription.
func (s *Subscription) Unsubscribe(context.Context) (bool, error) {
	s.mu.Lock()
	s.calls++
	ok, err := s.result, s.err
	pm := s.pm
	s.mu.Unlock()

	if err != nil || !ok {
		return false, err
	}
	if pm != nil {
		pm.mu.Lock()
		if pm.current == s {
			pm.current = nil
		}
		pm.mu.Unlock()
	}
	return true, nil
}
