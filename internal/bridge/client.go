// Package bridge connects to a worker host over WebSocket and exposes it as
// a schema.Host, so the service worker clients can drive a real browser
// (or a headless runner) from a Go process.
//
// The host sends a hello frame after the connection is established and
// thereafter forwards worker messages and controller changes. Platform calls
// are request/reply pairs correlated by id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

// DefaultURL is used when Config.URL is empty.
const DefaultURL = "ws://localhost:3002"

var (
	// ErrNotConnected is returned for calls made while the connection is down.
	ErrNotConnected = errors.New("bridge: not connected")
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("bridge: closed")
	// ErrNoRegistration is returned by GetRegistration when the host has no
	// registration for the page.
	ErrNoRegistration = errors.New("bridge: no service worker registration")
)

// RemoteError is a failure reported by the host for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Method, e.Message)
}

// Config configures a Client.
type Config struct {
	URL   string
	Token string
	// HandshakeTimeout bounds the wait for the hello frame. Default 10s.
	HandshakeTimeout time.Duration
	// NewBackOff returns the reconnect policy used by Run. The default is
	// exponential, capped at 30s between attempts, and never gives up.
	NewBackOff func() backoff.BackOff
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

type reply struct {
	frame Frame
	err   error
}

// Client is a connection to a worker host. It implements schema.Host and
// schema.Container.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	lost       chan struct{}
	closed     bool
	supported  bool
	browser    bool
	stable     bool
	controller *remoteWorker
	pending    map[string]chan reply
	changeFns  map[int]func()
	messageFns map[int]func([]byte)
	nextID     int

	stableChanges *stream.Broadcast[bool]
}

// New returns an unconnected Client. Call Run to connect.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	return &Client{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		pending:    make(map[string]chan reply),
		changeFns:  make(map[int]func()),
		messageFns: make(map[int]func([]byte)),

		stableChanges: stream.NewBroadcast[bool](),
	}
}

// Dial connects to the host and waits for its hello frame.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Run keeps the connection alive, reconnecting with backoff whenever it
// drops, until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.mu.Lock()
		lost, closed := c.lost, c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}

		if lost != nil {
			select {
			case <-ctx.Done():
				c.Close()
				return ctx.Err()
			case <-lost:
			}
			if c.isClosed() {
				return nil
			}
			slog.Warn("bridge: connection lost, reconnecting", "url", c.cfg.URL)
		}

		bo := backoff.WithContext(c.cfg.NewBackOff(), ctx)
		err := backoff.RetryNotify(func() error {
			err := c.connect(ctx)
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}, bo, func(err error, next time.Duration) {
			slog.Warn("bridge: connect failed", "err", err, "retryIn", next)
		})
		switch {
		case ctx.Err() != nil:
			c.Close()
			return ctx.Err()
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			return err
		}
	}
}

// Close drops the connection and fails every pending call with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	if c.cfg.Token != "" {
		if err := conn.WriteJSON(Frame{Type: frameAuth, Token: c.cfg.Token}); err != nil {
			conn.Close()
			return fmt.Errorf("send auth: %w", err)
		}
	}

	hello, err := c.readHello(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	lost := make(chan struct{})
	c.conn = conn
	c.lost = lost
	c.supported = hello.Supported
	c.browser = hello.Browser
	c.setStableLocked(hello.Stable == nil || *hello.Stable)
	var fns []func()
	if c.setControllerLocked(hello.Controller) {
		fns = c.changeListenersLocked()
	}
	c.mu.Unlock()

	slog.Info("bridge: connected", "url", c.cfg.URL, "supported", hello.Supported, "browser", hello.Browser)
	for _, fn := range fns {
		fn()
	}
	go c.readLoop(conn, lost)
	return nil
}

func (c *Client) readHello(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return f, fmt.Errorf("read hello: %w", err)
	}
	if f.Type != frameHello {
		return f, fmt.Errorf("expected hello frame, got %q", f.Type)
	}
	return f, nil
}

func (c *Client) readLoop(conn *websocket.Conn, lost chan struct{}) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		failWith := ErrNotConnected
		if c.closed {
			failWith = ErrClosed
		}
		pending := c.pending
		c.pending = make(map[string]chan reply)
		c.mu.Unlock()

		for _, ch := range pending {
			ch <- reply{err: failWith}
		}
		close(lost)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				slog.Warn("bridge: read failed", "err", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		slog.Debug("bridge: dropped malformed frame", "err", err)
		return
	}

	switch f.Type {
	case frameMessage:
		if len(f.Data) == 0 {
			return
		}
		c.mu.Lock()
		fns := make([]func([]byte), 0, len(c.messageFns))
		for _, fn := range c.messageFns {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(f.Data)
		}
	case frameControllerChange:
		c.mu.Lock()
		c.setControllerLocked(f.Controller)
		fns := c.changeListenersLocked()
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	case frameReply:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- reply{frame: f}
		}
	case frameStable:
		if f.Stable == nil {
			return
		}
		c.mu.Lock()
		c.setStableLocked(*f.Stable)
		c.mu.Unlock()
	case frameHello:
		c.mu.Lock()
		c.supported = f.Supported
		c.browser = f.Browser
		c.setStableLocked(f.Stable == nil || *f.Stable)
		c.mu.Unlock()
	default:
		slog.Debug("bridge: unknown frame", "type", f.Type)
	}
}

// setControllerLocked records info as the controller and reports whether the
// controller identity changed.
func (c *Client) setControllerLocked(info *WorkerInfo) bool {
	if info == nil || info.ID == "" {
		changed := c.controller != nil
		c.controller = nil
		return changed
	}
	if c.controller != nil && c.controller.id == info.ID {
		return false
	}
	c.controller = &remoteWorker{c: c, id: info.ID, scriptURL: info.ScriptURL}
	return true
}

func (c *Client) setStableLocked(stable bool) {
	if c.stable == stable {
		return
	}
	c.stable = stable
	c.stableChanges.Publish(stable)
}

func (c *Client) changeListenersLocked() []func() {
	fns := make([]func(), 0, len(c.changeFns))
	for _, fn := range c.changeFns {
		fns = append(fns, fn)
	}
	return fns
}

func (c *Client) write(f Frame) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// request sends one platform call and decodes the reply's result into
// result, which may be nil.
func (c *Client) request(ctx context.Context, method string, params, result any) error {
	p, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: encode %s params: %w", method, err)
	}

	id := uuid.NewString()
	ch := make(chan reply, 1)
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.conn == nil:
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(Frame{Type: frameRequest, ID: id, Method: method, Params: p}); err != nil {
		c.forget(id)
		return fmt.Errorf("bridge: %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if r.frame.Error != "" {
			return &RemoteError{Method: method, Message: r.frame.Error}
		}
		if result != nil && len(r.frame.Result) > 0 {
			if err := json.Unmarshal(r.frame.Result, result); err != nil {
				return fmt.Errorf("bridge: decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// IsBrowser implements schema.Host.
func (c *Client) IsBrowser() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browser
}

// ServiceWorker implements schema.Host. It is nil until the host has
// announced service worker support.
func (c *Client) ServiceWorker() schema.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.supported {
		return nil
	}
	return c
}

// Controller implements schema.Container.
func (c *Client) Controller() schema.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return nil
	}
	return c.controller
}

// Stable emits whether the host application has settled: the current state
// on subscription, then every change. It starts false until the first hello.
func (c *Client) Stable() stream.Stream[bool] {
	return stream.Func[bool](func() *stream.Subscription[bool] {
		c.mu.Lock()
		defer c.mu.Unlock()
		return stream.StartWith[bool](c.stableChanges, func() (bool, bool) {
			return c.stable, true
		}).Subscribe()
	})
}

// OnControllerChange implements schema.Container.
func (c *Client) OnControllerChange(fn func()) func() {
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
func (c *Client) OnMessage(fn func([]byte)) func() {
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
func (c *Client) GetRegistration(ctx context.Context) (schema.Registration, error) {
	var res *registrationResult
	if err := c.request(ctx, MethodGetRegistration, struct{}{}, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoRegistration
	}
	return &remoteRegistration{c: c, scope: res.Scope}, nil
}

// Register implements schema.Container.
func (c *Client) Register(ctx context.Context, scriptURL string, opts schema.RegistrationOptions) (schema.Registration, error) {
	var res registrationResult
	params := registerParams{ScriptURL: scriptURL, Scope: opts.Scope}
	if err := c.request(ctx, MethodRegister, params, &res); err != nil {
		return nil, err
	}
	return &remoteRegistration{c: c, scope: res.Scope}, nil
}
