package comm

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/schema/schematest"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func nextValue[T any](t *testing.T, sub *stream.Subscription[T]) T {
	t.Helper()
	v, err := sub.Next(testContext(t))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return v
}

func expectSilence[T any](t *testing.T, sub *stream.Subscription[T]) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
		t.Fatalf("stream ended unexpectedly: %v", sub.Err())
	case <-time.After(30 * time.Millisecond):
	}
}

func TestChannel_Disabled(t *testing.T) {
	ch := NewChannel(nil)
	if ch.IsEnabled() {
		t.Fatal("IsEnabled = true for nil container")
	}

	ctx := testContext(t)
	if err := ch.Send(ctx, "ANY", nil); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Send err = %v, want ErrNotSupported", err)
	}
	if err := ch.SendWithAck(ctx, "ANY", nil, 1); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("SendWithAck err = %v, want ErrNotSupported", err)
	}
	if _, err := stream.First(ctx, ch.ActiveWorker()); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("ActiveWorker err = %v, want ErrNotSupported", err)
	}
	if _, err := stream.First(ctx, ch.Registration()); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Registration err = %v, want ErrNotSupported", err)
	}
	if _, err := ch.NextEventOfType(ctx, schema.EventPush); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("NextEventOfType err = %v, want ErrNotSupported", err)
	}
}

func TestNewChannelForHost_DisabledByConfig(t *testing.T) {
	container := schematest.NewContainer()
	host := &schematest.Host{Browser: true, Container: container}

	if ch := NewChannelForHost(host, false); ch.IsEnabled() {
		t.Fatal("channel enabled despite configuration")
	}
	if container.Calls() != 0 {
		t.Fatalf("disabled channel touched the platform %d times", container.Calls())
	}
	if ch := NewChannelForHost(&schematest.Host{Browser: false, Container: container}, true); ch.IsEnabled() {
		t.Fatal("channel enabled outside a browser")
	}
	if ch := NewChannelForHost(&schematest.Host{Browser: true}, true); ch.IsEnabled() {
		t.Fatal("channel enabled without service worker support")
	}
	if ch := NewChannelForHost(host, true); !ch.IsEnabled() {
		t.Fatal("channel disabled on a supported host")
	}
}

func TestActiveWorker_EmitsCurrentThenChanges(t *testing.T) {
	container := schematest.NewContainer()
	w1 := schematest.NewWorker("w1")
	container.SetController(w1)
	ch := NewChannel(container)

	sub := ch.ActiveWorker().Subscribe()
	defer sub.Close()

	if w := nextValue(t, sub); w.ID() != "w1" {
		t.Fatalf("first worker = %s, want w1", w.ID())
	}

	container.SetController(nil)
	w2 := schematest.NewWorker("w2")
	container.SetController(w2)

	if w := nextValue(t, sub); w.ID() != "w2" {
		t.Fatalf("second worker = %s, want w2", w.ID())
	}
	expectSilence(t, sub)
}

func TestActiveWorker_WaitsForFirstController(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	sub := ch.ActiveWorker().Subscribe()
	defer sub.Close()
	expectSilence(t, sub)

	container.SetController(schematest.NewWorker("late"))
	if w := nextValue(t, sub); w.ID() != "late" {
		t.Fatalf("worker = %s, want late", w.ID())
	}
}

func TestRegistration_FollowsController(t *testing.T) {
	container := schematest.NewContainer()
	container.SetController(schematest.NewWorker("w1"))
	ch := NewChannel(container)

	sub := ch.Registration().Subscribe()
	defer sub.Close()

	if reg := nextValue(t, sub); reg.Scope() != "/" {
		t.Fatalf("scope = %q, want /", reg.Scope())
	}

	container.SetRegistration(schematest.NewRegistration("/app/"))
	container.SetController(schematest.NewWorker("w2"))
	if reg := nextValue(t, sub); reg.Scope() != "/app/" {
		t.Fatalf("scope = %q, want /app/", reg.Scope())
	}
	if n := container.Lookups(); n != 2 {
		t.Fatalf("lookups = %d, want 2", n)
	}
}

func TestRegistration_StaleLookupDiscarded(t *testing.T) {
	container := schematest.NewContainer()
	container.SetController(schematest.NewWorker("w1"))
	var blocked atomic.Bool
	container.LookupHook = func(ctx context.Context) error {
		if blocked.CompareAndSwap(false, true) {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	ch := NewChannel(container)

	sub := ch.Registration().Subscribe()
	defer sub.Close()
	expectSilence(t, sub)

	container.SetController(schematest.NewWorker("w2"))
	if reg := nextValue(t, sub); reg == nil {
		t.Fatal("nil registration")
	}
	expectSilence(t, sub)
}

func TestEventsOfType_FiltersAndMulticasts(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	a := ch.EventsOfType(schema.EventPush).Subscribe()
	b := ch.EventsOfType(schema.EventPush).Subscribe()
	defer a.Close()
	defer b.Close()

	container.Emit(map[string]any{"type": schema.EventUpdateAvailable})
	container.Emit(map[string]any{"type": schema.EventPush, "data": map[string]any{"n": 1}})

	for i, sub := range []*stream.Subscription[Event]{a, b} {
		ev := nextValue(t, sub)
		if ev.Type != schema.EventPush {
			t.Fatalf("subscriber %d: type = %q", i, ev.Type)
		}
		if string(ev.Data) != `{"n":1}` {
			t.Fatalf("subscriber %d: data = %s", i, ev.Data)
		}
		expectSilence(t, sub)
	}
	if n := container.MessageListeners(); n != 1 {
		t.Fatalf("message listeners = %d, want 1", n)
	}
}

func TestEvents_DropsMalformedPayloads(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	sub := ch.Events().Subscribe()
	defer sub.Close()

	container.Emit([]byte(`not json`))
	container.Emit([]byte(`"PUSH"`))
	container.Emit([]byte(`null`))
	container.Emit(map[string]any{"data": "untagged"})
	container.Emit(map[string]any{"type": ""})
	container.Emit(map[string]any{"type": 42})
	container.Emit(map[string]any{"type": schema.EventPush})

	if ev := nextValue(t, sub); ev.Type != schema.EventPush {
		t.Fatalf("type = %q, want PUSH", ev.Type)
	}
	expectSilence(t, sub)
}

func TestNextEventOfType(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	ctx := testContext(t)
	got := make(chan Event, 1)
	go func() {
		ev, err := ch.NextEventOfType(ctx, schema.EventUpdateActivated)
		if err == nil {
			got <- ev
		}
	}()

	deadline := time.After(time.Second)
	for {
		container.Emit(map[string]any{"type": schema.EventUpdateActivated, "current": map[string]any{"hash": "abc"}})
		select {
		case ev := <-got:
			var body struct {
				Current struct{ Hash string } `json:"current"`
			}
			if err := ev.Decode(&body); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if body.Current.Hash != "abc" {
				t.Fatalf("hash = %q, want abc", body.Current.Hash)
			}
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestSend_PostsActionToController(t *testing.T) {
	container := schematest.NewContainer()
	w := schematest.NewWorker("w1")
	container.SetController(w)
	ch := NewChannel(container)

	if err := ch.Send(testContext(t), "PING", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	posted := w.Posted()
	if len(posted) != 1 {
		t.Fatalf("posted %d messages, want 1", len(posted))
	}
	if posted[0]["action"] != "PING" || posted[0]["x"] != float64(1) {
		t.Fatalf("posted = %v", posted[0])
	}
}

func TestSend_ActionOverridesPayloadKey(t *testing.T) {
	container := schematest.NewContainer()
	w := schematest.NewWorker("w1")
	container.SetController(w)
	ch := NewChannel(container)

	if err := ch.Send(testContext(t), "REAL", map[string]any{"action": "FAKE"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := w.Posted()[0]["action"]; got != "REAL" {
		t.Fatalf("action = %v, want REAL", got)
	}
}

func TestSend_WaitsForController(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- ch.Send(ctx, "HELLO", nil) }()

	select {
	case err := <-errc:
		t.Fatalf("Send returned before a controller existed: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	w := schematest.NewWorker("w1")
	container.SetController(w)
	if err := <-errc; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.Posted()) != 1 {
		t.Fatalf("posted %d messages, want 1", len(w.Posted()))
	}
}

func TestSend_PostError(t *testing.T) {
	container := schematest.NewContainer()
	w := schematest.NewWorker("w1")
	boom := errors.New("port closed")
	w.SetPostError(boom)
	container.SetController(w)
	ch := NewChannel(container)

	if err := ch.Send(testContext(t), "X", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped port closed", err)
	}
}

// ackingWorker replies to every message with a STATUS event for its
// statusNonce, synchronously, before PostMessage returns.
func ackingWorker(container *schematest.Container, status bool, errText string) *schematest.Worker {
	w := schematest.NewWorker("w1")
	w.OnPost = func(msg map[string]any) {
		ack := map[string]any{"type": schema.EventStatus, "nonce": msg["statusNonce"], "status": status}
		if errText != "" {
			ack["error"] = errText
		}
		container.Emit(ack)
	}
	return w
}

func TestSendWithAck_Success(t *testing.T) {
	container := schematest.NewContainer()
	container.SetController(ackingWorker(container, true, ""))
	ch := NewChannel(container)

	if err := ch.SendWithAck(testContext(t), "DO", map[string]any{"statusNonce": 42}, 42); err != nil {
		t.Fatalf("SendWithAck: %v", err)
	}
}

func TestSendWithAck_FailureStatus(t *testing.T) {
	container := schematest.NewContainer()
	container.SetController(ackingWorker(container, false, "boom"))
	ch := NewChannel(container)

	err := ch.SendWithAck(testContext(t), "DO", map[string]any{"statusNonce": 42}, 42)
	var ackErr *AckError
	if !errors.As(err, &ackErr) {
		t.Fatalf("err = %v, want *AckError", err)
	}
	if err.Error() != "boom" {
		t.Fatalf("message = %q, want boom", err.Error())
	}
	if ackErr.Nonce != 42 {
		t.Fatalf("nonce = %d, want 42", ackErr.Nonce)
	}
}

func TestSendWithAck_IgnoresOtherNonces(t *testing.T) {
	container := schematest.NewContainer()
	w := schematest.NewWorker("w1")
	w.OnPost = func(map[string]any) {
		container.Emit(map[string]any{"type": schema.EventStatus, "nonce": 7, "status": false, "error": "not yours"})
	}
	container.SetController(w)
	ch := NewChannel(container)

	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- ch.SendWithAck(ctx, "DO", nil, 42) }()

	select {
	case err := <-errc:
		t.Fatalf("resolved on a foreign nonce: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	container.Emit(map[string]any{"type": schema.EventStatus, "nonce": 42, "status": true})
	if err := <-errc; err != nil {
		t.Fatalf("SendWithAck: %v", err)
	}
}

func TestSendWithAck_RequiresSend(t *testing.T) {
	container := schematest.NewContainer()
	ch := NewChannel(container)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- ch.SendWithAck(ctx, "DO", nil, 9) }()

	// The ack arrives but no controller exists, so the send never completes.
	time.Sleep(10 * time.Millisecond)
	container.Emit(map[string]any{"type": schema.EventStatus, "nonce": 9, "status": true})

	if err := <-errc; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestGenerateNonce(t *testing.T) {
	ch := NewChannel(nil)
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		n := ch.GenerateNonce()
		if n == 0 || n > nonceMask {
			t.Fatalf("nonce %d out of range", n)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %d", n)
		}
		seen[n] = true
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, ok := DecodeEvent([]byte(`{"type":"STATUS","nonce":1.2e3,"status":true,"error":"x","data":[1]}`))
	if !ok {
		t.Fatal("DecodeEvent rejected a valid STATUS event")
	}
	if ev.Nonce != 1200 || !ev.Status || ev.Error != "x" {
		t.Fatalf("decoded %+v", ev)
	}
	if !json.Valid(ev.Raw) || string(ev.Data) != "[1]" {
		t.Fatalf("raw = %s data = %s", ev.Raw, ev.Data)
	}

	if ev, ok := DecodeEvent([]byte(`{"type":"PUSH","nonce":"soon"}`)); !ok || ev.Nonce != 0 {
		t.Fatalf("non-numeric nonce: ok=%v nonce=%d", ok, ev.Nonce)
	}
	if _, ok := DecodeEvent([]byte(`[1,2]`)); ok {
		t.Fatal("accepted an array")
	}
}
