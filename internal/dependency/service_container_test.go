package dependency

import (
	"context"
	"testing"
	"time"

	"github.com/crystaldolphin/swbridge/internal/config"
	"github.com/crystaldolphin/swbridge/internal/schema/schematest"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

// stableHost is a host that reports application stability.
type stableHost struct {
	*schematest.Host
	stable *stream.Broadcast[bool]
}

func (h *stableHost) Stable() stream.Stream[bool] { return h.stable }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_WiresServices(t *testing.T) {
	cfg := config.DefaultConfig()
	host := &schematest.Host{Browser: true, Container: schematest.NewContainer()}

	c, err := New(&cfg, host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Channel().IsEnabled() {
		t.Error("channel disabled on a supported host")
	}
	if !c.Push().IsEnabled() || !c.Updates().IsEnabled() {
		t.Error("clients should share the enabled channel")
	}
	if r := c.Registrar(); r.Host != host || r.Options.Script != cfg.ServiceWorker.Script || !r.Options.Enabled {
		t.Errorf("registrar = %+v", r)
	}
	if c.Poller() == nil {
		t.Error("default config should schedule update checks")
	}
}

func TestNew_DisabledByConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ServiceWorker.Enabled = false
	cfg.Updates.CheckSchedule = ""
	container := schematest.NewContainer()

	c, err := New(&cfg, &schematest.Host{Browser: true, Container: container})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Channel().IsEnabled() || c.Push().IsEnabled() {
		t.Error("services enabled despite configuration")
	}
	if c.Poller() != nil {
		t.Error("poller created without a schedule")
	}
	if n := container.Calls(); n != 0 {
		t.Errorf("wiring made %d platform calls", n)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Updates.CheckSchedule = "whenever"
	if _, err := New(&cfg, &schematest.Host{}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNew_RegistrarWaitsForHostStability(t *testing.T) {
	cfg := config.DefaultConfig()
	container := schematest.NewContainer()
	host := &stableHost{
		Host:   &schematest.Host{Browser: true, Container: container},
		stable: stream.NewBroadcast[bool](),
	}

	c, err := New(&cfg, host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Registrar().Stable == nil {
		t.Fatal("registrar ignores the host stability signal")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := c.Registrar().Initialize(ctx)
	defer stop()

	waitFor(t, func() bool { return host.stable.Len() > 0 })
	host.stable.Publish(false)
	time.Sleep(30 * time.Millisecond)
	if n := len(container.Registered()); n != 0 {
		t.Fatalf("registered %d times before the host was stable", n)
	}

	host.stable.Publish(true)
	waitFor(t, func() bool { return len(container.Registered()) == 1 })
}

func TestNew_PlainHostRegistersWithoutWaiting(t *testing.T) {
	cfg := config.DefaultConfig()
	c, err := New(&cfg, &schematest.Host{Browser: true, Container: schematest.NewContainer()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Registrar().Stable != nil {
		t.Error("plain host should not get a stability signal")
	}
}
