// Package dependency wires the swbridge services using go.uber.org/dig.
package dependency

import (
	"go.uber.org/dig"

	"github.com/crystaldolphin/swbridge/internal/bootstrap"
	"github.com/crystaldolphin/swbridge/internal/comm"
	"github.com/crystaldolphin/swbridge/internal/config"
	"github.com/crystaldolphin/swbridge/internal/push"
	"github.com/crystaldolphin/swbridge/internal/schema"
	"github.com/crystaldolphin/swbridge/internal/update"
)

// ServiceContainer holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type ServiceContainer struct {
	channel   *comm.Channel
	push      *push.Client
	updates   *update.Client
	registrar *bootstrap.Registrar
	poller    *update.Poller
}

func (c *ServiceContainer) Channel() *comm.Channel          { return c.channel }
func (c *ServiceContainer) Push() *push.Client              { return c.push }
func (c *ServiceContainer) Updates() *update.Client         { return c.updates }
func (c *ServiceContainer) Registrar() *bootstrap.Registrar { return c.registrar }

// Poller returns the scheduled update checker, or nil when
// updates.checkSchedule is empty.
func (c *ServiceContainer) Poller() *update.Poller { return c.poller }

// New builds and wires all services for host from cfg.
func New(cfg *config.Config, host schema.Host) (*ServiceContainer, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() schema.Host { return host }); err != nil {
		return nil, err
	}
	if err := d.Provide(newChannel); err != nil {
		return nil, err
	}
	if err := d.Provide(push.NewClient); err != nil {
		return nil, err
	}
	if err := d.Provide(update.NewClient); err != nil {
		return nil, err
	}
	if err := d.Provide(newRegistrar); err != nil {
		return nil, err
	}
	if err := d.Provide(newPoller); err != nil {
		return nil, err
	}

	var result *ServiceContainer
	err := d.Invoke(func(
		ch *comm.Channel,
		pushClient *push.Client,
		updates *update.Client,
		registrar *bootstrap.Registrar,
		poller *update.Poller,
	) {
		result = &ServiceContainer{
			channel:   ch,
			push:      pushClient,
			updates:   updates,
			registrar: registrar,
			poller:    poller,
		}
	})
	return result, err
}

func newChannel(cfg *config.Config, host schema.Host) *comm.Channel {
	return comm.NewChannelForHost(host, cfg.ServiceWorker.Enabled)
}

// newRegistrar waits on the host's stability signal when it has one;
// otherwise a connected host counts as stable.
func newRegistrar(cfg *config.Config, host schema.Host) *bootstrap.Registrar {
	r := &bootstrap.Registrar{
		Host: host,
		Options: bootstrap.Options{
			Enabled: cfg.ServiceWorker.Enabled,
			Script:  cfg.ServiceWorker.Script,
			Scope:   cfg.ServiceWorker.Scope,
		},
	}
	if s, ok := host.(bootstrap.StabilitySource); ok {
		r.Stable = s.Stable()
	}
	return r
}

func newPoller(cfg *config.Config, updates *update.Client) (*update.Poller, error) {
	if cfg.Updates.CheckSchedule == "" {
		return nil, nil
	}
	return update.NewPoller(updates, cfg.Updates.CheckSchedule, cfg.Updates.AutoActivate)
}
