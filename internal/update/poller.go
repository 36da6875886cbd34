package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// DefaultSchedule is used when a Poller is created with an empty schedule.
const DefaultSchedule = "@every 6h"

// Poller checks for updates on a cron schedule and can activate every
// announced update automatically.
type Poller struct {
	client       *Client
	spec         string
	schedule     robfigcron.Schedule
	autoActivate bool
	timeout      time.Duration
}

// NewPoller parses spec (standard five-field cron or a descriptor such as
// "@every 1h") and returns a Poller for client.
func NewPoller(client *Client, spec string, autoActivate bool) (*Poller, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := robfigcron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse update schedule %q: %w", spec, err)
	}
	return &Poller{
		client:       client,
		spec:         spec,
		schedule:     sched,
		autoActivate: autoActivate,
		timeout:      time.Minute,
	}, nil
}

// Start runs the schedule until ctx is cancelled. A disabled client makes
// Start return immediately.
func (p *Poller) Start(ctx context.Context) error {
	if !p.client.IsEnabled() {
		slog.Info("update: poller disabled, service worker unavailable")
		return nil
	}

	c := robfigcron.New()
	c.Schedule(p.schedule, robfigcron.FuncJob(func() { p.Check(ctx) }))

	if p.autoActivate {
		available := p.client.Available().Subscribe()
		defer available.Close()
		go func() {
			for ev := range available.C() {
				slog.Info("update: activating", "current", ev.Current.Hash, "available", ev.Available.Hash)
				p.activate(ctx)
			}
		}()
	}

	c.Start()
	slog.Info("update: poller started", "schedule", p.spec, "autoActivate", p.autoActivate)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("update: poller stopped")
	return ctx.Err()
}

// Check runs one update check and logs its outcome.
func (p *Poller) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.CheckForUpdate(ctx); err != nil {
		slog.Warn("update: check failed", "err", err)
		return
	}
	slog.Debug("update: check completed")
}

func (p *Poller) activate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.ActivateUpdate(ctx); err != nil {
		slog.Warn("update: activation failed", "err", err)
	}
}
