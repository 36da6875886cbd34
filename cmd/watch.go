package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/swbridge/internal/shared/cmdutils"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Register the worker and print its events until interrupted",
	RunE:  runWatch,
}

func runWatch(_ *cobra.Command, _ []string) error {
	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	svc := s.services
	fmt.Printf("%s Connected to %s\n", logo, s.cfg.Bridge.URL)
	if !svc.Channel().IsEnabled() {
		fmt.Println("Warning: service worker disabled or unsupported by the host")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.client.Run(gctx) })

	stopInit := svc.Registrar().Initialize(gctx)
	defer stopInit()

	if p := svc.Poller(); p != nil {
		fmt.Printf("✓ Update checks: %s\n", s.cfg.Updates.CheckSchedule)
		g.Go(func() error { return p.Start(gctx) })
	}

	g.Go(func() error { return printEvents(gctx, "update.available", svc.Updates().Available()) })
	g.Go(func() error { return printEvents(gctx, "update.activated", svc.Updates().Activated()) })
	g.Go(func() error { return printEvents(gctx, "push.message", svc.Push().Messages()) })
	g.Go(func() error { return printEvents(gctx, "push.click", svc.Push().NotificationClicks()) })

	fmt.Printf("%s Watching. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}

// printEvents prints every value of src until ctx is done or src ends.
func printEvents[T any](ctx context.Context, kind string, src stream.Stream[T]) error {
	sub := src.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			cmdutils.PrintEvent(kind, v)
		}
	}
}
