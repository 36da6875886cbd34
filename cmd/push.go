package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/swbridge/internal/push"
	"github.com/crystaldolphin/swbridge/internal/shared/cmdutils"
	"github.com/crystaldolphin/swbridge/internal/stream"
)

var pushServerKey string

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage the push subscription",
}

var pushStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current push subscription",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withPush(func(ctx context.Context, s *session) error {
			sub, err := stream.First(ctx, s.services.Push().Subscription())
			if err != nil {
				return fmt.Errorf("read subscription: %w", err)
			}
			if sub == nil {
				fmt.Println("Not subscribed")
				return nil
			}
			return cmdutils.PrintJSON(sub.JSON())
		})
	},
}

var pushSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to push notifications",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withPush(func(ctx context.Context, s *session) error {
			key := pushServerKey
			if key == "" {
				key = s.cfg.Push.ServerPublicKey
			}
			if key == "" {
				return errors.New("no server public key: set push.serverPublicKey or pass --key")
			}
			sub, err := s.services.Push().RequestSubscription(ctx, push.SubscribeOptions{ServerPublicKey: key})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			fmt.Println("✓ Subscribed")
			return cmdutils.PrintJSON(sub.JSON())
		})
	},
}

var pushUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Cancel the push subscription",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withPush(func(ctx context.Context, s *session) error {
			if err := s.services.Push().Unsubscribe(ctx); err != nil {
				return fmt.Errorf("unsubscribe: %w", err)
			}
			fmt.Println("✓ Unsubscribed")
			return nil
		})
	},
}

func init() {
	pushSubscribeCmd.Flags().StringVarP(&pushServerKey, "key", "k", "", "Server public key (base64url), overrides push.serverPublicKey")

	pushCmd.AddCommand(pushStatusCmd)
	pushCmd.AddCommand(pushSubscribeCmd)
	pushCmd.AddCommand(pushUnsubscribeCmd)
}

func withPush(fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.services.Push().IsEnabled() {
		return errors.New("service worker disabled or unsupported by the host")
	}
	return fn(ctx, s)
}
