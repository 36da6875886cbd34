package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and activate application updates",
}

var updateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the worker to check for a new version",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withUpdates(func(ctx context.Context, s *session) error {
			if err := s.services.Updates().CheckForUpdate(ctx); err != nil {
				return fmt.Errorf("check for update: %w", err)
			}
			fmt.Println("✓ Update check complete")
			return nil
		})
	},
}

var updateActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Switch the page to the latest downloaded version",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withUpdates(func(ctx context.Context, s *session) error {
			if err := s.services.Updates().ActivateUpdate(ctx); err != nil {
				return fmt.Errorf("activate update: %w", err)
			}
			fmt.Println("✓ Update activated")
			return nil
		})
	},
}

func init() {
	updateCmd.AddCommand(updateCheckCmd)
	updateCmd.AddCommand(updateActivateCmd)
}

func withUpdates(fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.services.Updates().IsEnabled() {
		return errors.New("service worker disabled or unsupported by the host")
	}
	return fn(ctx, s)
}
