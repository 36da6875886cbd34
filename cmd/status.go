package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/swbridge/internal/bridge"
	"github.com/crystaldolphin/swbridge/internal/config"
	"github.com/crystaldolphin/swbridge/internal/shared/stringutils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show swbridge status",
	RunE:  runStatus,
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	fmt.Printf("%s swbridge Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(statErr == nil))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Printf("Worker:    %s %s\n", cfg.ServiceWorker.Script, mark(cfg.ServiceWorker.Enabled))
	fmt.Printf("Scope:     %s\n", stringutils.OrDefault(cfg.ServiceWorker.Scope, "(default)"))
	fmt.Printf("Updates:   %s\n", stringutils.OrDefault(cfg.Updates.CheckSchedule, "(manual)"))
	fmt.Printf("Push key:  %s\n\n", mark(cfg.Push.ServerPublicKey != ""))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := bridge.Dial(ctx, bridgeConfig(cfg))
	if err != nil {
		fmt.Printf("Bridge:    %s ✗ (%v)\n", cfg.Bridge.URL, err)
		return nil
	}
	defer client.Close()

	fmt.Printf("Bridge:    %s ✓\n", cfg.Bridge.URL)
	fmt.Printf("  Browser:        %s\n", mark(client.IsBrowser()))
	fmt.Printf("  Service worker: %s\n", mark(client.ServiceWorker() != nil))
	fmt.Printf("  Controlled:     %s\n", mark(client.Controller() != nil))
	return nil
}
