package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/crystaldolphin/swbridge/internal/bridge"
	"github.com/crystaldolphin/swbridge/internal/config"
	"github.com/crystaldolphin/swbridge/internal/dependency"
)

// dialTimeout bounds connecting to the host in one-shot commands.
const dialTimeout = 15 * time.Second

// session is a connected bridge plus the services wired on top of it.
type session struct {
	cfg      *config.Config
	client   *bridge.Client
	services *dependency.ServiceContainer
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		URL:              cfg.Bridge.URL,
		Token:            cfg.Bridge.Token,
		HandshakeTimeout: time.Duration(cfg.Bridge.HandshakeTimeout) * time.Second,
	}
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := bridge.Dial(ctx, bridgeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Bridge.URL, err)
	}

	services, err := dependency.New(cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &session{cfg: cfg, client: client, services: services}, nil
}

func (s *session) Close() {
	s.client.Close()
}
