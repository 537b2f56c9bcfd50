package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/bridge"
	"github.com/mcdev12/numguess/go/internal/config"
	"github.com/mcdev12/numguess/go/internal/sync/engine"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/health"
	"github.com/mcdev12/numguess/go/internal/sync/snapshotstore"
)

type Services struct {
	Client   *game_api_client.GameApiClient
	Engine   *engine.Engine
	Store    snapshotstore.Store
	Bridge   *bridge.Service
	Registry *prometheus.Registry

	nats *events.NATSPublisher
}

// setupServices wires client -> engine, plus the optional store, NATS publisher,
// metrics registry and observer bridge.
func setupServices(cfg config.Config) (*Services, error) {
	s := &Services{
		Client: game_api_client.NewGameApiClient(cfg.BaseURL),
	}

	var metrics health.MetricsCollector = &health.NoOpMetricsCollector{}
	if cfg.Metrics || cfg.Bridge.Enabled {
		s.Registry = prometheus.NewRegistry()
		metrics = health.NewPrometheusMetrics(s.Registry)
	}

	store, err := setupSnapshotStore(cfg)
	if err != nil {
		return nil, err
	}
	s.Store = store

	publishers := events.MultiPublisher{events.LogPublisher{}}
	if cfg.NATS.Enabled {
		pub, err := events.NewNATSPublisher(cfg.NATS.NATSConfig)
		if err != nil {
			// Don't fail startup, the game works without the event stream
			log.Error().Err(err).Msg("failed to connect event publisher")
		} else {
			s.nats = pub
			publishers = append(publishers, pub)
		}
	}

	// the bridge publisher is attached after the engine exists
	var bridgePub *bridgePublisher
	if cfg.Bridge.Enabled {
		bridgePub = &bridgePublisher{}
		publishers = append(publishers, bridgePub)
	}

	eng, err := engine.New(cfg.Engine, s.Client,
		engine.WithMetrics(metrics),
		engine.WithPublisher(publishers),
		engine.WithSnapshotStore(store),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}
	s.Engine = eng

	if cfg.Bridge.Enabled {
		s.Bridge = setupBridge(cfg, eng, s.Registry)
		bridgePub.target = s.Bridge.Publisher()
	}
	return s, nil
}

// Close releases the store and the NATS connection.
func (s *Services) Close() {
	if s.nats != nil {
		s.nats.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close snapshot store")
		}
	}
}
