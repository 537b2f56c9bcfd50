package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/numguess/go/internal/bridge"
	"github.com/mcdev12/numguess/go/internal/config"
	"github.com/mcdev12/numguess/go/internal/sync/events"
)

func setupBridge(cfg config.Config, eng bridge.Engine, registry *prometheus.Registry) *bridge.Service {
	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	return bridge.NewService(cfg.Bridge.Config, eng, gatherer)
}

// bridgePublisher forwards engine events to the bridge once it exists.
type bridgePublisher struct {
	target events.Publisher
}

func (p *bridgePublisher) Publish(ctx context.Context, event events.Event) error {
	if p.target == nil {
		return nil
	}
	return p.target.Publish(ctx, event)
}
