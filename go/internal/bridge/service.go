// Package bridge exposes the sync engine to local observers: a websocket stream of
// views and sync events, a JSON view endpoint, a command endpoint and /metrics.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Engine is what the bridge needs from the sync engine.
type Engine interface {
	ViewSource
	Commander
}

// Config holds configuration for the bridge
type Config struct {
	Addr            string           `yaml:"addr"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	AllowCommands   bool             `yaml:"allow_commands"`
	Connection      ConnectionConfig `yaml:"connection"`
}

// DefaultConfig returns default configuration for the bridge
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8089",
		ShutdownTimeout: 5 * time.Second,
		AllowCommands:   true,
		Connection:      DefaultConnectionConfig(),
	}
}

// Service owns the observer connections and the HTTP server
type Service struct {
	config            Config
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	views             ViewSource
	gatherer          prometheus.Gatherer
}

// NewService creates the bridge. gatherer may be nil to omit /metrics.
func NewService(config Config, eng Engine, gatherer prometheus.Gatherer) *Service {
	var commands Commander
	if config.AllowCommands {
		commands = eng
	}
	cm := NewConnectionManager(config.Connection, commands)

	return &Service{
		config:            config,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, eng),
		views:             eng,
		gatherer:          gatherer,
	}
}

// Publisher lets the engine send sync events to observers.
func (s *Service) Publisher() *ConnectionManager {
	return s.connectionManager
}

// Run forwards views to observers and serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.connectionManager.Start(ctx)
	go s.forwardViews(ctx)

	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.config.Addr).Msg("bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("bridge server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down bridge server")
		return err
	}
	log.Info().Msg("bridge stopped")
	return nil
}

// Handler builds the routed, CORS-wrapped h2c handler.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.wsHandler.RegisterRoutes(mux)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func (s *Service) forwardViews(ctx context.Context) {
	views, unsubscribe := s.views.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			s.connectionManager.BroadcastView(v)
		}
	}
}
