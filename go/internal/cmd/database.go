package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/internal/config"
	"github.com/mcdev12/numguess/go/internal/sync/snapshotstore"
)

func setupSnapshotStore(cfg config.Config) (snapshotstore.Store, error) {
	if cfg.SnapshotDB == "" {
		return snapshotstore.NewMemoryStore(), nil
	}

	store, err := snapshotstore.Open(cfg.SnapshotDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	log.Info().Str("path", cfg.SnapshotDB).Msg("opened snapshot store")
	return store, nil
}
