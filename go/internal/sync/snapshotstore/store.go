// Package snapshotstore persists the last-known-good SyncSnapshot per room so the
// recovery fallback survives a restart.
package snapshotstore

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/numguess/go/internal/models"
)

var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads snapshots keyed by room id.
type Store interface {
	Save(ctx context.Context, snap models.SyncSnapshot) error
	Load(ctx context.Context, roomID string) (models.SyncSnapshot, error)
	Delete(ctx context.Context, roomID string) error
	Close() error
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]models.SyncSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]models.SyncSnapshot)}
}

func (m *MemoryStore) Save(_ context.Context, snap models.SyncSnapshot) error {
	if snap.Session.RoomID == "" {
		return errors.New("snapshot has no room id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Session.RoomID] = snap.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, roomID string) (models.SyncSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[roomID]
	if !ok {
		return models.SyncSnapshot{}, ErrNotFound
	}
	return snap.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, roomID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
