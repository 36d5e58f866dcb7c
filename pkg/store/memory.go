package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mcclellann/debiflow/pkg/models"
)

// MemoryStore keeps blobs and runs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	runs  []*models.StageRun
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Write(_ context.Context, path string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[path]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for p := range m.blobs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run *models.StageRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs = append(m.runs, &copied)
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, investor string) ([]*models.StageRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []*models.StageRun
	for _, r := range m.runs {
		if r.Investor == investor {
			copied := *r
			runs = append(runs, &copied)
		}
	}
	return runs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
