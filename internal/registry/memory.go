package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/namedfs/namedfs/pkg/types"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]types.NamedCluster
}

// NewMemoryStore creates an empty store, optionally seeded with records.
func NewMemoryStore(seed ...types.NamedCluster) *MemoryStore {
	s := &MemoryStore{clusters: make(map[string]types.NamedCluster, len(seed))}
	for _, nc := range seed {
		s.clusters[nc.Name] = nc.Clone()
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nc, ok := s.clusters[name]
	if !ok {
		return types.NamedCluster{}, notFound("memory", name)
	}
	return nc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.NamedCluster, 0, len(s.clusters))
	for _, nc := range s.clusters {
		out = append(out, nc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, nc types.NamedCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[nc.Name] = nc.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[name]; !ok {
		return notFound("memory", name)
	}
	delete(s.clusters, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
