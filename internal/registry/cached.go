package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/namedfs/namedfs/pkg/types"
)

const listKey = "\x00list"

// Cached memoizes reads of another store for a TTL. Writes through the
// decorator invalidate the affected entries; writes made by other processes
// become visible when entries expire.
type Cached struct {
	next Store
	c    *gocache.Cache
}

// NewCached wraps next with a read cache.
func NewCached(next Store, ttl time.Duration) *Cached {
	return &Cached{next: next, c: gocache.New(ttl, 2*ttl)}
}

func (s *Cached) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	if v, ok := s.c.Get(name); ok {
		return v.(types.NamedCluster).Clone(), nil
	}
	nc, err := s.next.Get(ctx, name)
	if err != nil {
		return types.NamedCluster{}, err
	}
	s.c.SetDefault(name, nc.Clone())
	return nc, nil
}

func (s *Cached) List(ctx context.Context) ([]types.NamedCluster, error) {
	if v, ok := s.c.Get(listKey); ok {
		return cloneAll(v.([]types.NamedCluster)), nil
	}
	list, err := s.next.List(ctx)
	if err != nil {
		return nil, err
	}
	s.c.SetDefault(listKey, cloneAll(list))
	return list, nil
}

func (s *Cached) Put(ctx context.Context, nc types.NamedCluster) error {
	defer s.invalidate(nc.Name)
	return s.next.Put(ctx, nc)
}

func (s *Cached) Delete(ctx context.Context, name string) error {
	defer s.invalidate(name)
	return s.next.Delete(ctx, name)
}

func (s *Cached) invalidate(name string) {
	s.c.Delete(name)
	s.c.Delete(listKey)
}

func (s *Cached) Close() error {
	s.c.Flush()
	return s.next.Close()
}

func cloneAll(in []types.NamedCluster) []types.NamedCluster {
	out := make([]types.NamedCluster, len(in))
	for i, nc := range in {
		out[i] = nc.Clone()
	}
	return out
}
