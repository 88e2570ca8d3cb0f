package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/pkg/types"
)

type countingStore struct {
	*MemoryStore
	gets, lists int
}

func (s *countingStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	s.gets++
	return s.MemoryStore.Get(ctx, name)
}

func (s *countingStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	s.lists++
	return s.MemoryStore.List(ctx)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore(types.NamedCluster{Name: "a", Host: "h", Port: 1})}
	cached := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := cached.Get(ctx, "a")
		require.NoError(t, err)
		_, err = cached.List(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, 1, inner.lists)

	require.NoError(t, cached.Put(ctx, types.NamedCluster{Name: "a", Host: "h2", Port: 1}))
	got, err := cached.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.Host)
	list, err := cached.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2", list[0].Host)
	assert.Equal(t, 2, inner.gets)
	assert.Equal(t, 2, inner.lists)

	require.NoError(t, cached.Delete(ctx, "a"))
	_, err = cached.Get(ctx, "a")
	assert.Error(t, err)
}

func TestCachedStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cached := NewCached(NewMemoryStore(types.NamedCluster{
		Name: "a", Host: "h", Properties: map[string]string{"k": "v"},
	}), time.Minute)

	first, err := cached.Get(ctx, "a")
	require.NoError(t, err)
	first.Properties["k"] = "changed"

	second, err := cached.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", second.Properties["k"])
}
