package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/internal/locator"
	"github.com/namedfs/namedfs/internal/registry"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// countingRegistry wraps the real service to observe calls.
type countingRegistry struct {
	*registry.Service
	lookups      int32
	materialized int32
	lookupDelay  time.Duration
}

func (c *countingRegistry) FindByHost(ctx context.Context, store registry.Store, host string) (types.NamedCluster, bool, error) {
	atomic.AddInt32(&c.lookups, 1)
	if c.lookupDelay > 0 {
		time.Sleep(c.lookupDelay)
	}
	return c.Service.FindByHost(ctx, store, host)
}

func (c *countingRegistry) MaterializeFromTemplate(host string, port int, native bool) types.NamedCluster {
	atomic.AddInt32(&c.materialized, 1)
	return c.Service.MaterializeFromTemplate(host, port, native)
}

func newFixture(t *testing.T, seed ...types.NamedCluster) (*countingRegistry, *locator.Locator) {
	t.Helper()
	reg := &countingRegistry{Service: registry.NewService(types.NamedCluster{
		Port:           8020,
		ShimIdentifier: "local",
	})}
	loc := locator.New()
	loc.SetHandle(registry.NewMemoryStore(seed...))
	return reg, loc
}

func TestResolveMissMaterializesTemplate(t *testing.T) {
	reg, loc := newFixture(t)
	r := New(reg, loc, Options{})

	nc, err := r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, "node1", nc.Host)
	assert.Equal(t, 8020, nc.Port)
	assert.False(t, nc.Registered)
	assert.False(t, nc.IsNativeClient())
	assert.Equal(t, "local", nc.ShimIdentifier)

	adhoc := reg.AdHoc()
	require.Len(t, adhoc, 1)
	assert.Equal(t, nc, adhoc[0])

	// template itself is untouched
	assert.Empty(t, reg.Template().Host)
}

func TestResolveNativeVariant(t *testing.T) {
	reg, loc := newFixture(t)
	r := New(reg, loc, Options{})

	nc, err := r.Resolve(context.Background(), "mapr-edge", 7222, types.VariantNativeClient)
	require.NoError(t, err)
	assert.True(t, nc.IsNativeClient())
}

func TestResolveHitIgnoresPort(t *testing.T) {
	existing := types.NamedCluster{
		Name:    "mapr-cluster",
		Host:    "mapr-cluster",
		Port:    7222,
		Variant: types.VariantNativeClient,
	}
	reg, loc := newFixture(t, existing)
	r := New(reg, loc, Options{})

	for _, port := range []int{7222, 1, 9999} {
		nc, err := r.Resolve(context.Background(), "MAPR-CLUSTER", port, types.VariantStandard)
		require.NoError(t, err)
		assert.Equal(t, "mapr-cluster", nc.Name)
		assert.Equal(t, 7222, nc.Port)
		assert.True(t, nc.Registered)
		assert.True(t, nc.IsNativeClient())
	}
	assert.Empty(t, reg.AdHoc())
	assert.Equal(t, int32(0), atomic.LoadInt32(&reg.materialized))
}

func TestResolveConcurrentSingleProvisioning(t *testing.T) {
	reg, loc := newFixture(t)
	reg.lookupDelay = 20 * time.Millisecond
	r := New(reg, loc, Options{})

	const callers = 24
	var wg sync.WaitGroup
	results := make([]types.NamedCluster, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, reg.AdHoc(), 1)
	assert.LessOrEqual(t, atomic.LoadInt32(&reg.lookups), int32(callers))
}

func TestResolveDiscoveryFailureIsNotPermanent(t *testing.T) {
	reg, _ := newFixture(t)

	var attempts int32
	loc := locator.New(locator.WithDiscoverer(locator.DiscovererFunc(func(ctx context.Context) (registry.Store, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return nil, fmt.Errorf("metastore offline")
		}
		return registry.NewMemoryStore(), nil
	})))
	r := New(reg, loc, Options{})

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeClusterResolution, errors.CodeOf(err))
		assert.True(t, errors.IsCode(err, errors.ErrCodeDiscoveryFailed))
	}
	assert.Empty(t, reg.AdHoc())

	nc, err := r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, "node1", nc.Host)
}

func TestResolveDegradedDiscovery(t *testing.T) {
	reg, _ := newFixture(t)
	loc := locator.New(locator.WithDiscoverer(locator.DiscovererFunc(func(ctx context.Context) (registry.Store, error) {
		return nil, fmt.Errorf("metastore offline")
	})))
	r := New(reg, loc, Options{DegradeOnDiscoveryFailure: true})

	nc, err := r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, "node1", nc.Host)
	assert.False(t, nc.Registered)
}

type failingStore struct{ registry.Store }

func (failingStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	return nil, errors.NewError(errors.ErrCodeRegistryUnavailable, "connection reset")
}

func TestResolveLookupFailure(t *testing.T) {
	reg, _ := newFixture(t)
	loc := locator.New()
	loc.SetHandle(failingStore{registry.NewMemoryStore()})
	r := New(reg, loc, Options{DegradeOnDiscoveryFailure: true})

	_, err := r.Resolve(context.Background(), "node1", 8020, types.VariantStandard)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeClusterResolution, errors.CodeOf(err))
	assert.True(t, errors.IsCode(err, errors.ErrCodeRegistryUnavailable))
	assert.Empty(t, reg.AdHoc())
}

func TestResolveCanceledBeforeMaterialization(t *testing.T) {
	reg, loc := newFixture(t)
	r := New(reg, loc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "node1", 8020, types.VariantStandard)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled))
	assert.Empty(t, reg.AdHoc())
	assert.Equal(t, int32(0), atomic.LoadInt32(&reg.materialized))
}

func TestResolveNamed(t *testing.T) {
	reg, loc := newFixture(t, types.NamedCluster{Name: "prod", Host: "nn1", Port: 8020})
	r := New(reg, loc, Options{})

	nc, err := r.ResolveNamed(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, "nn1", nc.Host)
	assert.True(t, nc.Registered)

	_, err = r.ResolveNamed(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeClusterNotFound))
}

func TestResolveMissKeepsRequestedVariant(t *testing.T) {
	reg, loc := newFixture(t)
	r := New(reg, loc, Options{})
	ctx := context.Background()

	std, err := r.Resolve(ctx, "node1", 7222, types.VariantStandard)
	require.NoError(t, err)
	native, err := r.Resolve(ctx, "node1", 7222, types.VariantNativeClient)
	require.NoError(t, err)

	assert.False(t, std.IsNativeClient())
	assert.True(t, native.IsNativeClient())
	assert.Len(t, reg.AdHoc(), 2)
}
