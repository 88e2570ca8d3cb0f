// Package locator supplies the registry store handle used to resolve
// clusters. The handle is injected or discovered lazily, then kept for the
// life of the process.
package locator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/internal/registry"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/retry"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Discoverer produces a registry store when none has been injected.
type Discoverer interface {
	Discover(ctx context.Context) (registry.Store, error)
}

// DiscovererFunc adapts a function to Discoverer.
type DiscovererFunc func(ctx context.Context) (registry.Store, error)

func (f DiscovererFunc) Discover(ctx context.Context) (registry.Store, error) { return f(ctx) }

// ConfigDiscoverer opens the registry store described by cfg, retrying while
// the store reports itself unavailable.
func ConfigDiscoverer(cfg config.RegistryConfig, logger *slog.Logger) Discoverer {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	r := retry.New(cfg.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("Registry store unavailable, retrying",
			"component", "locator", "driver", cfg.Driver, "attempt", attempt, "delay", delay, "error", err)
	})
	return DiscovererFunc(func(ctx context.Context) (registry.Store, error) {
		var store registry.Store
		err := r.Do(ctx, func(ctx context.Context) error {
			var err error
			store, err = registry.Open(ctx, cfg, logger)
			return err
		})
		return store, err
	})
}

// Locator holds the process-wide registry store handle.
type Locator struct {
	mu          sync.RWMutex
	handle      registry.Store
	discoverers []Discoverer

	sf      singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
	metrics types.MetricsRecorder
}

// Option configures a Locator.
type Option func(*Locator)

// WithDiscoverer appends a discovery fallback. Fallbacks run in order.
func WithDiscoverer(d Discoverer) Option {
	return func(l *Locator) { l.discoverers = append(l.discoverers, d) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// WithMetrics records discovery outcomes.
func WithMetrics(m types.MetricsRecorder) Option {
	return func(l *Locator) { l.metrics = m }
}

// WithTimeout bounds a single discovery attempt.
func WithTimeout(d time.Duration) Option {
	return func(l *Locator) { l.timeout = d }
}

// New creates a Locator with no handle.
func New(opts ...Option) *Locator {
	l := &Locator{
		timeout: 30 * time.Second,
		logger:  utils.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "locator")
	return l
}

var (
	defaultOnce    sync.Once
	defaultLocator *Locator
)

// Default returns the process-wide locator. Callers configure it with
// AddDiscoverer or SetHandle during startup.
func Default() *Locator {
	defaultOnce.Do(func() {
		defaultLocator = New()
	})
	return defaultLocator
}

// AddDiscoverer appends a discovery fallback.
func (l *Locator) AddDiscoverer(d Discoverer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoverers = append(l.discoverers, d)
}

// CurrentHandle returns the held handle, if any.
func (l *Locator) CurrentHandle() (registry.Store, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle, l.handle != nil
}

// SetHandle injects a handle, replacing any previous one.
func (l *Locator) SetHandle(store registry.Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handle = store
}

// DiscoverHandle runs the discovery fallbacks in order and returns the first
// store one of them produces. It does not cache the result.
func (l *Locator) DiscoverHandle(ctx context.Context) (registry.Store, error) {
	l.mu.RLock()
	discoverers := append([]Discoverer(nil), l.discoverers...)
	l.mu.RUnlock()

	if len(discoverers) == 0 {
		return nil, errors.NewError(errors.ErrCodeDiscoveryFailed, "no registry discoverer configured").
			WithComponent("locator").
			WithOperation("DiscoverHandle")
	}

	var last error
	for i, d := range discoverers {
		store, err := d.Discover(ctx)
		if err == nil && store != nil {
			return store, nil
		}
		if err == nil {
			err = errors.NewError(errors.ErrCodeInternalError, "discoverer returned no store")
		}
		l.logger.Debug("Registry discoverer failed", "index", i, "error", err)
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Wrap(errors.ErrCodeDiscoveryFailed, "registry discovery failed", last).
		WithComponent("locator").
		WithOperation("DiscoverHandle")
}

// Handle returns the held handle, discovering one when none is held.
// Concurrent first callers share a single discovery. The first success is
// kept; failures are logged and retried on the next call.
func (l *Locator) Handle(ctx context.Context) (registry.Store, error) {
	if store, ok := l.CurrentHandle(); ok {
		return store, nil
	}

	ch := l.sf.DoChan("handle", func() (interface{}, error) {
		if store, ok := l.CurrentHandle(); ok {
			return store, nil
		}

		// The shared attempt outlives any single caller so that a
		// cancelled caller cannot fail the others.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		store, err := l.DiscoverHandle(dctx)
		if err != nil {
			l.logger.Warn("Registry discovery failed", "error", err)
			l.recordDiscovery(false)
			return nil, err
		}

		l.mu.Lock()
		if l.handle == nil {
			l.handle = store
		} else if l.handle != store {
			// injected while we were discovering
			_ = store.Close()
			store = l.handle
		}
		l.mu.Unlock()

		l.logger.Info("Registry store discovered")
		l.recordDiscovery(true)
		return store, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(registry.Store), nil
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeDiscoveryFailed, "registry discovery canceled", ctx.Err()).
			WithComponent("locator").
			WithOperation("Handle")
	}
}

// Close closes and forgets the held handle.
func (l *Locator) Close() error {
	l.mu.Lock()
	store := l.handle
	l.handle = nil
	l.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Close()
}

func (l *Locator) recordDiscovery(success bool) {
	if l.metrics != nil {
		l.metrics.RecordDiscovery(success)
	}
}
