package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/internal/connection"
	"github.com/namedfs/namedfs/internal/fuse"
	"github.com/namedfs/namedfs/internal/health"
	"github.com/namedfs/namedfs/internal/locator"
	"github.com/namedfs/namedfs/internal/metrics"
	"github.com/namedfs/namedfs/internal/provider"
	"github.com/namedfs/namedfs/internal/registry"
	"github.com/namedfs/namedfs/internal/resolver"
	"github.com/namedfs/namedfs/internal/storage/hdfs"
	"github.com/namedfs/namedfs/internal/storage/local"
	"github.com/namedfs/namedfs/internal/storage/s3"
	"github.com/namedfs/namedfs/internal/vfs"
	"github.com/namedfs/namedfs/internal/vfsname"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Adapter wires the namedfs components together from one configuration.
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger

	Metrics  *metrics.Collector
	Registry *registry.Service
	Locator  *locator.Locator
	Resolver *resolver.Resolver
	Factory  *connection.Factory
	Manager  *vfs.Manager
	Provider *provider.Provider
	Checker  *health.Checker
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	store registry.Store
}

// WithStore installs a registry store up front instead of discovering one
// from the registry configuration.
func WithStore(store registry.Store) Option {
	return func(o *options) { o.store = store }
}

// New creates a new namedfs adapter instance.
func New(cfg *config.Configuration, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Adapter{config: cfg, logger: logger.With("component", "adapter")}

	collector, err := metrics.NewCollector(cfg.Monitoring.Metrics, logger)
	if err != nil {
		return nil, err
	}
	a.Metrics = collector

	a.Registry, err = registry.NewServiceFromConfig(cfg.Registry, logger)
	if err != nil {
		return nil, err
	}

	a.Locator = locator.New(
		locator.WithDiscoverer(locator.ConfigDiscoverer(cfg.Registry, logger)),
		locator.WithLogger(logger),
		locator.WithMetrics(collector),
	)
	if o.store != nil {
		a.Locator.SetHandle(o.store)
	}

	a.Resolver = resolver.New(a.Registry, a.Locator, resolver.Options{
		DegradeOnDiscoveryFailure: cfg.Resolver.DegradeOnDiscoveryFailure,
		Timeout:                   cfg.Resolver.Timeout,
		Logger:                    logger,
		Metrics:                   collector,
	})

	a.Factory = connection.NewFactory(connection.Config{
		DefaultFamily:  cfg.Provider.DefaultShim,
		CacheEnabled:   cfg.Connection.CacheEnabled,
		ConnectTimeout: cfg.Connection.ConnectTimeout,
		Breaker:        cfg.Connection.Breaker,
		Logger:         logger,
		Metrics:        collector,
	})
	a.Factory.Register(hdfs.Family, hdfs.NewConnector(cfg.Storage.HDFS.User, logger))
	a.Factory.Register(s3.Family, s3.NewConnector(cfg.Storage.S3, logger))
	a.Factory.Register(local.Family, local.NewConnector(cfg.Storage.LocalRoot, logger))
	collector.SetStatsSource(func() any { return a.Factory.Stats() })

	a.Manager = vfs.NewManager(logger)
	a.Provider, err = provider.New(provider.Deps{
		Schemes:   Schemes(cfg.Provider),
		Resolver:  a.Resolver,
		Connector: provider.FactoryConnector{Factory: a.Factory},
		Logger:    logger,
		Metrics:   collector,
	}, a.Manager)
	if err != nil {
		return nil, err
	}

	a.Checker = health.NewChecker(cfg.Monitoring.HealthChecks, health.WithLogger(logger))
	return a, nil
}

// Schemes converts the configured schemes for the name parser.
func Schemes(cfg config.ProviderConfig) []vfsname.Scheme {
	out := make([]vfsname.Scheme, 0, len(cfg.Schemes))
	for _, s := range cfg.Schemes {
		out = append(out, vfsname.Scheme{Name: s.Name, Variant: s.Variant, DefaultPort: s.DefaultPort})
	}
	return out
}

// Config returns the configuration the adapter was built from.
func (a *Adapter) Config() *config.Configuration {
	return a.config
}

// Start starts background services.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.Metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.logger.Info("namedfs started",
		"schemes", a.Manager.Schemes(),
		"families", a.Factory.Families(),
		"registry", a.config.Registry.Driver)
	return nil
}

// Store returns the registry store, discovering it on first use.
func (a *Adapter) Store(ctx context.Context) (registry.Store, error) {
	return a.Locator.Handle(ctx)
}

// Open resolves uri into a filesystem handle and the path it addresses.
func (a *Adapter) Open(ctx context.Context, uri string, opts *vfs.Options) (*vfs.FileSystem, string, error) {
	return a.Manager.Open(ctx, uri, opts)
}

// Mount opens uri and serves it through FUSE at mountPoint. The mount and
// the filesystem handle are released when ctx is canceled.
func (a *Adapter) Mount(ctx context.Context, uri string, opts *vfs.Options, mountPoint string, readOnly bool) (*fuse.MountManager, error) {
	fsys, _, err := a.Open(ctx, uri, opts)
	if err != nil {
		return nil, err
	}

	ffs := fuse.NewFileSystem(fsys, fuse.Config{
		ReadOnly: readOnly,
		UID:      uint32(os.Getuid()),
		GID:      uint32(os.Getgid()),
	}, a.logger)
	mm := fuse.NewMountManager(ffs, mountPoint, fuse.DefaultMountOptions(), a.logger)
	if err := mm.Mount(ctx); err != nil {
		_ = fsys.Release()
		return nil, err
	}

	go func() {
		mm.Wait()
		if err := fsys.Release(); err != nil {
			a.logger.Warn("Releasing mounted filesystem failed", "error", err)
		}
	}()
	return mm, nil
}

// Stop releases every pooled connection, the registry store and the metrics
// server.
func (a *Adapter) Stop(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.Manager.Close())
	keep(a.Locator.Close())
	keep(a.Metrics.Stop(ctx))

	a.logger.Info("namedfs stopped")
	return firstErr
}
