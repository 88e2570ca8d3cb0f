// Package resolver turns a host and port into a cluster identity, either a
// registered record or an ad-hoc copy of the registry template.
package resolver

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/namedfs/namedfs/internal/registry"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Registry is the part of the named cluster service the resolver consumes.
type Registry interface {
	FindByHost(ctx context.Context, store registry.Store, host string) (types.NamedCluster, bool, error)
	FindByName(ctx context.Context, store registry.Store, name string) (types.NamedCluster, bool, error)
	MaterializeFromTemplate(host string, port int, nativeClient bool) types.NamedCluster
	Template() types.NamedCluster
}

// Locator supplies the registry store handle.
type Locator interface {
	CurrentHandle() (registry.Store, bool)
	Handle(ctx context.Context) (registry.Store, error)
}

// Options configures a Resolver.
type Options struct {
	// DegradeOnDiscoveryFailure treats a locator failure as a registry miss
	// instead of failing the resolution.
	DegradeOnDiscoveryFailure bool
	Timeout                   time.Duration
	Logger                    *slog.Logger
	Metrics                   types.MetricsRecorder
}

// Resolver resolves cluster identities. It is safe for concurrent use.
type Resolver struct {
	registry Registry
	locator  Locator
	opts     Options
	logger   *slog.Logger

	sf singleflight.Group
}

// New creates a Resolver.
func New(reg Registry, loc Locator, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Resolver{
		registry: reg,
		locator:  loc,
		opts:     opts,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve returns the registered cluster whose host matches host, whatever
// its port, or else the template-derived identity for host:port. Concurrent
// calls for the same endpoint and variant share one lookup.
func (r *Resolver) Resolve(ctx context.Context, host string, port int, variant types.SchemeVariant) (types.NamedCluster, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	key := strings.ToLower(net.JoinHostPort(host, strconv.Itoa(port))) + "|" + variant.String()
	for {
		ch := r.sf.DoChan(key, func() (interface{}, error) {
			return r.resolve(ctx, host, port, variant)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				// Another caller's cancellation ended the shared lookup.
				if errors.IsCode(res.Err, errors.ErrCodeOperationCanceled) && ctx.Err() == nil {
					continue
				}
				r.record("error")
				return types.NamedCluster{}, res.Err
			}
			return res.Val.(types.NamedCluster).Clone(), nil
		case <-ctx.Done():
			r.record("error")
			return types.NamedCluster{}, r.canceled(host, port, ctx.Err())
		}
	}
}

func (r *Resolver) store(ctx context.Context) (registry.Store, error) {
	if store, ok := r.locator.CurrentHandle(); ok {
		return store, nil
	}
	return r.locator.Handle(ctx)
}

func (r *Resolver) resolve(ctx context.Context, host string, port int, variant types.SchemeVariant) (types.NamedCluster, error) {
	store, err := r.store(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return types.NamedCluster{}, r.canceled(host, port, ctx.Err())
		}
		if !r.opts.DegradeOnDiscoveryFailure {
			r.logger.Error("Cluster resolution failed: registry unavailable", "host", host, "port", port, "error", err)
			return types.NamedCluster{}, r.failure(host, port, "registry store unavailable", err)
		}
		r.logger.Warn("Registry unavailable, resolving from template", "host", host, "port", port, "error", err)
		return r.materialize(ctx, host, port, variant, "degraded")
	}

	nc, found, err := r.registry.FindByHost(ctx, store, host)
	if err != nil {
		if ctx.Err() != nil {
			return types.NamedCluster{}, r.canceled(host, port, ctx.Err())
		}
		r.logger.Error("Cluster lookup failed", "host", host, "error", err)
		return types.NamedCluster{}, r.failure(host, port, "registry lookup failed", err)
	}
	if found {
		r.logger.Debug("Resolved registered cluster", "host", host, "name", nc.Name)
		r.record("hit")
		return nc, nil
	}

	r.logger.Debug("No registered cluster for host", "host", host, "port", port)
	return r.materialize(ctx, host, port, variant, "miss")
}

func (r *Resolver) materialize(ctx context.Context, host string, port int, variant types.SchemeVariant, outcome string) (types.NamedCluster, error) {
	if err := ctx.Err(); err != nil {
		return types.NamedCluster{}, r.canceled(host, port, err)
	}
	nc := r.registry.MaterializeFromTemplate(host, port, variant == types.VariantNativeClient)
	r.record(outcome)
	return nc, nil
}

// ResolveNamed returns the registered cluster called name.
func (r *Resolver) ResolveNamed(ctx context.Context, name string) (types.NamedCluster, error) {
	store, err := r.store(ctx)
	if err != nil {
		r.record("error")
		return types.NamedCluster{}, errors.Wrap(errors.ErrCodeClusterResolution, "cannot resolve named cluster "+name, err).
			WithComponent("resolver").
			WithOperation("ResolveNamed").
			WithContext("name", name)
	}
	nc, found, err := r.registry.FindByName(ctx, store, name)
	if err != nil {
		r.record("error")
		return types.NamedCluster{}, errors.Wrap(errors.ErrCodeClusterResolution, "cannot resolve named cluster "+name, err).
			WithComponent("resolver").
			WithOperation("ResolveNamed").
			WithContext("name", name)
	}
	if !found {
		r.record("error")
		return types.NamedCluster{}, errors.NewError(errors.ErrCodeClusterNotFound, "named cluster "+name+" does not exist").
			WithComponent("resolver").
			WithOperation("ResolveNamed").
			WithContext("name", name)
	}
	r.record("hit")
	return nc, nil
}

func (r *Resolver) failure(host string, port int, msg string, cause error) error {
	return errors.Wrap(errors.ErrCodeClusterResolution, msg, cause).
		WithComponent("resolver").
		WithOperation("Resolve").
		WithContext("host", host).
		WithContext("port", strconv.Itoa(port))
}

func (r *Resolver) canceled(host string, port int, cause error) error {
	return errors.Wrap(errors.ErrCodeOperationCanceled, "cluster resolution canceled", cause).
		WithComponent("resolver").
		WithOperation("Resolve").
		WithContext("host", host).
		WithContext("port", strconv.Itoa(port))
}

func (r *Resolver) record(outcome string) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordResolution(outcome)
	}
}
