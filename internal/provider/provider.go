// Package provider is the namedfs virtual filesystem provider. It claims
// the configured schemes and turns a name such as std://node1:8020/data into
// a capability-checked filesystem: the name is parsed, the cluster resolved
// and a backend connection obtained from the connection factory.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/namedfs/namedfs/internal/vfs"
	"github.com/namedfs/namedfs/internal/vfsname"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Capabilities is the static contract every namedfs filesystem honours,
// whatever cluster or backend family it resolves to.
var Capabilities = types.NewCapabilitySet(types.AllCapabilities...)

// ClusterResolver is the part of the resolver the provider uses.
type ClusterResolver interface {
	Resolve(ctx context.Context, host string, port int, variant types.SchemeVariant) (types.NamedCluster, error)
	ResolveNamed(ctx context.Context, name string) (types.NamedCluster, error)
}

// Connector hands out backend connections for a resolved cluster.
type Connector interface {
	Connect(ctx context.Context, cluster types.NamedCluster, target, shim string) (vfs.Handle, error)
}

// Deps are the collaborators of a Provider.
type Deps struct {
	Schemes   []vfsname.Scheme
	Resolver  ClusterResolver
	Connector Connector
	Logger    *slog.Logger
	Metrics   types.MetricsRecorder
}

// Provider implements vfs.Provider.
type Provider struct {
	schemes   []string
	parser    *vfsname.Parser
	resolver  ClusterResolver
	connector Connector
	builder   *ConfigBuilder
	logger    *slog.Logger
	metrics   types.MetricsRecorder
}

// New builds a provider and registers its schemes with manager. A scheme
// another provider already claims fails with SCHEME_CONFLICT.
func New(deps Deps, manager *vfs.Manager) (*Provider, error) {
	if len(deps.Schemes) == 0 || deps.Resolver == nil || deps.Connector == nil || manager == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "provider needs schemes, a resolver, a connector and a manager").
			WithComponent("provider").
			WithOperation("New")
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	p := &Provider{
		parser:    vfsname.NewParser(deps.Schemes...),
		resolver:  deps.Resolver,
		connector: deps.Connector,
		logger:    logger.With("component", "provider"),
		metrics:   deps.Metrics,
	}
	for _, s := range deps.Schemes {
		p.schemes = append(p.schemes, strings.ToLower(s.Name))
	}
	p.builder = newConfigBuilder(deps.Resolver)

	if err := manager.AddProvider(p.schemes, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Schemes returns the schemes the provider claims.
func (p *Provider) Schemes() []string {
	return append([]string(nil), p.schemes...)
}

// Capabilities implements vfs.Provider.
func (p *Provider) Capabilities() types.CapabilitySet {
	return Capabilities
}

// ConfigBuilder returns the builder for namedfs options.
func (p *Provider) ConfigBuilder() *ConfigBuilder {
	return p.builder
}

// CreateFileSystem implements vfs.Provider. Every failure, including a panic
// in a collaborator, comes back as one *errors.FileSystemError from
// component "provider" that keeps the code and cause of the failing step.
func (p *Provider) CreateFileSystem(ctx context.Context, uri string, opts *vfs.Options) (fsys *vfs.FileSystem, err error) {
	requestID := uuid.NewString()
	start := time.Now()
	scheme, _, _ := strings.Cut(uri, "://")
	scheme = strings.ToLower(scheme)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while opening filesystem",
				"request_id", requestID,
				"uri", vfsname.Redact(uri),
				"panic", r,
				"stack", string(debug.Stack()))
			fsys = nil
			err = errors.Newf(errors.ErrCodePanicRecovered, "panic: %v", r)
		}
		if err != nil {
			err = p.wrap(requestID, uri, err)
			p.logger.Warn("Open failed", "request_id", requestID, "uri", vfsname.Redact(uri), "error", err)
		} else {
			p.logger.Debug("Filesystem opened",
				"request_id", requestID,
				"uri", fsys.Target().Redacted(),
				"cluster", fsys.Cluster().Key(),
				"duration", time.Since(start))
		}
		if p.metrics != nil {
			p.metrics.RecordOpen(scheme, err == nil)
		}
	}()

	name, err := p.parser.Parse(uri)
	if err != nil {
		return nil, err
	}

	cluster, err := p.cluster(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	work := p.withCredentials(cluster, name, opts)

	handle, err := p.connector.Connect(ctx, work, name.String(), p.builder.Shim(opts))
	if err != nil {
		return nil, err
	}
	return vfs.NewFileSystem(*name, handle, Capabilities), nil
}

func (p *Provider) cluster(ctx context.Context, name *vfsname.Name, opts *vfs.Options) (types.NamedCluster, error) {
	if pinned := p.builder.NamedCluster(opts); pinned != "" {
		return p.resolver.ResolveNamed(ctx, pinned)
	}
	return p.resolver.Resolve(ctx, name.Host, name.Port, name.Variant)
}

// withCredentials applies the user from the options or the name to a copy of
// cluster. The registry's record is never modified.
func (p *Provider) withCredentials(cluster types.NamedCluster, name *vfsname.Name, opts *vfs.Options) types.NamedCluster {
	work := cluster.Clone()

	username := p.builder.User(opts)
	if username == "" {
		username = name.User.Username
	}
	if username == "" {
		return work
	}

	creds := &types.Credentials{Username: username}
	switch {
	case name.User.HasSecret && name.User.Username == username:
		creds.Secret = name.User.Secret
	case work.Credentials != nil && work.Credentials.Username == username:
		creds.Secret = work.Credentials.Secret
	}
	work.Credentials = creds
	return work
}

func (p *Provider) wrap(requestID, uri string, cause error) error {
	return errors.Wrap(errors.CodeOf(cause), fmt.Sprintf("cannot open %s", vfsname.Redact(uri)), cause).
		WithComponent("provider").
		WithOperation("CreateFileSystem").
		WithRequestID(requestID).
		WithContext("uri", vfsname.Redact(uri))
}

// Close closes the connector when it holds resources.
func (p *Provider) Close() error {
	if c, ok := p.connector.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
