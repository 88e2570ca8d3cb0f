package provider

import (
	"context"

	"github.com/namedfs/namedfs/internal/vfs"
)

// ConfigBuilder sets namedfs options on vfs.Options. Callers use it to pick
// a backend family or pin a registered cluster without talking to the
// resolver themselves.
type ConfigBuilder struct {
	vfs.ConfigBuilder
	resolver ClusterResolver
}

func newConfigBuilder(r ClusterResolver) *ConfigBuilder {
	return &ConfigBuilder{ConfigBuilder: vfs.NewConfigBuilder("namedfs"), resolver: r}
}

const (
	paramShim    = "shim"
	paramCluster = "cluster"
	paramUser    = "user"
)

// SetShim selects the backend family, overriding the cluster's own.
func (b *ConfigBuilder) SetShim(opts *vfs.Options, shim string) {
	b.SetParam(opts, paramShim, shim)
}

// Shim returns the selected backend family.
func (b *ConfigBuilder) Shim(opts *vfs.Options) string {
	return b.Param(opts, paramShim)
}

// SetNamedCluster pins a registered cluster by name. The host in the name
// being opened is then ignored for resolution.
func (b *ConfigBuilder) SetNamedCluster(opts *vfs.Options, name string) {
	b.SetParam(opts, paramCluster, name)
}

// NamedCluster returns the pinned cluster name.
func (b *ConfigBuilder) NamedCluster(opts *vfs.Options) string {
	return b.Param(opts, paramCluster)
}

// SetUser sets the user to connect as.
func (b *ConfigBuilder) SetUser(opts *vfs.Options, user string) {
	b.SetParam(opts, paramUser, user)
}

// User returns the user to connect as.
func (b *ConfigBuilder) User(opts *vfs.Options) string {
	return b.Param(opts, paramUser)
}

// ForNamedCluster returns options pinned to the registered cluster name and
// seeded with its shim and user.
func (b *ConfigBuilder) ForNamedCluster(ctx context.Context, name string) (*vfs.Options, error) {
	nc, err := b.resolver.ResolveNamed(ctx, name)
	if err != nil {
		return nil, err
	}
	opts := vfs.NewOptions()
	b.SetNamedCluster(opts, nc.Name)
	b.SetShim(opts, nc.ShimIdentifier)
	if nc.Credentials != nil {
		b.SetUser(opts, nc.Credentials.Username)
	}
	return opts, nil
}
