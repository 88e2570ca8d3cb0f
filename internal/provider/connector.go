package provider

import (
	"context"

	"github.com/namedfs/namedfs/internal/connection"
	"github.com/namedfs/namedfs/internal/vfs"
	"github.com/namedfs/namedfs/pkg/types"
)

// FactoryConnector adapts a connection.Factory to Connector.
type FactoryConnector struct {
	Factory *connection.Factory
}

// Connect implements Connector.
func (c FactoryConnector) Connect(ctx context.Context, cluster types.NamedCluster, target, shim string) (vfs.Handle, error) {
	h, err := c.Factory.Connect(ctx, cluster, target, shim)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Close closes every pooled connection.
func (c FactoryConnector) Close() error {
	return c.Factory.CloseAll()
}
