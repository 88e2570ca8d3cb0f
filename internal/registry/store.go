// Package registry persists named cluster records and owns the template used
// to seed ad-hoc cluster identities.
package registry

import (
	"context"
	"strings"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// Store is the persistence layer behind a Service. Implementations store
// records exactly as given; sealing and tagging happen in the Service.
type Store interface {
	// Get returns the record named name or a CLUSTER_NOT_FOUND error.
	Get(ctx context.Context, name string) (types.NamedCluster, error)
	List(ctx context.Context) ([]types.NamedCluster, error)
	// Put inserts or replaces the record keyed by nc.Name.
	Put(ctx context.Context, nc types.NamedCluster) error
	// Delete removes the record named name or returns CLUSTER_NOT_FOUND.
	Delete(ctx context.Context, name string) error
	Close() error
}

func notFound(store, name string) error {
	return errors.NewError(errors.ErrCodeClusterNotFound, "named cluster "+strings.TrimSpace(name)+" does not exist").
		WithComponent("registry").
		WithContext("store", store).
		WithContext("name", name)
}

func unavailable(store, op string, cause error) error {
	return errors.Wrap(errors.ErrCodeRegistryUnavailable, store+" registry store failed", cause).
		WithComponent("registry").
		WithOperation(op).
		WithContext("store", store)
}

// deleteResult maps the number of removed records to the Delete contract.
func deleteResult(store, name string, removed int64) error {
	if removed == 0 {
		return notFound(store, name)
	}
	return nil
}
