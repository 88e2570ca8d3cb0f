package connection

import (
	"sync/atomic"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// Handle is one caller's reference to a backend connection.
type Handle struct {
	factory  *Factory
	entry    *entry
	fs       types.FileSystem
	cluster  types.NamedCluster
	family   string
	released atomic.Bool
}

// FileSystem returns the backend connection.
func (h *Handle) FileSystem() types.FileSystem { return h.fs }

// Cluster returns a copy of the cluster the handle connects to.
func (h *Handle) Cluster() types.NamedCluster { return h.cluster.Clone() }

// Family returns the backend family name.
func (h *Handle) Family() string { return h.family }

// Released reports whether Release was called.
func (h *Handle) Released() bool { return h.released.Load() }

// Release drops the reference. A second call fails with HANDLE_RELEASED.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return errors.NewError(errors.ErrCodeHandleReleased, "handle already released").
			WithComponent("connection").
			WithOperation("Release")
	}
	if h.entry == nil {
		h.factory.uncached.Add(-1)
		return h.fs.Close()
	}
	return h.factory.release(h.entry)
}
