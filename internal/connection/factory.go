// Package connection produces backend filesystem connections for resolved
// clusters and shares them between callers.
package connection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/namedfs/namedfs/internal/circuit"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Connector dials one backend family.
type Connector interface {
	Connect(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error)

func (f ConnectorFunc) Connect(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error) {
	return f(ctx, cluster, target)
}

// Config configures a Factory.
type Config struct {
	DefaultFamily  string
	CacheEnabled   bool
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Metrics        types.MetricsRecorder

	// Breaker stops dialing a cluster after repeated connect failures.
	Breaker circuit.Config
}

// Stats reports pooled connections and outstanding handles.
type Stats struct {
	Connections int            `json:"connections"`
	References  int            `json:"references"`
	Pending     int            `json:"pending"`
	Uncached    int64          `json:"uncached"`
	ByFamily    map[string]int `json:"by_family"`

	OpenCircuits []circuit.Stats `json:"open_circuits,omitempty"`
}

type entry struct {
	key    string
	family string

	ready  chan struct{}
	cancel context.CancelFunc

	// guarded by Factory.mu
	refs int
	fs   types.FileSystem
	err  error
}

func (e *entry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Factory produces Handles. With caching enabled, one connection per family
// and cluster key is shared by every caller and closed when the last handle
// is released.
type Factory struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	connectors map[string]Connector
	entries    map[string]*entry
	breakers   *circuit.Manager

	uncached atomic.Int64
}

// NewFactory creates a Factory with no connectors.
func NewFactory(cfg Config) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if cfg.DefaultFamily == "" {
		cfg.DefaultFamily = "hdfs"
	}
	f := &Factory{
		cfg:        cfg,
		logger:     logger.With("component", "connection"),
		connectors: make(map[string]Connector),
		entries:    make(map[string]*entry),
	}
	bc := cfg.Breaker
	bc.OnStateChange = func(name string, from, to circuit.State) {
		f.logger.Warn("Connect circuit changed state", "breaker", name, "from", from.String(), "to", to.String())
	}
	f.breakers = circuit.NewManager(bc)
	return f
}

// Register installs the connector for a backend family, replacing any
// previous one.
func (f *Factory) Register(family string, c Connector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectors[strings.ToLower(family)] = c
}

// Families returns the registered family names.
func (f *Factory) Families() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.connectors))
	for name := range f.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Family returns the backend family used for cluster when shim overrides
// nothing.
func (f *Factory) Family(cluster types.NamedCluster, shim string) string {
	switch {
	case shim != "":
		return strings.ToLower(shim)
	case cluster.ShimIdentifier != "":
		return strings.ToLower(cluster.ShimIdentifier)
	default:
		return strings.ToLower(f.cfg.DefaultFamily)
	}
}

// Connect returns a handle on a backend connection for cluster. Connector
// failures surface as CLUSTER_INITIALIZATION with the backend cause and leave
// nothing cached. Connect never retries.
func (f *Factory) Connect(ctx context.Context, cluster types.NamedCluster, target, shim string) (*Handle, error) {
	family := f.Family(cluster, shim)

	f.mu.Lock()
	connector, ok := f.connectors[family]
	f.mu.Unlock()
	if !ok {
		cause := errors.NewError(errors.ErrCodeBackendUnsupported, "no connector for backend family "+family).
			WithContext("family", family)
		return nil, f.initError(cluster, family, cause)
	}

	if !f.cfg.CacheEnabled {
		return f.connectUncached(ctx, connector, cluster, target, family)
	}

	key := poolKey(family, cluster)

	f.mu.Lock()
	e, ok := f.entries[key]
	if ok {
		e.refs++
	} else {
		e = &entry{key: key, family: family, ready: make(chan struct{}), refs: 1}
		// The dial outlives any single waiter; it is cancelled once
		// every waiter has gone.
		var dctx context.Context
		base := context.WithoutCancel(ctx)
		if f.cfg.ConnectTimeout > 0 {
			dctx, e.cancel = context.WithTimeout(base, f.cfg.ConnectTimeout)
		} else {
			dctx, e.cancel = context.WithCancel(base)
		}
		f.entries[key] = e
		go f.dial(dctx, e, connector, cluster, target)
	}
	f.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		f.release(e)
		return nil, f.canceled(cluster, family, ctx.Err())
	}

	f.mu.Lock()
	err := e.err
	if err != nil {
		e.refs--
	}
	f.mu.Unlock()
	if err != nil {
		return nil, f.initError(cluster, family, err)
	}

	return &Handle{factory: f, entry: e, fs: e.fs, cluster: cluster.Clone(), family: family}, nil
}

func (f *Factory) dial(ctx context.Context, e *entry, connector Connector, cluster types.NamedCluster, target string) {
	defer e.cancel()

	start := time.Now()
	fs, err := f.guardedConnect(ctx, connector, cluster, target, e.family)
	if err == nil && ctx.Err() != nil {
		// finished after the last waiter gave up
		_ = fs.Close()
		fs, err = nil, ctx.Err()
	}
	f.recordConnect(e.family, time.Since(start), err == nil)

	var discard types.FileSystem
	f.mu.Lock()
	switch {
	case err != nil:
		e.err = err
		f.forget(e)
	case e.refs == 0:
		discard = fs
		e.err = context.Canceled
		f.forget(e)
	default:
		e.fs = fs
	}
	close(e.ready)
	active := f.activeLocked()
	f.mu.Unlock()

	if discard != nil {
		_ = discard.Close()
	}
	if err != nil {
		f.logger.Warn("Backend connection failed", "family", e.family, "cluster", cluster.Key(), "error", err)
		return
	}
	f.logger.Info("Backend connection established", "family", e.family, "cluster", cluster.Key(), "address", cluster.Address(), "duration", time.Since(start))
	f.setActive(active)
}

func (f *Factory) connectUncached(ctx context.Context, connector Connector, cluster types.NamedCluster, target, family string) (*Handle, error) {
	if f.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	fs, err := f.guardedConnect(ctx, connector, cluster, target, family)
	f.recordConnect(family, time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, f.canceled(cluster, family, ctx.Err())
		}
		return nil, f.initError(cluster, family, err)
	}
	if ctx.Err() != nil {
		_ = fs.Close()
		return nil, f.canceled(cluster, family, ctx.Err())
	}

	f.uncached.Add(1)
	f.logger.Info("Backend connection established", "family", family, "cluster", cluster.Key(), "cached", false)
	return &Handle{factory: f, fs: fs, cluster: cluster.Clone(), family: family}, nil
}

// guardedConnect dials through the breaker for family and cluster when
// breaking is enabled.
func (f *Factory) guardedConnect(ctx context.Context, c Connector, cluster types.NamedCluster, target, family string) (types.FileSystem, error) {
	if !f.breakers.Enabled() {
		return safeConnect(ctx, c, cluster, target)
	}
	var fs types.FileSystem
	err := f.breakers.GetBreaker(family+"|"+cluster.Key()).Execute(ctx, func(ctx context.Context) error {
		var err error
		fs, err = safeConnect(ctx, c, cluster, target)
		return err
	})
	return fs, err
}

// safeConnect turns a connector panic into an error.
func safeConnect(ctx context.Context, c Connector, cluster types.NamedCluster, target string) (fs types.FileSystem, err error) {
	defer func() {
		if r := recover(); r != nil {
			fs = nil
			err = errors.Newf(errors.ErrCodePanicRecovered, "connector panic: %v", r)
		}
	}()
	fs, err = c.Connect(ctx, cluster, target)
	if err == nil && fs == nil {
		err = errors.NewError(errors.ErrCodeInternalError, "connector returned no filesystem")
	}
	return fs, err
}

// release drops one reference. The connection closes with the last one.
func (f *Factory) release(e *entry) error {
	var toClose types.FileSystem

	f.mu.Lock()
	e.refs--
	if e.refs <= 0 {
		if e.isReady() {
			if e.err == nil && f.entries[e.key] == e {
				toClose = e.fs
				f.forget(e)
			}
		} else {
			// nobody waits any more; dial discards its result and
			// later callers start a fresh dial
			e.cancel()
			f.forget(e)
		}
	}
	active := f.activeLocked()
	f.mu.Unlock()

	if toClose == nil {
		return nil
	}
	f.setActive(active)
	f.logger.Info("Backend connection closed", "family", e.family, "key", e.key)
	return toClose.Close()
}

// poolKey separates connections by family, cluster and the identity they
// authenticate as. The secret only enters as a fingerprint.
func poolKey(family string, cluster types.NamedCluster) string {
	user := cluster.Property("user", "")
	var secret string
	if c := cluster.Credentials; c != nil {
		if c.Username != "" {
			user = c.Username
		}
		secret = c.Secret
	}
	key := family + "|" + cluster.Key() + "|" + user
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key += "|" + hex.EncodeToString(sum[:6])
	}
	return key
}

func (f *Factory) forget(e *entry) {
	if f.entries[e.key] == e {
		delete(f.entries, e.key)
	}
}

// Stats returns a snapshot of the pool.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Stats{ByFamily: make(map[string]int), Uncached: f.uncached.Load(), OpenCircuits: f.breakers.GetStats()}
	for _, e := range f.entries {
		if !e.isReady() {
			s.Pending++
			continue
		}
		s.Connections++
		s.References += e.refs
		s.ByFamily[e.family]++
	}
	return s
}

// CloseAll closes every pooled connection. Handles still held afterwards
// release without effect.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	var toClose []types.FileSystem
	for key, e := range f.entries {
		if e.isReady() {
			if e.err == nil {
				toClose = append(toClose, e.fs)
			}
		} else {
			e.cancel()
		}
		delete(f.entries, key)
	}
	f.mu.Unlock()

	var errs []error
	for _, fs := range toClose {
		if err := fs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.setActive(0)
	return stderrors.Join(errs...)
}

func (f *Factory) activeLocked() int {
	n := 0
	for _, e := range f.entries {
		if e.isReady() && e.err == nil {
			n++
		}
	}
	return n
}

func (f *Factory) initError(cluster types.NamedCluster, family string, cause error) error {
	return errors.Wrap(errors.ErrCodeClusterInitialization, "cannot connect to cluster "+cluster.Key(), cause).
		WithComponent("connection").
		WithOperation("Connect").
		WithContext("cluster", cluster.Key()).
		WithContext("family", family)
}

func (f *Factory) canceled(cluster types.NamedCluster, family string, cause error) error {
	return errors.Wrap(errors.ErrCodeOperationCanceled, "connect to cluster "+cluster.Key()+" canceled", cause).
		WithComponent("connection").
		WithOperation("Connect").
		WithContext("cluster", cluster.Key()).
		WithContext("family", family)
}

func (f *Factory) recordConnect(family string, d time.Duration, ok bool) {
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.RecordConnect(family, d, ok)
	}
}

func (f *Factory) setActive(n int) {
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.SetActiveConnections(n)
	}
}
