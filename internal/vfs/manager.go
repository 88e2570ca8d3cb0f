// Package vfs is the dispatch layer between generic file I/O callers and
// the providers that claim URI schemes.
package vfs

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Provider creates filesystems for the schemes it claims.
type Provider interface {
	Capabilities() types.CapabilitySet
	CreateFileSystem(ctx context.Context, uri string, opts *Options) (*FileSystem, error)
}

// Manager maps schemes to providers.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	schemes   map[string]Provider
	providers []Provider
	closed    bool
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Manager{
		logger:  logger.With("component", "vfs"),
		schemes: make(map[string]Provider),
	}
}

// AddProvider registers p for every scheme in schemes. Registration is all
// or nothing: if any scheme is already claimed nothing is registered and the
// error is SCHEME_CONFLICT.
func (m *Manager) AddProvider(schemes []string, p Provider) error {
	if p == nil || len(schemes) == 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "provider needs at least one scheme").
			WithComponent("vfs").
			WithOperation("AddProvider")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(s)
		if _, taken := m.schemes[s]; taken || seen[s] {
			return errors.Newf(errors.ErrCodeSchemeConflict, "scheme %q is already registered", s).
				WithComponent("vfs").
				WithOperation("AddProvider").
				WithContext("scheme", s)
		}
		seen[s] = true
	}
	for s := range seen {
		m.schemes[s] = p
	}
	m.providers = append(m.providers, p)
	m.logger.Info("Provider registered", "schemes", schemes)
	return nil
}

// Providers returns the registered providers in registration order.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Provider(nil), m.providers...)
}

// Schemes returns every claimed scheme, sorted.
func (m *Manager) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.schemes))
	for s := range m.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) provider(scheme string) (Provider, error) {
	m.mu.RLock()
	p, ok := m.schemes[strings.ToLower(scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrCodeProviderNotFound, "no provider for scheme %q", scheme).
			WithComponent("vfs").
			WithContext("scheme", scheme)
	}
	return p, nil
}

// Capabilities returns the capability set of the provider behind scheme.
func (m *Manager) Capabilities(scheme string) (types.CapabilitySet, error) {
	p, err := m.provider(scheme)
	if err != nil {
		return types.CapabilitySet{}, err
	}
	return p.Capabilities(), nil
}

// Open dispatches uri to the provider claiming its scheme. It returns the
// filesystem rooted at the uri's authority and the path inside it.
func (m *Manager) Open(ctx context.Context, uri string, opts *Options) (*FileSystem, string, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, "", errors.NewError(errors.ErrCodeOperationFailed, "manager is closed").
			WithComponent("vfs").
			WithOperation("Open")
	}

	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return nil, "", errors.NewError(errors.ErrCodeMalformedName, "name has no scheme").
			WithComponent("vfs").
			WithOperation("Open")
	}
	p, err := m.provider(scheme)
	if err != nil {
		return nil, "", err
	}

	fsys, err := p.CreateFileSystem(ctx, uri, opts)
	if err != nil {
		return nil, "", err
	}
	return fsys, fsys.Target().Path, nil
}

// Close closes every provider that implements io.Closer. Open fails
// afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	providers := append([]Provider(nil), m.providers...)
	m.mu.Unlock()

	var errs []error
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return stderrors.Join(errs...)
}
