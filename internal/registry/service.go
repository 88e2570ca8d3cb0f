package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Service is the named cluster service. It operates on whichever Store the
// caller passes in and owns the cluster template plus the ad-hoc identities
// materialized from it.
type Service struct {
	mu       sync.Mutex
	template types.NamedCluster
	adhoc    *gocache.Cache
	adhocTTL time.Duration

	// writeMu serializes create/update/delete so existence checks hold
	writeMu sync.Mutex

	sealer *Sealer
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSealer seals credential secrets before they reach a store.
func WithSealer(s *Sealer) Option {
	return func(svc *Service) { svc.sealer = s }
}

// DefaultAdHocTTL is how long an unused ad-hoc identity is remembered.
const DefaultAdHocTTL = 10 * time.Minute

// WithAdHocTTL sets how long an ad-hoc identity outlives its last use.
func WithAdHocTTL(ttl time.Duration) Option {
	return func(svc *Service) {
		if ttl > 0 {
			svc.adhocTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// NewService creates a service seeded with template.
func NewService(template types.NamedCluster, opts ...Option) *Service {
	s := &Service{
		adhocTTL: DefaultAdHocTTL,
		logger:   utils.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.adhoc = gocache.New(s.adhocTTL, s.adhocTTL)
	s.logger = s.logger.With("component", "registry")
	s.template = s.normalizeTemplate(template)
	return s
}

func (s *Service) normalizeTemplate(nc types.NamedCluster) types.NamedCluster {
	t := nc.Clone()
	t.Registered = false
	return t
}

// FindByHost returns the registered cluster whose host matches host,
// ignoring case. When several match, the first by name wins.
func (s *Service) FindByHost(ctx context.Context, store Store, host string) (types.NamedCluster, bool, error) {
	list, err := s.List(ctx, store)
	if err != nil {
		return types.NamedCluster{}, false, err
	}
	for _, nc := range list {
		if strings.EqualFold(nc.Host, host) {
			return nc, true, nil
		}
	}
	return types.NamedCluster{}, false, nil
}

// FindByName returns the registered cluster called name.
func (s *Service) FindByName(ctx context.Context, store Store, name string) (types.NamedCluster, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.NamedCluster{}, false, canceled("FindByName", err)
	}
	nc, err := store.Get(ctx, name)
	if errors.IsCode(err, errors.ErrCodeClusterNotFound) {
		return types.NamedCluster{}, false, nil
	}
	if err != nil {
		return types.NamedCluster{}, false, err
	}
	nc, err = s.opened(nc)
	if err != nil {
		return types.NamedCluster{}, false, err
	}
	return nc, true, nil
}

// List returns every registered cluster sorted by name.
func (s *Service) List(ctx context.Context, store Store) ([]types.NamedCluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceled("List", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.NamedCluster, 0, len(list))
	for _, nc := range list {
		opened, err := s.opened(nc)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Create stores a new cluster. It fails with CLUSTER_EXISTS when the name is
// taken.
func (s *Service) Create(ctx context.Context, store Store, nc types.NamedCluster) error {
	if err := validateCluster(nc); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.mustNotExist(ctx, store, nc.Name); err != nil {
		return err
	}
	if err := s.put(ctx, store, nc); err != nil {
		return err
	}
	s.logger.Info("Named cluster created", "name", nc.Name, "host", nc.Host, "port", nc.Port)
	return nil
}

// Update replaces the cluster called oldName with nc. When nc carries a new
// name the record is created under the new name and the old one deleted.
func (s *Service) Update(ctx context.Context, store Store, oldName string, nc types.NamedCluster) error {
	if err := validateCluster(nc); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := store.Get(ctx, oldName); err != nil {
		return err
	}
	if nc.Name != oldName {
		if err := s.mustNotExist(ctx, store, nc.Name); err != nil {
			return err
		}
	}
	if err := s.put(ctx, store, nc); err != nil {
		return err
	}
	if nc.Name != oldName {
		if err := store.Delete(ctx, oldName); err != nil {
			if rbErr := store.Delete(ctx, nc.Name); rbErr != nil {
				s.logger.Error("Rename rollback failed, both records remain",
					"from", oldName, "to", nc.Name, "error", rbErr)
			}
			return err
		}
		s.logger.Info("Named cluster renamed", "from", oldName, "to", nc.Name)
		return nil
	}
	s.logger.Info("Named cluster updated", "name", nc.Name)
	return nil
}

// Delete removes the cluster called name. It fails with CLUSTER_NOT_FOUND
// when there is none.
func (s *Service) Delete(ctx context.Context, store Store, name string) error {
	if err := ctx.Err(); err != nil {
		return canceled("Delete", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := store.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info("Named cluster deleted", "name", name)
	return nil
}

// Template returns a copy of the cluster template.
func (s *Service) Template() types.NamedCluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template.Clone()
}

// SetTemplate replaces the template and forgets every ad-hoc identity
// materialized from the previous one.
func (s *Service) SetTemplate(nc types.NamedCluster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.template = s.normalizeTemplate(nc)
	s.adhoc.Flush()
}

// NewFromTemplate returns a template copy named name, ready for Create.
func (s *Service) NewFromTemplate(name string) types.NamedCluster {
	nc := s.Template()
	nc.Name = name
	return nc
}

// MaterializeFromTemplate returns the ad-hoc identity for host:port stamped
// with the variant of this call, deriving it from the template on first use.
// Repeated calls for the same endpoint and variant return equal values.
// Identities unused for the ad-hoc TTL are forgotten and derived afresh.
func (s *Service) MaterializeFromTemplate(host string, port int, nativeClient bool) types.NamedCluster {
	s.mu.Lock()
	defer s.mu.Unlock()

	nc := s.template.Clone()
	nc.Host = host
	nc.Port = port
	nc.Registered = false
	nc.Variant = types.VariantStandard
	if nativeClient {
		nc.Variant = types.VariantNativeClient
	}
	key := nc.Key() + "|" + nc.Variant.String()

	if v, ok := s.adhoc.Get(key); ok {
		s.adhoc.SetDefault(key, v)
		return v.(types.NamedCluster).Clone()
	}
	s.adhoc.SetDefault(key, nc)
	s.logger.Debug("Materialized cluster from template", "host", host, "port", port, "native_client", nativeClient)
	return nc.Clone()
}

// AdHoc returns the live ad-hoc identities, sorted by key then variant.
func (s *Service) AdHoc() []types.NamedCluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.adhoc.Items()
	out := make([]types.NamedCluster, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(types.NamedCluster).Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key() != out[j].Key() {
			return out[i].Key() < out[j].Key()
		}
		return out[i].Variant < out[j].Variant
	})
	return out
}

func (s *Service) mustNotExist(ctx context.Context, store Store, name string) error {
	_, err := store.Get(ctx, name)
	switch {
	case err == nil:
		return errors.NewError(errors.ErrCodeClusterExists, "named cluster "+name+" already exists").
			WithComponent("registry").
			WithContext("name", name)
	case errors.IsCode(err, errors.ErrCodeClusterNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) put(ctx context.Context, store Store, nc types.NamedCluster) error {
	sealed, err := s.sealed(nc)
	if err != nil {
		return err
	}
	return store.Put(ctx, sealed)
}

func (s *Service) sealed(nc types.NamedCluster) (types.NamedCluster, error) {
	out := nc.Clone()
	out.Registered = false
	if s.sealer == nil || out.Credentials == nil {
		return out, nil
	}
	secret, err := s.sealer.Seal(out.Credentials.Secret)
	if err != nil {
		return types.NamedCluster{}, errors.Wrap(errors.ErrCodeInternalError, "seal credentials", err).
			WithComponent("registry")
	}
	out.Credentials.Secret = secret
	return out, nil
}

func (s *Service) opened(nc types.NamedCluster) (types.NamedCluster, error) {
	out := nc.Clone()
	out.Registered = true
	if out.Credentials == nil || !IsSealed(out.Credentials.Secret) {
		return out, nil
	}
	if s.sealer == nil {
		return types.NamedCluster{}, errors.NewError(errors.ErrCodeInvalidConfig, "credentials of "+nc.Name+" are sealed but no registry secret key is configured").
			WithComponent("registry")
	}
	secret, err := s.sealer.Open(out.Credentials.Secret)
	if err != nil {
		return types.NamedCluster{}, errors.Wrap(errors.ErrCodeInvalidConfig, "open credentials of "+nc.Name, err).
			WithComponent("registry")
	}
	out.Credentials.Secret = secret
	return out, nil
}

func validateCluster(nc types.NamedCluster) error {
	invalid := func(msg string) error {
		return errors.NewError(errors.ErrCodeInvalidConfig, msg).
			WithComponent("registry").
			WithContext("name", nc.Name)
	}
	switch {
	case strings.TrimSpace(nc.Name) == "":
		return invalid("named cluster name must not be empty")
	case strings.ContainsAny(nc.Name, "/\x00"):
		return invalid("named cluster name must not contain '/'")
	case strings.TrimSpace(nc.Host) == "":
		return invalid("named cluster host must not be empty")
	case nc.Port < 0 || nc.Port > 65535:
		return invalid("named cluster port out of range")
	}
	return nil
}

func canceled(op string, cause error) error {
	return errors.Wrap(errors.ErrCodeOperationCanceled, "registry "+op+" canceled", cause).
		WithComponent("registry").
		WithOperation(op)
}
