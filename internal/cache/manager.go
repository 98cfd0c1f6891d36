package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/cachemgr/internal/backend"
	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/codec"
	"github.com/objectfs/cachemgr/internal/kvstore"
	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

// clearConcurrency bounds how many instances ClearAll clears at once
const clearConcurrency = 8

// Option configures a Manager
type Option func(*Manager)

// WithKVStore sets the key/value store used by persisted caches
func WithKVStore(store kvstore.Store) Option {
	return func(m *Manager) { m.kv = store }
}

// WithBlockStore sets the block store used by durable caches
func WithBlockStore(opener blockstore.Opener) Option {
	return func(m *Manager) { m.blocks = opener }
}

// WithKeyPrefix sets the prefix placed before every persisted key
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) { m.keyPrefix = prefix }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver sets the receiver of cache events
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

// WithClock sets the time source used for timestamps and expiration
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithErrorHandler sets the hook that receives absorbed failures. It
// replaces the default, which logs at WARN and notifies the observer.
func WithErrorHandler(handler types.ErrorHandler) Option {
	return func(m *Manager) { m.handler = handler }
}

// Manager creates named cache instances and owns the physical stores they
// share.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	kv        kvstore.Store
	blocks    blockstore.Opener
	keyPrefix string
	logger    *slog.Logger
	observer  Observer
	clock     Clock
	handler   types.ErrorHandler
}

// NewManager creates a manager. Without stores only memory caches are
// available; other storage requests fall back to memory.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		instances: make(map[string]*Instance),
		logger:    slog.Default().With("component", "cache-manager"),
		observer:  nopObserver{},
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handler == nil {
		m.handler = types.ErrorHandlerFunc(m.logAbsorbed)
	}
	return m
}

func (m *Manager) logAbsorbed(operation, key string, err error) {
	m.logger.Warn("Cache operation failed",
		"operation", operation,
		"key", key,
		"error", err)
	m.observer.RecordError(operation, err)
}

// CreateCache creates and registers a cache. An existing cache with the
// same name is replaced; its stored entries are not touched. A persisted
// cache whose key namespace overlaps another registered persisted cache is
// rejected with INVALID_CONFIG.
func (m *Manager) CreateCache(ctx context.Context, name string, cfg types.CacheConfig) (*Instance, error) {
	if name == "" {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "cache name cannot be empty").
			WithComponent("cache-manager").WithOperation("create")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "invalid cache configuration").
			WithComponent("cache-manager").WithOperation("create").WithDetail("cache", name)
	}
	cfg = cfg.WithDefaults()

	var c *codec.Codec
	if cfg.Storage != types.StorageMemory {
		var err error
		if c, err = codec.New(cfg.Compress); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeInternalError, err, "failed to create codec").
				WithComponent("cache-manager").WithOperation("create")
		}
	}

	logger := m.logger.With("cache", name)
	inst := newInstance(name, cfg, nil, m.clock, logger, m.observer, m.handler)
	inst.backend = m.negotiate(ctx, inst, c)
	inst.config.Storage = inst.backend.Kind()

	m.mu.Lock()
	if other, ok := m.overlappingNamespace(name, inst.backend); ok {
		m.mu.Unlock()
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig,
			fmt.Sprintf("cache %q shares a key namespace with cache %q", name, other)).
			WithComponent("cache-manager").WithOperation("create").WithDetail("cache", name)
	}
	m.instances[name] = inst
	m.mu.Unlock()

	logger.Debug("Created cache",
		"storage", inst.config.Storage,
		"strategy", cfg.Strategy,
		"max_size", cfg.MaxSize)
	return inst, nil
}

// negotiate picks the backend for inst once. Requests the manager cannot
// satisfy get a memory backend.
func (m *Manager) negotiate(ctx context.Context, inst *Instance, c *codec.Codec) types.Backend {
	requested := inst.config.Storage
	namespace := backend.Namespace(m.keyPrefix, inst.name)

	switch requested {
	case types.StoragePersisted:
		err := kvstore.Probe(ctx, m.kv)
		if err == nil {
			return backend.NewPersisted(m.kv, namespace, c, inst)
		}
		m.fallback(inst.name, requested, err)
	case types.StorageDurable:
		if m.blocks != nil {
			return backend.NewDurable(m.blocks, namespace, c, inst)
		}
		m.fallback(inst.name, requested, errors.New("no block store configured"))
	}
	return backend.NewMemory()
}

// overlappingNamespace finds a registered persisted cache whose key prefix
// is a prefix of b's, or the other way round. Persisted caches match their
// keys by prefix, so cache "a" would otherwise count, evict and clear the
// keys of cache "a_b". Must hold m.mu.
func (m *Manager) overlappingNamespace(name string, b types.Backend) (string, bool) {
	p, ok := b.(*backend.Persisted)
	if !ok {
		return "", false
	}
	for otherName, other := range m.instances {
		if otherName == name {
			continue
		}
		op, ok := other.backend.(*backend.Persisted)
		if !ok {
			continue
		}
		if strings.HasPrefix(p.Namespace(), op.Namespace()) || strings.HasPrefix(op.Namespace(), p.Namespace()) {
			return otherName, true
		}
	}
	return "", false
}

func (m *Manager) fallback(name string, requested types.StorageKind, reason error) {
	m.logger.Info("Storage unavailable, using memory",
		"cache", name,
		"requested", requested,
		"reason", reason,
		"code", cerrors.ErrCodeCapabilityUnavailable)
}

// GetCache returns the instance registered under name
func (m *Manager) GetCache(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// Names returns the registered cache names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearAll clears every registered cache. Every cache is attempted; the
// failures are joined into the returned error.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	g.SetLimit(clearConcurrency)
	for _, inst := range instances {
		g.Go(func() error {
			if err := inst.Clear(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("cache %q: %w", inst.Name(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// InvalidatePattern removes every persisted key containing pattern, across
// all caches sharing the key/value store. Memory and durable caches are not
// affected. It returns 0 when no key/value store is configured.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if m.kv == nil {
		return 0, nil
	}
	removed, err := kvstore.InvalidatePattern(ctx, m.kv, pattern)
	if err != nil {
		return removed, err
	}
	m.logger.Debug("Invalidated keys", "pattern", pattern, "removed", removed)
	return removed, nil
}

// KVStore returns the key/value store, or nil
func (m *Manager) KVStore() kvstore.Store {
	return m.kv
}

// Close releases the store handles. Instances must not be used afterwards.
func (m *Manager) Close() error {
	var errs []error
	if m.kv != nil {
		if err := m.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close key/value store: %w", err))
		}
	}
	if m.blocks != nil {
		if err := m.blocks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close block store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Store component names reported by Components and accepted by Check.
const (
	ComponentKVStore    = "kvstore"
	ComponentBlockStore = "blockstore"
)

// Components lists the configured stores
func (m *Manager) Components() []string {
	var components []string
	if m.kv != nil {
		components = append(components, ComponentKVStore)
	}
	if m.blocks != nil {
		components = append(components, ComponentBlockStore)
	}
	return components
}

// Check probes one store. It matches health.CheckFunc.
func (m *Manager) Check(ctx context.Context, component string) error {
	switch component {
	case ComponentKVStore:
		if err := kvstore.Probe(ctx, m.kv); err != nil {
			return cerrors.Wrap(cerrors.ErrCodeStorageUnavailable, err, "key/value store probe failed")
		}
		return nil
	case ComponentBlockStore:
		if m.blocks == nil {
			return cerrors.NewError(cerrors.ErrCodeCapabilityUnavailable, "no block store configured")
		}
		if _, err := m.blocks.Open(ctx); err != nil {
			return cerrors.Wrap(cerrors.ErrCodeStorageUnavailable, err, "block store open failed")
		}
		return nil
	default:
		return fmt.Errorf("unknown component %q", component)
	}
}

// Sizes returns the entry count of every instance. Instances whose store
// fails to count are left out.
func (m *Manager) Sizes(ctx context.Context) map[string]int {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()

	sizes := make(map[string]int, len(instances))
	for _, inst := range instances {
		n, err := inst.Size(ctx)
		if err != nil {
			m.logger.Debug("Failed to count cache entries", "cache", inst.Name(), "error", err)
			continue
		}
		sizes[inst.Name()] = n
	}
	return sizes
}
