package extension

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quayside/quayside/config"
	"github.com/quayside/quayside/engine"
	"github.com/quayside/quayside/host"
	"github.com/quayside/quayside/ipc"
)

// managerOptions collects construction options for a Manager.
type managerOptions struct {
	transport     ipc.Transport
	ownsTransport bool
	factory       HandleFactory
	root          string
}

// Option configures a Manager at construction time.
type Option func(*managerOptions)

// WithTransport selects the IPC transport channel callables attach to.
// The transport stays caller-owned: the manager detaches its channels on
// Shutdown but never closes it. The default is an in-process memory
// transport owned by the manager.
func WithTransport(t ipc.Transport) Option {
	return func(o *managerOptions) {
		o.transport = t
		o.ownsTransport = false
	}
}

// WithManagedTransport is WithTransport with ownership transfer: the
// manager closes the transport once it shuts down. Used when the transport
// was constructed solely for this manager, such as the redis transport
// derived from configuration.
func WithManagedTransport(t ipc.Transport) Option {
	return func(o *managerOptions) {
		o.transport = t
		o.ownsTransport = true
	}
}

// WithHandleFactory overrides how extension handles are constructed.
func WithHandleFactory(f HandleFactory) Option {
	return func(o *managerOptions) {
		o.factory = f
	}
}

// WithExtensionRoot overrides the directory installed extensions live in.
func WithExtensionRoot(dir string) Option {
	return func(o *managerOptions) {
		o.root = dir
	}
}

// DefaultRoot returns the default extension root directory.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "quayside", "extensions")
	}
	return filepath.Join(home, ".quayside", "extensions")
}

// Manager owns the extension surface bound to one engine client: the handle
// cache, the channel registry, and the reconciliation of desired install
// state. The client binding is immutable; switching backends means
// replacing the whole manager (see the global package).
type Manager struct {
	client        *engine.Client
	root          string
	cache         *Cache
	registry      *ipc.Registry
	transport     ipc.Transport
	ownsTransport bool
}

// New creates a manager bound to the given engine client.
func New(client *engine.Client, opts ...Option) *Manager {
	o := &managerOptions{root: DefaultRoot()}
	for _, opt := range opts {
		opt(o)
	}
	if o.transport == nil {
		o.transport = ipc.NewMemoryTransport()
		o.ownsTransport = true
	}
	if o.factory == nil {
		o.factory = localHandleFactory(o.root)
	}

	return &Manager{
		client:        client,
		root:          o.root,
		cache:         newCache(client, o.factory),
		registry:      ipc.NewRegistry(o.transport),
		transport:     o.transport,
		ownsTransport: o.ownsTransport,
	}
}

// Client returns the engine client this manager is bound to.
func (m *Manager) Client() *engine.Client {
	return m.client
}

// Registry exposes the manager's channel registry so embedders can attach
// their own channels alongside the built-in ones.
func (m *Manager) Registry() *ipc.Registry {
	return m.registry
}

// Init attaches the host-info invoke handler and reconciles the desired
// install state from cfg.Extensions. Infrastructure failures (channel
// attachment) are returned; per-extension failures are logged and
// contained, so Init never fails because one extension did.
func (m *Manager) Init(ctx context.Context, cfg *config.Config) error {
	err := m.registry.AttachHandler(ctx, ChannelHostInfo, func(ctx context.Context, _ any) (any, error) {
		return host.Current(), nil
	})
	if err != nil {
		return fmt.Errorf("extension: failed to attach host-info handler: %w", err)
	}

	m.reconcile(ctx, cfg.Extensions)
	log.Info().Int("extensions", len(cfg.Extensions)).Msg("extension manager initialized")
	return nil
}

// reconcile fans install/uninstall operations out concurrently and joins
// them. Each operation's outcome is captured independently: a failing or
// panicking extension is logged with its id and operation and never cancels
// a sibling or the join itself.
func (m *Manager) reconcile(ctx context.Context, desired map[string]bool) {
	var wg sync.WaitGroup
	for id, install := range desired {
		wg.Add(1)
		go func(id string, install bool) {
			defer wg.Done()
			m.reconcileOne(ctx, id, install)
		}(id, install)
	}
	wg.Wait()
}

// reconcileOne drives one extension to its desired state, containing any
// failure at the level of this single operation.
func (m *Manager) reconcileOne(ctx context.Context, id string, install bool) {
	h := m.cache.Get(id)

	operation := "uninstall"
	fn := h.Uninstall
	if install {
		operation = "install"
		fn = h.Install
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("extension", id).
				Str("operation", operation).
				Any("panic", r).
				Msg("extension operation panicked")
		}
	}()

	startTime := time.Now()
	if err := fn(ctx); err != nil {
		log.Error().
			Err(err).
			Str("extension", id).
			Str("operation", operation).
			Dur("duration", time.Since(startTime)).
			Msg("extension operation failed")
		return
	}
	log.Info().
		Str("extension", id).
		Str("operation", operation).
		Dur("duration", time.Since(startTime)).
		Msg("extension reconciled")
}

// Extension returns the handle for id from the cache, creating it on first
// reference. Repeated calls return the same handle.
func (m *Manager) Extension(id string) Handle {
	return m.cache.Get(id)
}

// Installed lists the extensions present on disk, cross-referencing the
// cache against the extension root. A missing root directory means zero
// installed extensions; any other filesystem error propagates unchanged.
// Metadata for the surviving handles resolves concurrently; the result
// order is unspecified.
func (m *Manager) Installed(ctx context.Context) ([]Installed, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	onDisk := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		onDisk[entry.Name()] = struct{}{}
	}

	var (
		mu        sync.Mutex
		installed []Installed
		wg        sync.WaitGroup
	)
	for _, h := range m.cache.Known() {
		if _, ok := onDisk[DirName(h.ID())]; !ok {
			continue
		}
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			meta, err := h.Metadata(ctx)
			if err != nil {
				log.Error().Err(err).Str("extension", h.ID()).Msg("failed to resolve extension metadata")
				return
			}
			mu.Lock()
			installed = append(installed, Installed{ID: h.ID(), Metadata: meta})
			mu.Unlock()
		}(h)
	}
	wg.Wait()

	return installed, nil
}

// Shutdown detaches every channel callable this manager attached and
// returns once the transport has let go of them. A transport the manager
// owns (defaulted or handed over via WithManagedTransport) is closed as
// well, releasing its connections and listener goroutines. A manager is
// shut down at most once in its lifecycle, but repeated calls are
// tolerated: detaching an empty registry and closing a closed transport
// are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	log.Info().Msg("extension manager shutting down")
	err := m.registry.DetachAll(ctx)
	if m.ownsTransport {
		if cerr := m.transport.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close owned transport")
			err = errors.Join(err, cerr)
		}
	}
	return err
}
