// Package global exposes the process-wide extension manager singleton and
// the accessor that decides whether to reuse, create, or replace it.
package global

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quayside/quayside/config"
	"github.com/quayside/quayside/engine"
	"github.com/quayside/quayside/extension"
	"github.com/quayside/quayside/ipc"
)

// Predefined errors for accessor misuse.
var (
	// ErrConfigRequired is returned when AcquireManager must construct a
	// manager but no configuration was supplied.
	ErrConfigRequired = errors.New("global: configuration is required to construct an extension manager")
	// ErrClientRequired is returned when AcquireManager is called without
	// an engine client. Use Manager for the query-only shape.
	ErrClientRequired = errors.New("global: engine client is required to acquire an extension manager")
)

// managerFactory guards the singleton and its invariant: at most one live
// manager at any time, the old one fully torn down before a new one starts
// attaching channels. Wrapping the state in one factory keeps the
// invariant enforced at a single point instead of by convention at every
// call site.
type managerFactory struct {
	mu      sync.Mutex
	current *extension.Manager
	client  *engine.Client // identity the current manager is bound to
}

var factory managerFactory

// Manager returns the current singleton manager, if one exists. The absent
// case is not an error: callers may ask for a manager before the first
// engine client is selected.
func Manager() (*extension.Manager, bool) {
	factory.mu.Lock()
	defer factory.mu.Unlock()

	if factory.current == nil {
		log.Debug().Msg("no extension manager exists yet")
		return nil, false
	}
	return factory.current, true
}

// AcquireManager returns the singleton manager for the given engine client,
// creating or replacing it as needed.
//
// If the current singleton is already bound to client (pointer identity),
// it is returned unchanged and cfg is ignored: configuration was applied
// when that manager initialized. Otherwise cfg is mandatory. On a backend
// switch the previous manager is shut down to completion strictly before
// the replacement is constructed and initialized, so two managers never
// overlap on the same channel names.
func AcquireManager(ctx context.Context, client *engine.Client, cfg *config.Config, opts ...extension.Option) (*extension.Manager, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	factory.mu.Lock()
	defer factory.mu.Unlock()

	if factory.current != nil && factory.client == client {
		log.Debug().Str("endpoint", client.Endpoint()).Msg("reusing extension manager for unchanged engine client")
		return factory.current, nil
	}

	if cfg == nil {
		return nil, ErrConfigRequired
	}

	if factory.current != nil {
		prev := factory.current
		// Vacate the singleton before teardown is attempted: a manager
		// whose shutdown failed must never be handed out again.
		factory.current = nil
		factory.client = nil
		log.Info().
			Str("endpoint", client.Endpoint()).
			Msg("engine client changed, replacing extension manager")
		if err := prev.Shutdown(ctx); err != nil {
			return nil, fmt.Errorf("global: failed to shut down previous extension manager: %w", err)
		}
	}

	mgr := extension.New(client, append(optionsFromConfig(cfg), opts...)...)
	if err := mgr.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("global: failed to initialize extension manager: %w", err)
	}

	factory.current = mgr
	factory.client = client
	log.Info().Str("endpoint", client.Endpoint()).Msg("extension manager ready")
	return mgr, nil
}

// ResetManager shuts the singleton down and clears it, for orderly process
// teardown. Resetting when no singleton exists is a no-op.
func ResetManager(ctx context.Context) error {
	factory.mu.Lock()
	defer factory.mu.Unlock()

	if factory.current == nil {
		return nil
	}
	err := factory.current.Shutdown(ctx)
	factory.current = nil
	factory.client = nil
	return err
}

// optionsFromConfig derives manager construction options from cfg. A redis
// transport built here exists solely for the manager being constructed, so
// it is handed over as a managed transport: the manager's Shutdown closes
// it, client pool included.
func optionsFromConfig(cfg *config.Config) []extension.Option {
	var opts []extension.Option
	if cfg.ExtensionRoot != "" {
		opts = append(opts, extension.WithExtensionRoot(cfg.ExtensionRoot))
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, extension.WithManagedTransport(newOwnedRedisTransport(rdb)))
	}
	return opts
}

// ownedRedisTransport pairs a redis transport with the client constructed
// for it, so closing the transport also releases the client's connection
// pool and background goroutines.
type ownedRedisTransport struct {
	*ipc.RedisTransport
	rdb       *redis.Client
	closeOnce sync.Once
	closeErr  error
}

func newOwnedRedisTransport(rdb *redis.Client) *ownedRedisTransport {
	return &ownedRedisTransport{
		RedisTransport: ipc.NewRedisTransport(rdb),
		rdb:            rdb,
	}
}

// Close shuts the transport down and closes the redis client behind it.
// Safe to call repeatedly.
func (t *ownedRedisTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = errors.Join(t.RedisTransport.Close(), t.rdb.Close())
	})
	return t.closeErr
}
