package ipc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// attachKind labels what is attached to a channel, for diagnostics.
type attachKind string

const (
	kindListener attachKind = "listener"
	kindHandler  attachKind = "handler"
)

// Registry tracks which channels have a callable attached and enforces the
// at-most-one-callable-per-channel invariant at a single choke point:
// attaching to an occupied channel detaches the previous callable first and
// logs a duplicate-registration warning. Channel names are a small fixed
// namespace shared process-wide; without the replace rule a backend switch
// would silently accumulate duplicate handlers firing per request.
type Registry struct {
	transport Transport
	mu        sync.Mutex
	attached  map[string]attachKind // channel -> what occupies it
}

// NewRegistry creates a registry over the given transport.
func NewRegistry(transport Transport) *Registry {
	return &Registry{
		transport: transport,
		attached:  make(map[string]attachKind),
	}
}

// AttachListener attaches fn to a fire-and-forget event channel, replacing
// (with a warning) whatever was attached before.
func (r *Registry) AttachListener(ctx context.Context, channel string, fn ListenerFunc) error {
	wrapped := func(ctx context.Context, payload any) (any, error) {
		fn(ctx, payload)
		return nil, nil
	}
	return r.attach(ctx, channel, kindListener, wrapped)
}

// AttachHandler attaches fn to a request/response invoke channel, replacing
// (with a warning) whatever was attached before.
func (r *Registry) AttachHandler(ctx context.Context, channel string, fn HandlerFunc) error {
	return r.attach(ctx, channel, kindHandler, fn)
}

// attach performs the detach-before-attach replacement sequence under the
// registry lock, so two attaches for the same channel cannot interleave.
func (r *Registry) attach(ctx context.Context, channel string, kind attachKind, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.attached[channel]; ok {
		log.Warn().
			Str("channel", channel).
			Str("previous", string(prev)).
			Msgf("duplicate %s registration, replacing previous", kind)
		if err := r.transport.Detach(ctx, channel); err != nil {
			return fmt.Errorf("ipc: failed to detach previous %s on %s: %w", prev, channel, err)
		}
		delete(r.attached, channel)
	}

	if err := r.transport.Attach(ctx, channel, fn); err != nil {
		return fmt.Errorf("ipc: failed to attach %s on %s: %w", kind, channel, err)
	}
	r.attached[channel] = kind

	log.Debug().Str("channel", channel).Str("kind", string(kind)).Msg("channel callable attached")
	return nil
}

// DetachAll detaches every attached listener and handler and clears the
// registry. It returns only once the transport has detached everything, so
// a freshly constructed registry never races a not-yet-detached prior one
// on the same channel names. Calling DetachAll on an empty registry is a
// no-op.
func (r *Registry) DetachAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.attached) == 0 {
		return nil
	}

	var allErrors []error
	for channel, kind := range r.attached {
		if err := r.transport.Detach(ctx, channel); err != nil {
			log.Error().Err(err).Str("channel", channel).Str("kind", string(kind)).Msg("failed to detach channel callable")
			allErrors = append(allErrors, fmt.Errorf("detach %s: %w", channel, err))
		}
	}
	r.attached = make(map[string]attachKind)

	if len(allErrors) > 0 {
		return errors.Join(allErrors...)
	}
	log.Debug().Msg("channel registry detached all callables")
	return nil
}

// Channels returns the sorted names of channels that currently have a
// callable attached.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.attached))
	for channel := range r.attached {
		names = append(names, channel)
	}
	sort.Strings(names)
	return names
}
