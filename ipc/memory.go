package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryTransport implements Transport with in-process dispatch. It is the
// default transport: channel traffic between the app and its own extension
// surface never leaves the process.
type MemoryTransport struct {
	mu       sync.RWMutex
	closed   bool
	handlers map[string]HandlerFunc // channel -> attached callable
}

// NewMemoryTransport creates a new in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		handlers: make(map[string]HandlerFunc),
	}
}

// Attach binds fn as the channel's callable, replacing any previous one.
func (t *MemoryTransport) Attach(ctx context.Context, channel string, fn HandlerFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	t.handlers[channel] = fn
	log.Debug().Str("channel", channel).Msg("memory transport: callable attached")
	return nil
}

// Detach removes the channel's callable, if any.
func (t *MemoryTransport) Detach(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Allow detach even after close so teardown paths never fail.
	delete(t.handlers, channel)
	log.Debug().Str("channel", channel).Msg("memory transport: callable detached")
	return nil
}

// Fire delivers an event to the channel's callable without waiting for a
// result. The callable's response and error, if any, are discarded (errors
// are logged).
func (t *MemoryTransport) Fire(ctx context.Context, channel string, payload any) error {
	fn, err := t.callable(channel)
	if err != nil {
		return err
	}
	if fn == nil {
		log.Debug().Str("channel", channel).Msg("memory transport: event dropped, nothing attached")
		return nil
	}

	if _, err := fn(withRequest(ctx, newRequest(channel)), payload); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("memory transport: listener failed")
	}
	return nil
}

// Invoke delivers a request to the channel's callable and returns its
// response. Invoking a channel with nothing attached is an error.
func (t *MemoryTransport) Invoke(ctx context.Context, channel string, payload any) (any, error) {
	fn, err := t.callable(channel)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, channel)
	}
	return fn(withRequest(ctx, newRequest(channel)), payload)
}

// Close shuts the transport down and clears all attachments.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil // Already closed
	}
	t.closed = true
	t.handlers = make(map[string]HandlerFunc)
	log.Debug().Msg("memory transport closed")
	return nil
}

// callable returns the channel's attached callable under a read lock.
func (t *MemoryTransport) callable(channel string) (HandlerFunc, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	return t.handlers[channel], nil
}

// Ensure MemoryTransport implements the Transport interface.
var _ Transport = (*MemoryTransport)(nil)
