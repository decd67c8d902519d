// Package ipc provides the inter-process communication layer: named
// channels, pluggable transports, and the registry that enforces the
// at-most-one-callable-per-channel invariant.
package ipc

import (
	"context"
	"errors"
)

// Predefined errors for common transport scenarios.
var (
	ErrTransportClosed = errors.New("ipc: transport is closed")
	ErrNoHandler       = errors.New("ipc: no handler attached to channel")
)

// HandlerFunc processes one request on an invoke channel and returns the
// response payload, or an error that is relayed back to the caller.
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// ListenerFunc consumes one event on a fire-and-forget channel.
// There is no response; failures are local to the listener.
type ListenerFunc func(ctx context.Context, payload any)

// Transport abstracts the wire that moves channel traffic. Implementations
// must support both in-process delivery (memory) and out-of-process peers
// (redis). At most one callable is attached per channel; enforcing the
// replace-with-warning policy is the Registry's job, the transport only
// stores whatever it is told to attach.
type Transport interface {
	// Attach binds fn as the sole callable for the channel, replacing any
	// previous one.
	Attach(ctx context.Context, channel string, fn HandlerFunc) error

	// Detach removes the callable for the channel. Detaching a channel
	// with nothing attached is a no-op.
	Detach(ctx context.Context, channel string) error

	// Fire delivers an event to the channel's callable, if any, and does
	// not wait for a result. Events on channels with nothing attached are
	// dropped.
	Fire(ctx context.Context, channel string, payload any) error

	// Invoke delivers a request to the channel's callable and blocks until
	// a response, an error, or ctx cancellation.
	Invoke(ctx context.Context, channel string, payload any) (any, error)

	// Close shuts the transport down, detaching everything.
	Close() error
}
