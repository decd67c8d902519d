package ipc

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// requestKey is the private key type used for context.WithValue.
// Using a private type prevents collisions with other context keys.
type requestKey struct{}

// Request carries per-delivery metadata attached to the context a handler
// or listener runs under.
type Request struct {
	// Channel is the name of the channel the payload arrived on.
	Channel string
	// ID uniquely identifies this delivery. For invokes arriving over the
	// redis transport it is the correlation ID of the request envelope.
	ID string
	// ReceivedAt is when the transport picked the payload up.
	ReceivedAt time.Time
}

// newRequest builds delivery metadata for an in-process dispatch.
func newRequest(channel string) Request {
	return Request{
		Channel:    channel,
		ID:         uuid.NewString(),
		ReceivedAt: time.Now(),
	}
}

// withRequest returns a context derived from ctx carrying req.
func withRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFromContext extracts the delivery metadata from a handler context.
// The second return is false when ctx did not originate from a transport
// dispatch.
func RequestFromContext(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}
