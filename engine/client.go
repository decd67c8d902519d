// Package engine holds the client handle for the currently selected
// container engine backend.
package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a handle on one engine backend's API endpoint. A manager binds
// to exactly one Client for its whole lifetime; everything that needs to
// know "is this the same backend" compares Clients by pointer identity,
// never by endpoint string.
type Client struct {
	endpoint string
	conn     *grpc.ClientConn
}

// Dial creates a client for the engine endpoint, for example
// "unix:///var/run/engine.sock". The underlying gRPC connection is
// established lazily; use Ready to inspect it. Without explicit options the
// connection uses insecure transport credentials, the normal arrangement
// for a local engine socket.
func Dial(endpoint string, opts ...grpc.DialOption) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("engine: endpoint cannot be empty")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create client for %s: %w", endpoint, err)
	}

	log.Info().Str("endpoint", endpoint).Msg("engine client created")
	return &Client{endpoint: endpoint, conn: conn}, nil
}

// NewStatic returns a client handle for the endpoint without opening a
// connection. Embedders that manage their own engine transport use this to
// obtain an identity to bind a manager to.
func NewStatic(endpoint string) *Client {
	return &Client{endpoint: endpoint}
}

// Endpoint returns the endpoint this client was created for.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Conn exposes the underlying gRPC connection for engine API stubs.
// It is nil for clients created with NewStatic.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Ready reports whether the connection to the engine is currently usable.
func (c *Client) Ready() bool {
	return c.conn != nil && c.conn.GetState() == connectivity.Ready
}

// Close tears the connection down. Closing a static client is a no-op.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
