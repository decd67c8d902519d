package global

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/quayside/config"
	"github.com/quayside/quayside/engine"
	"github.com/quayside/quayside/extension"
	"github.com/quayside/quayside/ipc"
)

// recordingTransport wraps the memory transport and records the order of
// attach/detach operations, to observe the swap sequence.
type recordingTransport struct {
	ipc.Transport
	mu     sync.Mutex
	events []string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{Transport: ipc.NewMemoryTransport()}
}

func (r *recordingTransport) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTransport) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingTransport) Attach(ctx context.Context, channel string, fn ipc.HandlerFunc) error {
	r.record("attach:" + channel)
	return r.Transport.Attach(ctx, channel, fn)
}

func (r *recordingTransport) Detach(ctx context.Context, channel string) error {
	r.record("detach:" + channel)
	return r.Transport.Detach(ctx, channel)
}

// resetSingleton clears the process-wide manager before and after a test.
func resetSingleton(t *testing.T) {
	t.Helper()
	require.NoError(t, ResetManager(context.Background()))
	t.Cleanup(func() {
		_ = ResetManager(context.Background())
	})
}

func testOptions(t *testing.T) []extension.Option {
	t.Helper()
	return []extension.Option{
		extension.WithTransport(ipc.NewMemoryTransport()),
		extension.WithExtensionRoot(t.TempDir()),
	}
}

func TestManagerAbsent(t *testing.T) {
	resetSingleton(t)

	m, ok := Manager()
	assert.Nil(t, m)
	assert.False(t, ok)
}

func TestAcquireManagerRequiresClient(t *testing.T) {
	resetSingleton(t)

	_, err := AcquireManager(context.Background(), nil, &config.Config{})
	require.ErrorIs(t, err, ErrClientRequired)
}

func TestAcquireManagerRequiresConfig(t *testing.T) {
	resetSingleton(t)

	client := engine.NewStatic("unix:///tmp/engine-a.sock")
	_, err := AcquireManager(context.Background(), client, nil)
	require.ErrorIs(t, err, ErrConfigRequired)
}

// nopHandle satisfies extension.Handle with no side effects.
type nopHandle struct{ id string }

func (h nopHandle) ID() string                          { return h.id }
func (h nopHandle) Install(ctx context.Context) error   { return nil }
func (h nopHandle) Uninstall(ctx context.Context) error { return nil }
func (h nopHandle) Metadata(ctx context.Context) (extension.Descriptor, error) {
	return extension.Descriptor{}, nil
}

// countingFactory records which extension ids had handles constructed.
type countingFactory struct {
	mu      sync.Mutex
	created map[string]int
}

func (c *countingFactory) new(id string, client *engine.Client) extension.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created == nil {
		c.created = make(map[string]int)
	}
	c.created[id]++
	return nopHandle{id: id}
}

func (c *countingFactory) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.created))
	for id, n := range c.created {
		out[id] = n
	}
	return out
}

func TestAcquireManagerReusesOnSameClient(t *testing.T) {
	resetSingleton(t)
	ctx := context.Background()

	factory := &countingFactory{}
	opts := append(testOptions(t), extension.WithHandleFactory(factory.new))

	client := engine.NewStatic("unix:///tmp/engine-a.sock")
	cfg := &config.Config{Extensions: map[string]bool{"acme/tool": true}}

	first, err := AcquireManager(ctx, client, cfg, opts...)
	require.NoError(t, err)

	// Same client identity: the existing manager comes back untouched and
	// the new configuration is ignored.
	second, err := AcquireManager(ctx, client, &config.Config{Extensions: map[string]bool{"acme/other": true}})
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Reuse without config is fine too; config is only mandatory when
	// constructing.
	third, err := AcquireManager(ctx, client, nil)
	require.NoError(t, err)
	assert.Same(t, first, third)

	// Init ran exactly once: only the first config's extension was ever
	// reconciled.
	assert.Equal(t, map[string]int{"acme/tool": 1}, factory.snapshot())
}

func TestAcquireManagerReplacesOnNewClient(t *testing.T) {
	resetSingleton(t)
	ctx := context.Background()

	rec := newRecordingTransport()
	opts := []extension.Option{
		extension.WithTransport(rec),
		extension.WithExtensionRoot(t.TempDir()),
	}

	clientA := engine.NewStatic("unix:///tmp/engine-a.sock")
	clientB := engine.NewStatic("unix:///tmp/engine-b.sock")
	cfg := &config.Config{}

	first, err := AcquireManager(ctx, clientA, cfg, opts...)
	require.NoError(t, err)

	second, err := AcquireManager(ctx, clientB, cfg, opts...)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	assert.Same(t, clientB, second.Client())

	// The old manager's channels are fully detached strictly before the
	// new manager attaches anything.
	assert.Equal(t, []string{
		"attach:" + extension.ChannelHostInfo,
		"detach:" + extension.ChannelHostInfo,
		"attach:" + extension.ChannelHostInfo,
	}, rec.recorded())

	m, ok := Manager()
	require.True(t, ok)
	assert.Same(t, second, m)
}

func TestAcquireManagerClosesManagedTransportOnSwap(t *testing.T) {
	resetSingleton(t)
	ctx := context.Background()

	trA := ipc.NewMemoryTransport()
	trB := ipc.NewMemoryTransport()
	clientA := engine.NewStatic("unix:///tmp/engine-a.sock")
	clientB := engine.NewStatic("unix:///tmp/engine-b.sock")
	cfg := &config.Config{}

	_, err := AcquireManager(ctx, clientA, cfg,
		extension.WithManagedTransport(trA), extension.WithExtensionRoot(t.TempDir()))
	require.NoError(t, err)

	_, err = AcquireManager(ctx, clientB, cfg,
		extension.WithManagedTransport(trB), extension.WithExtensionRoot(t.TempDir()))
	require.NoError(t, err)

	// The replaced manager owned its transport, so the swap closed it.
	attachErr := trA.Attach(ctx, "test/late", func(ctx context.Context, payload any) (any, error) {
		return nil, nil
	})
	require.ErrorIs(t, attachErr, ipc.ErrTransportClosed)

	// The live manager's transport is untouched.
	_, err = trB.Invoke(ctx, extension.ChannelHostInfo, nil)
	require.NoError(t, err)
}

// failingDetachTransport wraps the memory transport and fails detaches on
// demand, to exercise shutdown failure during replacement.
type failingDetachTransport struct {
	ipc.Transport
	fail bool
}

func (f *failingDetachTransport) Detach(ctx context.Context, channel string) error {
	if f.fail {
		return errors.New("transport unavailable")
	}
	return f.Transport.Detach(ctx, channel)
}

func TestAcquireManagerVacatesSingletonOnFailedShutdown(t *testing.T) {
	resetSingleton(t)
	ctx := context.Background()

	ft := &failingDetachTransport{Transport: ipc.NewMemoryTransport()}
	clientA := engine.NewStatic("unix:///tmp/engine-a.sock")
	clientB := engine.NewStatic("unix:///tmp/engine-b.sock")
	cfg := &config.Config{}

	first, err := AcquireManager(ctx, clientA, cfg,
		extension.WithTransport(ft), extension.WithExtensionRoot(t.TempDir()))
	require.NoError(t, err)

	ft.fail = true
	_, err = AcquireManager(ctx, clientB, cfg, testOptions(t)...)
	require.Error(t, err)

	// The half-detached manager is gone: no later call may reuse it.
	_, ok := Manager()
	assert.False(t, ok)

	ft.fail = false
	replacement, err := AcquireManager(ctx, clientA, cfg, testOptions(t)...)
	require.NoError(t, err)
	assert.NotSame(t, first, replacement)
}

func TestOwnedRedisTransportCloseReleasesClient(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	tr := newOwnedRedisTransport(rdb)

	require.NoError(t, tr.Close())

	// The client's pool is released along with the transport; commands on
	// it fail without touching the network.
	require.ErrorIs(t, rdb.Ping(context.Background()).Err(), redis.ErrClosed)

	// Repeated close stays a no-op.
	require.NoError(t, tr.Close())
}

func TestResetManager(t *testing.T) {
	resetSingleton(t)
	ctx := context.Background()

	client := engine.NewStatic("unix:///tmp/engine-a.sock")
	_, err := AcquireManager(ctx, client, &config.Config{}, testOptions(t)...)
	require.NoError(t, err)

	require.NoError(t, ResetManager(ctx))
	_, ok := Manager()
	assert.False(t, ok)

	// Resetting with no singleton is a no-op.
	require.NoError(t, ResetManager(ctx))
}
