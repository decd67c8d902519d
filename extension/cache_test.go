package extension

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/quayside/engine"
)

// fakeHandle is a scriptable Handle for manager and cache tests.
type fakeHandle struct {
	id           string
	mu           sync.Mutex
	installs     int
	uninstalls   int
	installErr   error
	uninstallErr error
	meta         Descriptor
	metaErr      error
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Install(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	return f.installErr
}

func (f *fakeHandle) Uninstall(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls++
	return f.uninstallErr
}

func (f *fakeHandle) Metadata(ctx context.Context) (Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta, f.metaErr
}

func (f *fakeHandle) counts() (installs, uninstalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs, f.uninstalls
}

// fakeFactory builds fakeHandles and remembers them by id.
type fakeFactory struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	errs    map[string]error // id -> install error to script
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		handles: make(map[string]*fakeHandle),
		errs:    make(map[string]error),
	}
}

func (f *fakeFactory) new(id string, client *engine.Client) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{id: id, installErr: f.errs[id]}
	f.handles[id] = h
	return h
}

func (f *fakeFactory) handle(id string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[id]
}

func TestCacheGetMemoizes(t *testing.T) {
	client := engine.NewStatic("unix:///tmp/engine.sock")
	c := newCache(client, newFakeFactory().new)

	first := c.Get("acme/tool")
	second := c.Get("acme/tool")
	require.NotNil(t, first)
	assert.Same(t, first, second)

	other := c.Get("acme/other")
	assert.NotSame(t, first, other)
}

func TestCacheKnownSnapshot(t *testing.T) {
	client := engine.NewStatic("unix:///tmp/engine.sock")
	c := newCache(client, newFakeFactory().new)

	assert.Empty(t, c.Known())

	c.Get("a")
	c.Get("b")
	c.Get("a")
	assert.Len(t, c.Known(), 2)
}
