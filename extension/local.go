package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quayside/quayside/engine"
)

// descriptorFile is the per-extension metadata file inside its directory.
const descriptorFile = "metadata.json"

// localHandle is the default Handle implementation: installed state is
// materialized as a directory under the extension root holding the
// descriptor file. Presence of that directory is the sole on-disk signal
// of "installed".
type localHandle struct {
	id     string
	client *engine.Client
	root   string
}

// localHandleFactory builds the default HandleFactory rooted at dir.
func localHandleFactory(root string) HandleFactory {
	return func(id string, client *engine.Client) Handle {
		return &localHandle{id: id, client: client, root: root}
	}
}

func (h *localHandle) ID() string {
	return h.id
}

// dir is the extension's directory under the root.
func (h *localHandle) dir() string {
	return filepath.Join(h.root, DirName(h.id))
}

// Install materializes the extension directory and its descriptor.
// Installing an already-installed extension rewrites the descriptor.
func (h *localHandle) Install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(h.dir(), 0o755); err != nil {
		return fmt.Errorf("extension: failed to create directory for %s: %w", h.id, err)
	}

	data, err := json.MarshalIndent(h.descriptor(), "", "  ")
	if err != nil {
		return fmt.Errorf("extension: failed to encode descriptor for %s: %w", h.id, err)
	}
	if err := os.WriteFile(filepath.Join(h.dir(), descriptorFile), data, 0o644); err != nil {
		return fmt.Errorf("extension: failed to write descriptor for %s: %w", h.id, err)
	}
	return nil
}

// Uninstall removes the extension directory. Uninstalling an extension that
// is not installed is a no-op.
func (h *localHandle) Uninstall(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(h.dir()); err != nil {
		return fmt.Errorf("extension: failed to remove %s: %w", h.id, err)
	}
	return nil
}

// Metadata reads the descriptor back from disk.
func (h *localHandle) Metadata(ctx context.Context) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	data, err := os.ReadFile(filepath.Join(h.dir(), descriptorFile))
	if err != nil {
		return Descriptor{}, fmt.Errorf("extension: failed to read descriptor for %s: %w", h.id, err)
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("extension: malformed descriptor for %s: %w", h.id, err)
	}
	return desc, nil
}

// descriptor derives the initial descriptor from the identifier.
func (h *localHandle) descriptor() Descriptor {
	return Descriptor{
		Title: titleFrom(h.id),
		Image: h.id,
	}
}

// titleFrom derives a display title from an image reference:
// "acme/disk-usage:1.2" yields "disk-usage".
func titleFrom(id string) string {
	name := id
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

// Ensure localHandle implements the Handle interface.
var _ Handle = (*localHandle)(nil)
