// Package extension implements the extension lifecycle surface: the handle
// cache, the manager that reconciles desired install state over one engine
// client, and the channels extensions are served on.
package extension

import (
	"context"
	"strings"

	"github.com/quayside/quayside/engine"
)

// ChannelHostInfo is the invoke channel serving host machine snapshots.
// The name is part of the IPC contract with extensions.
const ChannelHostInfo = "extension/host-info"

// Descriptor is the metadata surface of one installed extension.
type Descriptor struct {
	Title   string `json:"title"`
	Version string `json:"version,omitempty"`
	Image   string `json:"image"`
	Vendor  string `json:"vendor,omitempty"`
}

// Handle represents one extension's install/uninstall/metadata operations.
// Handles are owned by the manager's cache: one per identifier, created on
// first reference and never recreated while the owning manager is alive.
// Install and uninstall may be called repeatedly on the same handle; only
// the installed state changes.
type Handle interface {
	// ID returns the extension identifier, typically a registry image
	// reference.
	ID() string

	// Install materializes the extension on this machine.
	Install(ctx context.Context) error

	// Uninstall removes the extension from this machine.
	Uninstall(ctx context.Context) error

	// Metadata resolves the extension's descriptor.
	Metadata(ctx context.Context) (Descriptor, error)
}

// HandleFactory constructs the Handle for an identifier, bound to the
// owning manager's engine client.
type HandleFactory func(id string, client *engine.Client) Handle

// Installed pairs an extension identifier with its resolved metadata.
type Installed struct {
	ID       string     `json:"id"`
	Metadata Descriptor `json:"metadata"`
}

// dirNameReplacer maps image-reference separators to filesystem-safe
// characters.
var dirNameReplacer = strings.NewReplacer("/", "_", ":", "_")

// DirName returns the directory-safe encoding of an extension identifier,
// used as the extension's directory name under the extension root.
func DirName(id string) string {
	return dirNameReplacer.Replace(id)
}
