//go:build !darwin

package host

import "runtime"

// hardwareArch reports the compiled architecture; no translation layer to
// unmask on this platform.
func hardwareArch() string {
	return runtime.GOARCH
}
