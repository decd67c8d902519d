//go:build darwin

package host

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// hardwareArch unmasks Rosetta 2 translation: an amd64 process with the
// sysctl.proc_translated flag set is actually running on arm64 hardware.
func hardwareArch() string {
	if runtime.GOARCH == "amd64" {
		if v, err := unix.SysctlUint32("sysctl.proc_translated"); err == nil && v == 1 {
			return "arm64"
		}
	}
	return runtime.GOARCH
}
