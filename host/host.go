// Package host reports a snapshot of the machine the application runs on,
// served to extensions over the host-info invoke channel.
package host

import (
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
)

// Info describes the current machine.
type Info struct {
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}

// Current returns a snapshot of the current machine. Arch reports the
// hardware architecture: a process running under binary translation
// (e.g. Rosetta 2) reports the native arch, not the emulated one.
func Current() Info {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve hostname")
		hostname = "unknown"
	}
	return Info{
		Platform: runtime.GOOS,
		Arch:     hardwareArch(),
		Hostname: hostname,
	}
}
