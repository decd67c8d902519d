package host

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	info := Current()

	assert.Equal(t, runtime.GOOS, info.Platform)
	assert.NotEmpty(t, info.Arch)
	assert.NotEmpty(t, info.Hostname)
}
