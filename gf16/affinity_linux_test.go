//go:build linux
// +build linux

package gf16

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPinThreadRejectsUnknownCPU(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	// outside the CPU set the mask is empty and the kernel refuses it
	require.Error(t, pinThread(1<<20))
}
