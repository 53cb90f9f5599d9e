package proctl_test

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekparker/dbg/internal/proctl"
)

var fixturePath string

// TestMain builds the fixture tracee once per test run, with
// optimizations and inlining disabled so sleepytime keeps its own
// frame and DWARF entry.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "dbg-proctl-test")
	if err != nil {
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	fixturePath = filepath.Join(dir, "fixture")
	build := exec.Command("go", "build", "-gcflags=all=-N -l", "-o", fixturePath, "./testdata/fixture.go")
	build.Stdout = os.Stderr
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// withTracee launches the fixture under ptrace, waits for the initial
// exec-stop, and hands the caller a ready TraceeController.
func withTracee(t *testing.T, fn func(tr *proctl.TraceeController)) {
	t.Helper()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(fixturePath)
	cmd.Stdout = &bytes.Buffer{}
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	require.NoError(t, cmd.Start())

	tr := proctl.New(cmd.Process.Pid)
	require.NoError(t, tr.WaitForSignal())
	require.NoError(t, tr.SetOptions())

	require.NoError(t, tr.InitDebugSymbols(fixturePath))
	defer tr.Close()

	fn(tr)
}

func TestAttachStopsAtInitialExec(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		_, err := tr.ReadRegister("rip")
		require.NoError(t, err)
	})
}

func TestContinueRunsToCompletion(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		err := tr.Continue()
		// The tracee runs to exit; Wait4 then reports the exit status,
		// which WaitForSignal does not treat as an error. Any error
		// that does come back is only logged.
		if err != nil {
			t.Logf("continue to exit: %v", err)
		}
	})
}

func TestSetBreakpointPatchesInt3AndSavesOriginalByte(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		addr, ok := tr.Symbols.PCForFunc("main.sleepytime")
		require.True(t, ok, "fixture must export main.sleepytime in DWARF")

		var orig [1]byte
		_, err := syscall.PtracePeekText(tr.Pid, uintptrOf(addr), orig[:])
		require.NoError(t, err)

		err = tr.SetBreakpoint(hexOf(addr))
		require.NoError(t, err)

		bp, ok := tr.Breakpoints[uintptrOf(addr)]
		require.True(t, ok)
		assert.True(t, bp.Enabled)
		assert.Equal(t, orig[0], bp.SavedData)

		var buf [1]byte
		_, err = syscall.PtracePeekText(tr.Pid, uintptrOf(addr), buf[:])
		require.NoError(t, err)
		assert.Equal(t, byte(0xCC), buf[0])
	})
}

func TestSetBreakpointDuplicateIsRejected(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		addr, ok := tr.Symbols.PCForFunc("main.sleepytime")
		require.True(t, ok)

		require.NoError(t, tr.SetBreakpoint(hexOf(addr)))
		err := tr.SetBreakpoint(hexOf(addr))
		require.Error(t, err)
	})
}

func TestClearBreakpointRestoresOriginalByte(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		addr, ok := tr.Symbols.PCForFunc("main.sleepytime")
		require.True(t, ok)

		require.NoError(t, tr.SetBreakpoint(hexOf(addr)))
		saved := tr.Breakpoints[uintptrOf(addr)].SavedData

		require.NoError(t, tr.ClearBreakpoint(hexOf(addr)))
		_, stillThere := tr.Breakpoints[uintptrOf(addr)]
		assert.False(t, stillThere)

		var buf [1]byte
		_, err := syscall.PtracePeekText(tr.Pid, uintptrOf(addr), buf[:])
		require.NoError(t, err)
		assert.Equal(t, saved, buf[0])
	})
}

func TestContinueStopsAtLiveBreakpointAndStepsOverOnNextContinue(t *testing.T) {
	withTracee(t, func(tr *proctl.TraceeController) {
		addr, ok := tr.Symbols.PCForFunc("main.sleepytime")
		require.True(t, ok)
		require.NoError(t, tr.SetBreakpoint(hexOf(addr)))

		require.NoError(t, tr.Continue())

		rip, err := tr.ReadRegister("rip")
		require.NoError(t, err)
		assert.Equal(t, addr+1, rip, "rip should be one past the INT3 trap")

		// A second continue must transparently step over the live
		// breakpoint rather than re-trapping immediately.
		err = tr.Continue()
		if err != nil {
			t.Logf("continue to exit: %v", err)
		}
	})
}

func hexOf(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}

func uintptrOf(addr uint64) uintptr {
	return uintptr(addr)
}
