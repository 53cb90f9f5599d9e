package dbgerr_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/derekparker/dbg/internal/dbgerr"
)

func TestDispositionSyscallForm(t *testing.T) {
	err := dbgerr.New(dbgerr.BpPeek, "PTRACE_PEEKTEXT", syscall.ESRCH)
	got := err.Disposition()

	assert.Contains(t, got, "PTRACE_PEEKTEXT failure")
	assert.Contains(t, got, "Error code:")
	assert.Contains(t, got, "Error message:")
}

func TestDispositionMalformedAddress(t *testing.T) {
	err := dbgerr.New(
		dbgerr.AddrMalformed,
		"40x",
		errors.New("HEX argument to command should start with 0x."),
	)

	assert.Equal(t, "HEX argument to command should start with 0x.", err.Disposition())
}

func TestDispositionUnknownRegisterName(t *testing.T) {
	err := dbgerr.New(dbgerr.RegUnknownName, "rax2", nil)
	assert.Equal(t, "unknown register name: rax2", err.Disposition())
}

func TestAsMatchesKind(t *testing.T) {
	err := dbgerr.New(dbgerr.RegGetRegs, "PTRACE_GETREGS", syscall.ESRCH)
	assert.True(t, dbgerr.As(err, dbgerr.RegGetRegs))
	assert.False(t, dbgerr.As(err, dbgerr.RegSetRegs))
}

func TestUnwrap(t *testing.T) {
	cause := syscall.ESRCH
	err := dbgerr.New(dbgerr.BpPoke, "PTRACE_POKETEXT", cause)
	assert.ErrorIs(t, err, cause)
}
