// Package proctl owns the tracee pid and its breakpoint table. It
// implements continue-with-transparent-step-over, register dump/read/
// write, breakpoint insertion and removal, signal-wait, and
// trace-option installation.
package proctl

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"github.com/derekparker/dbg/internal/breakpoint"
	"github.com/derekparker/dbg/internal/dbgerr"
	"github.com/derekparker/dbg/internal/regs"
	"github.com/derekparker/dbg/internal/symbols"
)

// TraceeController owns the pid and breakpoint table for the REPL's
// lifetime.
type TraceeController struct {
	Pid         int
	Breakpoints map[uintptr]*breakpoint.Breakpoint
	Symbols     *symbols.Handle

	log *logrus.Entry
}

// New constructs a controller for an already-stopped tracee. The
// caller is responsible for having waited on the initial stop before
// calling New.
func New(pid int) *TraceeController {
	return &TraceeController{
		Pid:         pid,
		Breakpoints: make(map[uintptr]*breakpoint.Breakpoint),
		log:         logrus.WithField("pid", pid),
	}
}

// SetOptions installs PTRACE_O_EXITKILL so tracee termination is
// coupled to the debugger's termination.
func (t *TraceeController) SetOptions() error {
	if err := syscall.PtraceSetOptions(t.Pid, syscall.PTRACE_O_EXITKILL); err != nil {
		return fmt.Errorf("PTRACE_SETOPTIONS: %w", err)
	}
	return nil
}

// WaitForSignal blocks until the tracee next stops, discarding the
// status word. Every resumption of the tracee must be immediately
// followed by exactly one call to this before the REPL reads again, to
// preserve the invariant that the tracee is stopped whenever the REPL
// is reading a line.
func (t *TraceeController) WaitForSignal() error {
	var status syscall.WaitStatus
	_, err := syscall.Wait4(t.Pid, &status, 0, nil)
	if err != nil {
		return fmt.Errorf("wait4: %w", err)
	}
	return nil
}

// Continue executes step-over-if-at-breakpoint, then resumes the
// tracee, then waits for the next stop.
func (t *TraceeController) Continue() error {
	if err := t.stepOverBreakpointIfNeeded(); err != nil {
		return err
	}

	if err := syscall.PtraceCont(t.Pid, 0); err != nil {
		return fmt.Errorf("PTRACE_CONT: %w", err)
	}

	return t.WaitForSignal()
}

// stepOverBreakpointIfNeeded checks whether rip is one past a live
// breakpoint; if so it rewinds rip, disables the breakpoint, single-
// steps, and restores it, so that resuming never re-traps immediately
// on a live INT3.
func (t *TraceeController) stepOverBreakpointIfNeeded() error {
	rip, err := regs.Get(t.Pid, regs.Rip)
	if err != nil {
		// State is now uncertain; log and proceed to resume anyway
		// rather than blocking the operator on a diagnostic read.
		t.log.WithError(err).Warn("could not read rip before continue; state uncertain")
		return nil
	}

	probe := uintptr(rip - 1)
	bp, ok := t.Breakpoints[probe]
	if !ok || !bp.Enabled {
		return nil
	}

	if err := regs.Set(t.Pid, regs.Rip, uint64(probe)); err != nil {
		return err
	}

	if err := breakpoint.Disable(bp); err != nil {
		return err
	}

	if err := syscall.PtraceSingleStep(t.Pid); err != nil {
		return fmt.Errorf("PTRACE_SINGLESTEP: %w", err)
	}
	if err := t.WaitForSignal(); err != nil {
		return err
	}

	return breakpoint.Enable(bp)
}

// SetBreakpoint parses addressStr as a "0x"-prefixed hex integer,
// rejects an already-present address, and installs a breakpoint there.
// The record is inserted regardless of the enable outcome: a failed
// enable leaves a disabled record whose memory was untouched, so the
// operator can retry without re-parsing the address.
func (t *TraceeController) SetBreakpoint(addressStr string) error {
	address, err := parseHexAddress(addressStr)
	if err != nil {
		return err
	}

	if _, exists := t.Breakpoints[address]; exists {
		return fmt.Errorf("breakpoint already active at %#016x", address)
	}

	// Disassemble before patching in the trap: once Enable runs, the
	// byte at address is 0xCC and would always decode as int3 instead
	// of the instruction actually being trapped.
	insn, disasmErr := t.Disassemble(address)

	bp := &breakpoint.Breakpoint{Pid: t.Pid, Address: address}
	enableErr := breakpoint.Enable(bp)
	t.Breakpoints[address] = bp

	if enableErr != nil {
		return enableErr
	}

	if name, ok := t.funcNameAt(address); ok {
		t.log.Infof("breakpoint set at %#016x (%s)", address, name)
	}
	if disasmErr == nil {
		t.log.Infof("trapped instruction: %s", insn)
	}

	return nil
}

// ClearBreakpoint removes a breakpoint record entirely, disabling it
// first if it is currently installed. Distinct from a disabled record
// left in the table: after ClearBreakpoint the address is no longer
// tracked at all.
func (t *TraceeController) ClearBreakpoint(addressStr string) error {
	address, err := parseHexAddress(addressStr)
	if err != nil {
		return err
	}

	bp, exists := t.Breakpoints[address]
	if !exists {
		return fmt.Errorf("no breakpoint set at %#016x", address)
	}

	if err := breakpoint.Disable(bp); err != nil {
		return err
	}

	delete(t.Breakpoints, address)
	return nil
}

func parseHexAddress(s string) (uintptr, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, dbgerr.New(dbgerr.AddrMalformed, s,
			fmt.Errorf("HEX argument to command should start with 0x."))
	}

	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, dbgerr.New(dbgerr.AddrMalformed, s, err)
	}

	return uintptr(v), nil
}

// ReadRegister reads the named register's current value.
func (t *TraceeController) ReadRegister(name string) (uint64, error) {
	r, err := regs.FromName(name)
	if err != nil {
		return 0, err
	}
	return regs.Get(t.Pid, r)
}

// WriteRegister writes value into the named register.
func (t *TraceeController) WriteRegister(name string, value uint64) error {
	r, err := regs.FromName(name)
	if err != nil {
		return err
	}
	return regs.Set(t.Pid, r, value)
}

// DumpRegisters prints all 27 register fields to w.
func (t *TraceeController) DumpRegisters(w io.Writer) error {
	return regs.Dump(t.Pid, w)
}

// InitDebugSymbols loads DWARF debug information from path. The
// controller continues to function (breakpoints, registers) even when
// this fails; the error is returned so the REPL can report it, but it
// is never fatal.
func (t *TraceeController) InitDebugSymbols(path string) error {
	handle, err := symbols.Load(path)
	if err != nil {
		t.Symbols = nil
		return err
	}
	t.Symbols = handle
	return nil
}

// Close releases the debug-symbol handle, if any.
func (t *TraceeController) Close() error {
	if t.Symbols == nil {
		return nil
	}
	return t.Symbols.Close()
}

func (t *TraceeController) funcNameAt(address uintptr) (string, bool) {
	if t.Symbols == nil {
		return "", false
	}
	return t.Symbols.FuncForPC(uint64(address))
}

// Disassemble decodes the single instruction at address for operator
// display when a breakpoint is set. It never mutates breakpoint or
// register state.
func (t *TraceeController) Disassemble(address uintptr) (string, error) {
	var buf [16]byte
	n, err := syscall.PtracePeekText(t.Pid, address, buf[:])
	if err != nil {
		return "", fmt.Errorf("PTRACE_PEEKTEXT: %w", err)
	}

	inst, err := x86asm.Decode(buf[:n], 64)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	return x86asm.GNUSyntax(inst, uint64(address), nil), nil
}
