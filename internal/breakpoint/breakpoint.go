// Package breakpoint implements software breakpoints by patching a
// single byte of the tracee's text segment with the INT3 opcode. All
// peek/poke is word-granularity, per the trace facility's interface;
// the byte mask preserves the other bytes of the instruction stream.
package breakpoint

import (
	"syscall"

	"github.com/derekparker/dbg/internal/dbgerr"
)

const int3 = 0xCC

// Breakpoint is the four-field record from the data model: the tracee
// owning it, the target address, whether INT3 is currently installed,
// and the byte it displaced (meaningful only once Enabled has been
// true).
type Breakpoint struct {
	Pid       int
	Address   uintptr
	Enabled   bool
	SavedData byte
}

// peekWord reads one machine word at addr. PTRACE_PEEKTEXT overloads
// its return value (-1 is also a legitimate word value, distinguishable
// only by errno), but syscall.PtracePeekText copies the word into a
// buffer and returns a Go error derived from errno, so no errno
// clearing is done here; the error is forwarded through dbgerr.
func peekWord(pid int, addr uintptr) (uint64, error) {
	var buf [8]byte
	n, err := syscall.PtracePeekText(pid, addr, buf[:])
	if err != nil {
		return 0, dbgerr.New(dbgerr.BpPeek, "PTRACE_PEEKTEXT", err)
	}
	if n != len(buf) {
		return 0, dbgerr.New(dbgerr.BpPeek, "PTRACE_PEEKTEXT", syscall.EIO)
	}
	return le64(buf[:]), nil
}

func pokeWord(pid int, addr uintptr, word uint64) error {
	var buf [8]byte
	putLe64(buf[:], word)
	n, err := syscall.PtracePokeText(pid, addr, buf[:])
	if err != nil {
		return dbgerr.New(dbgerr.BpPoke, "PTRACE_POKETEXT", err)
	}
	if n != len(buf) {
		return dbgerr.New(dbgerr.BpPoke, "PTRACE_POKETEXT", syscall.EIO)
	}
	return nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLe64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Enable installs the INT3 opcode at bp.Address, saving the displaced
// byte. A no-op when bp is already enabled, which guards the sharp
// edge where a second Enable would overwrite SavedData with 0xCC.
func Enable(bp *Breakpoint) error {
	if bp.Enabled {
		return nil
	}

	word, err := peekWord(bp.Pid, bp.Address)
	if err != nil {
		return err
	}

	trapped := (word &^ 0xFF) | int3
	if err := pokeWord(bp.Pid, bp.Address, trapped); err != nil {
		// Leave SavedData untouched so no stale byte can be installed
		// by a later Disable.
		return err
	}

	bp.SavedData = byte(word & 0xFF)
	bp.Enabled = true
	return nil
}

// Disable removes the INT3 opcode, restoring the saved byte. A no-op
// when bp is already disabled.
func Disable(bp *Breakpoint) error {
	if !bp.Enabled {
		return nil
	}

	word, err := peekWord(bp.Pid, bp.Address)
	if err != nil {
		return err
	}

	restored := (word &^ 0xFF) | uint64(bp.SavedData)
	if err := pokeWord(bp.Pid, bp.Address, restored); err != nil {
		return err
	}

	bp.Enabled = false
	return nil
}
