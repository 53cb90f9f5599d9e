package breakpoint

import "testing"

func TestLeRoundTrip(t *testing.T) {
	var buf [8]byte
	want := uint64(0x1122334455667788)
	putLe64(buf[:], want)
	got := le64(buf[:])
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestEnableDisableAreNoOps(t *testing.T) {
	// Enable/Disable on an already-settled record must not touch the
	// tracee at all, so they must short-circuit before any syscall —
	// exercised here with an invalid pid that would fail any real
	// peek/poke, proving the no-op path never reaches the syscall.
	bp := &Breakpoint{Pid: -1, Address: 0x400000, Enabled: false}
	if err := Disable(bp); err != nil {
		t.Fatalf("Disable on not-yet-enabled bp should no-op, got %v", err)
	}

	bp.Enabled = true
	bp.SavedData = 0x90
	if err := Enable(bp); err != nil {
		t.Fatalf("Enable on already-enabled bp should no-op, got %v", err)
	}
	if bp.SavedData != 0x90 {
		t.Fatalf("Enable no-op must not touch SavedData, got %#x", bp.SavedData)
	}
}
