package regs

import (
	"regexp"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allRegisters() []Register {
	regs := make([]Register, len(table))
	for i, d := range table {
		regs[i] = d.reg
	}
	return regs
}

func TestNameOfIsInjective(t *testing.T) {
	seen := make(map[string]Register)
	for _, r := range allRegisters() {
		name := NameOf(r)
		if other, ok := seen[name]; ok {
			t.Fatalf("name %q reused by %d and %d", name, other, r)
		}
		seen[name] = r
	}
}

func TestFromNameRoundTrips(t *testing.T) {
	for _, r := range allRegisters() {
		got, err := FromName(NameOf(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestFromNameUnknown(t *testing.T) {
	_, err := FromName("not-a-register")
	require.Error(t, err)
}

func TestGetByDwarfMatchesGet(t *testing.T) {
	for _, d := range table {
		if d.dwarf == -1 {
			continue
		}
		r, ok := byDwarf[d.dwarf]
		require.True(t, ok)
		assert.Equal(t, d.reg, r)
	}
}

func TestGetByDwarfUnknownNumber(t *testing.T) {
	_, err := GetByDwarf(0, 9999)
	require.Error(t, err)
}

func TestDumpFormat(t *testing.T) {
	var regsVal syscall.PtraceRegs
	out := format(&regsVal)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, len(table))

	line := regexp.MustCompile(`^[a-z_]+:\s+0x[0-9a-f]{16}$`)
	for i, l := range lines {
		assert.Regexp(t, line, l)
		assert.True(t, strings.HasPrefix(l, table[i].name+":"))
	}
}

func TestProjectSetFieldRoundTrip(t *testing.T) {
	for _, r := range allRegisters() {
		var regsVal syscall.PtraceRegs
		setField(&regsVal, r, 0x1122334455667788)
		got := project(&regsVal, r)
		assert.Equal(t, canonicalize(r, 0x1122334455667788), canonicalize(r, got))
	}
}
