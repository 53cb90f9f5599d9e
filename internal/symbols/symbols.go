// Package symbols loads the DWARF debug-symbol handle from a tracee's
// executable image. The core does not otherwise interpret the DWARF
// data; the handle's only consumer today is an optional PC-to-function
// lookup used to annotate breakpoints.
//
// The loader itself is stdlib (debug/elf + debug/dwarf); the
// function-from-PC cache in front of it is
// github.com/hashicorp/golang-lru/v2.
package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/derekparker/dbg/internal/dbgerr"
)

const funcCacheSize = 256

// Handle is the opaque debug-symbol handle held for the REPL's
// lifetime and released on exit.
type Handle struct {
	path    string
	file    *elf.File
	data    *dwarf.Data
	funcPCs *lru.Cache[uint64, string]
}

// Load invokes the DWARF loader on path. On success it records the
// resolved filesystem path and logs it; on any failure (file not ELF,
// no DWARF section, malformed data) it releases any half-initialized
// state and returns DebugFail::Load. The REPL continues even on
// failure — symbols are not required for breakpoint/register
// operations.
func Load(path string) (*Handle, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, dbgerr.New(dbgerr.DebugLoad, path, err)
	}

	data, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, dbgerr.New(dbgerr.DebugLoad, path, err)
	}

	cache, err := lru.New[uint64, string](funcCacheSize)
	if err != nil {
		f.Close()
		return nil, dbgerr.New(dbgerr.DebugLoad, path, err)
	}

	logrus.WithField("path", path).Info("loaded debug symbols")

	return &Handle{path: path, file: f, data: data, funcPCs: cache}, nil
}

// Close releases the underlying executable image.
func (h *Handle) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	return h.file.Close()
}

// Path returns the resolved filesystem path the handle was loaded
// from.
func (h *Handle) Path() string {
	return h.path
}

// FuncForPC resolves the name of the function covering pc, memoizing
// the result. It is exercised only by the breakpoint disassembly
// annotation; breakpoint and register correctness never depend on it.
func (h *Handle) FuncForPC(pc uint64) (string, bool) {
	if h == nil || h.data == nil {
		return "", false
	}

	if name, ok := h.funcPCs.Get(pc); ok {
		return name, name != ""
	}

	name, ok := h.lookupFuncForPC(pc)
	h.funcPCs.Add(pc, name)
	return name, ok
}

// PCForFunc resolves the entry address of the named function, for
// operators or tests that want to set a breakpoint by symbol rather
// than by raw hex address.
func (h *Handle) PCForFunc(name string) (uint64, bool) {
	if h == nil || h.data == nil {
		return 0, false
	}

	reader := h.data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			return 0, false
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		n, ok := entry.Val(dwarf.AttrName).(string)
		if !ok || n != name {
			continue
		}
		low, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			return 0, false
		}
		return low, true
	}
}

func (h *Handle) lookupFuncForPC(pc uint64) (string, bool) {
	reader := h.data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			return "", false
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		low, lowOk := entry.Val(dwarf.AttrLowpc).(uint64)
		high, highOk := highpc(entry, low)
		if !lowOk || !highOk || pc < low || pc >= high {
			continue
		}

		name, ok := entry.Val(dwarf.AttrName).(string)
		if !ok {
			return "", false
		}
		return name, true
	}
}

func highpc(entry *dwarf.Entry, low uint64) (uint64, bool) {
	v := entry.Val(dwarf.AttrHighpc)
	switch hv := v.(type) {
	case uint64:
		// DWARF4+ may encode highpc as an offset from lowpc.
		if hv < low {
			return low + hv, true
		}
		return hv, true
	case int64:
		return low + uint64(hv), true
	default:
		return 0, false
	}
}

// String renders a concise identity for logging.
func (h *Handle) String() string {
	if h == nil {
		return "<nil debug symbols>"
	}
	return fmt.Sprintf("debug symbols: %s", h.path)
}
