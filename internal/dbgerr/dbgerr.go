// Package dbgerr implements the debugger's error taxonomy: kinds, not
// types. Every failure a command handler can produce is tagged with a
// Kind so the REPL can render it in the two forms the operator sees:
// the syscall form ("<op> failure / Error code / Error message") and
// the free-form sentence for logical failures.
package dbgerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind tags a failure so callers can branch on category without string
// matching. The zero value is never used; every Error carries one of
// the named kinds below.
type Kind int

const (
	_ Kind = iota
	BpPeek
	BpPoke
	RegGetRegs
	RegSetRegs
	RegUnknownDwarf
	RegUnknownName
	AddrMalformed
	DebugLoad
)

func (k Kind) String() string {
	switch k {
	case BpPeek:
		return "BpFail::Peek"
	case BpPoke:
		return "BpFail::Poke"
	case RegGetRegs:
		return "RegFail::GetRegs"
	case RegSetRegs:
		return "RegFail::SetRegs"
	case RegUnknownDwarf:
		return "RegFail::UnknownDwarf"
	case RegUnknownName:
		return "RegFail::UnknownName"
	case AddrMalformed:
		return "AddrFail::Malformed"
	case DebugLoad:
		return "DebugFail::Load"
	default:
		return "unknown"
	}
}

// syscallOriginated reports whether a Kind results from a failed
// ptrace/kernel call, which carries an errno and therefore prints in
// the "<op> failure" form rather than a free-form sentence.
func (k Kind) syscallOriginated() bool {
	switch k {
	case BpPeek, BpPoke, RegGetRegs, RegSetRegs:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with a Kind and the operation name
// the operator should see ("PTRACE_PEEKTEXT", "PTRACE_GETREGS", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Disposition renders the user-visible failure form required by the
// error handling design: the two-line syscall form for kernel-call
// failures, a single free-form sentence otherwise.
func (e *Error) Disposition() string {
	if e.Kind.syscallOriginated() {
		return fmt.Sprintf(
			"%s failure\n\tError code: %s\n\tError message: %s",
			e.Op, errnoName(e.Err), e.Err,
		)
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	switch e.Kind {
	case RegUnknownName:
		return fmt.Sprintf("unknown register name: %s", e.Op)
	case RegUnknownDwarf:
		return fmt.Sprintf("unknown DWARF register number: %s", e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

// errnoNames covers the errno values ptrace/wait4 can plausibly return;
// errno(3) documents these as the error codes the trace facility
// surfaces for the operations this debugger performs.
var errnoNames = map[syscall.Errno]string{
	syscall.ESRCH:  "ESRCH",
	syscall.EIO:    "EIO",
	syscall.EPERM:  "EPERM",
	syscall.EFAULT: "EFAULT",
	syscall.EINVAL: "EINVAL",
	syscall.EBUSY:  "EBUSY",
}

func errnoName(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
		return errno.Error()
	}
	return "unknown"
}

// As reports whether err (or something it wraps) is a *Error with the
// given Kind.
func As(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
