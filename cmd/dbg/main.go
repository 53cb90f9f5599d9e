// Command dbg is an interactive Linux/x86-64 ptrace debugger. It
// launches a target executable, pauses it at the initial stop, and
// hands control to the REPL dispatcher.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/derekparker/dbg/internal/proctl"
	"github.com/derekparker/dbg/internal/repl"
)

const historyFile = ".dbg_history"

var elfMagic = [4]byte{0x7F, 'E', 'L', 'F'}

func main() {
	// ptrace(2) requires every call after the initial PTRACE_TRACEME
	// to come from the same OS thread that attached.
	runtime.LockOSThread()

	root := &cobra.Command{
		Use:           "dbg <path>",
		Short:         "An interactive Linux/x86-64 ptrace debugger",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	if err := validateExecutable(path); err != nil {
		return err
	}

	tracee, err := launchTracee(path)
	if err != nil {
		return fmt.Errorf("could not launch tracee: %w", err)
	}

	t := proctl.New(tracee.Process.Pid)
	if err := t.WaitForSignal(); err != nil {
		return fmt.Errorf("waiting for initial stop: %w", err)
	}
	if err := t.SetOptions(); err != nil {
		return err
	}

	if err := t.InitDebugSymbols(path); err != nil {
		logrus.WithError(err).Warn("continuing without debug symbols")
	} else {
		logrus.WithField("path", t.Symbols.Path()).Info("resolved debug symbols")
	}
	defer t.Close()

	r, err := repl.New(t, historyFile)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Run()
}

// validateExecutable enforces the precondition on the input path: an
// existing regular file at least 4 bytes long whose first 4 bytes are
// the ELF magic number.
func validateExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	if info.Size() < 4 {
		return fmt.Errorf("%s: too small to be an ELF executable", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if magic != elfMagic {
		return fmt.Errorf("%s: not an ELF executable", path)
	}

	return nil
}

// launchTracee forks and execs the target with SysProcAttr.Ptrace set,
// which has the kernel deliver PTRACE_TRACEME semantics and stop the
// child on the exec trap — visible to the core as the initial wait.
// ASLR is disabled for the duration of the fork via the parent's own
// personality word.
func launchTracee(path string) (*exec.Cmd, error) {
	restore, err := disableASLR()
	if err != nil {
		return nil, fmt.Errorf("personality: %w", err)
	}
	defer restore()

	cmd := exec.Command(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return cmd, nil
}

// disableASLR sets ADDR_NO_RANDOMIZE on the calling process's
// personality and returns a function that restores the previous
// value. personality(2) is not reset by execve(2), which is what lets
// the parent set it on itself right before forking the tracee: the
// fork copies the modified personality word, the tracee's own exec
// keeps it, and the parent restores its original personality
// immediately afterward.
func disableASLR() (restore func(), err error) {
	original, err := unix.Personality(0xffffffff)
	if err != nil {
		return nil, err
	}

	if _, err := unix.Personality(uint64(original) | unix.ADDR_NO_RANDOMIZE); err != nil {
		return nil, err
	}

	return func() {
		unix.Personality(uint64(original))
	}, nil
}
