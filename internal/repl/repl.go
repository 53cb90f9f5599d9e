// Package repl implements the command dispatcher: reads a line, splits
// it, matches a prefix against the command vocabulary, validates
// argument arity, and invokes the tracee controller.
//
// Prefix dispatch runs over a github.com/derekparker/trie index of the
// command vocabulary rather than a fixed if-else chain, so an
// ambiguous prefix is reported with every matching candidate instead
// of silently resolving to whichever branch happens to come first.
package repl

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/derekparker/trie"
	"github.com/fatih/color"

	"github.com/derekparker/dbg/internal/dbgerr"
	"github.com/derekparker/dbg/internal/proctl"
	"github.com/derekparker/dbg/internal/util"
)

const prompt = "dbg> "

// command is a REPL verb: how many arguments it takes and what to do
// with them.
type command struct {
	name  string
	arity int // -1 means "no fixed arity, handler validates itself"
	run   func(t *proctl.TraceeController, out io.Writer, args []string) error
}

var commands = buildCommands()

func buildCommands() map[string]command {
	cmds := map[string]command{
		"continue": {
			name:  "continue",
			arity: 0,
			run: func(t *proctl.TraceeController, out io.Writer, args []string) error {
				return t.Continue()
			},
		},
		"break": {
			name:  "break",
			arity: 1,
			run: func(t *proctl.TraceeController, out io.Writer, args []string) error {
				return t.SetBreakpoint(args[0])
			},
		},
		"delete": {
			name:  "delete",
			arity: 1,
			run: func(t *proctl.TraceeController, out io.Writer, args []string) error {
				return t.ClearBreakpoint(args[0])
			},
		},
		"register": {
			name:  "register",
			arity: -1,
			run:   runRegister,
		},
		"quit": {
			name:  "quit",
			arity: 0,
			run: func(t *proctl.TraceeController, out io.Writer, args []string) error {
				return errQuit
			},
		},
	}
	return cmds
}

var errQuit = errors.New("quit")

func runRegister(t *proctl.TraceeController, out io.Writer, args []string) error {
	if len(args) == 0 {
		return usageError("register dump | register read <name> | register write <name> <hex>")
	}

	sub, rest := args[0], args[1:]

	switch {
	case util.IsPrefix(sub, "dump") && sub != "":
		if len(rest) != 0 {
			return usageError("register dump")
		}
		return t.DumpRegisters(out)

	case util.IsPrefix(sub, "read") && sub != "":
		if len(rest) != 1 {
			return usageError("register read <name>")
		}
		v, err := t.ReadRegister(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s = 0x%016x\n", rest[0], v)
		return nil

	case util.IsPrefix(sub, "write") && sub != "":
		if len(rest) != 2 {
			return usageError("register write <name> <hex>")
		}
		value, err := parseHexValue(rest[1])
		if err != nil {
			return err
		}
		return t.WriteRegister(rest[0], value)

	default:
		return usageError("register dump | register read <name> | register write <name> <hex>")
	}
}

func parseHexValue(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, dbgerr.New(dbgerr.AddrMalformed, s,
			fmt.Errorf("HEX argument to command should start with 0x."))
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, dbgerr.New(dbgerr.AddrMalformed, s, err)
	}
	return v, nil
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}

// REPL reads commands from an interactive line editor and drives a
// TraceeController. Its state machine is idle -> parse -> match ->
// execute -> idle, with "quit" and input EOF as the only terminal
// transitions.
type REPL struct {
	rl       *readline.Instance
	t        *proctl.TraceeController
	commands *trie.Trie
	out      io.Writer
	errOut   io.Writer
}

// New constructs a REPL bound to t, reading from a readline instance
// configured with the given history file.
func New(t *proctl.TraceeController, historyFile string) (*REPL, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 prompt,
		HistoryFile:            historyFile,
		HistoryLimit:           1000,
		DisableAutoSaveHistory: true,
		InterruptPrompt:        "^C",
		EOFPrompt:              "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}

	tr := trie.New()
	for name := range commands {
		tr.Add(name, nil)
	}

	return &REPL{rl: rl, t: t, commands: tr, out: rl.Stdout(), errOut: rl.Stderr()}, nil
}

// Close releases the underlying line editor.
func (r *REPL) Close() error {
	return r.rl.Close()
}

// Run drives the state machine until "quit" or stream EOF.
func (r *REPL) Run() error {
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		cont, execErr := r.dispatch(line)
		if execErr != nil && !errors.Is(execErr, errQuit) {
			r.report(execErr)
		}
		if !cont {
			return nil
		}
	}
}

// dispatch parses and executes one line, returning whether the REPL
// should continue. The line is added to history only once execution
// has completed and the line is non-empty, so history reflects
// accepted commands.
func (r *REPL) dispatch(line string) (bool, error) {
	tokens := util.Split(line, ' ')
	if len(tokens) == 0 {
		return true, nil
	}

	name, args := tokens[0], tokens[1:]

	matched, err := resolvePrefix(r.commands, name)
	if err != nil {
		return true, err
	}

	cmd, ok := commands[matched]
	if !ok {
		return true, fmt.Errorf("unknown command: %s", name)
	}

	if cmd.arity >= 0 && len(args) != cmd.arity {
		return true, usageError(fmt.Sprintf("%s takes %d argument(s)", cmd.name, cmd.arity))
	}

	runErr := cmd.run(r.t, r.out, args)
	if line != "" {
		r.rl.SaveHistory(line)
	}

	if runErr == errQuit {
		return false, runErr
	}

	return true, runErr
}

// resolvePrefix finds the unique command whose name has tok as a
// prefix. Ambiguous prefixes are reported rather than silently
// resolved to the first match in declaration order, per the REDESIGN
// FLAG on prefix matching.
func resolvePrefix(t *trie.Trie, tok string) (string, error) {
	candidates := t.PrefixSearch(tok)
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("unknown command: %s", tok)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("ambiguous command %q: matches %s", tok, strings.Join(candidates, ", "))
	}
}

func (r *REPL) report(err error) {
	var de *dbgerr.Error
	msg := err.Error()
	if errors.As(err, &de) {
		msg = de.Disposition()
	}
	fmt.Fprintln(r.errOut, color.RedString(msg))
}
