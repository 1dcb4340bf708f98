package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/lingo/compiler"
	"github.com/chazu/lingo/vm"
)

const (
	historyFile = ".lingo_history"
	promptMain  = "-- "
	promptCont  = ".. "
)

const replHelp = `REPL commands:
  :globals          List global variables
  :handlers         List movie handlers
  :disasm NAME      Disassemble the script that defines handler NAME
  :event NAME [ID]  Dispatch an event, optionally to sprite ID
  :reset            Clear globals
  :keywords         List reserved words
  :quit             Exit

Statements run at the top level. An expression that is not a statement
is printed as if by put. Handlers typed at the prompt stay defined.
`

func cmdRepl(args []string) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	noProject := fs.Bool("bare", false, "Do not load the project's scripts")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	if !*noProject {
		if err := p.load(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	fmt.Println("Lingo REPL (Ctrl+D exits, :help for commands)")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	r := &repl{vm: p.vm, out: os.Stdout}
	for {
		input, ok := readInput(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))

		if strings.HasPrefix(strings.TrimSpace(input), ":") {
			if quit := r.command(strings.TrimSpace(input)); quit {
				return 0
			}
			continue
		}
		if err := r.eval(context.Background(), input); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// readInput reads one complete input, prompting for continuation lines
// while a handler, if block or repeat loop is open.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	depth := 0
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		depth += blockDelta(line)
		if depth <= 0 {
			return b.String(), true
		}
	}
}

// blockDelta reports how line changes the nesting of handlers and
// multi-line statements: +1 for an opening line, -1 for an "end" line.
func blockDelta(line string) int {
	if i := strings.Index(line, "--"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return 0
	}
	switch fields[0] {
	case "on", "repeat":
		return 1
	case "end":
		return -1
	case "if":
		// Only "if ... then" with nothing after then opens a block.
		if fields[len(fields)-1] == "then" {
			return 1
		}
	}
	return 0
}

// repl evaluates inputs against one VM. Each input becomes its own movie
// script so handlers defined earlier stay loaded.
type repl struct {
	vm  *vm.VM
	out io.Writer
	n   int
}

// eval compiles input as statements, falling back to printing it as an
// expression, and runs its top level.
func (r *repl) eval(ctx context.Context, input string) error {
	r.n++
	name := fmt.Sprintf("repl%d", r.n)

	s, err := r.vm.Compile(name, input)
	if err != nil && !strings.Contains(input, "\n") {
		if ps, perr := r.vm.Compile(name, "put "+input); perr == nil {
			s, err = ps, nil
		}
	}
	if err != nil {
		return err
	}
	if len(s.Handlers) > 0 {
		r.vm.Load(s, 0)
		for _, h := range s.Handlers {
			fmt.Fprintf(r.out, "defined %s\n", h.Name)
		}
	}
	return r.vm.Run(ctx, s)
}

// command runs a ":" command and reports whether the REPL should exit.
func (r *repl) command(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ":quit", ":q", ":exit":
		return true
	case ":help", ":h", ":?":
		fmt.Fprint(r.out, replHelp)
	case ":globals":
		printGlobals(r.out, r.vm)
	case ":handlers":
		for _, name := range r.vm.HandlerNames() {
			fmt.Fprintln(r.out, name)
		}
	case ":reset":
		r.vm.ResetGlobals()
	case ":disasm":
		if len(fields) != 2 {
			fmt.Fprintln(r.out, "usage: :disasm NAME")
			break
		}
		for _, s := range r.vm.MovieScripts() {
			if _, ok := s.Handler(fields[1]); ok {
				fmt.Fprint(r.out, s.Disassemble())
				return false
			}
		}
		fmt.Fprintf(r.out, "no handler %s\n", fields[1])
	case ":event":
		r.event(fields[1:])
	case ":keywords":
		fmt.Fprintln(r.out, strings.Join(compiler.Keywords(), " "))
	default:
		fmt.Fprintf(r.out, "unknown command %s (type :help for commands)\n", fields[0])
	}
	return false
}

func (r *repl) event(args []string) {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(r.out, "usage: :event NAME [ID]")
		return
	}
	kind, err := vm.ParseEventKind(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	ev := vm.Event{Kind: kind}
	if len(args) == 2 {
		if _, err := fmt.Sscan(args[1], &ev.Target); err != nil || ev.Target <= 0 {
			fmt.Fprintf(r.out, "invalid entity id %q\n", args[1])
			return
		}
	}
	if err := r.vm.Dispatch(context.Background(), ev); err != nil {
		fmt.Fprintln(r.out, err)
	}
}
