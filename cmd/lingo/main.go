// Lingo CLI - runs, compiles and serves Lingo script projects
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/lingo/compiler"
	"github.com/chazu/lingo/manifest"
	"github.com/chazu/lingo/server"
	"github.com/chazu/lingo/state"
	"github.com/chazu/lingo/vm"
)

const appName = "lingo"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(args))
	case "compile":
		os.Exit(cmdCompile(args))
	case "disasm":
		os.Exit(cmdDisasm(args))
	case "repl":
		os.Exit(cmdRepl(args))
	case "serve":
		os.Exit(cmdServe(args))
	case "lsp":
		os.Exit(cmdLSP(args))
	case "save":
		os.Exit(cmdSave(args))
	case "restore":
		os.Exit(cmdRestore(args))
	case "slots":
		os.Exit(cmdSlots(args))
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n\n", appName, os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [options]\n\n", appName)
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run       Load the project, start the movie and play frames\n")
	fmt.Fprintf(w, "  compile   Compile script files to .lsc bytecode\n")
	fmt.Fprintf(w, "  disasm    Print the bytecode of script files\n")
	fmt.Fprintf(w, "  repl      Start an interactive session\n")
	fmt.Fprintf(w, "  serve     Serve the runtime over Connect and gRPC\n")
	fmt.Fprintf(w, "  lsp       Run the language server on stdio\n")
	fmt.Fprintf(w, "  save      Run the movie's top level and save its globals to a slot\n")
	fmt.Fprintf(w, "  restore   Print the globals stored in a slot\n")
	fmt.Fprintf(w, "  slots     List save slots\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s run -frames 60          # Play one second at tempo 60\n", appName)
	fmt.Fprintf(w, "  %s compile scripts/*.ls    # Write scripts/*.lsc\n", appName)
	fmt.Fprintf(w, "  %s serve -addr :4567       # Start the runtime server\n", appName)
	fmt.Fprintf(w, "  %s run -restore level2     # Resume from a saved slot\n", appName)
}

// ---------------------------------------------------------------------------
// Project setup
// ---------------------------------------------------------------------------

// projectFlags are shared by every command that works on a project.
type projectFlags struct {
	dir     *string
	verbose *int
}

func addProjectFlags(fs *flag.FlagSet) projectFlags {
	return projectFlags{
		dir:     fs.String("C", ".", "Project directory (lingo.toml is searched upwards from here)"),
		verbose: fs.Int("v", -1, "Log verbosity (overrides [log] verbosity)"),
	}
}

// project is a loaded manifest and a VM configured from it.
type project struct {
	manifest *manifest.Manifest
	vm       *vm.VM
}

// openProject finds lingo.toml from dir, configures logging and creates
// a VM. Without a lingo.toml the defaults apply with dir as the root.
func openProject(pf projectFlags, out io.Writer) (*project, error) {
	m, err := manifest.FindAndLoad(*pf.dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
		abs, err := filepath.Abs(*pf.dir)
		if err != nil {
			return nil, err
		}
		m.Dir = abs
	}
	configureLogging(m, *pf.verbose)

	opts, err := m.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, vm.WithCompiler(compiler.Compile), vm.WithOutput(out))
	return &project{manifest: m, vm: vm.New(opts...)}, nil
}

// configureLogging sets up the commonlog backend. A verbosity flag of -1
// defers to the manifest.
func configureLogging(m *manifest.Manifest, verbosity int) {
	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	var path *string
	if p := m.LogPath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
}

// load compiles the project's scripts and runs the movie's top level.
func (p *project) load(ctx context.Context) error {
	loaded, err := p.manifest.LoadScripts(p.vm)
	if err != nil {
		return err
	}
	return manifest.RunMovie(ctx, p.vm, loaded)
}

func (p *project) openStore() (*state.Store, error) {
	return state.Open(p.manifest.StatePath())
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	frames := fs.Int("frames", 0, "Frames to play before stopping (0 plays until interrupted)")
	tempo := fs.Int("tempo", 0, "Frames per second (overrides [runtime] tempo)")
	restore := fs.String("restore", "", "Restore globals from this slot before the movie starts")
	save := fs.String("save", "", "Save globals to this slot when playback stops")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := p.load(ctx); err != nil {
		return fail(err)
	}

	var store *state.Store
	if *restore != "" || *save != "" {
		if store, err = p.openStore(); err != nil {
			return fail(err)
		}
		defer store.Close()
	}
	if *restore != "" {
		if err := store.Restore(*restore, p.vm); err != nil {
			return fail(err)
		}
	}

	if *tempo <= 0 {
		*tempo = p.manifest.Runtime.Tempo
	}
	played, err := playMovie(ctx, p.vm, *tempo, *frames)
	if err != nil {
		return fail(err)
	}
	commonlog.GetLogger("lingo").Info("movie stopped", "frames", played)

	if *save != "" {
		if err := store.Save(*save, p.vm); err != nil {
			return fail(err)
		}
	}
	return 0
}

// playMovie delivers prepareMovie and startMovie, plays frames and
// finishes with stopMovie. Script errors are logged by the VM and do not
// end playback.
func playMovie(ctx context.Context, v *vm.VM, tempo, frames int) (int, error) {
	for _, kind := range []vm.EventKind{vm.EventPrepareMovie, vm.EventStartMovie} {
		v.Dispatch(ctx, vm.Event{Kind: kind})
	}

	w := server.NewVMWorker(v)
	defer w.Stop()
	played, err := w.RunFrames(ctx, tempo, frames)
	if err != nil {
		return played, err
	}

	// ctx may already be canceled; stopMovie still runs.
	if err := w.Dispatch(context.WithoutCancel(ctx), vm.Event{Kind: vm.EventStopMovie}); errors.Is(err, server.ErrWorkerStopped) {
		return played, err
	}
	return played, nil
}

// ---------------------------------------------------------------------------
// compile / disasm
// ---------------------------------------------------------------------------

func cmdCompile(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	outDir := fs.String("o", "", "Output directory (defaults to each source's directory)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s compile [-o dir] file.ls...\n", appName)
		return 2
	}

	v := vm.New(vm.WithCompiler(compiler.Compile))
	status := 0
	for _, path := range fs.Args() {
		out, err := compileFile(v, path, *outDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			status = 1
			continue
		}
		fmt.Printf("%s -> %s\n", path, out)
	}
	return status
}

// compileFile compiles path and writes the encoded script next to it, or
// into outDir, with a .lsc extension.
func compileFile(v *vm.VM, path, outDir string) (string, error) {
	s, err := manifest.ReadScript(v, path)
	if err != nil {
		return "", err
	}
	data, err := vm.MarshalScript(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".lsc"
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return "", err
		}
		out = filepath.Join(outDir, filepath.Base(out))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", out, err)
	}
	return out, nil
}

func cmdDisasm(args []string) int {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s disasm file.ls|file.lsc...\n", appName)
		return 2
	}

	v := vm.New(vm.WithCompiler(compiler.Compile))
	for _, path := range fs.Args() {
		s, err := manifest.ReadScript(v, path)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("== %s ==\n%s\n", s.Name, s.Disassemble())
	}
	return 0
}

// ---------------------------------------------------------------------------
// serve / lsp
// ---------------------------------------------------------------------------

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	addr := fs.String("addr", ":4567", "Listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	if err := p.load(context.Background()); err != nil {
		return fail(err)
	}
	store, err := p.openStore()
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	srv := server.New(p.vm, server.WithStore(store))
	defer srv.Stop()
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func cmdLSP(args []string) int {
	fs := flag.NewFlagSet("lsp", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// stdout carries the protocol, so script output is discarded.
	p, err := openProject(pf, io.Discard)
	if err != nil {
		return fail(err)
	}
	// Broken project scripts only cost completions, the server still starts.
	if _, err := p.manifest.LoadScripts(p.vm); err != nil {
		commonlog.GetLogger("lingo").Warning("project scripts not loaded", "error", err)
	}
	if err := server.NewLSP(p.vm).Run(); err != nil {
		return fail(err)
	}
	return 0
}

// ---------------------------------------------------------------------------
// save / restore / slots
// ---------------------------------------------------------------------------

func cmdSave(args []string) int {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s save [-C dir] SLOT\n", appName)
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	if err := p.load(context.Background()); err != nil {
		return fail(err)
	}
	store, err := p.openStore()
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if err := store.Save(fs.Arg(0), p.vm); err != nil {
		return fail(err)
	}
	fmt.Printf("saved %d globals to %s\n", len(p.vm.GlobalNames()), fs.Arg(0))
	return 0
}

func cmdRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s restore [-C dir] SLOT\n", appName)
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	store, err := p.openStore()
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if err := store.Restore(fs.Arg(0), p.vm); err != nil {
		return fail(err)
	}
	printGlobals(os.Stdout, p.vm)
	return 0
}

func cmdSlots(args []string) int {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	pf := addProjectFlags(fs)
	del := fs.String("delete", "", "Delete this slot")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := openProject(pf, os.Stdout)
	if err != nil {
		return fail(err)
	}
	store, err := p.openStore()
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if *del != "" {
		if err := store.Delete(*del); err != nil {
			return fail(err)
		}
		return 0
	}

	slots, err := store.Slots()
	if err != nil {
		return fail(err)
	}
	for _, s := range slots {
		fmt.Printf("%-20s %3d globals  %s\n", s.Name, s.Count, s.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

// printGlobals writes one "name = value" line per global, sorted by name.
func printGlobals(w io.Writer, v *vm.VM) {
	prec := v.Interpreter().FloatPrecision
	for _, name := range v.GlobalNames() {
		d, _ := v.GetGlobal(name)
		fmt.Fprintf(w, "%s = %s\n", name, formatDatum(d, prec))
	}
}

// formatDatum renders d the way a script would write it, with floats at
// the VM's precision.
func formatDatum(d vm.Datum, prec int) string {
	switch d.Kind() {
	case vm.KindVoid, vm.KindString, vm.KindSymbol:
		return d.String()
	default:
		return vm.CoerceToString(d, prec)
	}
}
