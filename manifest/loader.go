package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/lingo/vm"
)

// LoadedScript records one script loaded into a VM.
type LoadedScript struct {
	File   ScriptFile
	Script *vm.Script
}

// LoadScripts compiles every project script with v's compiler and loads
// it for its target. Files ending in .lsc are decoded as compiled
// scripts instead. Compile errors from all files are reported together.
func (m *Manifest) LoadScripts(v *vm.VM) ([]LoadedScript, error) {
	files, err := m.ScriptFiles()
	if err != nil {
		return nil, err
	}

	var loaded []LoadedScript
	var failed []string
	for _, f := range files {
		s, err := ReadScript(v, f.Path)
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		loaded = append(loaded, LoadedScript{File: f, Script: s})
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(failed, "\n"))
	}

	for _, l := range loaded {
		v.Load(l.Script, l.File.Target)
	}
	return loaded, nil
}

// RunMovie runs the top-level statements of each loaded movie script in
// load order.
func RunMovie(ctx context.Context, v *vm.VM, loaded []LoadedScript) error {
	for _, l := range loaded {
		if l.File.Target != 0 {
			continue
		}
		if err := v.Run(ctx, l.Script); err != nil {
			return fmt.Errorf("%s: %w", l.File.Path, err)
		}
	}
	return nil
}

// ReadScript loads one script file, compiling source or decoding a .lsc
// file. The script is named after the file without its extension.
func ReadScript(v *vm.VM, path string) (*vm.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if filepath.Ext(path) == ".lsc" {
		s, err := vm.UnmarshalScript(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s, err := v.Compile(name, string(data))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return s, nil
}
