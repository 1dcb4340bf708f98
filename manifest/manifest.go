// Package manifest handles lingo.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/chazu/lingo/vm"
)

// FileName is the name of the project file looked up by Load.
const FileName = "lingo.toml"

// Manifest represents a parsed lingo.toml file.
type Manifest struct {
	Project Project `toml:"project"`
	Scripts Scripts `toml:"scripts"`
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	State   State   `toml:"state"`

	// Dir is the directory containing the lingo.toml file (set by Load).
	Dir string `toml:"-"`
}

// Project holds project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Scripts says where script sources live and which entity each belongs to.
type Scripts struct {
	Dirs []string `toml:"dirs"`
	// Movie lists movie script files relative to Dir. When empty, every
	// script file under Dirs that is not bound to a sprite is a movie script.
	Movie []string `toml:"movie"`
	// Sprites maps an entity id to its script file.
	Sprites map[string]string `toml:"sprites"`
}

// Runtime holds interpreter settings.
type Runtime struct {
	FloatPrecision int    `toml:"float-precision"`
	Reentrancy     string `toml:"reentrancy"`
	MaxSteps       int64  `toml:"max-steps"`
	Tempo          int    `toml:"tempo"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// State configures the save-slot database.
type State struct {
	Database string `toml:"database"`
}

// Script file extensions recognised when scanning Dirs.
var scriptExts = map[string]bool{".ls": true, ".lingo": true, ".lsc": true}

// Default returns the settings used for keys a lingo.toml leaves out.
func Default() *Manifest {
	return &Manifest{
		Scripts: Scripts{Dirs: []string{"scripts"}},
		Runtime: Runtime{
			FloatPrecision: 4,
			Reentrancy:     "drop",
			Tempo:          15,
		},
		State: State{Database: filepath.Join(".lingo", "state.db")},
	}
}

// Load reads and parses lingo.toml from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if len(m.Scripts.Dirs) == 0 {
		m.Scripts.Dirs = []string{"scripts"}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve directory %s: %w", dir, err)
	}
	m.Dir = absDir

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir looking for lingo.toml.
// Returns nil, nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges that TOML decoding cannot.
func (m *Manifest) Validate() error {
	if p := m.Runtime.FloatPrecision; p < 0 || p > 15 {
		return fmt.Errorf("runtime.float-precision %d out of range 0..15", p)
	}
	if _, err := vm.ParseReentrancy(m.Runtime.Reentrancy); err != nil {
		return fmt.Errorf("runtime.reentrancy: %w", err)
	}
	if m.Runtime.MaxSteps < 0 {
		return fmt.Errorf("runtime.max-steps must not be negative")
	}
	if m.Runtime.Tempo <= 0 {
		return fmt.Errorf("runtime.tempo must be positive")
	}
	if _, err := m.SpriteScripts(); err != nil {
		return err
	}
	return nil
}

// Options converts the runtime section into VM options.
func (m *Manifest) Options() ([]vm.Option, error) {
	r, err := vm.ParseReentrancy(m.Runtime.Reentrancy)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.WithFloatPrecision(m.Runtime.FloatPrecision),
		vm.WithReentrancy(r),
		vm.WithMaxSteps(m.Runtime.MaxSteps),
	}, nil
}

// ScriptDirPaths returns absolute paths for the script directories.
func (m *Manifest) ScriptDirPaths() []string {
	paths := make([]string, len(m.Scripts.Dirs))
	for i, d := range m.Scripts.Dirs {
		paths[i] = m.resolve(d)
	}
	return paths
}

// StatePath returns the absolute path of the save-slot database.
func (m *Manifest) StatePath() string {
	return m.resolve(m.State.Database)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

// SpriteScripts returns the sprite bindings keyed by entity id.
func (m *Manifest) SpriteScripts() (map[int]string, error) {
	out := make(map[int]string, len(m.Scripts.Sprites))
	for key, file := range m.Scripts.Sprites {
		id, err := strconv.Atoi(key)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("scripts.sprites: %q is not a positive entity id", key)
		}
		out[id] = file
	}
	return out, nil
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ScriptFile is one script source and the entity it is loaded for.
// Target 0 is the movie.
type ScriptFile struct {
	Path   string
	Target int
}

// ScriptFiles lists the project's scripts: movie scripts first in name
// order, then sprite scripts by entity id.
func (m *Manifest) ScriptFiles() ([]ScriptFile, error) {
	sprites, err := m.SpriteScripts()
	if err != nil {
		return nil, err
	}
	bound := make(map[string]bool, len(sprites))
	for _, f := range sprites {
		bound[m.resolve(f)] = true
	}

	var files []ScriptFile
	if len(m.Scripts.Movie) > 0 {
		for _, f := range m.Scripts.Movie {
			files = append(files, ScriptFile{Path: m.resolve(f)})
		}
	} else {
		var found []string
		for _, dir := range m.ScriptDirPaths() {
			err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && scriptExts[filepath.Ext(path)] && !bound[path] {
					found = append(found, path)
				}
				return nil
			})
			if err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("scanning %s: %w", dir, err)
			}
		}
		sort.Strings(found)
		for _, p := range found {
			files = append(files, ScriptFile{Path: p})
		}
	}

	ids := make([]int, 0, len(sprites))
	for id := range sprites {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		files = append(files, ScriptFile{Path: m.resolve(sprites[id]), Target: id})
	}
	return files, nil
}
