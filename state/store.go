// Package state persists global script variables in named save slots.
//
// Each slot is a set of name/value rows in an SQLite database; values
// are CBOR-encoded Datums. Slots are written and read one global at a
// time through the VM's GetGlobal/SetGlobal interface, in name order.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chazu/lingo/vm"
)

// ErrSlotNotFound indicates the requested slot was never saved.
var ErrSlotNotFound = errors.New("save slot not found")

// Globals is the part of a VM a Store reads and writes.
type Globals interface {
	GlobalNames() []string
	GetGlobal(name string) (vm.Datum, bool)
	SetGlobal(name string, v vm.Datum)
	ResetGlobals()
}

// SlotInfo describes one saved slot.
type SlotInfo struct {
	Name    string
	SavedAt time.Time
	Count   int
}

// Store is a save-slot database. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	name     TEXT PRIMARY KEY,
	saved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS globals (
	slot  TEXT NOT NULL REFERENCES slots(name) ON DELETE CASCADE,
	name  TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (slot, name)
);`

// Open opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite has a single writer, and each :memory:
	// connection would otherwise see its own database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing database: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces slot with the current global variables of g.
func (s *Store) Save(slot string, g Globals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM slots WHERE name = ?", slot); err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	if _, err := tx.Exec("INSERT INTO slots (name, saved_at) VALUES (?, ?)",
		slot, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}

	for _, name := range g.GlobalNames() {
		v, ok := g.GetGlobal(name)
		if !ok {
			continue
		}
		data, err := vm.MarshalDatum(v)
		if err != nil {
			return fmt.Errorf("saving global %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO globals (slot, name, value) VALUES (?, ?, ?)",
			slot, name, data); err != nil {
			return fmt.Errorf("saving global %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	return nil
}

// Restore clears the globals of g and sets them from slot.
// It returns ErrSlotNotFound if the slot does not exist; g is left
// untouched in that case and when a value fails to decode.
func (s *Store) Restore(slot string, g Globals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var savedAt int64
	err := s.db.QueryRow("SELECT saved_at FROM slots WHERE name = ?", slot).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
	}
	if err != nil {
		return fmt.Errorf("restoring slot %s: %w", slot, err)
	}

	rows, err := s.db.Query("SELECT name, value FROM globals WHERE slot = ? ORDER BY name", slot)
	if err != nil {
		return fmt.Errorf("restoring slot %s: %w", slot, err)
	}
	defer rows.Close()

	type entry struct {
		name  string
		value vm.Datum
	}
	var entries []entry
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return fmt.Errorf("restoring slot %s: %w", slot, err)
		}
		v, err := vm.UnmarshalDatum(data)
		if err != nil {
			return fmt.Errorf("restoring global %s: %w", name, err)
		}
		entries = append(entries, entry{name, v})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("restoring slot %s: %w", slot, err)
	}

	g.ResetGlobals()
	for _, e := range entries {
		g.SetGlobal(e.name, e.value)
	}
	return nil
}

// Slots lists the saved slots by name.
func (s *Store) Slots() ([]SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT s.name, s.saved_at, COUNT(g.name)
		FROM slots s LEFT JOIN globals g ON g.slot = s.name
		GROUP BY s.name
		ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var out []SlotInfo
	for rows.Next() {
		var info SlotInfo
		var savedAt int64
		if err := rows.Scan(&info.Name, &savedAt, &info.Count); err != nil {
			return nil, fmt.Errorf("listing slots: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes slot. Deleting a missing slot is not an error.
func (s *Store) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM slots WHERE name = ?", slot); err != nil {
		return fmt.Errorf("deleting slot %s: %w", slot, err)
	}
	return nil
}
