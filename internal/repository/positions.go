package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"snap-automation/internal/core"
)

// PositionFile implements core.PositionStorePort with a JSON file of
// step name to {x, y}
type PositionFile struct {
	path string
	mu   sync.Mutex
}

// NewPositionFile creates a position store at path, creating its directory
func NewPositionFile(path string) (*PositionFile, error) {
	if path == "" {
		return nil, errors.New("positions path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &core.PersistenceError{Op: "save", What: "positions", Path: path, Err: err}
	}
	return &PositionFile{path: path}, nil
}

// Path returns the file location
func (f *PositionFile) Path() string {
	return f.path
}

// Load reads the stored positions. A missing file yields an empty set; keys
// that are not send steps are ignored.
func (f *PositionFile) Load() (core.Positions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Positions{}, nil
		}
		return nil, &core.PersistenceError{Op: "load", What: "positions", Path: f.path, Err: err}
	}

	var raw map[string]core.Point
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &core.PersistenceError{Op: "load", What: "positions", Path: f.path,
			Err: fmt.Errorf("unmarshal positions: %w", err)}
	}

	positions := make(core.Positions, len(core.RequiredSteps))
	for _, step := range core.RequiredSteps {
		if p, ok := raw[step]; ok {
			positions[step] = p
		}
	}
	return positions, nil
}

// Save writes positions atomically
func (f *PositionFile) Save(positions core.Positions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return &core.PersistenceError{Op: "save", What: "positions", Path: f.path,
			Err: fmt.Errorf("marshal positions: %w", err)}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &core.PersistenceError{Op: "save", What: "positions", Path: f.path,
			Err: fmt.Errorf("write tmp: %w", err)}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return &core.PersistenceError{Op: "save", What: "positions", Path: f.path,
			Err: fmt.Errorf("rename tmp: %w", err)}
	}
	return nil
}

// Clear removes the stored file
func (f *PositionFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &core.PersistenceError{Op: "clear", What: "positions", Path: f.path, Err: err}
	}
	return nil
}
