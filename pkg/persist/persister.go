package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Temp file prefix marker used during atomic replacement.
const tmpSuffix = ".tmp"

// SaveState atomically replaces the file at path with the encoded state.
// The state is written to a temporary sibling first and renamed over the
// target, so a crash mid-write leaves the previous snapshot intact.
func SaveState(path string, codec Codec, state any) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	err = codec.Encode(tmp, state)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("encode state: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close temp state file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// LoadState loads state from the file at path.
// The state parameter must be a pointer to the target struct.
// A missing file surfaces as a wrapped [fs.ErrNotExist].
func LoadState(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

// RemoveState deletes the state file at path. Missing files are not an error.
func RemoveState(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}

	return nil
}

// Persister handles I/O for a specific state type at a fixed path.
type Persister[T any] struct {
	path  string
	codec Codec
}

// NewPersister creates a persister bound to the given path and codec.
func NewPersister[T any](path string, codec Codec) *Persister[T] {
	return &Persister[T]{
		path:  path,
		codec: codec,
	}
}

// Path returns the file path this persister reads and writes.
func (p *Persister[T]) Path() string {
	return p.path
}

// Save atomically writes the state.
func (p *Persister[T]) Save(state *T) error {
	return SaveState(p.path, p.codec, state)
}

// Load reads the persisted state.
func (p *Persister[T]) Load() (*T, error) {
	var state T

	err := LoadState(p.path, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Remove deletes the persisted state, if any.
func (p *Persister[T]) Remove() error {
	return RemoveState(p.path)
}
