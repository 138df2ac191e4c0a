/*
Package artifact persists compiled equation batches on disk.

PURPOSE:
  A compiled equation set is identified by an artifact name. Saving the
  batch it was built from lets a restarted process rebuild the set without
  a round trip to the equation repository (see equation.Compiler.Load).

FORMAT:
  One JSON document per artifact at <dir>/<name>.eqs.json:

    {"name": "...", "saved_at": "...", "batch": {...}}

  Writes go to a temporary file that is renamed into place, so a reader
  never sees a half-written artifact.
*/
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
)

const extension = ".eqs.json"

type document struct {
	Name    string         `json:"name"`
	SavedAt time.Time      `json:"saved_at"`
	Batch   equation.Batch `json:"batch"`
}

// FileStore implements equation.ArtifactStore over a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(name string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	return filepath.Join(s.dir, clean+extension)
}

func (s *FileStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Save replaces any artifact stored under name.
func (s *FileStore) Save(name string, batch equation.Batch) error {
	data, err := json.MarshalIndent(document{Name: name, SavedAt: s.now().UTC(), Batch: batch}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *FileStore) Load(name string) (equation.Batch, error) {
	s.mu.RLock()
	data, err := os.ReadFile(s.path(name))
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return equation.Batch{}, fmt.Errorf("%w: artifact %q", generic.ErrNotFound, name)
	}
	if err != nil {
		return equation.Batch{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return equation.Batch{}, fmt.Errorf("decode artifact %q: %w", name, err)
	}
	doc.Batch.Name = name
	return doc.Batch, nil
}

// Delete is a no-op for a missing artifact.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the stored artifact names, sorted.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+extension))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), extension))
	}
	return names, nil
}
