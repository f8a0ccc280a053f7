// Package resource tracks per-request temporary files and heavyweight
// intermediates and releases them in reverse order of registration.
package resource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	name    string
	release func() error
}

// Manager owns the cleanup stack of one request. It is safe for concurrent
// use, though the pipeline drives it from a single goroutine.
type Manager struct {
	dir string

	mu       sync.Mutex
	stack    []entry
	released bool
}

// NewManager creates a manager placing temp files in dir (the OS temp dir if empty).
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Manager{dir: dir}
}

// Register schedules release to run when the manager is released.
// Registering on a released manager runs release immediately.
func (m *Manager) Register(name string, release func() error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		release()
		return
	}
	m.stack = append(m.stack, entry{name: name, release: release})
	m.mu.Unlock()
}

// Track registers a closer, typically a decoded raster or an open reader.
func (m *Manager) Track(name string, c io.Closer) {
	m.Register(name, c.Close)
}

// TempFile creates a uniquely named temp file. The file is closed and removed
// on release unless it has been promoted to its final location first.
func (m *Manager) TempFile(ext string) (*os.File, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	path := filepath.Join(m.dir, "geoextract-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	m.Register(path, func() error {
		f.Close()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	return f, nil
}

// Promote moves a finished temp file to dst. The temp entry stays registered
// so a failed promotion still cleans up; after a successful rename its
// removal is a no-op.
func (m *Manager) Promote(tmp, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.Rename(tmp, dst); err == nil {
		return nil
	}
	// Cross-device: copy next to dst, then rename into place.
	part := dst + ".part-" + uuid.NewString()[:8]
	if err := copyFile(tmp, part); err != nil {
		os.Remove(part)
		return fmt.Errorf("promoting %s: %w", tmp, err)
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return fmt.Errorf("promoting %s: %w", tmp, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Pending returns the names of registered, unreleased entries in
// registration order.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.stack))
	for i, e := range m.stack {
		names[i] = e.name
	}
	return names
}

// Release runs every registered release function, last registered first.
// All functions run even if some fail; their errors are joined.
func (m *Manager) Release() error {
	m.mu.Lock()
	stack := m.stack
	m.stack = nil
	m.released = true
	m.mu.Unlock()

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		if err := stack[i].release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s: %w", stack[i].name, err))
		}
	}
	return errors.Join(errs...)
}
