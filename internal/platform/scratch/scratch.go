// Package scratch hands out unique temp paths and removes them best-effort.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type Manager struct {
	root string
}

// New returns a Manager rooted at dir, creating it if needed. An empty dir
// means <os.TempDir()>/podium-scratch.
func New(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "podium-scratch")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Manager{root: dir}, nil
}

func (m *Manager) Root() string { return m.root }

// NewPath returns a fresh path under the root. The file is not created.
func (m *Manager) NewPath(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(m.root, uuid.NewString()+strings.ToLower(ext))
}

// Remove deletes every path. Paths that are already gone are not errors; any
// other failures are collected and returned together.
func (m *Manager) Remove(paths ...string) error {
	return Remove(paths...)
}

func Remove(paths ...string) error {
	var result *multierror.Error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Janitor collects the scratch paths of one job and deletes them exactly once.
type Janitor struct {
	log   *logger.Logger
	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
	once  sync.Once
}

func NewJanitor(log *logger.Logger) *Janitor {
	return &Janitor{log: log, seen: map[string]struct{}{}}
}

// Track registers paths for cleanup. Duplicates and empty strings are ignored.
func (j *Janitor) Track(paths ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := j.seen[p]; ok {
			continue
		}
		j.seen[p] = struct{}{}
		j.paths = append(j.paths, p)
	}
}

// Tracked returns a copy of the registered paths.
func (j *Janitor) Tracked() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.paths...)
}

// Cleanup removes every tracked path. Only the first call does any work.
func (j *Janitor) Cleanup() {
	j.once.Do(func() {
		paths := j.Tracked()
		if err := Remove(paths...); err != nil && j.log != nil {
			j.log.Warn("scratch cleanup incomplete", "paths", len(paths), "error", err)
		}
	})
}
