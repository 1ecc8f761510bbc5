// Package txn snapshots the filesystem state a tool-call batch is about to
// mutate and restores it when the batch fails partway. Scope is exactly the
// paths tracked for the current batch; this is not crash recovery.
package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"aegis/internal/errutil"
	"aegis/internal/logging"
	"aegis/internal/safety"
)

// FileSnapshot records the pre-execution state of one path.
type FileSnapshot struct {
	Path    string
	Existed bool
	Content []byte
}

// Transaction holds every snapshot for one batch. It exists only for the
// duration of that batch.
type Transaction struct {
	Snapshots []FileSnapshot
	CreatedAt time.Time
}

// RollbackResult reports the best-effort outcome of one rollback pass.
type RollbackResult struct {
	Restored int
	Errors   []*errutil.PathError
}

// Err returns a RollbackError when any path failed to restore, nil otherwise.
func (r RollbackResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &errutil.RollbackError{Paths: r.Errors}
}

// Manager snapshots and restores files through a filesystem abstraction so
// tests run against an in-memory fs.
type Manager struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewManager builds a manager over fs. A nil fs means the host OS filesystem.
func NewManager(fs afero.Fs, logger logging.Logger) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{fs: fs, logger: logging.OrNop(logger)}
}

// Begin captures pre-execution snapshots for every call argument resolvable
// to a filesystem path under root. Every snapshot is taken before any call
// executes; when no call names a trackable path, Begin returns nil and the
// batch runs untracked.
func (m *Manager) Begin(calls []safety.ToolCall, root string) (*Transaction, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("transaction root is required")
	}
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	seen := make(map[string]bool)
	var snapshots []FileSnapshot

	for _, call := range calls {
		raw, ok := safety.MutatedPath(call)
		if !ok {
			continue
		}
		path := raw
		if !filepath.IsAbs(path) {
			path = filepath.Join(rootAbs, path)
		}
		path = filepath.Clean(path)
		if !withinRoot(rootAbs, path) {
			m.logger.Warn("not tracking path outside root: %s", raw)
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true

		snapshot, err := m.snapshot(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if len(snapshots) == 0 {
		return nil, nil
	}

	m.logger.Debug("transaction opened with %d snapshot(s)", len(snapshots))
	return &Transaction{Snapshots: snapshots, CreatedAt: time.Now()}, nil
}

func (m *Manager) snapshot(path string) (FileSnapshot, error) {
	info, err := m.fs.Stat(path)
	if os.IsNotExist(err) {
		return FileSnapshot{Path: path, Existed: false}, nil
	}
	if err != nil {
		return FileSnapshot{}, err
	}
	if info.IsDir() {
		return FileSnapshot{}, fmt.Errorf("path is a directory")
	}

	content, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return FileSnapshot{}, err
	}
	return FileSnapshot{Path: path, Existed: true, Content: content}, nil
}

// Rollback restores every snapshot in tx. It is best-effort: each path is
// attempted and failures are collected per path rather than aborting on the
// first one. Rollback blocks until every snapshot has been processed.
func (m *Manager) Rollback(tx *Transaction) RollbackResult {
	var result RollbackResult
	if tx == nil {
		return result
	}

	for _, snapshot := range tx.Snapshots {
		if err := m.restore(snapshot); err != nil {
			m.logger.Error("rollback failed for %s: %v", snapshot.Path, err)
			result.Errors = append(result.Errors, &errutil.PathError{Path: snapshot.Path, Err: err})
			continue
		}
		result.Restored++
	}

	m.logger.Info("rollback finished: %d restored, %d failed", result.Restored, len(result.Errors))
	return result
}

func (m *Manager) restore(snapshot FileSnapshot) error {
	if snapshot.Existed {
		if err := m.fs.MkdirAll(filepath.Dir(snapshot.Path), 0o755); err != nil {
			return fmt.Errorf("ensure parent directory: %w", err)
		}
		if err := afero.WriteFile(m.fs, snapshot.Path, snapshot.Content, 0o644); err != nil {
			return fmt.Errorf("restore content: %w", err)
		}
		return nil
	}

	// The path did not exist before the batch; delete it if execution
	// created it.
	exists, err := afero.Exists(m.fs, snapshot.Path)
	if err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := m.fs.Remove(snapshot.Path); err != nil {
		return fmt.Errorf("remove created file: %w", err)
	}
	return nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
