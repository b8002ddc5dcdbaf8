// Package persist provides crash-safe snapshot persistence for the
// task queue. Saves are atomic from the caller's perspective: the
// on-disk snapshot either reflects the new state in full or is
// unchanged. Old snapshots are retained as rotating backups.
package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360studio/taskflow/queue"
)

// SchemaVersion is the snapshot schema this reader writes and fully
// understands. Newer versions load with a warning, never a rejection.
const SchemaVersion = 1

// DefaultMaxBackups is the backup chain length when none is configured.
const DefaultMaxBackups = 3

// SessionInfo carries process-level counters across snapshots.
type SessionInfo struct {
	StartedAt           time.Time `json:"started_at"`
	LastSaveAt          time.Time `json:"last_save_at"`
	TotalTasksProcessed int       `json:"total_tasks_processed"`
}

// Snapshot is the versioned, serialized copy of the full task set
// plus session metadata.
type Snapshot struct {
	Version   int          `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Config    queue.Config `json:"config"`
	Tasks     []queue.Task `json:"tasks"`

	// RunningTasks holds ids in flight at save time. Running is a
	// transient in-memory state that a crash must not silently drop.
	RunningTasks []string    `json:"running_tasks,omitempty"`
	SessionInfo  SessionInfo `json:"session_info"`
}

// Store writes and reads queue snapshots at a fixed path.
type Store struct {
	path       string
	maxBackups int
	logger     *slog.Logger

	// saveMu serializes the temp-write / rotate / rename sequence so
	// concurrent saves cannot interleave and corrupt the backup chain.
	saveMu sync.Mutex

	sessionMu      sync.Mutex
	sessionStarted time.Time
	tasksProcessed int

	autosaveMu     sync.Mutex
	autosaveCancel chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBackups sets the backup chain length. Zero disables rotation
// entirely: no backup files are created or deleted.
func WithMaxBackups(n int) Option {
	return func(s *Store) { s.maxBackups = n }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a snapshot store for the given canonical path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:           path,
		maxBackups:     DefaultMaxBackups,
		sessionStarted: time.Now(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "persist")
	return s
}

// Save writes a new snapshot. The sequence is: write a temporary file,
// rotate existing backups, then rename the temporary file over the
// canonical path. Rename is the only step assumed atomic by the host
// filesystem, so a crash at any point leaves either the old snapshot
// or the new one, never a partial write.
func (s *Store) Save(tasks []queue.Task, runningIDs []string, config queue.Config) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	now := time.Now()
	s.sessionMu.Lock()
	session := SessionInfo{
		StartedAt:           s.sessionStarted,
		LastSaveAt:          now,
		TotalTasksProcessed: s.tasksProcessed,
	}
	s.sessionMu.Unlock()

	snap := Snapshot{
		Version:      SchemaVersion,
		Timestamp:    now,
		Config:       config,
		Tasks:        tasks,
		RunningTasks: runningIDs,
		SessionInfo:  session,
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := s.rotateBackups(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rotate backups: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved",
		"path", s.path,
		"task_count", len(tasks),
		"running", len(runningIDs))
	return nil
}

// rotateBackups shifts path.bak.1..N-1 up by one, drops bak.N, and
// moves the current snapshot to bak.1. MaxBackups zero disables the
// whole chain.
func (s *Store) rotateBackups() error {
	if s.maxBackups <= 0 {
		return nil
	}

	oldest := s.backupPath(s.maxBackups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("remove oldest backup: %w", err)
		}
	}

	for i := s.maxBackups - 1; i >= 1; i-- {
		from := s.backupPath(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, s.backupPath(i+1)); err != nil {
			return fmt.Errorf("shift backup %d: %w", i, err)
		}
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath(1)); err != nil {
			return fmt.Errorf("move current to backup: %w", err)
		}
	}
	return nil
}

func (s *Store) backupPath(n int) string {
	return fmt.Sprintf("%s.bak.%d", s.path, n)
}

// Load reads the latest snapshot. A missing file is not an error: it
// returns (nil, nil) so startup proceeds with an empty queue. An
// unparseable file is logged as a warning and treated the same way
// rather than crashing startup. A snapshot written by a newer schema
// is accepted and flagged, never rejected.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Snapshot unparseable, starting fresh",
			"path", s.path,
			"error", err)
		return nil, nil
	}

	if snap.Version > SchemaVersion {
		s.logger.Warn("Snapshot written by a newer schema version",
			"snapshot_version", snap.Version,
			"supported_version", SchemaVersion)
	}

	s.sessionMu.Lock()
	s.tasksProcessed = snap.SessionInfo.TotalTasksProcessed
	s.sessionMu.Unlock()

	return &snap, nil
}

// IncrementTasksProcessed bumps the session counter folded into the
// next snapshot.
func (s *Store) IncrementTasksProcessed() {
	s.sessionMu.Lock()
	s.tasksProcessed++
	s.sessionMu.Unlock()
}

// TasksProcessed returns the current session counter.
func (s *Store) TasksProcessed() int {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.tasksProcessed
}

// StartAutoSave runs fn on a repeating interval until StopAutoSave.
// Calling it again replaces the previous timer instead of stacking a
// second one. Save errors are logged, not fatal: the next tick retries.
func (s *Store) StartAutoSave(interval time.Duration, fn func() error) {
	s.autosaveMu.Lock()
	defer s.autosaveMu.Unlock()

	if s.autosaveCancel != nil {
		close(s.autosaveCancel)
	}
	cancel := make(chan struct{})
	s.autosaveCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if err := fn(); err != nil {
					s.logger.Warn("Auto-save failed", "error", err)
				}
			}
		}
	}()

	s.logger.Debug("Auto-save started", "interval", interval)
}

// StopAutoSave cancels the auto-save timer, if any.
func (s *Store) StopAutoSave() {
	s.autosaveMu.Lock()
	defer s.autosaveMu.Unlock()

	if s.autosaveCancel != nil {
		close(s.autosaveCancel)
		s.autosaveCancel = nil
	}
}
