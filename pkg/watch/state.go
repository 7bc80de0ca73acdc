package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ngo-platform/media-scraper/pkg/models"
)

// ReconcileState is the persisted outcome of the last reconciliation
type ReconcileState struct {
	LastRun        time.Time `json:"last_run"`
	LastSuccess    bool      `json:"last_success"`
	CheckedRecords int       `json:"checked_records"`
	RemovedRecords []string  `json:"removed_records"`
	OrphanFiles    []string  `json:"orphan_files"`
	RemovedFiles   int       `json:"removed_files"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StateManager loads and saves the reconcile state file
type StateManager struct {
	statePath string
	state     ReconcileState
	mu        sync.RWMutex
	now       func() time.Time
}

// NewStateManager creates a state manager backed by statePath
func NewStateManager(statePath string) *StateManager {
	return &StateManager{statePath: statePath, now: time.Now}
}

// Load reads the state from disk. A missing file starts fresh.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = ReconcileState{}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	return nil
}

// Save atomically replaces the state file
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.now()
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := atomic.WriteFile(m.statePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// State returns a copy of the current state
func (m *StateManager) State() ReconcileState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Record stores the outcome of a run. report may be nil when runErr is set.
func (m *StateManager) Record(report *models.ReconcileReport, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := ReconcileState{
		LastRun:     m.now(),
		LastSuccess: runErr == nil,
	}
	if report != nil {
		next.CheckedRecords = report.CheckedRecords
		next.RemovedRecords = report.RemovedRecords
		next.OrphanFiles = report.OrphanFiles
		next.RemovedFiles = report.RemovedFiles
	}
	if runErr != nil {
		next.LastError = runErr.Error()
	}
	m.state = next
}

// ShouldRun reports whether interval has passed since the last run
func (m *StateManager) ShouldRun(interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.LastRun.IsZero() {
		return true
	}
	return m.now().Sub(m.state.LastRun) >= interval
}

// NextRunTime returns when the next reconciliation is due
func (m *StateManager) NextRunTime(interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.LastRun.IsZero() {
		return m.now()
	}
	return m.state.LastRun.Add(interval)
}
