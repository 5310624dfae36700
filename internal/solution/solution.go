// ============================================================================
// gymflow solution files
// ============================================================================
//
// Package: internal/solution
// File: solution.go
// Purpose: the outcome of a run (which task ran where and when) and its
//          persistence
//
// Write protocol (atomic):
//   1. encode to <path>.tmp
//   2. rename <path>.tmp → <path>
// A crash between the steps leaves the previous file untouched.
// ============================================================================

package solution

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// SchemaVersion is the current file format version.
const SchemaVersion = 1

var (
	// ErrCorrupted indicates a file that is not valid solution JSON.
	ErrCorrupted = errors.New("solution file is corrupted")
	// ErrIncompatibleVersion indicates a file written with another schema version.
	ErrIncompatibleVersion = errors.New("solution schema version is incompatible")
	// ErrNotFound indicates a missing solution file.
	ErrNotFound = errors.New("solution file not found")
)

// Placement records where and when one task ran.
type Placement struct {
	Workflow  types.WorkflowID `json:"workflow_id"`
	Task      types.TaskID     `json:"task_id"`
	Machine   types.MachineID  `json:"vm_id"`
	StartTime float64          `json:"start_time"`
	EndTime   float64          `json:"end_time"`
}

// Solution is the result of one simulation run.
type Solution struct {
	SchemaVer  int         `json:"schema_version"`
	Algorithm  string      `json:"algorithm"`
	Horizon    float64     `json:"horizon"`
	Makespan   float64     `json:"makespan"`
	Reward     float64     `json:"reward"`
	Placements []Placement `json:"vm_assignments"`
}

// Sort orders placements by start time, then workflow and task id.
func (s *Solution) Sort() {
	sort.Slice(s.Placements, func(i, j int) bool {
		a, b := s.Placements[i], s.Placements[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.Workflow != b.Workflow {
			return a.Workflow < b.Workflow
		}
		return a.Task < b.Task
	})
}

// JSON returns the compact encoding, as attached to the final agent result.
func (s Solution) JSON() (string, error) {
	s.SchemaVer = SchemaVersion
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal solution: %w", err)
	}
	return string(data), nil
}

// Manager reads and writes one solution file.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a manager for path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write stores s atomically.
func (m *Manager) Write(s Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.SchemaVer = SchemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal solution: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp solution: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename solution: %w", err)
	}
	return nil
}

// Load reads the solution file.
func (m *Manager) Load() (Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Solution
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, fmt.Errorf("%w: %s", ErrNotFound, m.path)
		}
		return s, fmt.Errorf("failed to read solution: %w", err)
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if s.SchemaVer != SchemaVersion {
		return s, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, s.SchemaVer, SchemaVersion)
	}
	if s.Placements == nil {
		s.Placements = []Placement{}
	}
	return s, nil
}

// Exists reports whether the file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the file path.
func (m *Manager) Path() string {
	return m.path
}
