package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusCancelled           = "cancelled"
	RunStatusFailed              = "failed"
)

// Run is the audit row for one reconciliation run.
type Run struct {
	ID          string     `json:"id"`
	Trigger     string     `json:"trigger"`
	DryRun      bool       `json:"dry_run"`
	Flows       []string   `json:"flows"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Holders      int `json:"holders"`
	Considered   int `json:"considered"`
	Matched      int `json:"matched"`
	Committed    int `json:"committed"`
	Created      int `json:"created"`
	Ambiguous    int `json:"ambiguous"`
	Skipped      int `json:"skipped"`
	WriteErrors  int `json:"write_errors"`
	HolderErrors int `json:"holder_errors"`

	Error string `json:"error,omitempty"`
}

// DecisionRecord is one decision and what happened to it.
type DecisionRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	HolderID   int64     `json:"holder_id"`
	Flow       string    `json:"flow"`
	Action     string    `json:"action"`
	PlatformID int64     `json:"platform_id,omitempty"`
	BankID     int64     `json:"bank_id"`
	Ambiguous  bool      `json:"ambiguous"`
	Status     string    `json:"status"`
	CreatedID  int64     `json:"created_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Payload    string    `json:"payload"` // decision as JSON
	RecordedAt time.Time `json:"recorded_at"`
}

// SkipRecord is one skipped record or holder.
type SkipRecord struct {
	ID       int64  `json:"id"`
	RunID    string `json:"run_id"`
	HolderID int64  `json:"holder_id"`
	Flow     string `json:"flow,omitempty"`
	Kind     string `json:"kind"`
	RecordID int64  `json:"record_id,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	Status string // empty = all
	Limit  int    // 0 = default 50
	Offset int
}

// RowFilters narrows decision and skip listings within a run.
type RowFilters struct {
	HolderID int64  // 0 = all
	Flow     string // empty = all
	Reason   string // skips only
	Status   string // decisions only
	Limit    int    // 0 = default 200
	Offset   int
}

const (
	defaultRunLimit = 50
	defaultRowLimit = 200
)
