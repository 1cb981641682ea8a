package dto

import "time"

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	ActiveJob string `json:"active_job,omitempty"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RunResponse is a stored run.
type RunResponse struct {
	ID           string   `json:"id"`
	Trigger      string   `json:"trigger"`
	DryRun       bool     `json:"dry_run"`
	Flows        []string `json:"flows"`
	Status       string   `json:"status"`
	StartedAt    string   `json:"started_at"`
	CompletedAt  string   `json:"completed_at,omitempty"`
	Holders      int      `json:"holders"`
	Considered   int      `json:"considered"`
	Matched      int      `json:"matched"`
	Committed    int      `json:"committed"`
	Created      int      `json:"created"`
	Ambiguous    int      `json:"ambiguous"`
	Skipped      int      `json:"skipped"`
	WriteErrors  int      `json:"write_errors"`
	HolderErrors int      `json:"holder_errors"`
	Error        string   `json:"error,omitempty"`
}

// RunListResponse is returned when listing runs.
type RunListResponse struct {
	Runs   []RunResponse `json:"runs"`
	Count  int           `json:"count"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// DecisionResponse is one stored decision. Payload is the decision as the
// engine produced it.
type DecisionResponse struct {
	ID         int64  `json:"id"`
	HolderID   int64  `json:"holder_id"`
	Flow       string `json:"flow"`
	Action     string `json:"action"`
	PlatformID int64  `json:"platform_id,omitempty"`
	BankID     int64  `json:"bank_id"`
	Ambiguous  bool   `json:"ambiguous"`
	Status     string `json:"status"`
	CreatedID  int64  `json:"created_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Payload    any    `json:"payload,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// DecisionListResponse is returned when listing a run's decisions.
type DecisionListResponse struct {
	RunID     string             `json:"run_id"`
	Decisions []DecisionResponse `json:"decisions"`
	Count     int                `json:"count"`
}

// SkipResponse is one stored skip.
type SkipResponse struct {
	HolderID int64  `json:"holder_id"`
	Flow     string `json:"flow,omitempty"`
	Kind     string `json:"kind"`
	RecordID int64  `json:"record_id,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// SkipListResponse is returned when listing a run's skips.
type SkipListResponse struct {
	RunID string         `json:"run_id"`
	Skips []SkipResponse `json:"skips"`
	Count int            `json:"count"`
}

// SkipSummaryResponse counts a run's skips by reason.
type SkipSummaryResponse struct {
	RunID   string         `json:"run_id"`
	Reasons map[string]int `json:"reasons"`
	Total   int            `json:"total"`
}
