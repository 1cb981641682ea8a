package dto

// StartRunResponse is returned when a run is started.
type StartRunResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse represents a background run's status.
type JobResponse struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Trigger     string          `json:"trigger"`
	DryRun      bool            `json:"dry_run"`
	Flows       []string        `json:"flows,omitempty"`
	StartedAt   string          `json:"started_at"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	Result      *JobResultBrief `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// JobResultBrief is the summary of a finished run.
type JobResultBrief struct {
	RunID        string         `json:"run_id"`
	Holders      int            `json:"holders"`
	Considered   int            `json:"considered"`
	Matched      int            `json:"matched"`
	Committed    int            `json:"committed"`
	Created      int            `json:"created"`
	Ambiguous    int            `json:"ambiguous"`
	Skipped      int            `json:"skipped"`
	SkipReasons  map[string]int `json:"skip_reasons,omitempty"`
	WriteErrors  int            `json:"write_errors"`
	HolderErrors int            `json:"holder_errors"`
	Cancelled    bool           `json:"cancelled"`
}

// JobListResponse lists background runs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// MessageResponse is a generic message response.
type MessageResponse struct {
	Message string `json:"message"`
}
