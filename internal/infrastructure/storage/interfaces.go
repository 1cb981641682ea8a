package storage

import "context"

// Repository defines the complete storage interface.
// This interface allows swapping implementations and makes testing with
// mocks straightforward.
type Repository interface {
	RunRepository
	DecisionRepository
	SkipRepository
	Close() error
}

// RunRepository handles run tracking
type RunRepository interface {
	// StartRun records the start of a run. run.ID must be set.
	StartRun(ctx context.Context, run *Run) error

	// CompleteRun stores the final counters and status of a run.
	CompleteRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs, newest first.
	ListRuns(ctx context.Context, filters RunFilters) ([]*Run, error)
}

// DecisionRepository handles per-decision audit rows
type DecisionRepository interface {
	SaveDecisions(ctx context.Context, decisions []*DecisionRecord) error
	ListDecisions(ctx context.Context, runID string, filters RowFilters) ([]*DecisionRecord, error)
}

// SkipRepository handles skip audit rows
type SkipRepository interface {
	SaveSkips(ctx context.Context, skips []*SkipRecord) error
	ListSkips(ctx context.Context, runID string, filters RowFilters) ([]*SkipRecord, error)

	// SkipSummary counts a run's skips by reason.
	SkipSummary(ctx context.Context, runID string) (map[string]int, error)
}
