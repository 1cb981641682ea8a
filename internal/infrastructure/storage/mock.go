package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It is safe for concurrent use.
type MockRepository struct {
	mu        sync.Mutex
	runs      map[string]*Run
	decisions []*DecisionRecord
	skips     []*SkipRecord
	nextID    int64

	// Hooks for test assertions
	StartRunCalled    bool
	CompleteRunCalled bool
	LastCompletedRun  *Run

	// Error injection for testing error paths
	StartRunErr      error
	CompleteRunErr   error
	SaveDecisionsErr error
	SaveSkipsErr     error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		runs:   make(map[string]*Run),
		nextID: 1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) StartRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartRunCalled = true
	if m.StartRunErr != nil {
		return m.StartRunErr
	}
	copied := *run
	if copied.Status == "" {
		copied.Status = RunStatusRunning
	}
	m.runs[run.ID] = &copied
	return nil
}

func (m *MockRepository) CompleteRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteRunCalled = true
	copied := *run
	m.LastCompletedRun = &copied
	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}
	stored, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	// Same columns as the sqlite UPDATE; trigger, mode, flows and start
	// time stay as StartRun recorded them.
	stored.Status = run.Status
	stored.CompletedAt = run.CompletedAt
	stored.Holders = run.Holders
	stored.Considered = run.Considered
	stored.Matched = run.Matched
	stored.Committed = run.Committed
	stored.Created = run.Created
	stored.Ambiguous = run.Ambiguous
	stored.Skipped = run.Skipped
	stored.WriteErrors = run.WriteErrors
	stored.HolderErrors = run.HolderErrors
	stored.Error = run.Error
	return nil
}

func (m *MockRepository) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	copied := *run
	return &copied, nil
}

func (m *MockRepository) ListRuns(_ context.Context, filters RunFilters) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, run := range m.runs {
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		copied := *run
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, filters.Offset, limitOr(filters.Limit, defaultRunLimit)), nil
}

func (m *MockRepository) SaveDecisions(_ context.Context, decisions []*DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveDecisionsErr != nil {
		return m.SaveDecisionsErr
	}
	for _, d := range decisions {
		copied := *d
		copied.ID = m.nextID
		m.nextID++
		m.decisions = append(m.decisions, &copied)
	}
	return nil
}

func (m *MockRepository) ListDecisions(_ context.Context, runID string, f RowFilters) ([]*DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DecisionRecord
	for _, d := range m.decisions {
		if d.RunID != runID || (f.HolderID != 0 && d.HolderID != f.HolderID) ||
			(f.Flow != "" && d.Flow != f.Flow) || (f.Status != "" && d.Status != f.Status) {
			continue
		}
		copied := *d
		out = append(out, &copied)
	}
	return page(out, f.Offset, limitOr(f.Limit, defaultRowLimit)), nil
}

func (m *MockRepository) SaveSkips(_ context.Context, skips []*SkipRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveSkipsErr != nil {
		return m.SaveSkipsErr
	}
	for _, sk := range skips {
		copied := *sk
		copied.ID = m.nextID
		m.nextID++
		m.skips = append(m.skips, &copied)
	}
	return nil
}

func (m *MockRepository) ListSkips(_ context.Context, runID string, f RowFilters) ([]*SkipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SkipRecord
	for _, sk := range m.skips {
		if sk.RunID != runID || (f.HolderID != 0 && sk.HolderID != f.HolderID) ||
			(f.Flow != "" && sk.Flow != f.Flow) || (f.Reason != "" && sk.Reason != f.Reason) {
			continue
		}
		copied := *sk
		out = append(out, &copied)
	}
	return page(out, f.Offset, limitOr(f.Limit, defaultRowLimit)), nil
}

func (m *MockRepository) SkipSummary(_ context.Context, runID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, sk := range m.skips {
		if sk.RunID == runID {
			out[sk.Reason]++
		}
	}
	return out, nil
}

func page[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit < len(list) {
		list = list[:limit]
	}
	return list
}
