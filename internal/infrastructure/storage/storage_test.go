package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, &Run{
		ID:        "run-1",
		Trigger:   "cli",
		DryRun:    true,
		Flows:     []string{"deposit", "withdrawal"},
		StartedAt: started,
		Holders:   2,
	}))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.True(t, got.DryRun)
	assert.Equal(t, []string{"deposit", "withdrawal"}, got.Flows)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)

	completed := started.Add(time.Minute)
	require.NoError(t, store.CompleteRun(ctx, &Run{
		ID:          "run-1",
		Status:      RunStatusCompleted,
		CompletedAt: &completed,
		Holders:     2,
		Considered:  10,
		Matched:     4,
		Committed:   4,
		Skipped:     6,
	}))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
	assert.Equal(t, 10, got.Considered)
	assert.Equal(t, 4, got.Matched)
	assert.Equal(t, 6, got.Skipped)
}

func TestStorage_GetRun_NotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetRun(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_CompleteRun_Unknown(t *testing.T) {
	store := newTestStorage(t)

	err := store.CompleteRun(context.Background(), &Run{ID: "missing", Status: RunStatusCompleted})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_ListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StartRun(ctx, &Run{ID: id, Trigger: "cli", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	completed := base.Add(3 * time.Hour)
	require.NoError(t, store.CompleteRun(ctx, &Run{ID: "b", Status: RunStatusCancelled, CompletedAt: &completed}))

	runs, err := store.ListRuns(ctx, RunFilters{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	cancelled, err := store.ListRuns(ctx, RunFilters{Status: RunStatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "b", cancelled[0].ID)

	limited, err := store.ListRuns(ctx, RunFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].ID)
}

func TestStorage_DecisionsAndSkips(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	require.NoError(t, store.StartRun(ctx, &Run{ID: "run-1", StartedAt: time.Now()}))

	decisions := []*DecisionRecord{
		{RunID: "run-1", HolderID: 1, Flow: "deposit", Action: "link", PlatformID: 10, BankID: 100, Status: "committed", Payload: `{}`, RecordedAt: time.Now()},
		{RunID: "run-1", HolderID: 2, Flow: "fee_inference", Action: "create_and_link", BankID: 200, Status: "failed", Error: "boom", Payload: `{}`, RecordedAt: time.Now()},
	}
	require.NoError(t, store.SaveDecisions(ctx, decisions))
	assert.NotZero(t, decisions[0].ID)

	require.NoError(t, store.SaveSkips(ctx, []*SkipRecord{
		{RunID: "run-1", HolderID: 1, Flow: "deposit", Kind: "platform", RecordID: 11, Reason: "no_match"},
		{RunID: "run-1", HolderID: 1, Flow: "deposit", Kind: "platform", RecordID: 12, Reason: "no_match"},
		{RunID: "run-1", HolderID: 2, Flow: "reclass", Kind: "holder", RecordID: 2, Reason: "no_default_paypal"},
	}))

	all, err := store.ListDecisions(ctx, "run-1", RowFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(100), all[0].BankID)

	failed, err := store.ListDecisions(ctx, "run-1", RowFilters{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)

	holderSkips, err := store.ListSkips(ctx, "run-1", RowFilters{HolderID: 1})
	require.NoError(t, err)
	assert.Len(t, holderSkips, 2)

	summary, err := store.SkipSummary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"no_match": 2, "no_default_paypal": 1}, summary)
}

func TestStorage_SaveDecisions_UnknownRun(t *testing.T) {
	store := newTestStorage(t)

	err := store.SaveDecisions(context.Background(), []*DecisionRecord{
		{RunID: "nope", HolderID: 1, Flow: "deposit", Action: "link", BankID: 1, Status: "committed", Payload: `{}`, RecordedAt: time.Now()},
	})

	assert.Error(t, err, "foreign key must reject rows for unknown runs")
}

func TestStorage_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.StartRun(ctx, &Run{ID: "run-1", StartedAt: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := NewStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetRun(ctx, "run-1")
	assert.NoError(t, err)
}

func TestMockRepository_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMockRepository()
	require.NoError(t, m.StartRun(ctx, &Run{ID: "r", StartedAt: time.Now()}))
	require.NoError(t, m.SaveSkips(ctx, []*SkipRecord{
		{RunID: "r", HolderID: 1, Reason: "no_match"},
		{RunID: "r", HolderID: 2, Reason: "ambiguous"},
		{RunID: "other", HolderID: 1, Reason: "no_match"},
	}))

	skips, err := m.ListSkips(ctx, "r", RowFilters{Reason: "no_match"})
	require.NoError(t, err)
	assert.Len(t, skips, 1)

	summary, err := m.SkipSummary(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"no_match": 1, "ambiguous": 1}, summary)

	_, err = m.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockRepository_CompleteRunKeepsStartFields(t *testing.T) {
	ctx := context.Background()
	m := NewMockRepository()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.StartRun(ctx, &Run{
		ID: "run-1", Trigger: "api", DryRun: true, Flows: []string{"deposit"}, StartedAt: started,
	}))

	completed := started.Add(time.Minute)
	require.NoError(t, m.CompleteRun(ctx, &Run{
		ID: "run-1", Status: RunStatusCompleted, CompletedAt: &completed, Matched: 3,
	}))

	got, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Trigger)
	assert.True(t, got.DryRun)
	assert.Equal(t, []string{"deposit"}, got.Flows)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Matched)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
}
