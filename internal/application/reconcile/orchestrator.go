// Package reconcile runs the matching flows for each holder and commits
// (or, in dry-run mode, only reports) the resulting links.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/keywords"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// Orchestrator coordinates one run across holders.
type Orchestrator struct {
	source   Source
	ledger   Ledger
	index    *keywords.Index
	settings Settings
	store    storage.Repository // optional audit store
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator. store may be nil.
func NewOrchestrator(source Source, ledger Ledger, index *keywords.Index, settings Settings, store storage.Repository, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if index == nil {
		index = keywords.New(nil)
	}
	return &Orchestrator{
		source:   source,
		ledger:   ledger,
		index:    index,
		settings: settings,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for run timestamps and the
// reclassification age check.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run executes the selected flows for every selected holder.
//
// Holders are processed concurrently up to the worker limit. A fetch
// failure aborts only the affected holder. Cancelling ctx stops new
// holders and new decisions; a decision already being committed is
// finished. The returned error is non-nil only when the run could not
// start at all.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	flows := orderFlows(opts.Flows)

	holders, err := o.resolveHolders(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(holders) == 0 {
		return nil, ErrNoHolders
	}

	result := &Result{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
		Holders:   len(holders),
		Flows:     make(map[Flow]*FlowStats),
	}
	logger := o.logger.With("run_id", result.RunID)
	logger.Info("Starting reconciliation run",
		"holders", len(holders), "flows", flows, "dry_run", opts.DryRun)
	o.startRun(ctx, result, flows, opts)

	workers := opts.Workers
	if workers <= 0 {
		workers = o.settings.Workers
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]*holderResult, len(holders))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range holders {
		if ctx.Err() != nil {
			break
		}
		i, id := i, id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			hr := newHolderRun(o, id, opts).run(ctx, flows)
			if hr.Err != nil {
				logger.Error("Holder aborted", "holder", id, "error", hr.Err)
			}
			o.recordHolder(ctx, result.RunID, hr)
			results[i] = hr
			return nil
		})
	}
	_ = g.Wait()

	merge(result, results)
	if ctx.Err() != nil {
		result.Cancelled = true
	}
	result.CompletedAt = o.now()
	o.completeRun(ctx, result)

	logger.Info("Reconciliation run finished",
		"duration", result.CompletedAt.Sub(result.StartedAt),
		"considered", result.Considered,
		"matched", result.Matched,
		"committed", result.Committed,
		"created", result.Created,
		"ambiguous", result.Ambiguous,
		"skipped", len(result.Skips),
		"write_errors", len(result.WriteErrors),
		"holder_errors", len(result.HolderErrors),
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// resolveHolders returns the de-duplicated holder ids in selection order.
func (o *Orchestrator) resolveHolders(ctx context.Context, opts Options) ([]int64, error) {
	ids := opts.HolderIDs
	if len(ids) == 0 {
		holders, err := o.source.ListHolders(ctx, opts.Stages)
		if err != nil {
			return nil, fmt.Errorf("failed to list holders: %w", err)
		}
		ids = make([]int64, 0, len(holders))
		for _, h := range holders {
			ids = append(ids, h.ID)
		}
	}

	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// merge folds per-holder results into the run result in holder order, so
// the outcome is independent of scheduling.
func merge(result *Result, results []*holderResult) {
	for _, hr := range results {
		if hr == nil {
			result.Cancelled = true
			continue
		}
		if hr.Cancelled {
			result.Cancelled = true
		}
		if hr.Err != nil {
			result.HolderErrors = append(result.HolderErrors, &HolderError{HolderID: hr.HolderID, Err: hr.Err})
		}

		result.Considered += hr.Considered
		for _, out := range hr.Outcomes {
			result.Decisions = append(result.Decisions, out.Decision)
			result.Outcomes = append(result.Outcomes, out)
			result.Matched++
			if out.Decision.Ambiguous {
				result.Ambiguous++
			}
			if out.Status == StatusFailed {
				if we, ok := out.Err.(*WriteError); ok {
					result.WriteErrors = append(result.WriteErrors, we)
				}
				continue
			}
			result.Committed++
			if out.Decision.Create != nil {
				result.Created++
			}
		}
		result.Skips = append(result.Skips, hr.Skips...)

		for f, st := range hr.Flows {
			agg := result.flow(f)
			agg.Considered += st.Considered
			agg.Matched += st.Matched
			agg.Created += st.Created
			agg.Skipped += st.Skipped
			agg.Ambiguous += st.Ambiguous
			agg.WriteErrors += st.WriteErrors
		}
	}
}
