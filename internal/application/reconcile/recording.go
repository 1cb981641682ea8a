package reconcile

import (
	"context"
	"encoding/json"

	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// Audit persistence is best effort: a failing store is logged and never
// changes the outcome of the run.

func (o *Orchestrator) startRun(ctx context.Context, result *Result, flows []Flow, opts Options) {
	if o.store == nil {
		return
	}
	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = string(f)
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "cli"
	}
	err := o.store.StartRun(context.WithoutCancel(ctx), &storage.Run{
		ID:        result.RunID,
		Trigger:   trigger,
		DryRun:    result.DryRun,
		Flows:     names,
		StartedAt: result.StartedAt,
		Holders:   result.Holders,
	})
	if err != nil {
		o.logger.Warn("Failed to record run start", "run_id", result.RunID, "error", err)
	}
}

func (o *Orchestrator) recordHolder(ctx context.Context, runID string, hr *holderResult) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	decisions := make([]*storage.DecisionRecord, 0, len(hr.Outcomes))
	for _, out := range hr.Outcomes {
		d := out.Decision
		payload, err := json.Marshal(d)
		if err != nil {
			o.logger.Warn("Failed to encode decision", "bank_id", d.BankID, "error", err)
			continue
		}
		rec := &storage.DecisionRecord{
			RunID:      runID,
			HolderID:   d.HolderID,
			Flow:       string(d.Flow),
			Action:     string(d.Action),
			PlatformID: d.PlatformID,
			BankID:     d.BankID,
			Ambiguous:  d.Ambiguous,
			Status:     string(out.Status),
			CreatedID:  out.CreatedID,
			Payload:    string(payload),
			RecordedAt: now,
		}
		if out.Err != nil {
			rec.Error = out.Err.Error()
		}
		decisions = append(decisions, rec)
	}
	if err := o.store.SaveDecisions(ctx, decisions); err != nil {
		o.logger.Warn("Failed to record decisions", "holder", hr.HolderID, "error", err)
	}

	skips := make([]*storage.SkipRecord, len(hr.Skips))
	for i, s := range hr.Skips {
		skips[i] = &storage.SkipRecord{
			RunID:    runID,
			HolderID: s.HolderID,
			Flow:     string(s.Flow),
			Kind:     s.Kind,
			RecordID: s.RecordID,
			Reason:   string(s.Reason),
			Detail:   s.Detail,
		}
	}
	if err := o.store.SaveSkips(ctx, skips); err != nil {
		o.logger.Warn("Failed to record skips", "holder", hr.HolderID, "error", err)
	}
}

func (o *Orchestrator) completeRun(ctx context.Context, result *Result) {
	if o.store == nil {
		return
	}
	completed := result.CompletedAt
	run := &storage.Run{
		ID:           result.RunID,
		Status:       runStatus(result),
		CompletedAt:  &completed,
		Holders:      result.Holders,
		Considered:   result.Considered,
		Matched:      result.Matched,
		Committed:    result.Committed,
		Created:      result.Created,
		Ambiguous:    result.Ambiguous,
		Skipped:      len(result.Skips),
		WriteErrors:  len(result.WriteErrors),
		HolderErrors: len(result.HolderErrors),
	}
	if len(result.HolderErrors) > 0 {
		run.Error = result.HolderErrors[0].Error()
	}
	if err := o.store.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Warn("Failed to record run completion", "run_id", result.RunID, "error", err)
	}
}

func runStatus(result *Result) string {
	switch {
	case result.Cancelled:
		return storage.RunStatusCancelled
	case len(result.HolderErrors) == result.Holders && result.Holders > 0:
		return storage.RunStatusFailed
	case len(result.HolderErrors) > 0 || len(result.WriteErrors) > 0:
		return storage.RunStatusCompletedWithErrors
	default:
		return storage.RunStatusCompleted
	}
}
