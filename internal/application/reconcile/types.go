package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// Flow names one matching pass.
type Flow string

const (
	FlowDeposit      Flow = "deposit"
	FlowWithdrawal   Flow = "withdrawal"
	FlowReclass      Flow = "withdrawal_reclass"
	FlowFeeLink      Flow = "fee_link"
	FlowFeeInference Flow = "fee_inference"
	FlowReturned     Flow = "returned"
	FlowReceived     Flow = "received"
)

// AllFlows lists every flow in the order a full run executes them. Later
// flows only see what earlier ones left unlinked.
var AllFlows = []Flow{
	FlowDeposit,
	FlowWithdrawal,
	FlowReclass,
	FlowFeeLink,
	FlowFeeInference,
	FlowReturned,
	FlowReceived,
}

// ParseFlow validates a flow name.
func ParseFlow(s string) (Flow, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range AllFlows {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown flow %q", s)
}

// orderFlows de-duplicates flows and puts them in execution order.
// An empty selection means every flow.
func orderFlows(selected []Flow) []Flow {
	if len(selected) == 0 {
		return AllFlows
	}
	want := make(map[Flow]bool, len(selected))
	for _, f := range selected {
		want[f] = true
	}
	out := make([]Flow, 0, len(want))
	for _, f := range AllFlows {
		if want[f] {
			out = append(out, f)
		}
	}
	return out
}

// Options holds per-run configuration.
type Options struct {
	DryRun    bool
	Flows     []Flow
	HolderIDs []int64  // explicit holders; skips holder listing
	Stages    []string // holder stages to list when HolderIDs is empty
	Workers   int      // overrides Settings.Workers when > 0
	Reporter  Reporter // receives every decision in addition to the result
	Trigger   string   // "cli", "api", "schedule"
}

// Action is what a decision commits.
type Action string

const (
	ActionLink            Action = "link"
	ActionReassignAndLink Action = "reassign_and_link"
	ActionCreateAndLink   Action = "create_and_link"
	ActionCompleteLink    Action = "complete_link"
)

// Decision is one prospective mutation. It is built before anything is
// written and is identical in dry-run and live mode.
type Decision struct {
	Flow           Flow                    `json:"flow"`
	HolderID       int64                   `json:"holder_id"`
	Action         Action                  `json:"action"`
	PlatformID     int64                   `json:"platform_id,omitempty"`
	BankID         int64                   `json:"bank_id"`
	BankLinkKey    string                  `json:"bank_link_key"`
	EvidenceKind   records.CounterpartKind `json:"evidence_kind,omitempty"`
	EvidenceID     int64                   `json:"evidence_id,omitempty"`
	PlatformAmount string                  `json:"platform_amount,omitempty"`
	BankAmount     string                  `json:"bank_amount"`
	PlatformDate   string                  `json:"platform_date,omitempty"`
	BankDate       string                  `json:"bank_date"`
	DaysApart      int                     `json:"days_apart"`
	Keyword        string                  `json:"keyword,omitempty"`
	Checks         []matcher.Check         `json:"checks"`
	Ambiguous      bool                    `json:"ambiguous,omitempty"`
	Alternatives   []int64                 `json:"alternatives,omitempty"`
	ReassignTo     int64                   `json:"reassign_to,omitempty"`
	Create         *records.CreatePayload  `json:"create,omitempty"`
	WritePlatform  bool                    `json:"write_platform_link"`
	WriteBank      bool                    `json:"write_bank_link"`
}

// OutcomeStatus is what happened to a decision.
type OutcomeStatus string

const (
	StatusCommitted OutcomeStatus = "committed"
	StatusDryRun    OutcomeStatus = "dry_run"
	StatusFailed    OutcomeStatus = "failed"
)

// Outcome pairs a decision with the result of committing it.
type Outcome struct {
	Decision  Decision
	Status    OutcomeStatus
	CreatedID int64
	Err       error
}

// SkipReason explains why a record or holder was not matched.
type SkipReason string

const (
	SkipInvalidDate        SkipReason = records.ReasonInvalidDate
	SkipMissingBankAccount SkipReason = records.ReasonMissingBankAccount
	SkipNoCandidates       SkipReason = "no_candidates"
	SkipNoMatch            SkipReason = "no_match"
	SkipAmbiguous          SkipReason = "ambiguous"
	SkipUnmappedAccount    SkipReason = "unmapped_account"
	SkipNoDefaultPayPal    SkipReason = "no_default_paypal"
	SkipNoKeywords         SkipReason = "no_keywords"
	SkipTooRecent          SkipReason = "too_recent"
	SkipUnknownDirection   SkipReason = "unknown_direction"
)

// Skip is a non-fatal, per-record or per-holder condition.
type Skip struct {
	HolderID int64      `json:"holder_id"`
	Flow     Flow       `json:"flow,omitempty"`
	Kind     string     `json:"kind"`
	RecordID int64      `json:"record_id,omitempty"`
	Reason   SkipReason `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
}

// WriteError is a decision whose create or link call failed. It is
// reported separately from skips.
type WriteError struct {
	Decision Decision
	Op       string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s for holder %d (platform %d, bank %d): %v",
		e.Decision.Flow, e.Op, e.Decision.HolderID, e.Decision.PlatformID, e.Decision.BankID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// HolderError is a fetch failure that aborted one holder.
type HolderError struct {
	HolderID int64
	Err      error
}

func (e *HolderError) Error() string {
	return fmt.Sprintf("holder %d: %v", e.HolderID, e.Err)
}

func (e *HolderError) Unwrap() error { return e.Err }

// ErrNoHolders is returned when holder selection yields nobody.
var ErrNoHolders = errors.New("no holders to reconcile")

// FlowStats are per-flow counters.
type FlowStats struct {
	Considered  int `json:"considered"`
	Matched     int `json:"matched"`
	Created     int `json:"created"`
	Skipped     int `json:"skipped"`
	Ambiguous   int `json:"ambiguous"`
	WriteErrors int `json:"write_errors"`
}

// Result is the audit summary of a run.
type Result struct {
	RunID       string
	DryRun      bool
	StartedAt   time.Time
	CompletedAt time.Time
	Holders     int
	Cancelled   bool

	Considered int
	Matched    int // decisions made, committed or would-commit
	Committed  int // decisions whose writes all succeeded (or would, in dry-run)
	Created    int
	Ambiguous  int

	Decisions    []Decision
	Outcomes     []Outcome
	Skips        []Skip
	WriteErrors  []*WriteError
	HolderErrors []*HolderError
	Flows        map[Flow]*FlowStats
}

// SkipCounts groups skips by reason.
func (r *Result) SkipCounts() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, s := range r.Skips {
		out[s.Reason]++
	}
	return out
}

func (r *Result) flow(f Flow) *FlowStats {
	if r.Flows == nil {
		r.Flows = make(map[Flow]*FlowStats)
	}
	st, ok := r.Flows[f]
	if !ok {
		st = &FlowStats{}
		r.Flows[f] = st
	}
	return st
}
