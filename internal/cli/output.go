package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// PrintHeader prints the run banner.
func PrintHeader(w io.Writer, opts reconcile.Options) {
	mode := "LIVE"
	if opts.DryRun {
		mode = "DRY-RUN"
	}
	flows := "all flows"
	if len(opts.Flows) > 0 {
		names := make([]string, len(opts.Flows))
		for i, f := range opts.Flows {
			names[i] = string(f)
		}
		flows = strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "reconcile: %s (%s mode)\n\n", flows, mode)
}

// PrintSummary prints the audit summary of a run.
func PrintSummary(w io.Writer, result *reconcile.Result) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Run %s: holders=%d considered=%d matched=%d committed=%d created=%d ambiguous=%d\n",
		result.RunID, result.Holders, result.Considered, result.Matched,
		result.Committed, result.Created, result.Ambiguous)

	if len(result.Flows) > 0 {
		fmt.Fprintln(w, "\nBy flow:")
		for _, f := range reconcile.AllFlows {
			st, ok := result.Flows[f]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %-20s considered=%d matched=%d created=%d skipped=%d ambiguous=%d write_errors=%d\n",
				f, st.Considered, st.Matched, st.Created, st.Skipped, st.Ambiguous, st.WriteErrors)
		}
	}

	if counts := result.SkipCounts(); len(counts) > 0 {
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		fmt.Fprintln(w, "\nSkips:")
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-24s %d\n", r, counts[reconcile.SkipReason(r)])
		}
	}

	if len(result.WriteErrors) > 0 {
		fmt.Fprintln(w, "\nWrite errors:")
		for _, err := range result.WriteErrors {
			fmt.Fprintf(w, "  - %v\n", err)
		}
	}
	if len(result.HolderErrors) > 0 {
		fmt.Fprintln(w, "\nHolder errors:")
		for _, err := range result.HolderErrors {
			fmt.Fprintf(w, "  - %v\n", err)
		}
	}

	switch {
	case result.Cancelled:
		fmt.Fprintln(w, "\nRun cancelled; remaining holders were not processed.")
	case result.DryRun && result.Matched > 0:
		fmt.Fprintln(w, "\nDry run: nothing was written. Re-run without --dry-run to commit.")
	}
}

// PrintRuns prints stored runs as a table.
func PrintRuns(w io.Writer, runs []*storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-8s  %-22s  %7s  %9s  %7s  %6s\n",
		"ID", "STARTED", "TRIGGER", "STATUS", "MATCHED", "COMMITTED", "SKIPPED", "ERRORS")
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry)"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-8s  %-22s  %7d  %9d  %7d  %6d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Trigger, status,
			r.Matched, r.Committed, r.Skipped, r.WriteErrors+r.HolderErrors)
	}
}
