package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/eshaffer321/ledger-reconciler/internal/adapters/xlsxreport"
	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
)

// Run executes one reconciliation in the foreground and prints its summary.
// ctx is cancelled by the caller on SIGINT; the run then finishes the
// decision in flight and reports what it did.
func Run(ctx context.Context, rt *Runtime, flags RunFlagValues, out io.Writer) (*reconcile.Result, error) {
	opts := flags.Options

	if flags.JSONLPath != "" {
		w, closeFn, err := openOutput(flags.JSONLPath, out)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		opts.Reporter = reconcile.NewJSONLinesReporter(w)
	}

	PrintHeader(out, opts)

	result, err := rt.Orchestrator.Run(ctx, opts)
	if err != nil {
		return nil, err
	}

	PrintSummary(out, result)

	if flags.ReportPath != "" {
		if err := xlsxreport.Save(flags.ReportPath, result); err != nil {
			return result, err
		}
		fmt.Fprintf(out, "\nReport written to %s\n", flags.ReportPath)
	}
	return result, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
