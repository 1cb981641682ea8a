package cli

import (
	"fmt"
	"strconv"
	"strings"

	urfave "github.com/urfave/cli"

	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
)

// RunFlags are the flags of the run command.
var RunFlags = []urfave.Flag{
	urfave.StringSliceFlag{Name: "flow, f", Usage: "flow to run (repeatable; default all)"},
	urfave.StringSliceFlag{Name: "holder", Usage: "holder id to reconcile (repeatable or comma separated)"},
	urfave.StringSliceFlag{Name: "stage", Usage: "holder stage to list when no --holder is given"},
	urfave.BoolFlag{Name: "dry-run, n", Usage: "decide and report without writing to the ledger"},
	urfave.IntFlag{Name: "workers, w", Usage: "holders processed concurrently (default from config)"},
	urfave.StringFlag{Name: "report", Usage: "write an xlsx audit report to this path"},
	urfave.StringFlag{Name: "jsonl", Usage: "stream decisions as JSON lines to this path (- for stdout)"},
	urfave.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
}

// RunFlagValues is what the run command was asked to do.
type RunFlagValues struct {
	Options    reconcile.Options
	ReportPath string
	JSONLPath  string
	Verbose    bool
}

// ParseRunFlags converts command flags into run options.
func ParseRunFlags(c *urfave.Context) (RunFlagValues, error) {
	flows, err := parseFlows(c.StringSlice("flow"))
	if err != nil {
		return RunFlagValues{}, err
	}
	holders, err := parseHolderIDs(c.StringSlice("holder"))
	if err != nil {
		return RunFlagValues{}, err
	}
	if c.Int("workers") < 0 {
		return RunFlagValues{}, fmt.Errorf("--workers must be non-negative")
	}

	return RunFlagValues{
		Options: reconcile.Options{
			DryRun:    c.Bool("dry-run"),
			Flows:     flows,
			HolderIDs: holders,
			Stages:    splitList(c.StringSlice("stage")),
			Workers:   c.Int("workers"),
			Trigger:   "cli",
		},
		ReportPath: c.String("report"),
		JSONLPath:  c.String("jsonl"),
		Verbose:    c.Bool("verbose"),
	}, nil
}

func parseFlows(names []string) ([]reconcile.Flow, error) {
	var flows []reconcile.Flow
	for _, name := range splitList(names) {
		f, err := reconcile.ParseFlow(name)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

func parseHolderIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range splitList(values) {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid holder id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// splitList flattens repeated and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
