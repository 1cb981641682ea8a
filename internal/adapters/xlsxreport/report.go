// Package xlsxreport renders a reconcile run as a spreadsheet for the
// operations team: one sheet per section of the run summary.
package xlsxreport

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
)

const (
	SheetSummary   = "Summary"
	SheetDecisions = "Decisions"
	SheetSkips     = "Skips"
	SheetErrors    = "Errors"
)

var (
	decisionHeader = []any{
		"Flow", "Holder", "Action", "Status", "Platform ID", "Bank ID", "Bank Key",
		"Platform Amount", "Bank Amount", "Platform Date", "Bank Date", "Days Apart",
		"Keyword", "Evidence", "Ambiguous", "Alternatives", "Reassign To", "Created ID", "Error",
	}
	skipHeader  = []any{"Flow", "Holder", "Kind", "Record ID", "Reason", "Detail"}
	errorHeader = []any{"Holder", "Flow", "Operation", "Platform ID", "Bank ID", "Error"}
)

// Write renders the result as an xlsx workbook.
func Write(w io.Writer, result *reconcile.Result) error {
	f, err := build(result)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Save renders the result to path.
func Save(path string, result *reconcile.Result) error {
	f, err := build(result)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func build(result *reconcile.Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		_ = f.Close()
		return nil, err
	}
	for _, name := range []string{SheetDecisions, SheetSkips, SheetErrors} {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &sheetWriter{f: f, bold: bold}
	w.summary(result)
	w.decisions(result.Outcomes)
	w.skips(result.Skips)
	w.errors(result)
	if w.err != nil {
		_ = f.Close()
		return nil, w.err
	}
	return f, nil
}

// sheetWriter keeps the first error so callers can write rows freely.
type sheetWriter struct {
	f    *excelize.File
	bold int
	err  error
}

func (w *sheetWriter) row(sheet string, n int, values []any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("%s row %d: %w", sheet, n, err)
	}
}

func (w *sheetWriter) header(sheet string, values []any) {
	w.row(sheet, 1, values)
	if w.err != nil {
		return
	}
	if err := w.f.SetRowStyle(sheet, 1, 1, w.bold); err != nil {
		w.err = err
		return
	}
	last, err := excelize.ColumnNumberToName(len(values))
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetColWidth(sheet, "A", last, 14)
}

func (w *sheetWriter) summary(r *reconcile.Result) {
	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	rows := [][]any{
		{"Run ID", r.RunID},
		{"Mode", mode},
		{"Started", r.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Completed", r.CompletedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Cancelled", r.Cancelled},
		{"Holders", r.Holders},
		{"Considered", r.Considered},
		{"Matched", r.Matched},
		{"Committed", r.Committed},
		{"Created", r.Created},
		{"Ambiguous", r.Ambiguous},
		{"Skipped", len(r.Skips)},
		{"Write errors", len(r.WriteErrors)},
		{"Holder errors", len(r.HolderErrors)},
	}
	w.header(SheetSummary, []any{"Field", "Value"})
	n := 2
	for _, row := range rows {
		w.row(SheetSummary, n, row)
		n++
	}

	n++
	w.row(SheetSummary, n, []any{"Flow", "Considered", "Matched", "Created", "Skipped", "Ambiguous", "Write errors"})
	n++
	for _, flow := range reconcile.AllFlows {
		st, ok := r.Flows[flow]
		if !ok {
			continue
		}
		w.row(SheetSummary, n, []any{string(flow), st.Considered, st.Matched, st.Created, st.Skipped, st.Ambiguous, st.WriteErrors})
		n++
	}

	n++
	counts := r.SkipCounts()
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	w.row(SheetSummary, n, []any{"Skip reason", "Count"})
	n++
	for _, reason := range reasons {
		w.row(SheetSummary, n, []any{reason, counts[reconcile.SkipReason(reason)]})
		n++
	}
}

func (w *sheetWriter) decisions(outcomes []reconcile.Outcome) {
	w.header(SheetDecisions, decisionHeader)
	for i, o := range outcomes {
		d := o.Decision
		var evidence, errMsg string
		if d.EvidenceKind != "" {
			evidence = fmt.Sprintf("%s %d", d.EvidenceKind, d.EvidenceID)
		}
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		w.row(SheetDecisions, i+2, []any{
			string(d.Flow), d.HolderID, string(d.Action), string(o.Status), d.PlatformID, d.BankID, d.BankLinkKey,
			d.PlatformAmount, d.BankAmount, d.PlatformDate, d.BankDate, d.DaysApart,
			d.Keyword, evidence, d.Ambiguous, joinInts(d.Alternatives), d.ReassignTo, o.CreatedID, errMsg,
		})
	}
}

func (w *sheetWriter) skips(skips []reconcile.Skip) {
	w.header(SheetSkips, skipHeader)
	for i, s := range skips {
		w.row(SheetSkips, i+2, []any{string(s.Flow), s.HolderID, s.Kind, s.RecordID, string(s.Reason), s.Detail})
	}
}

func (w *sheetWriter) errors(r *reconcile.Result) {
	w.header(SheetErrors, errorHeader)
	n := 2
	for _, he := range r.HolderErrors {
		w.row(SheetErrors, n, []any{he.HolderID, "", "fetch", "", "", he.Err.Error()})
		n++
	}
	for _, we := range r.WriteErrors {
		d := we.Decision
		w.row(SheetErrors, n, []any{d.HolderID, string(d.Flow), we.Op, d.PlatformID, d.BankID, we.Err.Error()})
		n++
	}
}

func joinInts(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
