package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/candidates"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// candidateMatch is a bank candidate that satisfied a rule.
type candidateMatch struct {
	c   *records.Counterpart
	res matcher.Result
}

type selectionResult struct {
	chosen     *candidateMatch
	qualifying []candidateMatch
}

func (s selectionResult) ambiguous() bool { return len(s.qualifying) > 1 }

// selectCandidate walks pool in traversal order and applies the selection
// mode. Candidates consumed earlier in the run are ignored.
func selectCandidate(mode selection, rule matcher.Rule, p *records.Platform, pool []*records.Counterpart, env matcher.Env) selectionResult {
	var out selectionResult
	for _, c := range pool {
		if c.Bank != nil && c.Bank.Linked() {
			continue
		}
		res := rule.Evaluate(p, c, env)
		if !res.Matched() {
			continue
		}
		out.qualifying = append(out.qualifying, candidateMatch{c: c, res: res})
		if mode == selectFirst {
			break
		}
	}
	if len(out.qualifying) == 0 {
		return out
	}

	switch mode {
	case selectUnique:
		if out.ambiguous() {
			return out
		}
		out.chosen = &out.qualifying[0]
	case selectExactDay:
		best := 0
		for i := 1; i < len(out.qualifying); i++ {
			if out.qualifying[i].res.DaysApart < out.qualifying[best].res.DaysApart {
				best = i
			}
		}
		out.chosen = &out.qualifying[best]
	default:
		out.chosen = &out.qualifying[0]
	}
	return out
}

// runFlow is the platform-driven traversal shared by every flow except
// fee inference.
func (h *holderRun) runFlow(ctx context.Context, spec flowSpec) error {
	stats := h.res.flow(spec.flow)

	plats, excluded := candidates.Platform(h.platform, h.holderID, spec.platform, spec.side)
	h.excluded(spec.flow, excluded)
	stats.Considered += len(plats)
	for _, p := range plats {
		h.consider("platform", p.Record.ID)
	}
	if len(plats) == 0 {
		h.skip(spec.flow, "holder", h.holderID, SkipNoCandidates, fmt.Sprintf("no unlinked %s records", spec.platform))
		return nil
	}

	// Repair reads the bank feed, so it only runs when the flow has
	// candidates of its own.
	if spec.repair {
		if err := h.repairLinks(ctx, spec); err != nil {
			return err
		}
	}

	if spec.prepare != nil {
		reason, err := spec.prepare(ctx, h)
		if err != nil {
			return err
		}
		if reason != "" {
			h.skip(spec.flow, "holder", h.holderID, reason, "")
			return nil
		}
	}
	if err := h.banks(ctx); err != nil {
		return err
	}

	var keep func(*records.Counterpart) bool
	if spec.keep != nil {
		keep = func(c *records.Counterpart) bool { return spec.keep(h, c) }
	}
	pool := h.bankPool(keep)

	env := matcher.Env{Keywords: h.o.index, Accounts: h.accountMap}
	if spec.evidence != nil {
		env.Corroborator = spec.evidence(h)
	}

	for _, p := range plats {
		if err := ctx.Err(); err != nil {
			return err
		}

		rule, reason := spec.rule(h, p)
		if reason != "" {
			h.skip(spec.flow, "platform", p.Record.ID, reason, "")
			continue
		}

		sel := selectCandidate(spec.selection, rule, p, pool, env)
		if sel.chosen == nil {
			if sel.ambiguous() {
				stats.Ambiguous++
				h.skip(spec.flow, "platform", p.Record.ID, SkipAmbiguous,
					fmt.Sprintf("%d bank records qualify: %s", len(sel.qualifying), joinIDs(sel.qualifying)))
				continue
			}
			h.skip(spec.flow, "platform", p.Record.ID, SkipNoMatch, "")
			continue
		}

		d := h.decide(spec, p, sel)
		h.apply(ctx, d, p.Record, sel.chosen.c.Bank, sel.chosen.res.Evidence)
	}
	return nil
}

// repairLinks finds platform records that already name a bank record the
// bank feed still shows as unlinked, and completes the bank side.
func (h *holderRun) repairLinks(ctx context.Context, spec flowSpec) error {
	var linked []*records.PlatformRecord
	for i := range h.platform {
		rec := &h.platform[i]
		if !rec.Linked() || rec.Link.ID == 0 || !strings.EqualFold(string(rec.Type), string(spec.platform)) {
			continue
		}
		if rec.HolderID != 0 && rec.HolderID != h.holderID {
			continue
		}
		linked = append(linked, rec)
	}
	if len(linked) == 0 {
		return nil
	}
	if err := h.banks(ctx); err != nil {
		return err
	}

	for _, rec := range linked {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := h.findBank(rec.Link.ID)
		if b == nil || b.Linked() {
			continue
		}

		d := Decision{
			Flow:           spec.flow,
			HolderID:       h.holderID,
			Action:         ActionCompleteLink,
			PlatformID:     rec.ID,
			BankID:         b.ID,
			BankLinkKey:    b.LinkKey(),
			PlatformAmount: records.RoundAmount(rec.Amount).StringFixed(2),
			BankAmount:     records.RoundAmount(b.Amount).StringFixed(2),
			PlatformDate:   normalizedDate(rec.Date),
			BankDate:       normalizedDate(b.Date),
			WriteBank:      true,
		}
		h.apply(ctx, d, rec, b, nil)
	}
	return nil
}

// runFeeInference walks the unlinked bank records and proposes a fee
// record for every small fee-like line on a mapped account.
func (h *holderRun) runFeeInference(ctx context.Context) error {
	f := FlowFeeInference
	stats := h.res.flow(f)
	s := h.o.settings

	if err := h.banks(ctx); err != nil {
		return err
	}
	if err := h.loadAccounts(ctx); err != nil {
		return err
	}

	pool := h.bankPool(nil)
	stats.Considered += len(pool)
	for _, c := range pool {
		h.consider("bank", c.ID)
	}
	if len(pool) == 0 {
		h.skip(f, "holder", h.holderID, SkipNoCandidates, "no unlinked bank records")
		return nil
	}

	env := matcher.Env{Accounts: h.accountMap}
	for _, c := range pool {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Bank.Linked() {
			continue
		}

		outgoing := c.Amount.IsPositive()
		patterns := s.FeeIncomingPatterns
		if outgoing {
			patterns = s.FeeOutgoingPatterns
		}

		res := matcher.FeeInference(patterns).Evaluate(nil, c, env)
		if !res.Matched() {
			// Only a fee line we cannot attribute is worth reporting.
			if len(res.Failed) == 1 && res.Failed[0] == matcher.CheckAccount {
				h.skip(f, string(records.KindBank), c.ID, SkipUnmappedAccount,
					fmt.Sprintf("bank account %d has no holder account", c.BankAccountID))
			}
			continue
		}

		holderAccount := h.accountMap[c.BankAccountID]
		payload := &records.CreatePayload{
			Type:     records.TypeFees,
			Amount:   c.Amount.Abs(),
			Date:     records.FormatDate(c.Date),
			HolderID: h.holderID,
			AddedBy:  s.EditorID,
			Status:   FeeStatusCompleted,
		}
		if outgoing {
			payload.FromAccountID, payload.ToAccountID = holderAccount, s.FeesAccountID
		} else {
			payload.FromAccountID, payload.ToAccountID = s.FeesAccountID, holderAccount
		}

		d := Decision{
			Flow:          f,
			HolderID:      h.holderID,
			Action:        ActionCreateAndLink,
			BankID:        c.ID,
			BankLinkKey:   c.Bank.LinkKey(),
			BankAmount:    c.Amount.StringFixed(2),
			BankDate:      records.FormatDate(c.Date),
			Keyword:       res.Keyword,
			Checks:        res.Passed,
			Create:        payload,
			WritePlatform: true,
			WriteBank:     true,
		}
		h.apply(ctx, d, nil, c.Bank, nil)
	}
	return nil
}

func (h *holderRun) decide(spec flowSpec, p *records.Platform, sel selectionResult) Decision {
	m := sel.chosen
	d := Decision{
		Flow:           spec.flow,
		HolderID:       h.holderID,
		Action:         spec.action,
		PlatformID:     p.Record.ID,
		BankID:         m.c.ID,
		BankLinkKey:    m.c.Bank.LinkKey(),
		PlatformAmount: p.Amount.StringFixed(2),
		BankAmount:     m.c.Amount.StringFixed(2),
		PlatformDate:   records.FormatDate(p.Date),
		BankDate:       records.FormatDate(m.c.Date),
		DaysApart:      m.res.DaysApart,
		Keyword:        m.res.Keyword,
		Checks:         m.res.Passed,
		WritePlatform:  !p.Record.Linked(),
		WriteBank:      !m.c.Bank.Linked(),
	}
	if ev := m.res.Evidence; ev != nil {
		d.EvidenceKind = ev.Kind
		d.EvidenceID = ev.ID
	}
	if spec.selection == selectFirstFlagged && sel.ambiguous() {
		d.Ambiguous = true
		for _, q := range sel.qualifying[1:] {
			d.Alternatives = append(d.Alternatives, q.c.ID)
		}
	}
	if spec.action == ActionReassignAndLink {
		d.ReassignTo = h.defaultPayPal().ID
	}
	return d
}

// apply records the decision, consumes both sides in the working set and
// commits it.
func (h *holderRun) apply(ctx context.Context, d Decision, p *records.PlatformRecord, b *records.BankRecord, evidence *records.Counterpart) {
	st := h.res.flow(d.Flow)
	st.Matched++
	if d.Ambiguous {
		st.Ambiguous++
	}
	if d.Create != nil {
		st.Created++
	}
	if r := h.opts.Reporter; r != nil {
		if err := r.Report(d); err != nil {
			h.logger.Warn("Failed to report decision", "flow", d.Flow, "bank_id", d.BankID, "error", err)
		}
	}

	h.consume(p, b)
	if evidence != nil && evidence.Kind == records.KindPayment {
		h.usedPayments[evidence.ID] = true
	}

	out := h.commit(ctx, d)
	if out.Status == StatusFailed {
		st.WriteErrors++
	}
	h.res.Outcomes = append(h.res.Outcomes, out)
}

// commit performs the decision's writes in order and stops at the first
// failure. Once started, a decision is finished even if ctx is cancelled.
func (h *holderRun) commit(ctx context.Context, d Decision) Outcome {
	out := Outcome{Decision: d}
	if h.opts.DryRun {
		h.logger.Info("[DRY RUN] Would "+DescribeDecision(d), decisionAttrs(d)...)
		out.Status = StatusDryRun
		return out
	}

	wctx := context.WithoutCancel(ctx)
	ledger := h.o.ledger
	editor := h.o.settings.EditorID
	platformID := d.PlatformID

	switch d.Action {
	case ActionReassignAndLink:
		if err := ledger.ReassignDestination(wctx, d.PlatformID, d.ReassignTo, editor); err != nil {
			return h.failed(out, "reassign", err)
		}
	case ActionCreateAndLink:
		created, err := ledger.CreatePlatformRecord(wctx, *d.Create)
		if err == nil && (created == nil || created.ID == 0) {
			err = errors.New("ledger returned no id for the created record")
		}
		if err != nil {
			return h.failed(out, "create", err)
		}
		platformID = created.ID
		out.CreatedID = created.ID
	}

	if d.WritePlatform {
		if err := ledger.LinkPlatformRecord(wctx, platformID, d.BankID); err != nil {
			return h.failed(out, "link_platform", err)
		}
	}
	if d.WriteBank {
		if err := ledger.LinkBankRecord(wctx, d.BankLinkKey, platformID, editor); err != nil {
			return h.failed(out, "link_bank", err)
		}
	}

	out.Status = StatusCommitted
	h.logger.Info("Committed "+DescribeDecision(d), append(decisionAttrs(d), "created_id", out.CreatedID)...)
	return out
}

func (h *holderRun) failed(out Outcome, op string, err error) Outcome {
	out.Status = StatusFailed
	out.Err = &WriteError{Decision: out.Decision, Op: op, Err: err}
	h.logger.Error("Write failed", append(decisionAttrs(out.Decision), "op", op, "error", err)...)
	return out
}

// DescribeDecision renders a decision as a short imperative phrase.
func DescribeDecision(d Decision) string {
	switch d.Action {
	case ActionReassignAndLink:
		return fmt.Sprintf("reassign platform %d to account %d and link bank %d", d.PlatformID, d.ReassignTo, d.BankID)
	case ActionCreateAndLink:
		if d.Create == nil {
			return fmt.Sprintf("create a fee record and link bank %d", d.BankID)
		}
		return fmt.Sprintf("create fee record %s (%d -> %d) and link bank %d",
			d.Create.Amount.StringFixed(2), d.Create.FromAccountID, d.Create.ToAccountID, d.BankID)
	case ActionCompleteLink:
		return fmt.Sprintf("complete link of bank %d to platform %d", d.BankID, d.PlatformID)
	default:
		return fmt.Sprintf("link platform %d to bank %d", d.PlatformID, d.BankID)
	}
}

func decisionAttrs(d Decision) []any {
	attrs := []any{"flow", d.Flow, "action", d.Action, "bank_id", d.BankID, "bank_amount", d.BankAmount}
	if d.PlatformID != 0 {
		attrs = append(attrs, "platform_id", d.PlatformID)
	}
	if d.Ambiguous {
		attrs = append(attrs, "ambiguous", true, "alternatives", d.Alternatives)
	}
	return attrs
}

func joinIDs(ms []candidateMatch) string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = fmt.Sprint(m.c.ID)
	}
	return strings.Join(ids, ",")
}

// normalizedDate renders raw as YYYY-MM-DD when it parses, else verbatim.
func normalizedDate(raw string) string {
	t, err := records.ParseDate(raw)
	if err != nil {
		return raw
	}
	return records.FormatDate(t)
}
