package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/candidates"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// holderRun is the working set for one holder. It owns copies of every
// record fetched for the holder; consuming a candidate marks the copy
// linked so later flows in the same run never see it again. Nothing here
// is shared with other holders.
type holderRun struct {
	o        *Orchestrator
	holderID int64
	opts     Options
	logger   *slog.Logger
	now      time.Time

	platform []records.PlatformRecord

	bank       []records.BankRecord
	bankLoaded bool

	accounts       []records.AccountRef
	accountMap     map[int64]int64 // bank account id -> ledger account id
	accountsLoaded bool

	scraped       []*records.Counterpart
	scrapedLoaded bool

	payments       []*records.Counterpart
	paymentsLoaded bool
	usedPayments   map[int64]bool

	// considered holds "kind:id" keys so a record offered to several
	// flows counts once toward the run total.
	considered map[string]bool

	res *holderResult
}

// holderResult is everything one holder contributes to the run.
type holderResult struct {
	HolderID   int64
	Outcomes   []Outcome
	Skips      []Skip
	Flows      map[Flow]*FlowStats
	Considered int
	Err        error
	Cancelled  bool
}

func (r *holderResult) flow(f Flow) *FlowStats {
	st, ok := r.Flows[f]
	if !ok {
		st = &FlowStats{}
		r.Flows[f] = st
	}
	return st
}

func newHolderRun(o *Orchestrator, holderID int64, opts Options) *holderRun {
	return &holderRun{
		o:            o,
		holderID:     holderID,
		opts:         opts,
		logger:       o.logger.With("holder", holderID),
		now:          o.now(),
		usedPayments: make(map[int64]bool),
		considered:   make(map[string]bool),
		res: &holderResult{
			HolderID: holderID,
			Flows:    make(map[Flow]*FlowStats),
		},
	}
}

// consider counts a record toward the holder's Considered total once.
func (h *holderRun) consider(kind string, id int64) {
	key := fmt.Sprintf("%s:%d", kind, id)
	if h.considered[key] {
		return
	}
	h.considered[key] = true
	h.res.Considered++
}

// run processes every flow for the holder in order.
func (h *holderRun) run(ctx context.Context, flows []Flow) *holderResult {
	types := platformTypes(flows)
	if len(types) > 0 {
		recs, err := h.o.source.FetchPlatformRecords(ctx, h.holderID, types)
		if err != nil {
			h.res.Err = fmt.Errorf("failed to fetch platform records: %w", err)
			return h.res
		}
		h.platform = recs
		h.logger.Debug("Fetched platform records", "count", len(recs))
	}

	for _, f := range flows {
		if ctx.Err() != nil {
			h.res.Cancelled = true
			break
		}
		var err error
		if f == FlowFeeInference {
			err = h.runFeeInference(ctx)
		} else {
			err = h.runFlow(ctx, specFor(f, h.o.settings))
		}
		if err != nil {
			if ctx.Err() != nil {
				h.res.Cancelled = true
			} else {
				h.res.Err = err
			}
			break
		}
	}
	return h.res
}

func (h *holderRun) skip(f Flow, kind string, id int64, reason SkipReason, detail string) {
	h.res.Skips = append(h.res.Skips, Skip{
		HolderID: h.holderID,
		Flow:     f,
		Kind:     kind,
		RecordID: id,
		Reason:   reason,
		Detail:   detail,
	})
	if f != "" {
		h.res.flow(f).Skipped++
	}
	h.logger.Debug("Skipped", "flow", f, "kind", kind, "record_id", id, "reason", reason, "detail", detail)
}

func (h *holderRun) excluded(f Flow, list []candidates.Excluded) {
	for _, ex := range list {
		h.skip(f, ex.Kind, ex.ID, SkipReason(ex.Reason), ex.Detail)
	}
}

// banks fetches bank records on first use. Invalid ones are reported once.
func (h *holderRun) banks(ctx context.Context) error {
	if h.bankLoaded {
		return nil
	}
	recs, err := h.o.source.FetchBankRecords(ctx, h.holderID)
	if err != nil {
		return fmt.Errorf("failed to fetch bank records: %w", err)
	}
	h.bank = recs
	h.bankLoaded = true
	h.logger.Debug("Fetched bank records", "count", len(recs))

	_, excluded := candidates.Bank(h.bank, nil)
	h.excluded("", excluded)
	return nil
}

// bankPool returns the unlinked bank candidates accepted by keep, in
// traversal order.
func (h *holderRun) bankPool(keep func(*records.Counterpart) bool) []*records.Counterpart {
	pool, _ := candidates.Bank(h.bank, keep)
	return pool
}

func (h *holderRun) loadAccounts(ctx context.Context) error {
	if h.accountsLoaded {
		return nil
	}
	accounts, err := h.o.source.FetchHolderAccounts(ctx, h.holderID)
	if err != nil {
		return fmt.Errorf("failed to fetch holder accounts: %w", err)
	}
	h.accounts = accounts
	h.accountMap = make(map[int64]int64, len(accounts))
	for _, a := range accounts {
		if a.BankAccountID == 0 {
			continue
		}
		if _, dup := h.accountMap[a.BankAccountID]; !dup {
			h.accountMap[a.BankAccountID] = a.ID
		}
	}
	h.accountsLoaded = true
	return nil
}

// defaultPayPal is the holder's default wallet account, if it has a bank
// account id.
func (h *holderRun) defaultPayPal() *records.AccountRef {
	for i := range h.accounts {
		a := &h.accounts[i]
		if a.Type == records.AccountTypeBettingPayPal && a.IsDefault && a.BankAccountID != 0 {
			return a
		}
	}
	return nil
}

func (h *holderRun) loadScraped(ctx context.Context, f Flow) error {
	if h.scrapedLoaded {
		return nil
	}
	recs, err := h.o.source.FetchScrapedRecords(ctx, h.holderID, ScrapedSourcePayPal, ScrapedTypeTransferRecv)
	if err != nil {
		return fmt.Errorf("failed to fetch scraped records: %w", err)
	}
	pool, excluded := candidates.Scraped(recs, ScrapedSourcePayPal, ScrapedTypeTransferRecv)
	h.excluded(f, excluded)
	h.scraped = pool
	h.scrapedLoaded = true
	return nil
}

func (h *holderRun) loadPayments(ctx context.Context, f Flow) error {
	if h.paymentsLoaded {
		return nil
	}
	recs, err := h.o.source.FetchCheckbookPayments(ctx, h.holderID)
	if err != nil {
		return fmt.Errorf("failed to fetch checkbook payments: %w", err)
	}
	pool, excluded := candidates.Payments(recs, h.holderID)
	h.excluded(f, excluded)
	h.payments = pool
	h.paymentsLoaded = true
	return nil
}

// availablePayments are the funding payments not yet used as evidence.
func (h *holderRun) availablePayments() []*records.Counterpart {
	out := make([]*records.Counterpart, 0, len(h.payments))
	for _, p := range h.payments {
		if !h.usedPayments[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// consume marks both sides linked in the working set.
func (h *holderRun) consume(p *records.PlatformRecord, b *records.BankRecord) {
	if p != nil && b != nil {
		if !p.Linked() {
			p.Link = records.LinkTo(b.ID)
		}
		if !b.Linked() {
			b.Link = records.LinkTo(p.ID)
		}
		return
	}
	// Fee inference: the platform side does not exist yet.
	if b != nil && !b.Linked() {
		b.Link = records.LinkPending()
	}
}

func (h *holderRun) findBank(id int64) *records.BankRecord {
	for i := range h.bank {
		if h.bank[i].ID == id {
			return &h.bank[i]
		}
	}
	return nil
}

func platformTypes(flows []Flow) []records.RecordType {
	seen := make(map[records.RecordType]bool)
	var out []records.RecordType
	for _, f := range flows {
		t := flowPlatformType(f)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
