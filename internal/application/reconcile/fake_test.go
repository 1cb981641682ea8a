package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/keywords"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// fakeLedger is an in-memory ledger and bank feed. Reads return copies, so
// the engine never shares memory with it, and writes are applied so that a
// second run sees the first run's links.
type fakeLedger struct {
	mu sync.Mutex

	holders  []records.Holder
	platform map[int64][]records.PlatformRecord
	bank     map[int64][]records.BankRecord
	scraped  map[int64][]records.ScrapedRecord
	payments map[int64][]records.CheckbookPayment
	accounts map[int64][]records.AccountRef
	nextID   int64

	calls     map[string]int
	fetchErrs map[string]error // "bank:2" -> error
	writeErrs map[string]error // "link_bank" -> error
	writes    []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		platform:  make(map[int64][]records.PlatformRecord),
		bank:      make(map[int64][]records.BankRecord),
		scraped:   make(map[int64][]records.ScrapedRecord),
		payments:  make(map[int64][]records.CheckbookPayment),
		accounts:  make(map[int64][]records.AccountRef),
		nextID:    100000,
		calls:     make(map[string]int),
		fetchErrs: make(map[string]error),
		writeErrs: make(map[string]error),
	}
}

func (f *fakeLedger) fetch(kind string, holderID int64) error {
	f.calls[kind]++
	f.calls[fmt.Sprintf("%s:%d", kind, holderID)]++
	return f.fetchErrs[fmt.Sprintf("%s:%d", kind, holderID)]
}

func (f *fakeLedger) ListHolders(_ context.Context, stages []string) ([]records.Holder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["holders"]++
	var out []records.Holder
	for _, h := range f.holders {
		if len(stages) == 0 || containsFold(stages, h.Stage) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeLedger) FetchPlatformRecords(_ context.Context, holderID int64, types []records.RecordType) ([]records.PlatformRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetch("platform", holderID); err != nil {
		return nil, err
	}
	var out []records.PlatformRecord
	for _, p := range f.platform[holderID] {
		for _, t := range types {
			if strings.EqualFold(string(p.Type), string(t)) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) FetchBankRecords(_ context.Context, holderID int64) ([]records.BankRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetch("bank", holderID); err != nil {
		return nil, err
	}
	return append([]records.BankRecord(nil), f.bank[holderID]...), nil
}

func (f *fakeLedger) FetchScrapedRecords(_ context.Context, holderID int64, source, typ string) ([]records.ScrapedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetch("scraped", holderID); err != nil {
		return nil, err
	}
	return append([]records.ScrapedRecord(nil), f.scraped[holderID]...), nil
}

func (f *fakeLedger) FetchCheckbookPayments(_ context.Context, holderID int64) ([]records.CheckbookPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetch("payments", holderID); err != nil {
		return nil, err
	}
	return append([]records.CheckbookPayment(nil), f.payments[holderID]...), nil
}

func (f *fakeLedger) FetchHolderAccounts(_ context.Context, holderID int64) ([]records.AccountRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetch("accounts", holderID); err != nil {
		return nil, err
	}
	return append([]records.AccountRef(nil), f.accounts[holderID]...), nil
}

func (f *fakeLedger) CreatePlatformRecord(ctx context.Context, payload records.CreatePayload) (*records.PlatformRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("create %s %s", payload.Type, payload.Amount.StringFixed(2)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.writeErrs["create"]; err != nil {
		return nil, err
	}
	f.nextID++
	rec := records.PlatformRecord{
		ID:            f.nextID,
		HolderID:      payload.HolderID,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Date:          payload.Date,
		FromAccountID: payload.FromAccountID,
		ToAccountID:   payload.ToAccountID,
	}
	f.platform[payload.HolderID] = append(f.platform[payload.HolderID], rec)
	return &rec, nil
}

func (f *fakeLedger) LinkPlatformRecord(ctx context.Context, platformID, bankID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("link_platform %d %d", platformID, bankID))
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.writeErrs["link_platform"]; err != nil {
		return err
	}
	rec := f.findPlatform(platformID)
	if rec == nil {
		return fmt.Errorf("platform record %d not found", platformID)
	}
	rec.Link = records.LinkTo(bankID)
	return nil
}

func (f *fakeLedger) LinkBankRecord(ctx context.Context, linkKey string, platformID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("link_bank %s %d", linkKey, platformID))
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.writeErrs["link_bank"]; err != nil {
		return err
	}
	for id := range f.bank {
		for i := range f.bank[id] {
			if f.bank[id][i].LinkKey() == linkKey {
				f.bank[id][i].Link = records.LinkTo(platformID)
				return nil
			}
		}
	}
	return fmt.Errorf("bank record %s not found", linkKey)
}

func (f *fakeLedger) ReassignDestination(ctx context.Context, platformID, accountID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("reassign %d %d", platformID, accountID))
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.writeErrs["reassign"]; err != nil {
		return err
	}
	rec := f.findPlatform(platformID)
	if rec == nil {
		return fmt.Errorf("platform record %d not found", platformID)
	}
	rec.ToAccountID = accountID
	for _, a := range f.accounts[rec.HolderID] {
		if a.ID == accountID {
			acc := a
			rec.To = &acc
		}
	}
	return nil
}

func (f *fakeLedger) findPlatform(id int64) *records.PlatformRecord {
	for h := range f.platform {
		for i := range f.platform[h] {
			if f.platform[h][i].ID == id {
				return &f.platform[h][i]
			}
		}
	}
	return nil
}

func (f *fakeLedger) bankRecord(holderID, id int64) records.BankRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bank[holderID] {
		if b.ID == id {
			return b
		}
	}
	return records.BankRecord{}
}

func (f *fakeLedger) platformRecord(id int64) records.PlatformRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.findPlatform(id); rec != nil {
		return *rec
	}
	return records.PlatformRecord{}
}

func (f *fakeLedger) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Fixture helpers

const (
	holderA        int64 = 1
	bankAcctA      int64 = 9001
	paypalAcctA    int64 = 9002
	ledgerAcctBank int64 = 501
	ledgerAcctPP   int64 = 502
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func bankAccount() *records.AccountRef {
	return &records.AccountRef{ID: ledgerAcctBank, Type: records.AccountTypeBettingBank, BankAccountID: bankAcctA}
}

func holderAccounts() []records.AccountRef {
	return []records.AccountRef{
		*bankAccount(),
		{ID: ledgerAcctPP, Type: records.AccountTypeBettingPayPal, BankAccountID: paypalAcctA, IsDefault: true},
	}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func platformRec(id int64, typ records.RecordType, amt, date, name string) records.PlatformRecord {
	return records.PlatformRecord{ID: id, HolderID: holderA, Type: typ, Amount: amount(amt), Date: date, Name: name}
}

func bankRec(id int64, amt, date string, acct int64, name string) records.BankRecord {
	return records.BankRecord{ID: id, TransactionID: fmt.Sprintf("tx-%d", id), Amount: amount(amt), Date: date, BankAccountID: acct, Name: name}
}

func millis(date string) int64 {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		panic(err)
	}
	return t.Add(15 * time.Hour).UnixMilli()
}

func testIndex() *keywords.Index {
	return keywords.New(map[string][]string{
		"DraftKings": {"DRAFTKINGS", "DK SPORTS"},
		"FanDuel":    {"FANDUEL"},
	})
}

func newTestOrchestrator(f *fakeLedger) *Orchestrator {
	o := NewOrchestrator(f, f, testIndex(), DefaultSettings(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.SetClock(func() time.Time { return fixedNow })
	return o
}

func runOnce(t *testing.T, f *fakeLedger, opts Options) *Result {
	t.Helper()
	if len(opts.HolderIDs) == 0 && len(f.holders) == 0 {
		opts.HolderIDs = []int64{holderA}
	}
	res, err := newTestOrchestrator(f).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return res
}
