package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

type reporterFunc func(Decision) error

func (f reporterFunc) Report(d Decision) error { return f(d) }

// Fixtures

func depositFixture() *fakeLedger {
	f := newFakeLedger()
	pt := platformRec(1, records.TypeDeposit, "100.00", "2024-03-01", "DraftKings")
	pt.From = bankAccount()
	f.platform[holderA] = []records.PlatformRecord{pt}
	f.bank[holderA] = []records.BankRecord{
		bankRec(11, "100.01", "2024-03-02", bankAcctA, "DRAFTKINGS INC"),
		bankRec(10, "100.00", "2024-03-03", bankAcctA, "DRAFTKINGS INC"),
	}
	f.accounts[holderA] = holderAccounts()
	return f
}

func addReclass(f *fakeLedger) {
	old := platformRec(2, records.TypeWithdrawal, "50.00", "2024-03-01", "DraftKings")
	old.To = bankAccount()
	recent := platformRec(3, records.TypeWithdrawal, "75.00", "2024-05-25", "DraftKings")
	recent.To = bankAccount()
	f.platform[holderA] = append(f.platform[holderA], old, recent)
	f.bank[holderA] = append(f.bank[holderA],
		bankRec(21, "-50.00", "2024-03-03", paypalAcctA, "DRAFTKINGS"),
		bankRec(20, "-50.00", "2024-03-02", paypalAcctA, "DRAFTKINGS"),
	)
	f.scraped[holderA] = []records.ScrapedRecord{
		{ID: 300, Source: ScrapedSourcePayPal, Type: ScrapedTypeTransferRecv, Net: amount("50.00"), TransactionTime: millis("2024-03-02")},
	}
}

func addFees(f *fakeLedger) {
	f.bank[holderA] = append(f.bank[holderA],
		bankRec(30, "1.50", "2024-03-04", bankAcctA, "MONTHLY SERVICE FEE"),
		bankRec(31, "2.01", "2024-03-04", bankAcctA, "MONTHLY SERVICE FEE"),
		bankRec(32, "1.00", "2024-03-04", 7777, "OVERDRAFT"),
		bankRec(33, "-0.12", "2024-03-04", bankAcctA, "CHECKBOOK INC MICRO DEP"),
	)
}

func addReceived(f *fakeLedger) {
	pt := platformRec(60, records.TypeReceived, "200.00", "2024-03-10", "Checkbook")
	pt.To = bankAccount()
	f.platform[holderA] = append(f.platform[holderA], pt)
	f.bank[holderA] = append(f.bank[holderA],
		bankRec(70, "-200.00", "2024-03-09", bankAcctA, "CHECKBOOK INC"),
		bankRec(71, "-200.00", "2024-03-10", bankAcctA, "CHECKBOOK INC"),
	)
	f.payments[holderA] = []records.CheckbookPayment{
		{ID: 80, Amount: amount("200.00"), Date: millis("2024-03-10"), Description: "Funding", Direction: "OUTGOING", Recipient: holderA},
	}
}

func addReturned(f *fakeLedger) {
	half := platformRec(90, records.TypeReturned, "25.00", "2024-03-01", "")
	half.From = bankAccount()
	half.Link = records.LinkTo(91)
	fresh := platformRec(92, records.TypeReturned, "30.00", "2024-03-05", "")
	fresh.From = bankAccount()
	f.platform[holderA] = append(f.platform[holderA], half, fresh)
	f.bank[holderA] = append(f.bank[holderA],
		bankRec(91, "25.00", "2024-03-02", bankAcctA, "CHECKBOOK INC"),
		bankRec(93, "30.00", "2024-03-06", bankAcctA, "REEL VENTURES"),
	)
}

func fullFixture() *fakeLedger {
	f := depositFixture()
	addReclass(f)
	addFees(f)
	addReceived(f)
	addReturned(f)
	return f
}

func decisionFor(t *testing.T, res *Result, flow Flow) Decision {
	t.Helper()
	for _, d := range res.Decisions {
		if d.Flow == flow {
			return d
		}
	}
	t.Fatalf("no %s decision in %d decisions", flow, len(res.Decisions))
	return Decision{}
}

func skipsFor(res *Result, flow Flow, reason SkipReason) []Skip {
	var out []Skip
	for _, s := range res.Skips {
		if s.Flow == flow && s.Reason == reason {
			out = append(out, s)
		}
	}
	return out
}

// Tests

func TestRun_DepositLinksExactAmount(t *testing.T) {
	// Arrange
	f := depositFixture()

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}})

	// Assert
	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, ActionLink, d.Action)
	assert.Equal(t, int64(1), d.PlatformID)
	assert.Equal(t, int64(10), d.BankID, "100.01 must not match a 100.00 deposit")
	assert.Equal(t, "tx-10", d.BankLinkKey)
	assert.Equal(t, 2, d.DaysApart)
	assert.Equal(t, "DRAFTKINGS", d.Keyword)
	assert.True(t, d.WritePlatform)
	assert.True(t, d.WriteBank)

	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, []string{"link_platform 1 10", "link_bank tx-10 1"}, f.writes)
	assert.Equal(t, records.LinkTo(10), f.platformRecord(1).Link)
	assert.Equal(t, records.LinkTo(1), f.bankRecord(holderA, 10).Link)
	assert.False(t, f.bankRecord(holderA, 11).Link.Set())
}

func TestRun_DepositWindow(t *testing.T) {
	tests := []struct {
		name     string
		bankDate string
		want     bool
	}{
		{"same day", "2024-03-01", true},
		{"nine days later", "2024-03-10", true},
		{"ten days later", "2024-03-11", false},
		{"nine days earlier", "2024-02-21", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := depositFixture()
			f.bank[holderA] = []records.BankRecord{bankRec(10, "100.00", tt.bankDate, bankAcctA, "DRAFTKINGS")}

			res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}, DryRun: true})

			assert.Equal(t, tt.want, len(res.Decisions) == 1)
		})
	}
}

func TestRun_CandidateConsumedAtMostOnce(t *testing.T) {
	// Arrange: two identical deposits, one bank debit
	f := depositFixture()
	second := platformRec(4, records.TypeDeposit, "100.00", "2024-03-01", "DraftKings")
	second.From = bankAccount()
	f.platform[holderA] = append(f.platform[holderA], second)

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}, DryRun: true})

	// Assert
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, int64(1), res.Decisions[0].PlatformID, "earlier fetched record wins a same-day tie")
	noMatch := skipsFor(res, FlowDeposit, SkipNoMatch)
	require.Len(t, noMatch, 1)
	assert.Equal(t, int64(4), noMatch[0].RecordID)
}

func TestRun_LinkedRecordsAreIgnored(t *testing.T) {
	f := depositFixture()
	f.bank[holderA][1].Link = records.LinkTo(999)

	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}, DryRun: true})

	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowDeposit, SkipNoMatch), 1)
}

func TestRun_NoKeywordsForCasino(t *testing.T) {
	f := depositFixture()
	f.platform[holderA][0].Name = "Unknown Casino"

	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}, DryRun: true})

	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowDeposit, SkipNoKeywords), 1)
}

func TestRun_MissingBankAccountIsSkipped(t *testing.T) {
	f := depositFixture()
	f.platform[holderA][0].From = nil

	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}, DryRun: true})

	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowDeposit, SkipMissingBankAccount), 1)
	assert.Zero(t, f.calls["bank"], "no candidates left, so the bank feed is not read")
}

func TestRun_NoBankFetchWithoutCandidates(t *testing.T) {
	// Arrange: a holder with bank records but no deposits
	f := newFakeLedger()
	f.bank[holderA] = []records.BankRecord{bankRec(10, "100.00", "2024-03-01", bankAcctA, "DRAFTKINGS")}

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit, FlowWithdrawal, FlowReceived}})

	// Assert
	assert.Zero(t, f.calls["bank"])
	assert.Zero(t, f.calls["payments"])
	assert.Len(t, skipsFor(res, FlowDeposit, SkipNoCandidates), 1)
	assert.Len(t, skipsFor(res, FlowReceived, SkipNoCandidates), 1)
}

func TestRun_NoBankFetchForLinkedReturnedRecords(t *testing.T) {
	// Arrange: a returned record linked on both sides by an earlier run
	f := newFakeLedger()
	done := platformRec(90, records.TypeReturned, "25.00", "2024-03-01", "")
	done.From = bankAccount()
	done.Link = records.LinkTo(91)
	f.platform[holderA] = []records.PlatformRecord{done}
	linked := bankRec(91, "25.00", "2024-03-02", bankAcctA, "CHECKBOOK INC")
	linked.Link = records.LinkTo(90)
	f.bank[holderA] = []records.BankRecord{linked}

	// Act
	res := runOnce(t, f, Options{DryRun: true, Flows: []Flow{FlowReturned}})

	// Assert
	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowReturned, SkipNoCandidates), 1)
	assert.Zero(t, f.calls["bank"])
}

func TestRun_ConsideredCountsEachRecordOnce(t *testing.T) {
	// Arrange: withdrawals 2 and 3 are offered to both withdrawal flows
	f := depositFixture()
	addReclass(f)

	// Act
	res := runOnce(t, f, Options{DryRun: true, Flows: []Flow{FlowWithdrawal, FlowReclass}})

	// Assert
	assert.Equal(t, 2, res.Flows[FlowWithdrawal].Considered)
	assert.Equal(t, 2, res.Flows[FlowReclass].Considered)
	assert.Equal(t, 2, res.Considered)
}

func TestRun_ReclassFlagsAmbiguity(t *testing.T) {
	// Arrange
	f := depositFixture()
	f.accounts[holderA] = holderAccounts()
	addReclass(f)

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowWithdrawal, FlowReclass}})

	// Assert
	d := decisionFor(t, res, FlowReclass)
	assert.Equal(t, ActionReassignAndLink, d.Action)
	assert.Equal(t, int64(2), d.PlatformID)
	assert.Equal(t, int64(20), d.BankID, "earliest qualifying bank record is chosen")
	assert.True(t, d.Ambiguous)
	assert.Equal(t, []int64{21}, d.Alternatives)
	assert.Equal(t, ledgerAcctPP, d.ReassignTo)
	assert.Equal(t, records.KindScraped, d.EvidenceKind)
	assert.Equal(t, int64(300), d.EvidenceID)

	assert.Equal(t, 1, res.Ambiguous)
	assert.Len(t, skipsFor(res, FlowReclass, SkipTooRecent), 1)
	assert.Len(t, skipsFor(res, FlowWithdrawal, SkipNoMatch), 2)

	assert.Equal(t, []string{"reassign 2 502", "link_platform 2 20", "link_bank tx-20 2"}, f.writes)
	assert.Equal(t, ledgerAcctPP, f.platformRecord(2).ToAccountID)
}

func TestRun_ReclassNeedsScrapedEvidence(t *testing.T) {
	f := depositFixture()
	addReclass(f)
	f.scraped[holderA] = nil

	res := runOnce(t, f, Options{Flows: []Flow{FlowReclass}, DryRun: true})

	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowReclass, SkipNoMatch), 1)
}

func TestRun_ReclassWithoutDefaultPayPal(t *testing.T) {
	f := depositFixture()
	addReclass(f)
	f.accounts[holderA] = []records.AccountRef{*bankAccount()}

	res := runOnce(t, f, Options{Flows: []Flow{FlowReclass}, DryRun: true})

	assert.Empty(t, res.Decisions)
	skips := skipsFor(res, FlowReclass, SkipNoDefaultPayPal)
	require.Len(t, skips, 1)
	assert.Equal(t, "holder", skips[0].Kind)
	assert.Zero(t, f.calls["scraped"])
}

func TestRun_FeeInference(t *testing.T) {
	// Arrange
	f := newFakeLedger()
	f.accounts[holderA] = holderAccounts()
	addFees(f)

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowFeeInference}})

	// Assert
	require.Len(t, res.Decisions, 2)

	out := res.Decisions[0]
	assert.Equal(t, ActionCreateAndLink, out.Action)
	assert.Equal(t, int64(30), out.BankID)
	require.NotNil(t, out.Create)
	assert.Equal(t, records.TypeFees, out.Create.Type)
	assert.True(t, amount("1.50").Equal(out.Create.Amount))
	assert.Equal(t, ledgerAcctBank, out.Create.FromAccountID)
	assert.Equal(t, int64(18), out.Create.ToAccountID)
	assert.Equal(t, "2024-03-04", out.Create.Date)
	assert.Equal(t, FeeStatusCompleted, out.Create.Status)

	in := res.Decisions[1]
	assert.Equal(t, int64(33), in.BankID)
	assert.Equal(t, int64(18), in.Create.FromAccountID)
	assert.Equal(t, ledgerAcctBank, in.Create.ToAccountID)
	assert.True(t, amount("0.12").Equal(in.Create.Amount))

	unmapped := skipsFor(res, FlowFeeInference, SkipUnmappedAccount)
	require.Len(t, unmapped, 1)
	assert.Equal(t, int64(32), unmapped[0].RecordID)
	for _, s := range res.Skips {
		assert.NotEqual(t, int64(31), s.RecordID, "2.01 is above the fee ceiling and silently ignored")
	}

	assert.Equal(t, 2, res.Created)
	created := res.Outcomes[0].CreatedID
	require.NotZero(t, created)
	assert.Equal(t, records.LinkTo(created), f.bankRecord(holderA, 30).Link)
	assert.Equal(t, records.LinkTo(30), f.platformRecord(created).Link)
}

func TestRun_FeeLinkRequiresUniqueCandidate(t *testing.T) {
	build := func(banks ...records.BankRecord) *fakeLedger {
		f := newFakeLedger()
		fee := platformRec(40, records.TypeFees, "3.00", "2024-03-05", "")
		fee.From = bankAccount()
		fee.ToAccountID = 18
		f.platform[holderA] = []records.PlatformRecord{fee}
		f.bank[holderA] = banks
		return f
	}

	t.Run("ambiguous", func(t *testing.T) {
		f := build(
			bankRec(41, "3.00", "2024-03-05", bankAcctA, "MONTHLY SERVICE FEE"),
			bankRec(42, "3.00", "2024-03-06", bankAcctA, "MONTHLY SERVICE FEE"),
		)

		res := runOnce(t, f, Options{Flows: []Flow{FlowFeeLink}})

		assert.Empty(t, res.Decisions)
		assert.Len(t, skipsFor(res, FlowFeeLink, SkipAmbiguous), 1)
		assert.Equal(t, 1, res.Flows[FlowFeeLink].Ambiguous)
		assert.Empty(t, f.writes)
	})

	t.Run("unique", func(t *testing.T) {
		f := build(bankRec(41, "3.00", "2024-03-05", bankAcctA, "MONTHLY SERVICE FEE"))

		res := runOnce(t, f, Options{Flows: []Flow{FlowFeeLink}})

		require.Len(t, res.Decisions, 1)
		assert.Equal(t, int64(41), res.Decisions[0].BankID)
		assert.Equal(t, "MONTHLY SERVICE FEE", res.Decisions[0].Keyword)
	})

	t.Run("unknown direction", func(t *testing.T) {
		f := build(bankRec(41, "3.00", "2024-03-05", bankAcctA, "MONTHLY SERVICE FEE"))
		f.platform[holderA][0].ToAccountID = 77

		res := runOnce(t, f, Options{Flows: []Flow{FlowFeeLink}, DryRun: true})

		assert.Empty(t, res.Decisions)
		assert.Len(t, skipsFor(res, FlowFeeLink, SkipUnknownDirection), 1)
	})
}

func TestRun_ReceivedPrefersExactDay(t *testing.T) {
	// Arrange
	f := newFakeLedger()
	addReceived(f)

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowReceived}})

	// Assert
	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, int64(71), d.BankID)
	assert.Equal(t, 0, d.DaysApart)
	assert.Equal(t, records.KindPayment, d.EvidenceKind)
	assert.Equal(t, int64(80), d.EvidenceID)
}

func TestRun_ReceivedNeedsPayment(t *testing.T) {
	f := newFakeLedger()
	addReceived(f)
	f.payments[holderA][0].Direction = "INCOMING"

	res := runOnce(t, f, Options{Flows: []Flow{FlowReceived}, DryRun: true})

	assert.Empty(t, res.Decisions)
	assert.Len(t, skipsFor(res, FlowReceived, SkipNoMatch), 1)
}

func TestRun_ReturnedRepairsHalfLinks(t *testing.T) {
	// Arrange
	f := newFakeLedger()
	addReturned(f)

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowReturned}})

	// Assert
	require.Len(t, res.Decisions, 2)
	repair := res.Decisions[0]
	assert.Equal(t, ActionCompleteLink, repair.Action)
	assert.Equal(t, int64(90), repair.PlatformID)
	assert.Equal(t, int64(91), repair.BankID)
	assert.False(t, repair.WritePlatform)
	assert.True(t, repair.WriteBank)

	fresh := res.Decisions[1]
	assert.Equal(t, ActionLink, fresh.Action)
	assert.Equal(t, int64(92), fresh.PlatformID)
	assert.Equal(t, int64(93), fresh.BankID)
	assert.Equal(t, "REEL VENTURES", fresh.Keyword)

	assert.Equal(t, []string{"link_bank tx-91 90", "link_platform 92 93", "link_bank tx-93 92"}, f.writes)
}

func TestRun_DryRunMatchesLive(t *testing.T) {
	// Arrange
	dry, live := fullFixture(), fullFixture()
	var dryReported, liveReported Collector

	// Act
	dryRes := runOnce(t, dry, Options{DryRun: true, Reporter: &dryReported})
	liveRes := runOnce(t, live, Options{Reporter: &liveReported})

	// Assert
	assert.Empty(t, dry.writes, "dry run must not write")
	assert.NotEmpty(t, live.writes)

	dryJSON, err := MarshalDecisions(dryRes.Decisions)
	require.NoError(t, err)
	liveJSON, err := MarshalDecisions(liveRes.Decisions)
	require.NoError(t, err)
	assert.Equal(t, string(dryJSON), string(liveJSON))

	assert.Equal(t, dryRes.Decisions, dryReported.Decisions())
	assert.Equal(t, liveRes.Decisions, liveReported.Decisions())
	for _, out := range dryRes.Outcomes {
		assert.Equal(t, StatusDryRun, out.Status)
	}
	assert.Equal(t, dryRes.SkipCounts(), liveRes.SkipCounts())
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	// Arrange
	f := fullFixture()
	first := runOnce(t, f, Options{})
	require.NotEmpty(t, first.Decisions)
	writes := f.writeCount()

	// Act
	second := runOnce(t, f, Options{})

	// Assert
	assert.Empty(t, second.Decisions)
	assert.Equal(t, writes, f.writeCount())
}

func TestRun_DeterministicAcrossWorkers(t *testing.T) {
	build := func() *fakeLedger {
		f := newFakeLedger()
		for id := int64(1); id <= 6; id++ {
			pt := platformRec(id*10, records.TypeDeposit, "100.00", "2024-03-01", "FanDuel")
			pt.HolderID = id
			pt.From = bankAccount()
			f.platform[id] = []records.PlatformRecord{pt}
			f.bank[id] = []records.BankRecord{bankRec(id*100, "100.00", "2024-03-02", bankAcctA, "FANDUEL")}
			f.holders = append(f.holders, records.Holder{ID: id, Stage: "active"})
		}
		return f
	}

	serial := runOnce(t, build(), Options{Workers: 1, DryRun: true})
	parallel := runOnce(t, build(), Options{Workers: 4, DryRun: true})

	require.Len(t, serial.Decisions, 6)
	assert.Equal(t, serial.Decisions, parallel.Decisions)
	for i, d := range parallel.Decisions {
		assert.Equal(t, int64(i+1), d.HolderID, "decisions are merged in holder order")
	}
}

func TestRun_FetchFailureIsolatedToHolder(t *testing.T) {
	// Arrange
	f := depositFixture()
	pt := platformRec(2, records.TypeDeposit, "100.00", "2024-03-01", "DraftKings")
	pt.HolderID = 2
	pt.From = bankAccount()
	f.platform[2] = []records.PlatformRecord{pt}
	f.fetchErrs["bank:2"] = errors.New("feed unavailable")

	// Act
	res := runOnce(t, f, Options{HolderIDs: []int64{1, 2}, Flows: []Flow{FlowDeposit}})

	// Assert
	require.Len(t, res.HolderErrors, 1)
	assert.Equal(t, int64(2), res.HolderErrors[0].HolderID)
	assert.ErrorContains(t, res.HolderErrors[0], "feed unavailable")
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, holderA, res.Decisions[0].HolderID)
}

func TestRun_WriteErrorIsNotASkip(t *testing.T) {
	// Arrange
	f := depositFixture()
	f.writeErrs["link_bank"] = errors.New("409 conflict")

	// Act
	res := runOnce(t, f, Options{Flows: []Flow{FlowDeposit}})

	// Assert
	require.Len(t, res.WriteErrors, 1)
	assert.Equal(t, "link_bank", res.WriteErrors[0].Op)
	assert.ErrorContains(t, res.WriteErrors[0], "409 conflict")
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Committed)
	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, 1, res.Flows[FlowDeposit].WriteErrors)
	for _, s := range res.Skips {
		assert.NotEqual(t, int64(1), s.RecordID)
	}
}

func TestRun_CreateFailureStopsLinks(t *testing.T) {
	f := newFakeLedger()
	f.accounts[holderA] = holderAccounts()
	f.bank[holderA] = []records.BankRecord{bankRec(30, "1.50", "2024-03-04", bankAcctA, "MONTHLY SERVICE FEE")}
	f.writeErrs["create"] = errors.New("validation failed")

	res := runOnce(t, f, Options{Flows: []Flow{FlowFeeInference}})

	require.Len(t, res.WriteErrors, 1)
	assert.Equal(t, "create", res.WriteErrors[0].Op)
	assert.Equal(t, []string{"create fees 1.50"}, f.writes)
	assert.Equal(t, 0, res.Created)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := depositFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestOrchestrator(f).Run(ctx, Options{HolderIDs: []int64{holderA}})

	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Decisions)
	assert.Zero(t, f.calls["platform"])
}

func TestRun_CancelFinishesInFlightDecision(t *testing.T) {
	// Arrange: two deposit pairs; cancel once the first decision is made
	f := depositFixture()
	second := platformRec(4, records.TypeDeposit, "100.01", "2024-03-01", "DraftKings")
	second.From = bankAccount()
	f.platform[holderA] = append(f.platform[holderA], second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reporter := reporterFunc(func(Decision) error {
		cancel()
		return nil
	})

	// Act
	res, err := newTestOrchestrator(f).Run(ctx, Options{HolderIDs: []int64{holderA}, Flows: []Flow{FlowDeposit}, Reporter: reporter})

	// Assert
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, StatusCommitted, res.Outcomes[0].Status, "a started decision is committed despite cancellation")
	assert.Len(t, f.writes, 2)
}

func TestRun_NoHolders(t *testing.T) {
	f := newFakeLedger()

	_, err := newTestOrchestrator(f).Run(context.Background(), Options{Stages: []string{"active"}})

	assert.ErrorIs(t, err, ErrNoHolders)
}

func TestRun_ListsHoldersByStage(t *testing.T) {
	f := depositFixture()
	f.holders = []records.Holder{{ID: holderA, Stage: "active"}, {ID: 5, Stage: "closed"}, {ID: holderA, Stage: "active"}}

	res := runOnce(t, f, Options{Stages: []string{"active"}, Flows: []Flow{FlowDeposit}, DryRun: true})

	assert.Equal(t, 1, res.Holders)
	assert.Zero(t, f.calls["platform:5"])
}

func TestRun_RecordsAudit(t *testing.T) {
	// Arrange
	f := depositFixture()
	store := storage.NewMockRepository()
	o := newTestOrchestrator(f)
	o.store = store

	// Act
	res, err := o.Run(context.Background(), Options{HolderIDs: []int64{holderA}, Trigger: "api"})

	// Assert
	require.NoError(t, err)
	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, "api", run.Trigger)
	assert.Equal(t, res.Matched, run.Matched)

	decisions, err := store.ListDecisions(context.Background(), res.RunID, storage.RowFilters{})
	require.NoError(t, err)
	require.Len(t, decisions, len(res.Decisions))
	assert.Equal(t, string(StatusCommitted), decisions[0].Status)

	summary, err := store.SkipSummary(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, len(res.Skips), sum(summary))
}

func TestRun_AuditFailureDoesNotFailRun(t *testing.T) {
	f := depositFixture()
	store := storage.NewMockRepository()
	store.StartRunErr = errors.New("disk full")
	o := newTestOrchestrator(f)
	o.store = store

	res, err := o.Run(context.Background(), Options{HolderIDs: []int64{holderA}, Flows: []Flow{FlowDeposit}})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
