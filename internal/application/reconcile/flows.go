package reconcile

import (
	"context"
	"strings"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// selection is how a resolver picks among qualifying candidates.
type selection int

const (
	// selectFirst takes the first qualifying candidate in traversal order.
	selectFirst selection = iota
	// selectFirstFlagged takes the first, flagging the decision when
	// others also qualified.
	selectFirstFlagged
	// selectUnique only links when exactly one candidate qualifies.
	selectUnique
	// selectExactDay prefers a same-day candidate, then the smallest day
	// distance; equal distances keep traversal order.
	selectExactDay
)

// flowSpec configures the generic platform-driven traversal for one flow.
type flowSpec struct {
	flow      Flow
	platform  records.RecordType
	side      records.AccountSide
	selection selection
	action    Action

	// repair completes half-written links from earlier runs first.
	repair bool
	// prepare loads flow-specific data; a non-empty reason skips the flow
	// for this holder.
	prepare func(ctx context.Context, h *holderRun) (SkipReason, error)
	// keep narrows the bank pool.
	keep func(h *holderRun, c *records.Counterpart) bool
	// rule returns the predicate for p, or why p cannot be matched.
	rule func(h *holderRun, p *records.Platform) (matcher.Rule, SkipReason)
	// evidence supplies the corroborator for rules that need one.
	evidence func(h *holderRun) matcher.Corroborator
}

func flowPlatformType(f Flow) records.RecordType {
	switch f {
	case FlowDeposit:
		return records.TypeDeposit
	case FlowWithdrawal, FlowReclass:
		return records.TypeWithdrawal
	case FlowFeeLink:
		return records.TypeFees
	case FlowReturned:
		return records.TypeReturned
	case FlowReceived:
		return records.TypeReceived
	default:
		return ""
	}
}

func specFor(f Flow, s Settings) flowSpec {
	switch f {
	case FlowDeposit:
		return flowSpec{
			flow:      f,
			platform:  records.TypeDeposit,
			side:      records.SideFrom,
			selection: selectFirst,
			action:    ActionLink,
			rule:      casinoRule(matcher.Deposit()),
		}

	case FlowWithdrawal:
		return flowSpec{
			flow:      f,
			platform:  records.TypeWithdrawal,
			side:      records.SideTo,
			selection: selectFirst,
			action:    ActionLink,
			rule:      casinoRule(matcher.Withdrawal()),
		}

	case FlowReclass:
		return flowSpec{
			flow:      f,
			platform:  records.TypeWithdrawal,
			side:      records.SideNone,
			selection: selectFirstFlagged,
			action:    ActionReassignAndLink,
			prepare:   prepareReclass,
			keep: func(h *holderRun, c *records.Counterpart) bool {
				return c.BankAccountID == h.defaultPayPal().BankAccountID
			},
			rule: func(h *holderRun, p *records.Platform) (matcher.Rule, SkipReason) {
				cutoff := records.FromEpochMillis(h.now.UnixMilli()).AddDate(0, 0, -s.ReclassMinAgeDays)
				if !p.Date.Before(cutoff) {
					return matcher.Rule{}, SkipTooRecent
				}
				return casinoRule(matcher.ReclassBank())(h, p)
			},
			evidence: func(h *holderRun) matcher.Corroborator { return scrapedEvidence{h: h} },
		}

	case FlowFeeLink:
		return flowSpec{
			flow:      f,
			platform:  records.TypeFees,
			side:      records.SideNone,
			selection: selectUnique,
			action:    ActionLink,
			rule: func(h *holderRun, p *records.Platform) (matcher.Rule, SkipReason) {
				switch {
				case p.Record.DestinationAccountID() == s.FeesAccountID:
					if p.FromBankAccountID == 0 {
						return matcher.Rule{}, SkipMissingBankAccount
					}
					return matcher.FeeLink(true, s.FeeLinkOutgoingKeywords), ""
				case p.Record.SourceAccountID() == s.FeesAccountID:
					if p.ToBankAccountID == 0 {
						return matcher.Rule{}, SkipMissingBankAccount
					}
					return matcher.FeeLink(false, s.FeeLinkIncomingKeywords), ""
				default:
					return matcher.Rule{}, SkipUnknownDirection
				}
			},
		}

	case FlowReturned:
		return flowSpec{
			flow:      f,
			platform:  records.TypeReturned,
			side:      records.SideFrom,
			selection: selectFirst,
			action:    ActionLink,
			repair:    true,
			rule:      fixedRule(matcher.Returned(s.ReturnedKeywords)),
		}

	case FlowReceived:
		return flowSpec{
			flow:      f,
			platform:  records.TypeReceived,
			side:      records.SideTo,
			selection: selectExactDay,
			action:    ActionLink,
			prepare: func(ctx context.Context, h *holderRun) (SkipReason, error) {
				return "", h.loadPayments(ctx, FlowReceived)
			},
			rule:     fixedRule(matcher.Received()),
			evidence: func(h *holderRun) matcher.Corroborator { return paymentEvidence{h: h} },
		}
	}
	panic("reconcile: unknown flow " + string(f))
}

func fixedRule(r matcher.Rule) func(*holderRun, *records.Platform) (matcher.Rule, SkipReason) {
	return func(*holderRun, *records.Platform) (matcher.Rule, SkipReason) { return r, "" }
}

// casinoRule skips records whose casino has no registered keywords.
func casinoRule(r matcher.Rule) func(*holderRun, *records.Platform) (matcher.Rule, SkipReason) {
	return func(h *holderRun, p *records.Platform) (matcher.Rule, SkipReason) {
		if strings.TrimSpace(p.Casino) == "" || len(h.o.index.For(p.Casino)) == 0 {
			return matcher.Rule{}, SkipNoKeywords
		}
		return r, ""
	}
}

func prepareReclass(ctx context.Context, h *holderRun) (SkipReason, error) {
	if err := h.loadAccounts(ctx); err != nil {
		return "", err
	}
	if h.defaultPayPal() == nil {
		return SkipNoDefaultPayPal, nil
	}
	return "", h.loadScraped(ctx, FlowReclass)
}

// scrapedEvidence is stage one of reclassification: the first wallet
// transfer matching the withdrawal. Scraped records are never consumed.
type scrapedEvidence struct{ h *holderRun }

func (e scrapedEvidence) Corroborate(p *records.Platform, _ *records.Counterpart) (*records.Counterpart, bool) {
	rule := matcher.ReclassScraped()
	for _, s := range e.h.scraped {
		if rule.Evaluate(p, s, matcher.Env{}).Matched() {
			return s, true
		}
	}
	return nil, false
}

// paymentEvidence finds an unused checkbook payment backing a received pair.
type paymentEvidence struct{ h *holderRun }

func (e paymentEvidence) Corroborate(p *records.Platform, c *records.Counterpart) (*records.Counterpart, bool) {
	pay := matcher.SelectPayment(p, c, e.h.availablePayments())
	return pay, pay != nil
}
