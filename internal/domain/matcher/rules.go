package matcher

import (
	"regexp"
	"strings"
	"time"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
	"github.com/shopspring/decimal"
)

// Windows, in calendar days, per flow.
const (
	DepositWindowDays         = 9
	WithdrawalWindowDays      = 9
	ReclassScrapedWindowDays  = 7
	ReclassBankWindowDays     = 9
	FeeLinkWindowDays         = 9
	ReturnedWindowDays        = 5
	ReceivedWindowDays        = 2
)

// PaymentEvidenceWindow is measured from the bank date to the payment's
// own timestamp, not its calendar day.
const PaymentEvidenceWindow = 72 * time.Hour

var (
	// Cent is the tolerance used by the tolerance-based flows.
	Cent = decimal.New(1, -2)
	// FeeCeiling is the largest bank amount fee inference will consider.
	FeeCeiling = decimal.New(200, -2)
)

// Deposit: bank debit equal to the deposit, from the deposit's source
// bank account, mentioning the casino.
func Deposit() Rule {
	return Rule{
		Name:       "deposit",
		Amount:     AmountRule{Mode: AmountEqual, Sign: Positive},
		WindowDays: DepositWindowDays,
		Account:    AccountFrom,
		Keyword:    KeywordRule{Mode: KeywordCasino},
	}
}

// Withdrawal: bank credit equal to the withdrawal, into the destination
// bank account, mentioning the casino.
func Withdrawal() Rule {
	return Rule{
		Name:       "withdrawal",
		Amount:     AmountRule{Mode: AmountEqual, Sign: Negative, Negate: true},
		WindowDays: WithdrawalWindowDays,
		Account:    AccountTo,
		Keyword:    KeywordRule{Mode: KeywordCasino},
	}
}

// ReclassScraped is stage one of withdrawal reclassification: a wallet
// transfer within a cent of the withdrawal.
func ReclassScraped() Rule {
	return Rule{
		Name:       "reclass_scraped",
		Amount:     AmountRule{Mode: AmountWithin, Tolerance: Cent},
		WindowDays: ReclassScrapedWindowDays,
	}
}

// ReclassBank is stage two: a credit on the default wallet account equal
// to the withdrawal and mentioning the casino. It requires stage one as
// corroboration.
func ReclassBank() Rule {
	return Rule{
		Name:        "reclass_bank",
		Amount:      AmountRule{Mode: AmountEqual, Negate: true},
		WindowDays:  ReclassBankWindowDays,
		Keyword:     KeywordRule{Mode: KeywordCasino},
		Corroborate: true,
	}
}

// FeeLink matches an existing fee entry. Outgoing fees (holder → fees)
// show as a bank debit on the source account; incoming ones as a credit
// on the destination account.
func FeeLink(outgoing bool, keywords []string) Rule {
	r := Rule{
		Name:       "fee_link",
		WindowDays: FeeLinkWindowDays,
		Keyword:    KeywordRule{Mode: KeywordList, List: upper(keywords)},
	}
	if outgoing {
		r.Amount = AmountRule{Mode: AmountEqual}
		r.Account = AccountFrom
	} else {
		r.Amount = AmountRule{Mode: AmountEqual, Negate: true}
		r.Account = AccountTo
	}
	return r
}

// FeeInference qualifies a small, unlinked bank entry for synthesizing a
// fee record. patterns are the keyword expressions for the entry's
// direction.
func FeeInference(patterns []*regexp.Regexp) Rule {
	return Rule{
		Name:       "fee_inference",
		Amount:     AmountRule{Mode: AmountRange, Min: decimal.Zero, Max: FeeCeiling},
		WindowDays: NoWindow,
		Account:    AccountKnown,
		Keyword:    KeywordRule{Mode: KeywordPattern, Patterns: patterns},
	}
}

// Returned: a bank debit within a cent of the returned amount on the
// source account, whose name mentions one of keywords.
func Returned(keywords []string) Rule {
	return Rule{
		Name:       "returned",
		Amount:     AmountRule{Mode: AmountWithin, Sign: Positive, Tolerance: Cent},
		WindowDays: ReturnedWindowDays,
		Account:    AccountFrom,
		Keyword:    KeywordRule{Mode: KeywordList, Field: FieldName, List: upper(keywords)},
	}
}

// Received: a bank credit matching the received amount on the destination
// account, backed by a checkbook payment.
func Received() Rule {
	return Rule{
		Name:        "received",
		Amount:      AmountRule{Mode: AmountMagnitudeWithin, Sign: Negative, Tolerance: Cent},
		WindowDays:  ReceivedWindowDays,
		Account:     AccountTo,
		Corroborate: true,
	}
}

// CompilePatterns compiles case-insensitive keyword expressions.
func CompilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile("(?i)" + e)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// FundingPayment reports whether a checkbook payment looks like a funding
// transfer: outgoing, with a description containing "fund" or starting
// with "f".
func FundingPayment(pay *records.CheckbookPayment) bool {
	if pay.Direction != "OUTGOING" {
		return false
	}
	desc := strings.ToLower(strings.TrimSpace(pay.Description))
	return strings.Contains(desc, "fund") || strings.HasPrefix(desc, "f")
}

// SelectPayment picks the checkbook payment that corroborates a received
// pair. payments must be sorted and already filtered to the holder's
// funding payments. A payment on the platform date wins; otherwise the
// one closest to the bank date; ties keep sorted order.
func SelectPayment(p *records.Platform, bank *records.Counterpart, payments []*records.Counterpart) *records.Counterpart {
	bankAmount := bank.Amount.Abs()

	var best *records.Counterpart
	bestSameDay := false
	bestDist := 0
	for _, pay := range payments {
		if bankAmount.Sub(pay.Amount.Abs()).Abs().GreaterThan(Cent) {
			continue
		}
		if !withinPaymentWindow(bank.Date, pay) {
			continue
		}
		dist := records.DaysApart(bank.Date, pay.Date)
		sameDay := p != nil && pay.Date.Equal(p.Date)

		switch {
		case best == nil:
		case sameDay && !bestSameDay:
		case sameDay == bestSameDay && dist < bestDist:
		default:
			continue
		}
		best, bestSameDay, bestDist = pay, sameDay, dist
	}
	return best
}

func withinPaymentWindow(bankDate time.Time, pay *records.Counterpart) bool {
	at := pay.Date
	if pay.Payment != nil && pay.Payment.Date > 0 {
		at = time.UnixMilli(pay.Payment.Date).UTC()
	}
	gap := bankDate.Sub(at)
	if gap < 0 {
		gap = -gap
	}
	return gap <= PaymentEvidenceWindow
}

func upper(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
