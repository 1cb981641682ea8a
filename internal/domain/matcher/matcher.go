// Package matcher decides whether a platform record and a counterpart
// record describe the same money movement.
//
// Every flow uses the same predicate shape: amount check, date window,
// account check, then keyword or corroboration check. Flows differ only
// in the Rule they pass:
//
//	rule := matcher.Deposit()
//	res := rule.Evaluate(platform, bank, matcher.Env{Keywords: idx})
//	if res.Matched() {
//		// link platform and bank
//	}
//
// Evaluate is pure. It never mutates its inputs or performs I/O.
package matcher

import (
	"strings"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// Evaluate runs every sub-check of the rule. p may be nil for rules that
// never read the platform side (fee inference).
func (r Rule) Evaluate(p *records.Platform, c *records.Counterpart, env Env) Result {
	var res Result

	if r.Amount.Sign != AnySign {
		res.record(CheckSign, signOK(r.Amount.Sign, c))
	}
	res.record(CheckAmount, r.amountOK(p, c))

	if r.WindowDays != NoWindow && p != nil {
		res.DaysApart = records.DaysApart(p.Date, c.Date)
		res.record(CheckDate, res.DaysApart <= r.WindowDays)
	}

	if r.Account != AccountAny {
		res.record(CheckAccount, r.accountOK(p, c, env))
	}

	if r.Keyword.Mode != KeywordNone {
		kw, ok := r.keywordOK(p, c, env)
		res.Keyword = kw
		res.record(CheckKeyword, ok)
	}

	// Corroboration looks at other records, so only ask once the pair
	// itself qualifies.
	if r.Corroborate && res.Matched() {
		var ok bool
		if env.Corroborator != nil {
			res.Evidence, ok = env.Corroborator.Corroborate(p, c)
		}
		res.record(CheckCorroboration, ok)
	}

	return res
}

func signOK(s Sign, c *records.Counterpart) bool {
	switch s {
	case Positive:
		return c.Amount.IsPositive()
	case Negative:
		return c.Amount.IsNegative()
	default:
		return true
	}
}

func (r Rule) amountOK(p *records.Platform, c *records.Counterpart) bool {
	if r.Amount.Mode == AmountRange {
		a := c.Amount.Abs()
		return a.GreaterThan(r.Amount.Min) && a.LessThanOrEqual(r.Amount.Max)
	}
	if p == nil {
		return false
	}

	expected := p.Amount
	if r.Amount.Negate {
		expected = expected.Neg()
	}

	switch r.Amount.Mode {
	case AmountWithin:
		return expected.Sub(c.Amount).Abs().LessThan(r.Amount.Tolerance)
	case AmountMagnitudeWithin:
		return p.Amount.Abs().Sub(c.Amount.Abs()).Abs().LessThan(r.Amount.Tolerance)
	default:
		return c.Amount.Equal(expected)
	}
}

func (r Rule) accountOK(p *records.Platform, c *records.Counterpart, env Env) bool {
	switch r.Account {
	case AccountFrom, AccountTo:
		if p == nil {
			return false
		}
		side := records.SideFrom
		if r.Account == AccountTo {
			side = records.SideTo
		}
		id := p.BankAccountID(side)
		return id != 0 && id == c.BankAccountID
	case AccountKnown:
		if c.BankAccountID == 0 {
			return false
		}
		_, ok := env.Accounts[c.BankAccountID]
		return ok
	default:
		return true
	}
}

func (r Rule) keywordOK(p *records.Platform, c *records.Counterpart, env Env) (string, bool) {
	text := c.Description
	if r.Keyword.Field == FieldName {
		text = c.Name
	}

	switch r.Keyword.Mode {
	case KeywordCasino:
		if p == nil {
			return "", false
		}
		return env.Keywords.MatchAny(p.Casino, text)
	case KeywordList:
		for _, kw := range r.Keyword.List {
			if strings.Contains(text, kw) {
				return kw, true
			}
		}
	case KeywordPattern:
		for _, re := range r.Keyword.Patterns {
			if re.MatchString(text) {
				return re.String(), true
			}
		}
	}
	return "", false
}
