package matcher

import (
	"regexp"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/keywords"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
	"github.com/shopspring/decimal"
)

// NoWindow disables the date check.
const NoWindow = -1

// Sign constrains the sign of the counterpart amount.
type Sign int

const (
	AnySign Sign = iota
	Positive
	Negative
)

// AmountMode selects how the counterpart amount is compared.
type AmountMode int

const (
	// AmountEqual requires counterpart == platform (or -platform when Negate).
	AmountEqual AmountMode = iota
	// AmountWithin requires |expected - counterpart| < Tolerance.
	AmountWithin
	// AmountMagnitudeWithin compares absolute values within Tolerance.
	AmountMagnitudeWithin
	// AmountRange requires Min < |counterpart| <= Max. No platform needed.
	AmountRange
)

// AmountRule configures the amount and sign sub-checks.
type AmountRule struct {
	Mode      AmountMode
	Sign      Sign
	Negate    bool
	Tolerance decimal.Decimal
	Min       decimal.Decimal
	Max       decimal.Decimal
}

// AccountRule configures the account sub-check.
type AccountRule int

const (
	AccountAny AccountRule = iota
	// AccountFrom compares the platform source bank-account id.
	AccountFrom
	// AccountTo compares the platform destination bank-account id.
	AccountTo
	// AccountKnown requires the counterpart's bank account to map to a
	// holder ledger account.
	AccountKnown
)

// KeywordMode configures the description sub-check.
type KeywordMode int

const (
	KeywordNone KeywordMode = iota
	// KeywordCasino looks up the platform record's casino in the index.
	KeywordCasino
	// KeywordList checks a fixed list of uppercase substrings.
	KeywordList
	// KeywordPattern checks a list of regular expressions.
	KeywordPattern
)

// Field selects which counterpart text a keyword check reads.
type Field int

const (
	FieldDescription Field = iota
	FieldName
)

// KeywordRule configures the keyword sub-check.
type KeywordRule struct {
	Mode     KeywordMode
	Field    Field
	List     []string
	Patterns []*regexp.Regexp
}

// Rule is one flow's predicate. Use the constructors in rules.go rather
// than building one by hand.
type Rule struct {
	Name        string
	Amount      AmountRule
	WindowDays  int
	Account     AccountRule
	Keyword     KeywordRule
	Corroborate bool
}

// Corroborator finds independent evidence for a candidate pair.
type Corroborator interface {
	Corroborate(p *records.Platform, c *records.Counterpart) (*records.Counterpart, bool)
}

// Env is the read-only context a rule is evaluated in.
type Env struct {
	Keywords     *keywords.Index
	Accounts     map[int64]int64 // bank account id -> ledger account id
	Corroborator Corroborator
}

// Check names a sub-check.
type Check string

const (
	CheckSign          Check = "sign"
	CheckAmount        Check = "amount"
	CheckDate          Check = "date"
	CheckAccount       Check = "account"
	CheckKeyword       Check = "keyword"
	CheckCorroboration Check = "corroboration"
)

// Result is the outcome of evaluating a rule against one candidate.
type Result struct {
	Passed    []Check
	Failed    []Check
	Keyword   string
	Evidence  *records.Counterpart
	DaysApart int
}

// Matched reports whether every evaluated sub-check passed.
func (r Result) Matched() bool {
	return len(r.Failed) == 0
}

func (r *Result) record(c Check, ok bool) {
	if ok {
		r.Passed = append(r.Passed, c)
	} else {
		r.Failed = append(r.Failed, c)
	}
}
