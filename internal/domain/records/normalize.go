package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Skip reasons produced while normalizing.
const (
	ReasonInvalidDate        = "invalid_date"
	ReasonMissingBankAccount = "missing_bank_account"
)

// SkipError marks a record as non-matchable. It is reported, never fatal.
type SkipError struct {
	Reason string
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

// AsSkip unwraps a SkipError from err.
func AsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AccountSide selects which account of a platform record carries the
// bank-account identifier a flow compares against.
type AccountSide int

const (
	SideNone AccountSide = iota
	SideFrom
	SideTo
)

func (s AccountSide) String() string {
	switch s {
	case SideFrom:
		return "from"
	case SideTo:
		return "to"
	default:
		return "none"
	}
}

// Platform is a normalized platform record.
type Platform struct {
	Record *PlatformRecord
	Seq    int // position in the fetched sequence
	Amount decimal.Decimal
	Date   time.Time
	Casino string

	FromBankAccountID int64
	ToBankAccountID   int64
}

// BankAccountID returns the bank-account identifier on the given side.
func (p *Platform) BankAccountID(side AccountSide) int64 {
	switch side {
	case SideFrom:
		return p.FromBankAccountID
	case SideTo:
		return p.ToBankAccountID
	default:
		return 0
	}
}

// Require fails with a SkipError when the side's bank-account id is missing.
func (p *Platform) Require(side AccountSide) error {
	if side == SideNone || p.BankAccountID(side) != 0 {
		return nil
	}
	return &SkipError{
		Reason: ReasonMissingBankAccount,
		Detail: fmt.Sprintf("%s account of platform record %d has no bank account id", side, p.Record.ID),
	}
}

// CounterpartKind identifies the source of a counterpart record.
type CounterpartKind string

const (
	KindBank    CounterpartKind = "bank"
	KindScraped CounterpartKind = "scraped"
	KindPayment CounterpartKind = "payment"
)

// Counterpart is a normalized bank, scraped or checkbook record. The
// matcher only ever compares a Platform against a Counterpart.
type Counterpart struct {
	Kind          CounterpartKind
	ID            int64
	Seq           int
	Amount        decimal.Decimal
	Date          time.Time
	BankAccountID int64
	Name          string // uppercased name
	Description   string // uppercased name and counterparty name

	Bank    *BankRecord
	Scraped *ScrapedRecord
	Payment *CheckbookPayment
}

// NormalizePlatform canonicalizes a platform record.
func NormalizePlatform(rec *PlatformRecord, seq int) (*Platform, error) {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return nil, &SkipError{Reason: ReasonInvalidDate, Detail: fmt.Sprintf("platform record %d: %v", rec.ID, err)}
	}

	p := &Platform{
		Record: rec,
		Seq:    seq,
		Amount: RoundAmount(rec.Amount),
		Date:   date,
		Casino: strings.ToUpper(strings.TrimSpace(rec.Name)),
	}
	if rec.From != nil {
		p.FromBankAccountID = rec.From.BankAccountID
	}
	if rec.To != nil {
		p.ToBankAccountID = rec.To.BankAccountID
	}
	return p, nil
}

// NormalizeBank canonicalizes a bank record.
func NormalizeBank(rec *BankRecord, seq int) (*Counterpart, error) {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return nil, &SkipError{Reason: ReasonInvalidDate, Detail: fmt.Sprintf("bank record %d: %v", rec.ID, err)}
	}
	return &Counterpart{
		Kind:          KindBank,
		ID:            rec.ID,
		Seq:           seq,
		Amount:        RoundAmount(rec.Amount),
		Date:          date,
		BankAccountID: rec.BankAccountID,
		Name:          strings.ToUpper(strings.TrimSpace(rec.Name)),
		Description:   Describe(rec.Name, rec.CounterpartyName),
		Bank:          rec,
	}, nil
}

// NormalizeScraped canonicalizes a scraped wallet record.
func NormalizeScraped(rec *ScrapedRecord, seq int) (*Counterpart, error) {
	if rec.TransactionTime <= 0 {
		return nil, &SkipError{Reason: ReasonInvalidDate, Detail: fmt.Sprintf("scraped record %d has no transaction time", rec.ID)}
	}
	return &Counterpart{
		Kind:    KindScraped,
		ID:      rec.ID,
		Seq:     seq,
		Amount:  RoundAmount(rec.Net),
		Date:    FromEpochMillis(rec.TransactionTime),
		Scraped: rec,
	}, nil
}

// NormalizePayment canonicalizes a checkbook payment.
func NormalizePayment(rec *CheckbookPayment, seq int) (*Counterpart, error) {
	if rec.Date <= 0 {
		return nil, &SkipError{Reason: ReasonInvalidDate, Detail: fmt.Sprintf("checkbook payment %d has no date", rec.ID)}
	}
	return &Counterpart{
		Kind:        KindPayment,
		ID:          rec.ID,
		Seq:         seq,
		Amount:      RoundAmount(rec.Amount),
		Date:        FromEpochMillis(rec.Date),
		Description: strings.ToUpper(strings.TrimSpace(rec.Description)),
		Payment:     rec,
	}, nil
}

// RoundAmount rounds to cents, half away from zero.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Describe builds the uppercase description keyword checks run against.
func Describe(name, counterparty string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimSpace(name) + " " + strings.TrimSpace(counterparty)))
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
}

// ParseDate parses a ledger or bank date into a UTC calendar day.
// Numeric strings are read as epoch milliseconds.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return day(t.UTC()), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return FromEpochMillis(ms), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FromEpochMillis converts epoch milliseconds to a UTC calendar day.
func FromEpochMillis(ms int64) time.Time {
	return day(time.UnixMilli(ms).UTC())
}

// DaysApart returns the absolute number of calendar days between a and b.
func DaysApart(a, b time.Time) int {
	d := int(a.Sub(b) / (24 * time.Hour))
	if d < 0 {
		return -d
	}
	return d
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
