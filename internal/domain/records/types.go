// Package records holds the ledger, bank and evidence records the
// reconciler works on, plus the normalizer that turns them into
// comparable form.
package records

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// RecordType is the Transaction_Type of a platform record.
type RecordType string

const (
	TypeDeposit    RecordType = "deposit"
	TypeWithdrawal RecordType = "withdrawal"
	TypeFees       RecordType = "fees"
	TypeReceived   RecordType = "received"
	TypeReturned   RecordType = "returned"
)

// Account types as stored on the ledger.
const (
	AccountTypeBettingBank   = "Betting bank account"
	AccountTypeBettingPayPal = "Betting PayPal account"
)

// AccountRef is a ledger account as embedded in a platform record or
// returned by the holder accounts endpoint.
type AccountRef struct {
	ID            int64  `json:"id"`
	Name          string `json:"Account_Name,omitempty"`
	Type          string `json:"Account_Type,omitempty"`
	BankAccountID int64  `json:"bankaccount_id,omitempty"`
	IsDefault     bool   `json:"isDefault,omitempty"`
}

// PlatformRecord is an entry in the betting ledger.
type PlatformRecord struct {
	ID            int64           `json:"id"`
	HolderID      int64           `json:"user_id"`
	Type          RecordType      `json:"Transaction_Type"`
	Amount        decimal.Decimal `json:"Amount"`
	Date          string          `json:"Date"`
	Name          string          `json:"Name"`
	FromAccountID int64           `json:"From_Account,omitempty"`
	ToAccountID   int64           `json:"To_Account,omitempty"`
	From          *AccountRef     `json:"from,omitempty"`
	To            *AccountRef     `json:"to,omitempty"`
	Link          LinkRef         `json:"related_bank_transaction"`
}

// Linked reports whether the record already points at a bank record.
func (p *PlatformRecord) Linked() bool { return p.Link.Set() }

// SourceAccountID is the ledger id of the source account.
func (p *PlatformRecord) SourceAccountID() int64 {
	if p.FromAccountID != 0 || p.From == nil {
		return p.FromAccountID
	}
	return p.From.ID
}

// DestinationAccountID is the ledger id of the destination account.
func (p *PlatformRecord) DestinationAccountID() int64 {
	if p.ToAccountID != 0 || p.To == nil {
		return p.ToAccountID
	}
	return p.To.ID
}

// BankRecord is an entry from the bank feed.
type BankRecord struct {
	ID               int64           `json:"id"`
	TransactionID    string          `json:"transaction_id"`
	Amount           decimal.Decimal `json:"amount"`
	Date             string          `json:"date"`
	BankAccountID    int64           `json:"bankaccount_id"`
	Name             string          `json:"name"`
	CounterpartyName string          `json:"counterparty_name"`
	Link             LinkRef         `json:"transaction_link"`
}

// Linked reports whether the record already points at a platform record.
func (b *BankRecord) Linked() bool { return b.Link.Set() }

// LinkKey is the identifier the bank feed expects when updating the record.
func (b *BankRecord) LinkKey() string {
	if b.TransactionID != "" {
		return b.TransactionID
	}
	return strconv.FormatInt(b.ID, 10)
}

// ScrapedRecord is a transaction scraped from a third-party wallet.
type ScrapedRecord struct {
	ID              int64           `json:"id"`
	Source          string          `json:"Source"`
	Type            string          `json:"Type"`
	Net             decimal.Decimal `json:"Net"`
	TransactionTime int64           `json:"Transaction Time"`
}

// CheckbookPayment is a payment sent through the checkbook service.
type CheckbookPayment struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        int64           `json:"date"`
	Description string          `json:"description"`
	Direction   string          `json:"direction"`
	Recipient   int64           `json:"recipient"`
}

// Holder is an account owner reconciled as one unit of work.
type Holder struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Stage string `json:"player_stage"`
}

// CreatePayload is the body sent to create a platform record.
type CreatePayload struct {
	FromAccountID int64           `json:"From_Account"`
	ToAccountID   int64           `json:"To_Account"`
	Type          RecordType      `json:"Transaction_Type"`
	Amount        decimal.Decimal `json:"Amount"`
	Date          string          `json:"Date"`
	HolderID      int64           `json:"User_ID"`
	AddedBy       int64           `json:"Added_By"`
	Status        string          `json:"Status"`
}
