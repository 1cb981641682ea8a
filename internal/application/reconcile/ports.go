package reconcile

import (
	"context"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// Source reads holder data. Every call is a suspension point; nothing
// else in the engine blocks.
type Source interface {
	ListHolders(ctx context.Context, stages []string) ([]records.Holder, error)
	FetchPlatformRecords(ctx context.Context, holderID int64, types []records.RecordType) ([]records.PlatformRecord, error)
	FetchBankRecords(ctx context.Context, holderID int64) ([]records.BankRecord, error)
	FetchScrapedRecords(ctx context.Context, holderID int64, source, typ string) ([]records.ScrapedRecord, error)
	FetchCheckbookPayments(ctx context.Context, holderID int64) ([]records.CheckbookPayment, error)
	FetchHolderAccounts(ctx context.Context, holderID int64) ([]records.AccountRef, error)
}

// Ledger performs the writes. It is never called in dry-run mode.
type Ledger interface {
	CreatePlatformRecord(ctx context.Context, payload records.CreatePayload) (*records.PlatformRecord, error)
	LinkPlatformRecord(ctx context.Context, platformID, bankID int64) error
	LinkBankRecord(ctx context.Context, linkKey string, platformID, editorID int64) error
	ReassignDestination(ctx context.Context, platformID, accountID, editorID int64) error
}
