package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// createBody is the wire form of a create request. The ledger expects the
// amount as a JSON number.
type createBody struct {
	FromAccountID int64              `json:"From_Account"`
	ToAccountID   int64              `json:"To_Account"`
	Type          records.RecordType `json:"Transaction_Type"`
	Amount        json.Number        `json:"Amount"`
	Date          string             `json:"Date"`
	HolderID      int64              `json:"User_ID"`
	AddedBy       int64              `json:"Added_By"`
	Status        string             `json:"Status"`
}

// CreatePlatformRecord creates a platform record. Creates are never
// retried.
func (c *Client) CreatePlatformRecord(ctx context.Context, payload records.CreatePayload) (*records.PlatformRecord, error) {
	body := createBody{
		FromAccountID: payload.FromAccountID,
		ToAccountID:   payload.ToAccountID,
		Type:          payload.Type,
		Amount:        json.Number(payload.Amount.StringFixed(2)),
		Date:          payload.Date,
		HolderID:      payload.HolderID,
		AddedBy:       payload.AddedBy,
		Status:        payload.Status,
	}

	var created records.PlatformRecord
	if err := c.do(ctx, c.once, http.MethodPost, c.endpoints.PlatformTransactions, nil, body, &created); err != nil {
		return nil, err
	}
	if created.ID == 0 {
		return nil, errors.New("create response has no id")
	}
	return &created, nil
}

// LinkPlatformRecord points a platform record at a bank record.
func (c *Client) LinkPlatformRecord(ctx context.Context, platformID, bankID int64) error {
	body := map[string]any{"related_bank_transaction": []int64{bankID}}
	path := withID(c.endpoints.PlatformTransaction, strconv.FormatInt(platformID, 10))
	if err := c.do(ctx, c.http, http.MethodPatch, path, nil, body, nil); err != nil {
		return fmt.Errorf("failed to link platform record %d: %w", platformID, err)
	}
	return nil
}

// LinkBankRecord points a bank record at a platform record.
func (c *Client) LinkBankRecord(ctx context.Context, linkKey string, platformID, editorID int64) error {
	body := map[string]any{"transaction_link": platformID, "last_edited_by": editorID}
	if err := c.do(ctx, c.http, http.MethodPatch, withID(c.endpoints.BankTransaction, linkKey), nil, body, nil); err != nil {
		return fmt.Errorf("failed to link bank record %s: %w", linkKey, err)
	}
	return nil
}

// ReassignDestination moves a platform record's destination account.
func (c *Client) ReassignDestination(ctx context.Context, platformID, accountID, editorID int64) error {
	body := map[string]any{"To_Account": accountID, "last_edited_by": editorID}
	path := withID(c.endpoints.PlatformTransaction, strconv.FormatInt(platformID, 10))
	if err := c.do(ctx, c.http, http.MethodPatch, path, nil, body, nil); err != nil {
		return fmt.Errorf("failed to reassign platform record %d: %w", platformID, err)
	}
	return nil
}
