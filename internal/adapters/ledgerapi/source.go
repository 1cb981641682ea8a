package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// ListHolders returns holders in the given stages (all when empty),
// minus internal accounts.
func (c *Client) ListHolders(ctx context.Context, stages []string) ([]records.Holder, error) {
	var all []records.Holder
	if err := c.get(ctx, c.endpoints.Players, nil, &all); err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}

	out := make([]records.Holder, 0, len(all))
	for _, h := range all {
		if len(stages) > 0 && !stageIn(h.Stage, stages) {
			continue
		}
		if c.excludeDomain != "" && strings.HasSuffix(strings.ToLower(strings.TrimSpace(h.Email)), c.excludeDomain) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func stageIn(stage string, stages []string) bool {
	for _, s := range stages {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(stage)) {
			return true
		}
	}
	return false
}

// FetchPlatformRecords returns the holder's platform records of the given
// types.
func (c *Client) FetchPlatformRecords(ctx context.Context, holderID int64, types []records.RecordType) ([]records.PlatformRecord, error) {
	var all []records.PlatformRecord
	if err := c.get(ctx, c.endpoints.PlatformTransactions, holderQuery("user_id", holderID), &all); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return all, nil
	}

	out := all[:0]
	for _, p := range all {
		for _, t := range types {
			if strings.EqualFold(string(p.Type), string(t)) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

// bankEnvelope accepts both the wrapped and the bare list response.
type bankEnvelope struct {
	Records []records.BankRecord
}

func (e *bankEnvelope) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &e.Records)
	}
	var wrapped struct {
		BankTransactions []records.BankRecord `json:"bankTransactions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	e.Records = wrapped.BankTransactions
	return nil
}

// FetchBankRecords returns the holder's bank records.
func (c *Client) FetchBankRecords(ctx context.Context, holderID int64) ([]records.BankRecord, error) {
	var env bankEnvelope
	if err := c.get(ctx, c.endpoints.BankTransactions, holderQuery("player_id", holderID), &env); err != nil {
		return nil, err
	}
	return env.Records, nil
}

// FetchScrapedRecords returns the holder's scraped wallet records. The
// source and type are passed as hints; callers still filter.
func (c *Client) FetchScrapedRecords(ctx context.Context, holderID int64, source, typ string) ([]records.ScrapedRecord, error) {
	q := holderQuery("user_id", holderID)
	if source != "" {
		q.Set("source", source)
	}
	if typ != "" {
		q.Set("type", typ)
	}
	var out []records.ScrapedRecord
	if err := c.get(ctx, c.endpoints.ScrapedTransactions, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchCheckbookPayments returns payments sent to the holder.
func (c *Client) FetchCheckbookPayments(ctx context.Context, holderID int64) ([]records.CheckbookPayment, error) {
	var out []records.CheckbookPayment
	if err := c.get(ctx, c.endpoints.CheckbookPayments, holderQuery("user_id", holderID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHolderAccounts returns the holder's ledger accounts. Results are
// cached for the configured TTL so scheduled runs do not refetch them.
func (c *Client) FetchHolderAccounts(ctx context.Context, holderID int64) ([]records.AccountRef, error) {
	key := accountsKey(holderID)
	if c.ttl > 0 {
		if v, ok := c.cache.Get(key); ok {
			if cached, ok := v.([]records.AccountRef); ok {
				return append([]records.AccountRef(nil), cached...), nil
			}
		}
	}

	var out []records.AccountRef
	if err := c.get(ctx, c.endpoints.UserAccounts, holderQuery("user_id", holderID), &out); err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, append([]records.AccountRef(nil), out...), 1, c.ttl)
		c.cache.Wait()
	}
	return out, nil
}

// InvalidateAccounts drops the cached accounts of a holder.
func (c *Client) InvalidateAccounts(holderID int64) {
	c.cache.Del(accountsKey(holderID))
}

func accountsKey(holderID int64) string {
	return "accounts:" + strconv.FormatInt(holderID, 10)
}

func holderQuery(name string, holderID int64) url.Values {
	return url.Values{name: []string{strconv.FormatInt(holderID, 10)}}
}
