// Package candidates narrows fetched records to the unlinked, relevant
// subset for one holder and puts them in traversal order.
//
// Traversal order is ascending date; records on the same day keep the
// order they were fetched in.
package candidates

import (
	"slices"
	"strings"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/records"
)

// Excluded is a record dropped as non-matchable.
type Excluded struct {
	Kind   string
	ID     int64
	Reason string
	Detail string
}

func exclude(kind string, id int64, err error) Excluded {
	ex := Excluded{Kind: kind, ID: id, Reason: err.Error()}
	if se, ok := records.AsSkip(err); ok {
		ex.Reason = se.Reason
		ex.Detail = se.Detail
	}
	return ex
}

// Platform returns the holder's unlinked platform records of type typ.
// Records missing the bank-account id on side are excluded.
func Platform(recs []records.PlatformRecord, holderID int64, typ records.RecordType, side records.AccountSide) ([]*records.Platform, []Excluded) {
	var (
		out      []*records.Platform
		excluded []Excluded
	)
	for i := range recs {
		rec := &recs[i]
		if rec.Linked() || !strings.EqualFold(string(rec.Type), string(typ)) {
			continue
		}
		if rec.HolderID != 0 && rec.HolderID != holderID {
			continue
		}

		p, err := records.NormalizePlatform(rec, i)
		if err == nil {
			err = p.Require(side)
		}
		if err != nil {
			excluded = append(excluded, exclude("platform", rec.ID, err))
			continue
		}
		out = append(out, p)
	}

	slices.SortStableFunc(out, func(a, b *records.Platform) int {
		return a.Date.Compare(b.Date)
	})
	return out, excluded
}

// Bank returns the unlinked bank records accepted by keep (nil keeps all).
func Bank(recs []records.BankRecord, keep func(*records.Counterpart) bool) ([]*records.Counterpart, []Excluded) {
	var (
		out      []*records.Counterpart
		excluded []Excluded
	)
	for i := range recs {
		rec := &recs[i]
		if rec.Linked() {
			continue
		}
		c, err := records.NormalizeBank(rec, i)
		if err != nil {
			excluded = append(excluded, exclude(string(records.KindBank), rec.ID, err))
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		out = append(out, c)
	}
	sortCounterparts(out)
	return out, excluded
}

// Scraped returns the scraped records with the given source and type tags.
func Scraped(recs []records.ScrapedRecord, source, typ string) ([]*records.Counterpart, []Excluded) {
	var (
		out      []*records.Counterpart
		excluded []Excluded
	)
	for i := range recs {
		rec := &recs[i]
		if rec.Source != source || rec.Type != typ {
			continue
		}
		c, err := records.NormalizeScraped(rec, i)
		if err != nil {
			excluded = append(excluded, exclude(string(records.KindScraped), rec.ID, err))
			continue
		}
		out = append(out, c)
	}
	sortCounterparts(out)
	return out, excluded
}

// Payments returns the holder's funding checkbook payments.
func Payments(recs []records.CheckbookPayment, holderID int64) ([]*records.Counterpart, []Excluded) {
	var (
		out      []*records.Counterpart
		excluded []Excluded
	)
	for i := range recs {
		rec := &recs[i]
		if rec.Recipient != holderID || !matcher.FundingPayment(rec) {
			continue
		}
		c, err := records.NormalizePayment(rec, i)
		if err != nil {
			excluded = append(excluded, exclude(string(records.KindPayment), rec.ID, err))
			continue
		}
		out = append(out, c)
	}
	sortCounterparts(out)
	return out, excluded
}

func sortCounterparts(list []*records.Counterpart) {
	slices.SortStableFunc(list, func(a, b *records.Counterpart) int {
		return a.Date.Compare(b.Date)
	})
}
