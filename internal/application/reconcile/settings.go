package reconcile

import (
	"fmt"
	"regexp"

	"github.com/eshaffer321/ledger-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/config"
)

// Wallet tags used by withdrawal reclassification.
const (
	ScrapedSourcePayPal     = "paypal"
	ScrapedTypeTransferRecv = "transfer_received"
	FeeStatusCompleted      = "Completed"
)

// Settings are the engine's run-independent knobs.
type Settings struct {
	EditorID      int64
	FeesAccountID int64
	Workers       int

	ReclassMinAgeDays int

	ReturnedKeywords        []string
	FeeOutgoingPatterns     []*regexp.Regexp
	FeeIncomingPatterns     []*regexp.Regexp
	FeeLinkOutgoingKeywords []string
	FeeLinkIncomingKeywords []string
}

// NewSettings builds Settings from configuration, compiling the fee
// patterns.
func NewSettings(ledger config.LedgerConfig, m config.MatchingConfig) (Settings, error) {
	out, err := matcher.CompilePatterns(m.FeeOutgoingPatterns)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid fee_outgoing_patterns: %w", err)
	}
	in, err := matcher.CompilePatterns(m.FeeIncomingPatterns)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid fee_incoming_patterns: %w", err)
	}

	return Settings{
		EditorID:                ledger.EditorID,
		FeesAccountID:           ledger.FeesAccountID,
		Workers:                 m.Workers,
		ReclassMinAgeDays:       m.ReclassMinAgeDays,
		ReturnedKeywords:        m.ReturnedKeywords,
		FeeOutgoingPatterns:     out,
		FeeIncomingPatterns:     in,
		FeeLinkOutgoingKeywords: m.FeeLinkOutgoingKeywords,
		FeeLinkIncomingKeywords: m.FeeLinkIncomingKeywords,
	}, nil
}

// DefaultSettings returns Settings built from the configuration defaults.
func DefaultSettings() Settings {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	s, err := NewSettings(cfg.Ledger, cfg.Matching)
	if err != nil {
		// The built-in patterns are constants; failing here is a programming error.
		panic(err)
	}
	return s
}
