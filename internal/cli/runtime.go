package cli

import (
	"fmt"
	"log/slog"

	"github.com/eshaffer321/ledger-reconciler/internal/adapters/ledgerapi"
	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconciler/internal/domain/keywords"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/config"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// Runtime holds the wired engine and its collaborators.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *storage.Storage
	Client       *ledgerapi.Client
	Orchestrator *reconcile.Orchestrator
}

// NewRuntime wires storage, the ledger client and the orchestrator.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	index, err := keywords.LoadFile(cfg.Matching.KeywordsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}
	settings, err := reconcile.NewSettings(cfg.Ledger, cfg.Matching)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	client, err := ledgerapi.New(cfg.Ledger, logger.With("component", "ledgerapi"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("Runtime ready",
		"casinos", index.Len(),
		"database", cfg.Storage.DatabasePath,
		"ledger", cfg.Ledger.BaseURL,
	)

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Client:       client,
		Orchestrator: reconcile.NewOrchestrator(client, client, index, settings, store, logger),
	}, nil
}

// Close releases storage and the client cache.
func (r *Runtime) Close() {
	r.Client.Close()
	if err := r.Store.Close(); err != nil {
		r.Logger.Warn("Failed to close storage", "error", err)
	}
}
