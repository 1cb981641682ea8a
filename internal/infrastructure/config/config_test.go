package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	// Arrange
	t.Setenv("TEST_LEDGER_KEY", "secret")
	path := writeConfig(t, `
ledger:
  base_url: https://ledger.example.com/api/
  api_key: ${TEST_LEDGER_KEY}
  timeout: 10s
matching:
  keywords_file: keywords.json
  workers: 8
schedule:
  cron: "0 6 * * *"
  flows: [deposit, returned]
`)

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "https://ledger.example.com/api", cfg.Ledger.BaseURL)
	assert.Equal(t, "secret", cfg.Ledger.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, DefaultRetryMax, cfg.Ledger.RetryMax)
	assert.Equal(t, int64(DefaultEditorID), cfg.Ledger.EditorID)
	assert.Equal(t, int64(DefaultFeesAccountID), cfg.Ledger.FeesAccountID)
	assert.Equal(t, "/bank_transactions/{id}", cfg.Ledger.Endpoints.BankTransaction)
	assert.Equal(t, 8, cfg.Matching.Workers)
	assert.Equal(t, DefaultReclassMinAgeDays, cfg.Matching.ReclassMinAgeDays)
	assert.Contains(t, cfg.Matching.ReturnedKeywords, "reel ventures")
	assert.NotEmpty(t, cfg.Matching.FeeOutgoingPatterns)
	assert.Equal(t, []string{"deposit", "returned"}, cfg.Schedule.Flows)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
	assert.Equal(t, "reconcile.db", cfg.Storage.DatabasePath)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ledger: [not a map"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEDGER_BASE_URL", "http://localhost:9000")
	t.Setenv("RECONCILE_DB_PATH", "test.db")
	t.Setenv("RECONCILE_WORKERS", "3")
	t.Setenv("LEDGER_TIMEOUT", "5s")
	t.Setenv("RECONCILE_SCHEDULE_STAGES", "active, funded,")

	cfg := LoadFromEnv()

	assert.Equal(t, "http://localhost:9000", cfg.Ledger.BaseURL)
	assert.Equal(t, "test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 3, cfg.Matching.Workers)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, []string{"active", "funded"}, cfg.Schedule.Stages)
}

func TestLoadOrEnvWithPath_FallsBack(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "fallback.db")

	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Equal(t, "fallback.db", cfg.Storage.DatabasePath)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Error(t, cfg.Validate())

	cfg.Ledger.BaseURL = "http://x"
	cfg.Matching.KeywordsFile = "k.json"
	assert.NoError(t, cfg.Validate())
}
