// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${VAR} expansion
//  2. Environment variables (fallback), including a .env file if present
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	workers := cfg.Matching.Workers
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Ledger        LedgerConfig        `yaml:"ledger"`
	Matching      MatchingConfig      `yaml:"matching"`
	Storage       StorageConfig       `yaml:"storage"`
	API           APIConfig           `yaml:"api"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LedgerConfig holds the ledger API endpoints and write identity
type LedgerConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	RetryMax           int           `yaml:"retry_max"`
	EditorID           int64         `yaml:"editor_id"`
	FeesAccountID      int64         `yaml:"fees_account_id"`
	ExcludeEmailDomain string        `yaml:"exclude_email_domain"`
	AccountCacheTTL    time.Duration `yaml:"account_cache_ttl"`
	Endpoints          Endpoints     `yaml:"endpoints"`
}

// Endpoints are paths relative to BaseURL. {id} is replaced on updates.
type Endpoints struct {
	Players              string `yaml:"players"`
	PlatformTransactions string `yaml:"platform_transactions"`
	PlatformTransaction  string `yaml:"platform_transaction"`
	BankTransactions     string `yaml:"bank_transactions"`
	BankTransaction      string `yaml:"bank_transaction"`
	ScrapedTransactions  string `yaml:"scraped_transactions"`
	CheckbookPayments    string `yaml:"checkbook_payments"`
	UserAccounts         string `yaml:"user_accounts"`
}

// MatchingConfig holds the engine's reference data and knobs
type MatchingConfig struct {
	KeywordsFile            string   `yaml:"keywords_file"`
	ReturnedKeywords        []string `yaml:"returned_keywords"`
	FeeOutgoingPatterns     []string `yaml:"fee_outgoing_patterns"`
	FeeIncomingPatterns     []string `yaml:"fee_incoming_patterns"`
	FeeLinkOutgoingKeywords []string `yaml:"fee_link_outgoing_keywords"`
	FeeLinkIncomingKeywords []string `yaml:"fee_link_incoming_keywords"`
	ReclassMinAgeDays       int      `yaml:"reclass_min_age_days"`
	Workers                 int      `yaml:"workers"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ScheduleConfig drives scheduled runs in serve mode. An empty Cron
// disables scheduling.
type ScheduleConfig struct {
	Cron     string   `yaml:"cron"`
	Timezone string   `yaml:"timezone"`
	Flows    []string `yaml:"flows"`
	Stages   []string `yaml:"stages"`
	DryRun   bool     `yaml:"dry_run"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults mirrored from the ledger's own constants.
const (
	DefaultEditorID          = 35047
	DefaultFeesAccountID     = 18
	DefaultTimeout           = 30 * time.Second
	DefaultRetryMax          = 3
	DefaultWorkers           = 5
	DefaultReclassMinAgeDays = 15
	DefaultPort              = 8085
)

var (
	defaultReturnedKeywords = []string{"checkbook", "reel ventures", "rv enhanced wall", "individual"}

	// Positive bank amounts are debits: fees charged to the holder.
	defaultFeeOutgoingPatterns = []string{
		`MONTHLY SERVICE FEE`,
		`OVERDRAFT`,
		`CHECKBOOK,?\s*INC`,
		`PAYPAL ACCTVERIFY`,
		`SIGHTLINE_SUTTON`,
		`HSAWCSPCUSTODIAN ACCTVERIFY`,
	}
	// Negative bank amounts are credits: verification micro-deposits.
	defaultFeeIncomingPatterns = []string{
		`Checkbook,?\s*Inc\sMICRO\sDEP`,
		`CHECKBOOK,?\s*INC\sACCTVERIFY`,
		`PAYPAL ACCTVERIFY`,
		`SIGHTLINE_BNKGEO ACCOUNTREG`,
		`SIGHTLINE_SUTTON`,
		`HSAWCSPCUSTODIAN ACCTVERIFY`,
	}
	defaultFeeLinkOutgoing = []string{"MONTHLY SERVICE FEE", "OVERDRAFT", "CHECKBOOK INC", "PAYPAL ACCTVERIFY", "HSAWCSPCUSTODIAN ACCTVERIFY"}
	defaultFeeLinkIncoming = []string{"CHECKBOOK INC MICRO DEP", "CHECKBOOK INC ACCTVERIFY", "PAYPAL ACCTVERIFY", "SIGHTLINE_BNKGEO ACCOUNTREG", "HSAWCSPCUSTODIAN ACCTVERIFY"}
)

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${LEDGER_API_KEY})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Ledger: LedgerConfig{
			BaseURL:            os.Getenv("LEDGER_BASE_URL"),
			APIKey:             os.Getenv("LEDGER_API_KEY"),
			Timeout:            getEnvDuration("LEDGER_TIMEOUT", DefaultTimeout),
			RetryMax:           getEnvInt("LEDGER_RETRY_MAX", DefaultRetryMax),
			EditorID:           int64(getEnvInt("LEDGER_EDITOR_ID", DefaultEditorID)),
			FeesAccountID:      int64(getEnvInt("LEDGER_FEES_ACCOUNT_ID", DefaultFeesAccountID)),
			ExcludeEmailDomain: getEnv("LEDGER_EXCLUDE_EMAIL_DOMAIN", ""),
		},
		Matching: MatchingConfig{
			KeywordsFile:      getEnv("RECONCILE_KEYWORDS_FILE", "CASINO_KEYWORDS.json"),
			ReclassMinAgeDays: getEnvInt("RECONCILE_RECLASS_MIN_AGE_DAYS", DefaultReclassMinAgeDays),
			Workers:           getEnvInt("RECONCILE_WORKERS", DefaultWorkers),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILE_DB_PATH", "reconcile.db"),
		},
		API: APIConfig{
			Port:           getEnvInt("API_PORT", DefaultPort),
			AllowedOrigins: getEnvList("API_ALLOWED_ORIGINS"),
		},
		Schedule: ScheduleConfig{
			Cron:     os.Getenv("RECONCILE_SCHEDULE"),
			Timezone: getEnv("RECONCILE_TIMEZONE", "UTC"),
			Flows:    getEnvList("RECONCILE_SCHEDULE_FLOWS"),
			Stages:   getEnvList("RECONCILE_SCHEDULE_STAGES"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// ApplyDefaults fills every zero value that has a sensible default.
func (c *Config) ApplyDefaults() {
	l := &c.Ledger
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	if l.RetryMax < 0 {
		l.RetryMax = 0
	} else if l.RetryMax == 0 {
		l.RetryMax = DefaultRetryMax
	}
	if l.EditorID == 0 {
		l.EditorID = DefaultEditorID
	}
	if l.FeesAccountID == 0 {
		l.FeesAccountID = DefaultFeesAccountID
	}
	if l.AccountCacheTTL <= 0 {
		l.AccountCacheTTL = 10 * time.Minute
	}
	l.BaseURL = strings.TrimRight(l.BaseURL, "/")

	e := &l.Endpoints
	setDefault(&e.Players, "/players")
	setDefault(&e.PlatformTransactions, "/platform_transactions")
	setDefault(&e.PlatformTransaction, "/platform_transactions/{id}")
	setDefault(&e.BankTransactions, "/bank_transactions")
	setDefault(&e.BankTransaction, "/bank_transactions/{id}")
	setDefault(&e.ScrapedTransactions, "/scraped_transactions")
	setDefault(&e.CheckbookPayments, "/checkbook_payments")
	setDefault(&e.UserAccounts, "/user_accounts")

	m := &c.Matching
	if len(m.ReturnedKeywords) == 0 {
		m.ReturnedKeywords = defaultReturnedKeywords
	}
	if len(m.FeeOutgoingPatterns) == 0 {
		m.FeeOutgoingPatterns = defaultFeeOutgoingPatterns
	}
	if len(m.FeeIncomingPatterns) == 0 {
		m.FeeIncomingPatterns = defaultFeeIncomingPatterns
	}
	if len(m.FeeLinkOutgoingKeywords) == 0 {
		m.FeeLinkOutgoingKeywords = defaultFeeLinkOutgoing
	}
	if len(m.FeeLinkIncomingKeywords) == 0 {
		m.FeeLinkIncomingKeywords = defaultFeeLinkIncoming
	}
	if m.ReclassMinAgeDays <= 0 {
		m.ReclassMinAgeDays = DefaultReclassMinAgeDays
	}
	if m.Workers <= 0 {
		m.Workers = DefaultWorkers
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconcile.db"
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultPort
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// Validate reports configuration that makes a live run impossible.
func (c *Config) Validate() error {
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required (or LEDGER_BASE_URL)")
	}
	if c.Matching.KeywordsFile == "" {
		return fmt.Errorf("matching.keywords_file is required")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
