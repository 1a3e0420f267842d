// Package enroll parses command flags and composes the registration runtime.
package enroll

import (
	"flag"
	"time"

	"github.com/civicmesh/enroll/internal/platform/config"
)

// sheetsScope is the OAuth scope requested for spreadsheet access.
const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// Config holds the enroll command configuration.
type Config struct {
	HTTPAddr string `env:"ENROLL_HTTP_ADDR" envDefault:":8090"`

	SheetsBaseURL         string `env:"ENROLL_SHEETS_BASE_URL"          envDefault:"https://sheets.googleapis.com/v4"`
	SpreadsheetID         string `env:"ENROLL_SPREADSHEET_ID"`
	ServiceAccountEmail   string `env:"ENROLL_SERVICE_ACCOUNT_EMAIL"`
	ServiceAccountKeyFile string `env:"ENROLL_SERVICE_ACCOUNT_KEY_FILE"`
	StaticToken           string `env:"ENROLL_STATIC_TOKEN"`
	TokenURL              string `env:"ENROLL_TOKEN_URL"                envDefault:"https://oauth2.googleapis.com/token"`

	// PositionCount seeds the Positions table at boot when it is empty.
	// Zero disables provisioning.
	PositionCount int `env:"ENROLL_POSITION_COUNT" envDefault:"0"`

	SnapshotPath     string        `env:"ENROLL_SNAPSHOT_PATH"     envDefault:"enroll-sessions.db"`
	SessionTTL       time.Duration `env:"ENROLL_SESSION_TTL"       envDefault:"48h"`
	SweepInterval    time.Duration `env:"ENROLL_SWEEP_INTERVAL"    envDefault:"15m"`
	SnapshotInterval time.Duration `env:"ENROLL_SNAPSHOT_INTERVAL" envDefault:"1m"`

	// PromptCatalogPath overrides the embedded prompt catalog.
	PromptCatalogPath string `env:"ENROLL_PROMPT_CATALOG"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.SheetsBaseURL, "sheets-base-url", cfg.SheetsBaseURL, "spreadsheet API base URL")
	fs.StringVar(&cfg.SpreadsheetID, "spreadsheet-id", cfg.SpreadsheetID, "spreadsheet document identifier")
	fs.StringVar(&cfg.SnapshotPath, "snapshot-path", cfg.SnapshotPath, "session snapshot database path")
	fs.IntVar(&cfg.PositionCount, "position-count", cfg.PositionCount, "positions to provision at boot (0 disables)")
	fs.StringVar(&cfg.PromptCatalogPath, "prompt-catalog", cfg.PromptCatalogPath, "prompt catalog YAML override")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
