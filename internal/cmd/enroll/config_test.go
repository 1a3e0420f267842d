package enroll

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.SheetsBaseURL != "https://sheets.googleapis.com/v4" {
		t.Fatalf("expected default sheets base url, got %q", cfg.SheetsBaseURL)
	}
	if cfg.SessionTTL != 48*time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.PositionCount != 0 {
		t.Fatalf("expected provisioning disabled by default, got %d", cfg.PositionCount)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("ENROLL_HTTP_ADDR", "env-addr")
	t.Setenv("ENROLL_SPREADSHEET_ID", "env-sheet")
	t.Setenv("ENROLL_POSITION_COUNT", "120")

	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-position-count", "60",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.SpreadsheetID != "env-sheet" {
		t.Fatalf("expected env spreadsheet id, got %q", cfg.SpreadsheetID)
	}
	if cfg.PositionCount != 60 {
		t.Fatalf("expected flag position count, got %d", cfg.PositionCount)
	}
}
