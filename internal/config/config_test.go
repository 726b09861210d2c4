package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/autobaan")
	t.Setenv("CRED_ENC_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	t.Setenv("AUTOBAAN_CONFIG", "")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.MaxAttempts != 3 || cfg.Horizon != 7*24*time.Hour {
		t.Fatalf("attempts = %d, horizon = %s", cfg.MaxAttempts, cfg.Horizon)
	}
	if cfg.Location.String() != "Europe/Amsterdam" {
		t.Fatalf("location = %s", cfg.Location)
	}
	if cfg.Cron.ExecuteDue != "0 7 * * *" || cfg.IMAP.Mailbox != "INBOX" {
		t.Fatalf("cron = %+v, imap = %+v", cfg.Cron, cfg.IMAP)
	}
	if cfg.IMAP.Enabled() || cfg.SES.Enabled() {
		t.Fatalf("optional integrations enabled without settings")
	}
	if err := cfg.RequireCookieKeys(); err == nil {
		t.Fatalf("cookie keys reported present")
	}
}

func TestFromEnvRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("CRED_ENC_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("DATABASE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("accepted missing DATABASE_URL")
	}
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_ATTEMPTS", "0")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("accepted MAX_ATTEMPTS=0")
	}
}

func TestYAMLOverride(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "autobaan.yaml")
	yml := `
timezone: UTC
court_ranks: [55, 51]
booking_horizon_days: 14
cron:
  court_snapshot: "*/5 * * * *"
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AUTOBAAN_CONFIG", path)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Location != time.UTC || !slices.Equal(cfg.CourtRanks, []int{55, 51}) {
		t.Fatalf("location = %s, ranks = %v", cfg.Location, cfg.CourtRanks)
	}
	if cfg.Horizon != 14*24*time.Hour || cfg.Cron.CourtSnapshot != "*/5 * * * *" || cfg.Cron.ExecuteDue != "0 7 * * *" {
		t.Fatalf("horizon = %s, cron = %+v", cfg.Horizon, cfg.Cron)
	}
}

func TestDecodeB64FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte("secret"))+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := decodeB64(path)
	if err != nil || string(got) != "secret" {
		t.Fatalf("decodeB64 = %q, %v", got, err)
	}
}
