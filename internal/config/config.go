package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string
	LogLevel    string
	ListenAddr  string
	DatabaseURL string
	// CredEncKey seals stored site passwords.
	CredEncKey     []byte
	CookieHashKey  []byte
	CookieBlockKey []byte

	// booking site
	BaseURL    string
	Location   *time.Location
	CourtRanks []int
	ChromeURL  string
	Headless   bool

	RedisAddr     string
	MaxAttempts   int
	Horizon       time.Duration
	RetryBackoff  time.Duration
	SiteInterval  time.Duration
	ScreenshotDir string

	Cron Cron

	IMAP IMAP
	SES  SES
}

type Cron struct {
	ExecuteDue    string `yaml:"execute_due"`
	PollMailbox   string `yaml:"poll_mailbox"`
	CourtSnapshot string `yaml:"court_snapshot"`
}

type IMAP struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	// Sender is the only address waiting list notifications come from.
	Sender string
}

func (i IMAP) Enabled() bool { return i.Addr != "" && i.Username != "" }

type SES struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	Recipient       string
}

func (s SES) Enabled() bool { return s.Region != "" && s.Sender != "" && s.Recipient != "" }

// file is the optional YAML override named by AUTOBAAN_CONFIG.
type file struct {
	BaseURL      string `yaml:"base_url"`
	Timezone     string `yaml:"timezone"`
	CourtRanks   []int  `yaml:"court_ranks"`
	MaxAttempts  int    `yaml:"max_attempts"`
	HorizonDays  int    `yaml:"booking_horizon_days"`
	Cron         Cron   `yaml:"cron"`
	WaitlistFrom string `yaml:"waitlist_sender"`
}

// FromEnv reads the environment, after loading an optional .env, and then
// applies the YAML file named by AUTOBAAN_CONFIG if set.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Environment:   getenv("ENVIRONMENT", "production"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		BaseURL:       strings.TrimRight(getenv("BAAN_BASE_URL", "https://squashcity.baanreserveren.nl"), "/"),
		ChromeURL:     os.Getenv("CHROME_URL"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		ScreenshotDir: os.Getenv("SCREENSHOT_DIR"),
		CourtRanks:    []int{51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 63, 64},
		Cron: Cron{
			ExecuteDue:    getenv("CRON_EXECUTE_DUE", "0 7 * * *"),
			PollMailbox:   getenv("CRON_POLL_MAILBOX", "*/1 * * * *"),
			CourtSnapshot: getenv("CRON_COURT_SNAPSHOT", "*/10 * * * *"),
		},
		IMAP: IMAP{
			Addr:     os.Getenv("IMAP_ADDR"),
			Username: os.Getenv("IMAP_USER"),
			Password: os.Getenv("IMAP_PASSWORD"),
			Mailbox:  getenv("IMAP_MAILBOX", "INBOX"),
			Sender:   getenv("WAITLIST_SENDER", "noreply@baanreserveren.nl"),
		},
		SES: SES{
			Region:          os.Getenv("SES_REGION"),
			AccessKeyID:     os.Getenv("SES_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("SES_SECRET_ACCESS_KEY"),
			Sender:          os.Getenv("SES_SENDER"),
			Recipient:       os.Getenv("SES_RECIPIENT"),
		},
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.Headless, err = strconv.ParseBool(getenv("CHROME_HEADLESS", "true")); err != nil {
		return Config{}, fmt.Errorf("invalid CHROME_HEADLESS: %w", err)
	}
	if cfg.MaxAttempts, err = positiveInt("MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	days, err := positiveInt("BOOKING_HORIZON_DAYS", 7)
	if err != nil {
		return Config{}, err
	}
	cfg.Horizon = time.Duration(days) * 24 * time.Hour
	backoff, err := positiveInt("RETRY_BACKOFF_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBackoff = time.Duration(backoff) * time.Second
	interval, err := positiveInt("SITE_INTERVAL_SECONDS", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.SiteInterval = time.Duration(interval) * time.Second

	tz := getenv("SITE_TZ", "Europe/Amsterdam")
	if path := os.Getenv("AUTOBAAN_CONFIG"); path != "" {
		if err := cfg.applyFile(path, &tz); err != nil {
			return Config{}, err
		}
	}
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return Config{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	encKey := os.Getenv("CRED_ENC_KEY")
	if encKey == "" {
		return Config{}, fmt.Errorf("CRED_ENC_KEY is required (32 bytes base64)")
	}
	if cfg.CredEncKey, err = decodeB64(encKey); err != nil {
		return Config{}, fmt.Errorf("CRED_ENC_KEY: %w", err)
	}
	if len(cfg.CredEncKey) != 32 {
		return Config{}, fmt.Errorf("CRED_ENC_KEY must decode to 32 bytes, got %d", len(cfg.CredEncKey))
	}

	if v := os.Getenv("COOKIE_HASH_KEY"); v != "" {
		if cfg.CookieHashKey, err = decodeB64(v); err != nil {
			return Config{}, fmt.Errorf("COOKIE_HASH_KEY: %w", err)
		}
	}
	if v := os.Getenv("COOKIE_BLOCK_KEY"); v != "" {
		if cfg.CookieBlockKey, err = decodeB64(v); err != nil {
			return Config{}, fmt.Errorf("COOKIE_BLOCK_KEY: %w", err)
		}
	}

	return cfg, nil
}

// RequireCookieKeys reports whether the operator API can sign sessions.
func (c Config) RequireCookieKeys() error {
	if len(c.CookieHashKey) == 0 || len(c.CookieBlockKey) == 0 {
		return fmt.Errorf("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required (32 and 16/24/32 bytes base64)")
	}
	return nil
}

func (c *Config) applyFile(path string, tz *string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.BaseURL != "" {
		c.BaseURL = strings.TrimRight(f.BaseURL, "/")
	}
	if f.Timezone != "" {
		*tz = f.Timezone
	}
	if len(f.CourtRanks) > 0 {
		c.CourtRanks = f.CourtRanks
	}
	if f.MaxAttempts > 0 {
		c.MaxAttempts = f.MaxAttempts
	}
	if f.HorizonDays > 0 {
		c.Horizon = time.Duration(f.HorizonDays) * 24 * time.Hour
	}
	if f.Cron.ExecuteDue != "" {
		c.Cron.ExecuteDue = f.Cron.ExecuteDue
	}
	if f.Cron.PollMailbox != "" {
		c.Cron.PollMailbox = f.Cron.PollMailbox
	}
	if f.Cron.CourtSnapshot != "" {
		c.Cron.CourtSnapshot = f.Cron.CourtSnapshot
	}
	if f.WaitlistFrom != "" {
		c.IMAP.Sender = f.WaitlistFrom
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	b, err := os.ReadFile(s)
	if err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func positiveInt(k string, def int) (int, error) {
	n, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s", k)
	}
	return n, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
