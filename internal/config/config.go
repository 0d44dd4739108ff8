package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissing = errors.New("missing required configuration")

type Config struct {
	Port      int
	LogLevel  string
	LogFormat string

	Database DatabaseConfig
	Admin    AdminConfig
	Telegram TelegramConfig
	Redis    RedisConfig
	Game     GameConfig
	Sheets   SheetsConfig
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	QueryTimeout time.Duration
}

type AdminConfig struct {
	APIKey string
}

type TelegramConfig struct {
	Token     string
	PublicURL string
	AdminID   int64
}

// RedisConfig is optional; an empty URL keeps chat sessions in memory.
type RedisConfig struct {
	URL        string
	SessionTTL time.Duration
}

type GameConfig struct {
	ScriptPath string
	AssetDir   string
}

type SheetsConfig struct {
	Enabled        bool
	CredentialPath string
	SpreadsheetID  string
	SheetName      string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can supply their own environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	cfg := &Config{
		Port:      r.int("PORT", 8080),
		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "json"),
		Database: DatabaseConfig{
			URL:          r.str("DATABASE_URL", ""),
			MaxOpenConns: r.int("DB_MAX_OPEN_CONNS", 5),
			QueryTimeout: r.duration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Admin: AdminConfig{
			APIKey: r.str("ADMIN_API_KEY", ""),
		},
		Telegram: TelegramConfig{
			Token:     r.str("TELEGRAM_TOKEN", ""),
			PublicURL: strings.TrimRight(r.str("PUBLIC_URL", ""), "/"),
			AdminID:   r.int64("ADMIN_TELEGRAM_ID", 0),
		},
		Redis: RedisConfig{
			URL:        r.str("REDIS_URL", ""),
			SessionTTL: r.duration("SESSION_TTL", 24*time.Hour),
		},
		Game: GameConfig{
			ScriptPath: r.str("GAME_SCRIPT", "game.yaml"),
			AssetDir:   r.str("ASSET_DIR", "."),
		},
		Sheets: SheetsConfig{
			Enabled:        r.bool("SHEETS_ENABLED", false),
			CredentialPath: r.str("SHEETS_CREDENTIALS", "credentials.json"),
			SpreadsheetID:  r.str("SHEETS_SPREADSHEET_ID", ""),
			SheetName:      r.str("SHEETS_NAME", "Licenses"),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL", ErrMissing)
	}
	if cfg.Database.MaxOpenConns < 1 {
		cfg.Database.MaxOpenConns = 1
	}
	if cfg.Sheets.Enabled && cfg.Sheets.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: SHEETS_SPREADSHEET_ID", ErrMissing)
	}
	return cfg, nil
}

// RequireServer checks the settings only the admin HTTP service needs.
func (c *Config) RequireServer() error {
	if c.Admin.APIKey == "" {
		return fmt.Errorf("%w: ADMIN_API_KEY", ErrMissing)
	}
	return nil
}

// RequireBot checks the settings only the Telegram bot needs.
func (c *Config) RequireBot() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN", ErrMissing)
	}
	return nil
}

type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) int64(key string, def int64) int64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
