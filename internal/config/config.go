package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nesen/eventagg/internal/cloudsql"
)

// Config represents runtime configuration derived from environment variables
// and an optional YAML overlay for list-valued settings.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Normalize NormalizeConfig
	Scrape    ScrapeConfig
	AI        AIConfig
	Search    SearchConfig
	Curation  CurationConfig
	Notify    NotifyConfig
	Sink      SinkConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects the canonical store backend.
type DatabaseConfig struct {
	Driver        string // sqlite or postgres
	URL           string // SQLite path or Postgres DSN
	MigrationsDir string
}

// NormalizeConfig tunes date resolution.
type NormalizeConfig struct {
	RolloverGrace time.Duration
}

// ScrapeConfig controls the source adapters and the run loop.
type ScrapeConfig struct {
	FetchTimeout    time.Duration
	RenderTimeout   time.Duration
	HeadlessEnabled bool
	BrowserPath     string
	UserAgent       string
	Sources         []string       // Enabled source names; empty enables all
	CustomSources   []CustomSource // Extra JSON-LD calendar pages
	Interval        time.Duration
}

// CustomSource declares a calendar page read through its embedded JSON-LD.
type CustomSource struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Render bool     `yaml:"render"`
	Tags   []string `yaml:"tags"`
}

// AIConfig lists text-generation backends in fallback order.
type AIConfig struct {
	Backends []AIBackendConfig
}

// AIBackendConfig describes one OpenAI-compatible backend.
type AIBackendConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether the backend has credentials.
func (b AIBackendConfig) Enabled() bool {
	return b.APIKey != ""
}

// SearchConfig configures the discovery pipeline.
type SearchConfig struct {
	TavilyAPIKey string
	TavilyURL    string
	Location     string
	Organization string
	Domains      []string
	Topics       []Topic
	MaxResults   int
	RecencyDays  int
	ExtractBatch int
	VerifyDelay  time.Duration
	QueryDelay   time.Duration
	DebugLogPath string
}

// Topic is a search query template with {location}, {month} and {year}
// placeholders.
type Topic struct {
	Template  string `yaml:"template"`
	NextMonth bool   `yaml:"next_month"`
}

// CurationConfig configures digest selection.
type CurationConfig struct {
	WindowDays   int
	Limit        int
	CandidateCap int
	Blacklist    []string
	Allowlist    []string
}

// NotifyConfig configures Telegram delivery.
type NotifyConfig struct {
	TelegramToken   string
	TelegramChatID  string
	TelegramTopicID string
	SiteURL         string
	Timezone        string
}

// Enabled reports whether Telegram delivery is configured.
func (n NotifyConfig) Enabled() bool {
	return n.TelegramToken != "" && n.TelegramChatID != ""
}

// SinkConfig configures the NocoDB mirror.
type SinkConfig struct {
	BaseURL   string
	Token     string
	BaseID    string
	TableName string
}

// Enabled reports whether the sink has credentials.
func (s SinkConfig) Enabled() bool {
	return s.Token != "" && s.BaseID != ""
}

// AuthConfig holds admin authentication settings.
type AuthConfig struct {
	JWTSecret string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultDatabaseDriver = "sqlite"
	defaultSQLitePath     = "data/events.db"
	defaultMigrationsDir  = "migrations"

	defaultRolloverGraceDays = 90

	defaultFetchTimeout  = 30 * time.Second
	defaultRenderTimeout = 60 * time.Second
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultScrapeEvery   = 6 * time.Hour

	defaultAITimeout       = 60 * time.Second
	defaultPrimaryName     = "cerebras"
	defaultPrimaryBaseURL  = "https://api.cerebras.ai/v1"
	defaultPrimaryModel    = "llama-3.3-70b"
	defaultFallbackName    = "groq"
	defaultFallbackBaseURL = "https://api.groq.com/openai/v1"
	defaultFallbackModel   = "llama-3.3-70b-versatile"

	defaultLocation     = "Boston"
	defaultOrganization = "NESEN (New England Science & Entrepreneurship Network)"
	defaultMaxResults   = 10
	defaultRecencyDays  = 30
	defaultExtractBatch = 5
	defaultVerifyDelay  = 3 * time.Second
	defaultQueryDelay   = 5 * time.Second
	defaultDebugLogPath = "data/search_raw_dump.json"

	defaultWindowDays   = 7
	defaultDigestLimit  = 10
	defaultCandidateCap = 200

	defaultTimezone = "America/New_York"

	defaultNocoDBURL   = "https://app.nocodb.com/api/v2"
	defaultNocoDBTable = "Events"

	configFileEnv = "EVENTAGG_CONFIG_FILE"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid, then applies the YAML overlay named by
// EVENTAGG_CONFIG_FILE when set.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DATABASE_DRIVER", defaultDatabaseDriver),
			URL:           os.Getenv("DATABASE_URL"),
			MigrationsDir: getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		Normalize: NormalizeConfig{
			RolloverGrace: defaultRolloverGraceDays * 24 * time.Hour,
		},
		Scrape: ScrapeConfig{
			FetchTimeout:  defaultFetchTimeout,
			RenderTimeout: defaultRenderTimeout,
			BrowserPath:   os.Getenv("BROWSER_PATH"),
			UserAgent:     getEnv("USER_AGENT", defaultUserAgent),
			Sources:       splitList(os.Getenv("SCRAPE_SOURCES")),
			Interval:      defaultScrapeEvery,
		},
		AI: AIConfig{
			Backends: []AIBackendConfig{
				{
					Name:    getEnv("AI_PRIMARY_NAME", defaultPrimaryName),
					BaseURL: getEnv("AI_PRIMARY_BASE_URL", defaultPrimaryBaseURL),
					APIKey:  os.Getenv("AI_PRIMARY_API_KEY"),
					Model:   getEnv("AI_PRIMARY_MODEL", defaultPrimaryModel),
					Timeout: defaultAITimeout,
				},
				{
					Name:    getEnv("AI_FALLBACK_NAME", defaultFallbackName),
					BaseURL: getEnv("AI_FALLBACK_BASE_URL", defaultFallbackBaseURL),
					APIKey:  os.Getenv("AI_FALLBACK_API_KEY"),
					Model:   getEnv("AI_FALLBACK_MODEL", defaultFallbackModel),
					Timeout: defaultAITimeout,
				},
			},
		},
		Search: SearchConfig{
			TavilyAPIKey: os.Getenv("TAVILY_API_KEY"),
			TavilyURL:    os.Getenv("TAVILY_URL"),
			Location:     getEnv("SEARCH_LOCATION", defaultLocation),
			Organization: getEnv("SEARCH_ORGANIZATION", defaultOrganization),
			Domains:      splitList(os.Getenv("SEARCH_DOMAINS")),
			MaxResults:   defaultMaxResults,
			RecencyDays:  defaultRecencyDays,
			ExtractBatch: defaultExtractBatch,
			VerifyDelay:  defaultVerifyDelay,
			QueryDelay:   defaultQueryDelay,
			DebugLogPath: getEnv("SEARCH_DEBUG_LOG", defaultDebugLogPath),
		},
		Curation: CurationConfig{
			WindowDays:   defaultWindowDays,
			Limit:        defaultDigestLimit,
			CandidateCap: defaultCandidateCap,
		},
		Notify: NotifyConfig{
			TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:  os.Getenv("TELEGRAM_CHAT_ID"),
			TelegramTopicID: os.Getenv("TELEGRAM_TOPIC_ID"),
			SiteURL:         os.Getenv("SITE_URL"),
			Timezone:        getEnv("DIGEST_TIMEZONE", defaultTimezone),
		},
		Sink: SinkConfig{
			BaseURL:   getEnv("NOCODB_URL", defaultNocoDBURL),
			Token:     os.Getenv("NOCODB_API_TOKEN"),
			BaseID:    os.Getenv("NOCODB_BASE_ID"),
			TableName: getEnv("NOCODB_TABLE_NAME", defaultNocoDBTable),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		},
	}

	for _, d := range []struct {
		key    string
		target *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"FETCH_TIMEOUT_SECONDS", &cfg.Scrape.FetchTimeout},
		{"RENDER_TIMEOUT_SECONDS", &cfg.Scrape.RenderTimeout},
		{"AI_PRIMARY_TIMEOUT_SECONDS", &cfg.AI.Backends[0].Timeout},
		{"AI_FALLBACK_TIMEOUT_SECONDS", &cfg.AI.Backends[1].Timeout},
		{"VERIFY_DELAY_SECONDS", &cfg.Search.VerifyDelay},
		{"QUERY_DELAY_SECONDS", &cfg.Search.QueryDelay},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.target = parsed
		}
	}

	if v := os.Getenv("SCRAPE_INTERVAL_MINUTES"); v != "" {
		minutes, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPE_INTERVAL_MINUTES: %w", err)
		}
		cfg.Scrape.Interval = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv("ROLLOVER_GRACE_DAYS"); v != "" {
		days, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROLLOVER_GRACE_DAYS: %w", err)
		}
		cfg.Normalize.RolloverGrace = time.Duration(days) * 24 * time.Hour
	}

	for _, n := range []struct {
		key    string
		target *int
	}{
		{"SEARCH_MAX_RESULTS", &cfg.Search.MaxResults},
		{"SEARCH_RECENCY_DAYS", &cfg.Search.RecencyDays},
		{"EXTRACT_BATCH_SIZE", &cfg.Search.ExtractBatch},
		{"DIGEST_WINDOW_DAYS", &cfg.Curation.WindowDays},
		{"DIGEST_LIMIT", &cfg.Curation.Limit},
		{"DIGEST_CANDIDATE_CAP", &cfg.Curation.CandidateCap},
	} {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := parsePositive(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", n.key, err)
			}
			*n.target = parsed
		}
	}

	if v := os.Getenv("HEADLESS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HEADLESS_ENABLED: must be a boolean")
		}
		cfg.Scrape.HeadlessEnabled = enabled
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.URL == "" {
			cfg.Database.URL = defaultSQLitePath
		}
	case "postgres", "postgresql":
		if cfg.Database.URL != "" {
			break
		}
		inst := cloudsql.Instance{
			ConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
			User:           os.Getenv("DB_USER"),
			Password:       os.Getenv("DB_PASSWORD"),
			Database:       os.Getenv("DB_NAME"),
		}
		if !inst.Configured() {
			return Config{}, fmt.Errorf("DATABASE_URL or INSTANCE_CONNECTION_NAME is required for the postgres driver")
		}
		dsn, err := inst.DSN()
		if err != nil {
			return Config{}, err
		}
		cfg.Database.URL = dsn
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_DRIVER: must be 'sqlite' or 'postgres'")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if path := os.Getenv(configFileEnv); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// fileOverlay is the YAML shape of EVENTAGG_CONFIG_FILE. Non-empty lists
// replace the environment values.
type fileOverlay struct {
	Sources       []string       `yaml:"sources"`
	CustomSources []CustomSource `yaml:"custom_sources"`
	Search        struct {
		Domains []string `yaml:"domains"`
		Topics  []Topic  `yaml:"topics"`
	} `yaml:"search"`
	Curation struct {
		Blacklist []string `yaml:"blacklist"`
		Allowlist []string `yaml:"allowlist"`
	} `yaml:"curation"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for i, src := range overlay.CustomSources {
		if strings.TrimSpace(src.Name) == "" || strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("invalid config file %s: custom_sources[%d] needs name and url", path, i)
		}
	}
	for i, topic := range overlay.Search.Topics {
		if strings.TrimSpace(topic.Template) == "" {
			return fmt.Errorf("invalid config file %s: search.topics[%d] has an empty template", path, i)
		}
	}

	if len(overlay.Sources) > 0 {
		cfg.Scrape.Sources = overlay.Sources
	}
	cfg.Scrape.CustomSources = append(cfg.Scrape.CustomSources, overlay.CustomSources...)
	if len(overlay.Search.Domains) > 0 {
		cfg.Search.Domains = overlay.Search.Domains
	}
	if len(overlay.Search.Topics) > 0 {
		cfg.Search.Topics = overlay.Search.Topics
	}
	if len(overlay.Curation.Blacklist) > 0 {
		cfg.Curation.Blacklist = overlay.Curation.Blacklist
	}
	if len(overlay.Curation.Allowlist) > 0 {
		cfg.Curation.Allowlist = overlay.Curation.Allowlist
	}
	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
