package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string
	LogLevel string

	PostgresDSN string
	RedisURL    string

	NATSURL     string
	NATSSubject string

	LLMProvider    string
	OllamaURL      string
	OllamaGenModel string
	CerebrasURL    string
	CerebrasAPIKey string
	CerebrasModel  string

	GmailBaseURL      string
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailUser         string

	NotionToken      string
	NotionDatabaseID string

	SlackBotToken  string
	SlackChannelID string

	StoragePath string

	StageTimeoutSeconds int
	BatchConcurrency    int
	RecentLimit         int
	LockTTLSeconds      int

	PollIntervalSeconds int
	PollMaxResults      int
	RunReportEnabled    bool

	APIRateLimitRPS        float64
	APIRateLimitBurst      int
	APIMaxInFlight         int
	APIBackpressureWaitMS  int
	APIRequestBodyMaxBytes int64

	ResilienceRetryMaxAttempts   int
	ResilienceRetryInitialMS     int
	ResilienceRetryMaxMS         int
	ResilienceBreakerEnabled     bool
	ResilienceBreakerMinRequests int
	ResilienceBreakerOpenSeconds int

	WorkerMetricsPort string
}

// Load reads the environment, falling back to the YAML file named by
// CONFIG_PATH and then to built-in defaults.
func Load() Config {
	cfg, err := LoadFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Warn("config_file_ignored", "path", os.Getenv("CONFIG_PATH"), "error", err)
	}
	return cfg
}

// LoadFile is Load with an explicit YAML file. The file is a flat map of
// environment keys; ${VAR} references inside it are expanded. On error the
// environment-only config is returned alongside it.
func LoadFile(path string) (Config, error) {
	src := source{}
	var fileErr error
	if strings.TrimSpace(path) != "" {
		values, err := readYAML(path)
		if err != nil {
			fileErr = err
		} else {
			src.file = values
		}
	}
	return src.build(), fileErr
}

func readYAML(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if value == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(key))] = fmt.Sprint(value)
	}
	return out, nil
}

type source struct {
	file map[string]string
}

func (s source) build() Config {
	return Config{
		APIPort:  s.mustEnv("API_PORT", "8080"),
		LogLevel: s.mustEnv("LOG_LEVEL", "info"),

		PostgresDSN: s.mustEnv("POSTGRES_DSN", ""),
		RedisURL:    s.mustEnv("REDIS_URL", ""),

		NATSURL:     s.mustEnv("NATS_URL", ""),
		NATSSubject: s.mustEnv("NATS_SUBJECT", "maintenance.emails.received"),

		LLMProvider:    strings.ToLower(s.mustEnv("LLM_PROVIDER", "ollama")),
		OllamaURL:      s.mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel: s.mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		CerebrasURL:    s.mustEnv("CEREBRAS_URL", "https://api.cerebras.ai/v1"),
		CerebrasAPIKey: s.mustEnv("CEREBRAS_API_KEY", ""),
		CerebrasModel:  s.mustEnv("CEREBRAS_MODEL", "llama-4-scout-17b-16e-instruct"),

		GmailBaseURL:      s.mustEnv("GMAIL_BASE_URL", "https://gmail.googleapis.com"),
		GmailClientID:     s.mustEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: s.mustEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: s.mustEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailUser:         s.mustEnv("GMAIL_USER", "me"),

		NotionToken:      s.mustEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: s.mustEnv("NOTION_DATABASE_ID", ""),

		SlackBotToken:  s.mustEnv("SLACK_BOT_TOKEN", ""),
		SlackChannelID: s.mustEnv("SLACK_CHANNEL_ID", ""),

		StoragePath: s.mustEnv("STORAGE_PATH", "./data/raw"),

		StageTimeoutSeconds: s.mustEnvInt("STAGE_TIMEOUT_SECONDS", 30),
		BatchConcurrency:    s.mustEnvInt("BATCH_CONCURRENCY", 4),
		RecentLimit:         s.mustEnvInt("STATS_RECENT_LIMIT", 5),
		LockTTLSeconds:      s.mustEnvInt("LOCK_TTL_SECONDS", 300),

		PollIntervalSeconds: s.mustEnvInt("POLL_INTERVAL_SECONDS", 60),
		PollMaxResults:      s.mustEnvInt("POLL_MAX_RESULTS", 10),
		RunReportEnabled:    s.mustEnvBool("RUN_REPORT_ENABLED", true),

		APIRateLimitRPS:        s.mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:      s.mustEnvInt("API_RATE_LIMIT_BURST", 0),
		APIMaxInFlight:         s.mustEnvInt("API_MAX_IN_FLIGHT", 0),
		APIBackpressureWaitMS:  s.mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),
		APIRequestBodyMaxBytes: int64(s.mustEnvInt("API_REQUEST_BODY_MAX_BYTES", 1<<20)),

		ResilienceRetryMaxAttempts:   s.mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
		ResilienceRetryInitialMS:     s.mustEnvInt("RESILIENCE_RETRY_INITIAL_MS", 100),
		ResilienceRetryMaxMS:         s.mustEnvInt("RESILIENCE_RETRY_MAX_MS", 400),
		ResilienceBreakerEnabled:     s.mustEnvBool("RESILIENCE_BREAKER_ENABLED", true),
		ResilienceBreakerMinRequests: s.mustEnvInt("RESILIENCE_BREAKER_MIN_REQUESTS", 10),
		ResilienceBreakerOpenSeconds: s.mustEnvInt("RESILIENCE_BREAKER_OPEN_SECONDS", 30),

		WorkerMetricsPort: s.mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) GmailConfigured() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != "" && c.GmailRefreshToken != ""
}

func (c Config) NotionConfigured() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) LLMConfigured() bool {
	switch c.LLMProvider {
	case "cerebras":
		return c.CerebrasAPIKey != ""
	case "ollama":
		return c.OllamaURL != ""
	default:
		return false
	}
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) mustEnv(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) mustEnvInt(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvFloat(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvBool(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
