package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth for the submission API
	ReportAPIKey string

	// Claude generation
	AnthropicAPIKey      string
	AnthropicModel       string
	AnthropicBaseURL     string
	AnthropicMaxTokens   int
	AnthropicTemperature float64

	// Storage locations
	SpreadsheetPath   string // SPREADSHEET_ID
	TestChataID       string
	LogsDir           string // LOGS_FOLDER_ID
	TemplatePath      string
	OutputDir         string
	SupportingDocsDir string
	StyleRulesPath    string

	// Batching and retries
	BatchSize           int
	MaxBatchAttempts    int
	MaxAPIRetries       int
	RetryBaseDelay      time.Duration
	OverloadedBaseDelay time.Duration
	MaxRetryDelay       time.Duration
	MaxContextTokens    int

	// Worker pool
	WorkerCount     int
	MaxQueueSize    int
	JobTTL          time.Duration
	TriggerInterval time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Notification
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPFrom         string
	NotifyCC         []string
	DiscordBotToken  string
	DiscordChannelID string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		ReportAPIKey: os.Getenv("REPORT_API_KEY"),

		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		AnthropicBaseURL:     strings.TrimRight(envOr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		AnthropicMaxTokens:   envInt("ANTHROPIC_MAX_TOKENS", 8192),
		AnthropicTemperature: envFloat("ANTHROPIC_TEMPERATURE", 0.3),

		SpreadsheetPath:   envOr("SPREADSHEET_ID", "data/chata_r3.xlsx"),
		TestChataID:       os.Getenv("TEST_CHATA_ID"),
		LogsDir:           envOr("LOGS_FOLDER_ID", "data/logs"),
		TemplatePath:      envOr("TEMPLATE_PATH", "data/template.docx"),
		OutputDir:         envOr("OUTPUT_DIR", "data/reports"),
		SupportingDocsDir: envOr("SUPPORTING_DOCS_DIR", "data/documents"),
		StyleRulesPath:    os.Getenv("STYLE_RULES_PATH"),

		BatchSize:           envInt("BATCH_SIZE", 5),
		MaxBatchAttempts:    envInt("MAX_BATCH_ATTEMPTS", 3),
		MaxAPIRetries:       envInt("MAX_API_RETRIES", 5),
		RetryBaseDelay:      envDuration("RETRY_BASE_DELAY", 2*time.Second),
		OverloadedBaseDelay: envDuration("OVERLOADED_BASE_DELAY", 30*time.Second),
		MaxRetryDelay:       envDuration("MAX_RETRY_DELAY", 5*time.Minute),
		MaxContextTokens:    envInt("MAX_CONTEXT_TOKENS", 6000),

		WorkerCount:     envInt("WORKER_COUNT", 1),
		MaxQueueSize:    envInt("MAX_QUEUE_SIZE", 50),
		JobTTL:          envDuration("JOB_TTL", 6*time.Hour),
		TriggerInterval: envDuration("TRIGGER_INTERVAL", 0),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 26214400), // 25MB

		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         envInt("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		NotifyCC:         envList("NOTIFY_CC"),
		DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
	}

	if cfg.AnthropicMaxTokens <= 0 {
		cfg.AnthropicMaxTokens = 8192
	}
	if cfg.AnthropicTemperature < 0 || cfg.AnthropicTemperature > 1 {
		cfg.AnthropicTemperature = 0.3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	if cfg.MaxBatchAttempts <= 0 {
		cfg.MaxBatchAttempts = 3
	}
	if cfg.MaxAPIRetries <= 0 {
		cfg.MaxAPIRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.OverloadedBaseDelay <= 0 {
		cfg.OverloadedBaseDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 6000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 6 * time.Hour
	}
	if cfg.TriggerInterval < 0 {
		cfg.TriggerInterval = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 26214400
	}

	return cfg
}

func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.ReportAPIKey == "" {
		return fmt.Errorf("REPORT_API_KEY is required")
	}
	if c.SpreadsheetPath == "" {
		return fmt.Errorf("SPREADSHEET_ID is required")
	}
	if c.TemplatePath == "" {
		return fmt.Errorf("TEMPLATE_PATH is required")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if c.DiscordBotToken != "" && c.DiscordChannelID == "" {
		return fmt.Errorf("DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
