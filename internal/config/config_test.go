package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("MAX_BATCH_ATTEMPTS", "")
	t.Setenv("RETRY_BASE_DELAY", "")
	t.Setenv("WORKER_COUNT", "")

	cfg := Load()
	if cfg.BatchSize != 5 {
		t.Errorf("expected default batch size 5, got %d", cfg.BatchSize)
	}
	if cfg.MaxBatchAttempts != 3 {
		t.Errorf("expected default batch attempts 3, got %d", cfg.MaxBatchAttempts)
	}
	if cfg.RetryBaseDelay != 2*time.Second {
		t.Errorf("expected default retry delay 2s, got %s", cfg.RetryBaseDelay)
	}
	if cfg.WorkerCount != 1 {
		t.Errorf("expected a single worker by default, got %d", cfg.WorkerCount)
	}
}

func TestLoad_BatchSizeClamped(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"7", 7},
		{"10", 10},
		{"25", 10},
		{"0", 5},
		{"-3", 5},
		{"abc", 5},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Setenv("BATCH_SIZE", tc.in)
			if got := Load().BatchSize; got != tc.want {
				t.Errorf("BATCH_SIZE=%q: expected %d, got %d", tc.in, tc.want, got)
			}
		})
	}
}

func TestLoad_TemperatureOutOfRange(t *testing.T) {
	t.Setenv("ANTHROPIC_TEMPERATURE", "1.7")
	if got := Load().AnthropicTemperature; got != 0.3 {
		t.Errorf("expected fallback temperature 0.3, got %f", got)
	}
}

func TestLoad_BaseURLTrailingSlash(t *testing.T) {
	t.Setenv("ANTHROPIC_BASE_URL", "http://localhost:9999/")
	if got := Load().AnthropicBaseURL; got != "http://localhost:9999" {
		t.Errorf("expected trailing slash trimmed, got %q", got)
	}
}

func TestLoad_NotifyCC(t *testing.T) {
	t.Setenv("NOTIFY_CC", " lead@clinic.org, ,admin@clinic.org ")
	got := Load().NotifyCC
	want := []string{"lead@clinic.org", "admin@clinic.org"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NotifyCC mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		AnthropicAPIKey: "sk-test",
		ReportAPIKey:    "secret",
		SpreadsheetPath: "book.xlsx",
		TemplatePath:    "template.docx",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing anthropic key", func(c *Config) { c.AnthropicAPIKey = "" }},
		{"missing api key", func(c *Config) { c.ReportAPIKey = "" }},
		{"missing spreadsheet", func(c *Config) { c.SpreadsheetPath = "" }},
		{"missing template", func(c *Config) { c.TemplatePath = "" }},
		{"smtp without from", func(c *Config) { c.SMTPHost = "smtp.clinic.org" }},
		{"discord without channel", func(c *Config) { c.DiscordBotToken = "tok" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
