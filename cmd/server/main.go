package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/chatareport/internal/api"
	"github.com/dgallion1/chatareport/internal/config"
	"github.com/dgallion1/chatareport/internal/generate"
	"github.com/dgallion1/chatareport/internal/notify"
	"github.com/dgallion1/chatareport/internal/pipeline"
	"github.com/dgallion1/chatareport/internal/report"
	"github.com/dgallion1/chatareport/internal/sheets"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	book, err := sheets.OpenOrCreate(cfg.SpreadsheetPath)
	if err != nil {
		log.Error("open spreadsheet", "path", cfg.SpreadsheetPath, "error", err)
		os.Exit(1)
	}
	defer book.Close()
	// Rows a crashed run left in processing would refuse resubmission forever.
	if ids, err := book.ResetProcessing(); err != nil {
		log.Error("reset processing rows", "error", err)
		os.Exit(1)
	} else if len(ids) > 0 {
		log.Warn("interrupted runs reset to pending", "chata_ids", ids)
	}

	rules, err := generate.LoadStyleRules(cfg.StyleRulesPath)
	if err != nil {
		log.Error("load style rules", "path", cfg.StyleRulesPath, "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	stats := generate.NewLLMStats(time.Hour)
	claude := generate.NewClaudeClient(generate.ClaudeOptions{
		APIKey:      cfg.AnthropicAPIKey,
		Model:       cfg.AnthropicModel,
		BaseURL:     cfg.AnthropicBaseURL,
		MaxTokens:   cfg.AnthropicMaxTokens,
		Temperature: cfg.AnthropicTemperature,
		Stats:       stats,
	})
	notifier, closeNotifiers := buildNotifier(cfg, log)
	defer closeNotifiers()

	// Initialize pipeline.
	worker := pipeline.NewWorker(book, claude, report.NewPopulator(cfg.TemplatePath, cfg.OutputDir, log), notifier, log, pipeline.WorkerConfig{
		BatchSize:        cfg.BatchSize,
		MaxBatchAttempts: cfg.MaxBatchAttempts,
		Retry: pipeline.RetryPolicy{
			MaxRetries:      cfg.MaxAPIRetries,
			BaseDelay:       cfg.RetryBaseDelay,
			OverloadedDelay: cfg.OverloadedBaseDelay,
			MaxDelay:        cfg.MaxRetryDelay,
		},
		MaxContextTokens:  cfg.MaxContextTokens,
		SupportingDocsDir: cfg.SupportingDocsDir,
		LogsDir:           cfg.LogsDir,
		Rules:             rules,
	})
	orch := pipeline.NewOrchestrator(cfg, worker, book, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, book, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		claude.Close()
	}()

	log.Info("starting chatareport",
		"port", cfg.Port,
		"spreadsheet", cfg.SpreadsheetPath,
		"model", cfg.AnthropicModel,
		"batch_size", cfg.BatchSize,
		"workers", cfg.WorkerCount,
		"trigger_interval", cfg.TriggerInterval,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}

// buildNotifier combines every configured channel. Notifications are always
// logged.
func buildNotifier(cfg config.Config, log *slog.Logger) (notify.Notifier, func()) {
	multi := notify.Multi{notify.Log{Logger: log}}
	closers := []func(){}

	if cfg.SMTPHost != "" {
		multi = append(multi, notify.NewMailer(notify.MailerConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			CC:       cfg.NotifyCC,
		}))
	}
	if cfg.DiscordBotToken != "" {
		d, err := notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			log.Warn("discord notifications disabled", "error", err)
		} else {
			multi = append(multi, d)
			closers = append(closers, func() { d.Close() })
		}
	}
	return multi, func() {
		for _, c := range closers {
			c()
		}
	}
}
