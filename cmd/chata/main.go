// Command chata fills in CHATA assessment drafts from the terminal and
// submits them to the report service.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/submit"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the flags and clients shared by every subcommand.
type app struct {
	out      io.Writer
	log      *slog.Logger
	storeDir string
	server   string
	apiKey   string
	verbose  bool

	store *assessment.Store
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "chata",
		Short: "Fill in and submit CHATA assessments",
		Long: `chata keeps assessment drafts on disk, keyed by CHATA-ID, and sends
finished ones to the report service.

A typical session:
  chata new --clinician "Jane Doe" --email jane@clinic.org --child-first Sam --child-last Lee
  chata set JDX-SLX-042 age="4y 2m" sensory.score=4 sensory.obs="..."
  chata milestone JDX-SLX-042 --name Walking --category motor --age 13 --status achieved
  chata submit JDX-SLX-042 --generate --wait`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.storeDir, "store", envOr("CHATA_STORE", "data/drafts"), "draft store directory")
	root.PersistentFlags().StringVar(&a.server, "server", envOr("CHATA_SERVER", "http://localhost:8090"), "report service URL")
	root.PersistentFlags().StringVar(&a.apiKey, "key", os.Getenv("REPORT_API_KEY"), "report service API key")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log store events")

	root.AddCommand(
		a.newCmd(),
		a.setCmd(),
		a.milestoneCmd(),
		a.imageCmd(),
		a.showCmd(),
		a.listCmd(),
		a.rmCmd(),
		a.validateCmd(),
		a.submitCmd(),
		a.attachCmd(),
		a.statusCmd(),
		a.idCmd(),
	)
	return root
}

// openStore opens the draft store once and logs its change events.
func (a *app) openStore() (*assessment.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := assessment.OpenStore(a.storeDir)
	if err != nil {
		return nil, err
	}
	s.Subscribe(func(ev assessment.Event) {
		a.log.Debug("store event", "kind", ev.Kind, "chata_id", ev.Record.ChataID, "status", ev.Record.Status)
	})
	a.store = s
	return s, nil
}

func (a *app) client() (*submit.Client, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("no API key: set --key or REPORT_API_KEY")
	}
	return submit.NewClient(a.server, a.apiKey), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
