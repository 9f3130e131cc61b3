package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/LeadPipe/internal/app"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/relay"
	"github.com/spf13/cobra"
)

func main() {
	initializeLogger(config.DefaultLogLevel)
	config.LoadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
}

// cliFlags holds values that override the environment.
type cliFlags struct {
	stateDir     string
	dbDSN        string
	whatsappDSN  string
	keywordsFile string
	destination  string
	metricsAddr  string
	logLevel     string
	qrOutput     string
	numericCode  bool
	monitorAll   bool
	noHistory    bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "leadpipe",
		Short: "Relay client requests from monitored WhatsApp chats to one destination",
		Long: `LeadPipe reads monitored chats, classifies each message with keyword
heuristics and forwards client requests to a destination chat, at most once
per message and once per distinct text.

Settings come from the environment (and a .env file); flags override them.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.stateDir, "state-dir", "", "state directory (overrides $LEADPIPE_STATE_DIR)")
	pf.StringVar(&f.dbDSN, "db-dsn", "", "dedup store DSN: SQLite path, Postgres URL or badger://dir (overrides $DATABASE_URL)")
	pf.StringVar(&f.whatsappDSN, "whatsapp-dsn", "", "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	pf.StringVar(&f.keywordsFile, "keywords", "", "YAML keyword file (overrides $KEYWORDS_FILE)")
	pf.StringVar(&f.destination, "destination", "", "destination chat JID, phone number or \"me\" (overrides $DESTINATION)")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides $METRICS_ADDR)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides $LOG_LEVEL)")
	pf.StringVar(&f.qrOutput, "qr-output", "", "path to write login QR code")
	pf.BoolVar(&f.numericCode, "numeric-code", false, "print the login code as text instead of a QR code")
	pf.BoolVar(&f.monitorAll, "all-chats", false, "monitor every chat (overrides $MONITOR_ALL_CHATS)")

	root.AddCommand(runCmd(f), backfillCmd(f))
	return root
}

func runCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill recent history (when enabled), then relay new messages until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, f, relay.ModeFull)
		},
	}
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "skip the backfill phase")
	return cmd
}

func backfillCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Run a single backfill pass over recent history and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, f, relay.ModeBackfillOnly)
		},
	}
}

func execute(cmd *cobra.Command, f *cliFlags, mode relay.Mode) error {
	cfg, err := loadConfig(cmd, f, os.LookupEnv)
	if err != nil {
		return err
	}
	initializeLogger(cfg.LogLevel)
	slog.Debug("Final configuration",
		"mode", mode,
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"transport", cfg.DestinationTransport,
		"monitor_all", cfg.MonitorAll,
		"chats", len(cfg.ChatIDs),
		"backfill_enabled", cfg.BackfillEnabled,
		"metrics_addr", cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "mode", mode)
	if err := app.Run(ctx, cfg, mode); err != nil {
		return err
	}
	slog.Info("LeadPipe exited successfully")
	return nil
}

// loadConfig reads the environment, applies flags that were set explicitly,
// loads keywords and validates the result.
func loadConfig(cmd *cobra.Command, f *cliFlags, lookup config.LookupFunc) (config.Config, error) {
	cfg, err := config.FromEnv(lookup)
	if err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	override("state-dir", &cfg.StateDir, f.stateDir)
	override("db-dsn", &cfg.DatabaseDSN, f.dbDSN)
	override("whatsapp-dsn", &cfg.WhatsAppDSN, f.whatsappDSN)
	override("keywords", &cfg.KeywordsFile, f.keywordsFile)
	override("destination", &cfg.Destination, f.destination)
	override("metrics-addr", &cfg.MetricsAddr, f.metricsAddr)
	override("log-level", &cfg.LogLevel, f.logLevel)
	override("qr-output", &cfg.QRPath, f.qrOutput)
	if flags.Changed("numeric-code") {
		cfg.NumericCode = f.numericCode
	}
	if flags.Changed("all-chats") {
		cfg.MonitorAll = f.monitorAll
	}
	if f.noHistory {
		cfg.BackfillEnabled = false
	}
	cfg.ApplyDefaults()

	if err := cfg.LoadKeywords(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// initializeLogger installs a text handler at the given level as the default logger.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
