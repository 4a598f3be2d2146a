package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/OTAI/internal/account"
	"github.com/BTreeMap/OTAI/internal/api"
	"github.com/BTreeMap/OTAI/internal/delivery"
	"github.com/BTreeMap/OTAI/internal/escalation"
	"github.com/BTreeMap/OTAI/internal/flow"
	"github.com/BTreeMap/OTAI/internal/genai"
	"github.com/BTreeMap/OTAI/internal/lockfile"
	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/referral"
	"github.com/BTreeMap/OTAI/internal/repository"
	"github.com/BTreeMap/OTAI/internal/session"
	"github.com/BTreeMap/OTAI/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for OTAI state data
	DefaultStateDir = "/var/lib/otai"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "otai.db"
	// MemoryDSN selects the in-memory store.
	MemoryDSN = "memory"
)

// AI provider names accepted by AI_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config holds environment configuration.
type Config struct {
	StateDir    string `env:"OTAI_STATE_DIR" envDefault:"/var/lib/otai"`
	DBDSN       string `env:"OTAI_DB_DSN"`
	DatabaseURL string `env:"DATABASE_URL"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`

	AIProvider       string        `env:"AI_PROVIDER"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	GeminiModel      string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AITimeout        time.Duration `env:"AI_TIMEOUT" envDefault:"60s"`
	SystemPromptFile string        `env:"OTAI_SYSTEM_PROMPT_FILE"`

	TwilioAccountSID string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string        `env:"TWILIO_FROM_NUMBER"`
	ReferralTo       string        `env:"REFERRAL_TO_NUMBER"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"30s"`

	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"3h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	LogLevel slog.Level `env:"OTAI_LOG_LEVEL" envDefault:"DEBUG"`
}

// logLevel lets the configured level apply to the logger installed before
// configuration is read.
var logLevel = new(slog.LevelVar)

func main() {
	initializeLogger()

	config, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	logLevel.Set(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping OTAI")
	if err := run(ctx, config); err != nil {
		slog.Error("OTAI failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OTAI exited successfully")
}

// initializeLogger installs the process-wide structured logger.
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from the environment and an
// optional .env file.
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if config.DBDSN == "" {
		config.DBDSN = config.DatabaseURL
	}
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}

	slog.Debug("environment variables loaded",
		"OTAI_STATE_DIR", config.StateDir,
		"OTAI_DB_DSN_SET", config.DBDSN != "",
		"API_ADDR", config.APIAddr,
		"AI_PROVIDER", config.AIProvider,
		"GEMINI_API_KEY_SET", config.GeminiAPIKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIAPIKey != "",
		"TWILIO_CONFIGURED", config.twilioConfigured(),
		"SESSION_IDLE_TIMEOUT", config.SessionIdleTimeout)
	return config, nil
}

// parseCommandLineFlags applies command line overrides to config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	envDSN, envStateDir := config.DBDSN, config.StateDir

	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for OTAI data (overrides $OTAI_STATE_DIR)")
	fs.StringVar(&config.DBDSN, "db-dsn", config.DBDSN, "database DSN, SQLite path, or \"memory\" (overrides $OTAI_DB_DSN or $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.AIProvider, "ai-provider", config.AIProvider, "AI provider: gemini, openai or none (overrides $AI_PROVIDER)")
	fs.StringVar(&config.GeminiAPIKey, "gemini-api-key", config.GeminiAPIKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	fs.StringVar(&config.OpenAIAPIKey, "openai-api-key", config.OpenAIAPIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.SystemPromptFile, "system-prompt-file", config.SystemPromptFile, "file with the assistant system prompt (overrides $OTAI_SYSTEM_PROMPT_FILE)")
	fs.DurationVar(&config.SessionIdleTimeout, "idle-timeout", config.SessionIdleTimeout, "archive sessions idle longer than this (overrides $SESSION_IDLE_TIMEOUT)")
	fs.DurationVar(&config.SessionSweepInterval, "sweep-interval", config.SessionSweepInterval, "idle session sweep interval, 0 disables (overrides $SESSION_SWEEP_INTERVAL)")
	fs.TextVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $OTAI_LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// A default SQLite path follows a state directory given on the command line.
	if config.DBDSN == envDSN && envDSN == filepath.Join(envStateDir, DefaultDBFileName) && config.StateDir != envStateDir {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "state_dir", config.StateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DBDSN != "",
		"apiAddr", config.APIAddr,
		"aiProvider", config.AIProvider,
		"idleTimeout", config.SessionIdleTimeout,
		"sweepInterval", config.SessionSweepInterval)
	return nil
}

func (c Config) twilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != "" && c.ReferralTo != ""
}

// resolveAIProvider picks the configured provider, or the first one with a
// key when none is named.
func (c Config) resolveAIProvider() (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(c.AIProvider)); p {
	case ProviderGemini, ProviderOpenAI, ProviderNone:
		return p, nil
	case "":
		switch {
		case c.GeminiAPIKey != "":
			return ProviderGemini, nil
		case c.OpenAIAPIKey != "":
			return ProviderOpenAI, nil
		default:
			return ProviderNone, nil
		}
	default:
		return "", fmt.Errorf("unknown AI provider %q", c.AIProvider)
	}
}

// buildStoreOptions constructs store configuration options.
func buildStoreOptions(config Config) []store.Option {
	dsn := strings.TrimSpace(config.DBDSN)
	if dsn == "" || strings.EqualFold(dsn, MemoryDSN) {
		slog.Debug("Using in-memory store")
		return nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// buildCompleter creates the AI collaborator. A nil completer means the AI
// is not configured.
func buildCompleter(ctx context.Context, config Config) (genai.Completer, error) {
	provider, err := config.resolveAIProvider()
	if err != nil {
		return nil, err
	}
	switch provider {
	case ProviderGemini:
		return genai.NewGeminiCompleter(ctx,
			genai.WithGeminiAPIKey(config.GeminiAPIKey),
			genai.WithGeminiModel(config.GeminiModel))
	case ProviderOpenAI:
		return genai.NewOpenAICompleter(
			genai.WithOpenAIAPIKey(config.OpenAIAPIKey),
			genai.WithOpenAIModel(config.OpenAIModel))
	default:
		slog.Warn("No AI provider configured; conversations will report that the assistant is unavailable")
		return nil, nil
	}
}

// buildDeliverer creates the referral delivery collaborator.
func buildDeliverer(config Config) (delivery.Deliverer, error) {
	if !config.twilioConfigured() {
		slog.Warn("Twilio not configured; referrals will be saved but not delivered")
		return delivery.LogDeliverer{}, nil
	}
	return delivery.NewTwilioDeliverer(
		delivery.WithAccountSID(config.TwilioAccountSID),
		delivery.WithAuthToken(config.TwilioAuthToken),
		delivery.WithFrom(config.TwilioFrom),
		delivery.WithTo(config.ReferralTo))
}

// ensureStateDir creates the state directory and, for SQLite, the database
// file's directory.
func ensureStateDir(config Config) error {
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	opts := buildStoreOptions(config)
	if len(opts) == 0 {
		return nil
	}
	var so store.Opts
	for _, opt := range opts {
		opt(&so)
	}
	if so.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(so.DSN), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return nil
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	if err := ensureStateDir(config); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.NewStore(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	repo := repository.New(st)
	m := metrics.New()
	sessions := session.NewManager(repo,
		session.WithIdleTimeout(config.SessionIdleTimeout),
		session.WithMetrics(m))
	tracker := escalation.NewTracker(repo)

	deliverer, err := buildDeliverer(config)
	if err != nil {
		return fmt.Errorf("failed to configure delivery: %w", err)
	}
	completer, err := buildCompleter(ctx, config)
	if err != nil && !errors.Is(err, genai.ErrNotConfigured) {
		return fmt.Errorf("failed to configure AI provider: %w", err)
	}
	if err != nil {
		slog.Warn("AI provider selected without an API key", "error", err)
		completer = nil
	}

	flowOpts := []flow.Option{
		flow.WithMessageLog(repo),
		flow.WithAITimeout(config.AITimeout),
		flow.WithSystemPromptFile(config.SystemPromptFile),
		flow.WithMetrics(m),
	}
	if completer != nil {
		flowOpts = append(flowOpts, flow.WithCompleter(completer))
	}
	convo := flow.NewConversationFlow(sessions, tracker, flowOpts...)
	if err := convo.LoadSystemPrompt(); err != nil {
		return err
	}

	referrals := referral.NewService(repo, sessions, tracker, deliverer,
		referral.WithDeliveryTimeout(config.DeliveryTimeout),
		referral.WithMetrics(m))
	if n, err := referrals.RecoverInterrupted(ctx); err != nil {
		slog.Error("Failed to recover interrupted referrals", "error", err)
	} else if n > 0 {
		slog.Warn("Recovered interrupted referral deliveries", "count", n)
	}

	if config.SessionSweepInterval > 0 {
		go session.NewSweeper(sessions, config.SessionSweepInterval).Run(ctx)
	}

	server := api.NewServer(api.Deps{
		Repo:         repo,
		Accounts:     account.NewService(repo),
		Sessions:     sessions,
		Flow:         convo,
		Tracker:      tracker,
		Referrals:    referrals,
		Metrics:      m,
		AIConfigured: completer != nil,
	}, api.WithAddr(config.APIAddr))
	return server.Run(ctx)
}
