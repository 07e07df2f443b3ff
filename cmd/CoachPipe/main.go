package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/backend"
	"github.com/BTreeMap/CoachPipe/internal/scheduler"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/transcribe"
	"github.com/BTreeMap/CoachPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/BTreeMap/CoachPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite session database filename
	DefaultDBFileName = "coachpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTransport is used when TRANSPORT is unset
	DefaultTransport = "tg"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CoachPipe", "transport", *flags.transport, "state_dir", *flags.stateDir)
	if err := run(ctx, flags); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseDSN    string
	RedisAddr      string
	Transport      string
	TelegramToken  string
	WhatsAppDSN    string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	TwilioHookURL  string
	BackendURL     string
	BackendKey     string
	Transcriber    string
	OpenAIKey      string
	GoogleCreds    string
	APIAddr        string
	AdminKey       string
	AdviceInterval time.Duration
	DailySchedule  string
	BirthDate      bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	redisAddr      *string
	transport      *string
	tgToken        *string
	waDSN          *string
	qrOutput       *string
	numeric        *bool
	twilioSID      *string
	twilioToken    *string
	twilioFrom     *string
	twilioHookURL  *string
	backendURL     *string
	backendKey     *string
	transcriber    *string
	openaiKey      *string
	googleCreds    *string
	apiAddr        *string
	adminKey       *string
	adviceInterval *time.Duration
	dailySchedule  *string
	birthDate      *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("COACHPIPE_STATE_DIR"),
		DatabaseDSN:    util.FirstEnv("DATABASE_DSN", "DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		Transport:      os.Getenv("TRANSPORT"),
		TelegramToken:  os.Getenv("TG_BOT_TOKEN"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioHookURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		BackendURL:     os.Getenv("BACKEND_API_ENDPOINT"),
		BackendKey:     os.Getenv("BACKEND_API_KEY"),
		Transcriber:    os.Getenv("TRANSCRIBER"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GoogleCreds:    os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		APIAddr:        os.Getenv("API_ADDR"),
		AdminKey:       os.Getenv("ADMIN_API_KEY"),
		AdviceInterval: util.ParseDurationEnv("ADVICE_INTERVAL", scheduler.DefaultAdviceInterval),
		DailySchedule:  os.Getenv("DAILY_CHECK_SCHEDULE"),
		BirthDate:      util.ParseBoolEnv("COLLECT_BIRTH_DATE", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COACHPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = DefaultTransport
	}
	if config.DailySchedule == "" {
		config.DailySchedule = scheduler.DefaultDailySchedule
	}

	// whatsmeow shares a PostgreSQL application database unless told otherwise
	if config.WhatsAppDSN == "" && config.DatabaseDSN != "" && store.DetectDSNType(config.DatabaseDSN) == "postgres" {
		config.WhatsAppDSN = config.DatabaseDSN
	}
	if config.DatabaseDSN == "" && config.RedisAddr == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = whatsAppFileDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"COACHPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"REDIS_ADDR", config.RedisAddr,
		"TRANSPORT", config.Transport,
		"TG_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"BACKEND_API_ENDPOINT", config.BackendURL,
		"TRANSCRIBER", config.Transcriber,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ADMIN_API_KEY_SET", config.AdminKey != "",
		"ADVICE_INTERVAL", config.AdviceInterval,
		"DAILY_CHECK_SCHEDULE", config.DailySchedule,
		"COLLECT_BIRTH_DATE", config.BirthDate)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseDSN, "session database DSN, SQLite path or PostgreSQL (overrides $DATABASE_DSN or $DATABASE_URL)"),
		redisAddr:      fs.String("redis-addr", config.RedisAddr, "Redis address for the session store (overrides $REDIS_ADDR)"),
		transport:      fs.String("transport", config.Transport, "messaging transport: tg, wa or twilio (overrides $TRANSPORT)"),
		tgToken:        fs.String("tg-token", config.TelegramToken, "Telegram bot token (overrides $TG_BOT_TOKEN)"),
		waDSN:          fs.String("wa-dsn", config.WhatsAppDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:       fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:        fs.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		twilioSID:      fs.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:    fs.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:     fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		twilioHookURL:  fs.String("twilio-webhook-url", config.TwilioHookURL, "public webhook URL used to verify Twilio signatures (overrides $TWILIO_WEBHOOK_URL)"),
		backendURL:     fs.String("backend-endpoint", config.BackendURL, "coaching backend base URL (overrides $BACKEND_API_ENDPOINT)"),
		backendKey:     fs.String("backend-key", config.BackendKey, "coaching backend API key (overrides $BACKEND_API_KEY)"),
		transcriber:    fs.String("transcriber", config.Transcriber, "voice transcription provider: openai, google or none (overrides $TRANSCRIBER)"),
		openaiKey:      fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		googleCreds:    fs.String("google-credentials", config.GoogleCreds, "Google service account JSON (overrides $GOOGLE_APPLICATION_CREDENTIALS)"),
		apiAddr:        fs.String("api-addr", config.APIAddr, "admin API address (overrides $API_ADDR)"),
		adminKey:       fs.String("admin-key", config.AdminKey, "admin API key (overrides $ADMIN_API_KEY)"),
		adviceInterval: fs.Duration("advice-interval", config.AdviceInterval, "interval between advice messages (overrides $ADVICE_INTERVAL)"),
		dailySchedule:  fs.String("daily-schedule", config.DailySchedule, "cron expression for the daily check-in (overrides $DAILY_CHECK_SCHEDULE)"),
		birthDate:      fs.Bool("collect-birth-date", config.BirthDate, "ask for birth date before the questionnaire (overrides $COLLECT_BIRTH_DATE)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Error("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr", *flags.redisAddr,
		"transport", *flags.transport,
		"transcriber", *flags.transcriber,
		"apiAddr", *flags.apiAddr,
		"adviceInterval", *flags.adviceInterval,
		"dailySchedule", *flags.dailySchedule,
		"birthDate", *flags.birthDate)

	// Follow a state directory override for DSNs that were only defaulted from it
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.waDSN == whatsAppFileDSN(config.StateDir) {
			*flags.waDSN = whatsAppFileDSN(*flags.stateDir)
		}
		slog.Debug("Updated DSNs based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// whatsAppFileDSN is the default whatsmeow SQLite DSN inside stateDir.
func whatsAppFileDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// usesStateDir reports whether any configured database is a file, which makes the state
// directory worth locking.
func usesStateDir(flags Flags) bool {
	if *flags.redisAddr == "" && *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		return true
	}
	transport := strings.ToLower(*flags.transport)
	return (transport == "wa" || transport == "whatsapp") && store.DetectDSNType(*flags.waDSN) == "sqlite3"
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.redisAddr != "" {
		slog.Debug("Configuring Redis store", "addr", *flags.redisAddr)
		return append(storeOpts, store.WithRedisAddr(*flags.redisAddr))
	}
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return twOpts
}

// buildBackendOptions constructs coaching backend client options
func buildBackendOptions(flags Flags) []backend.Option {
	var opts []backend.Option
	if *flags.backendURL != "" {
		opts = append(opts, backend.WithEndpoint(*flags.backendURL))
	}
	if *flags.backendKey != "" {
		opts = append(opts, backend.WithAPIKey(*flags.backendKey))
	}
	return opts
}

// buildTranscribeOptions constructs transcription options for the selected provider
func buildTranscribeOptions(flags Flags) []transcribe.Option {
	var opts []transcribe.Option
	switch *flags.transcriber {
	case transcribe.ProviderGoogle:
		if *flags.googleCreds != "" {
			opts = append(opts, transcribe.WithCredentialsFile(*flags.googleCreds))
		}
	default:
		if *flags.openaiKey != "" {
			opts = append(opts, transcribe.WithAPIKey(*flags.openaiKey))
		}
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.adminKey != "" {
		apiOpts = append(apiOpts, api.WithAdminKey(*flags.adminKey))
	}
	return apiOpts
}

// buildHookOptions constructs scheduler options for the recurring hooks
func buildHookOptions(flags Flags) []scheduler.HookOption {
	return []scheduler.HookOption{
		scheduler.WithAdviceInterval(*flags.adviceInterval),
		scheduler.WithDailySchedule(*flags.dailySchedule),
	}
}
