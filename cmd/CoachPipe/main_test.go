package main

import (
	"context"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/scheduler"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

var configEnv = []string{
	"COACHPIPE_STATE_DIR", "DATABASE_DSN", "DATABASE_URL", "REDIS_ADDR", "TRANSPORT",
	"TG_BOT_TOKEN", "WHATSAPP_DB_DSN", "TRANSCRIBER", "OPENAI_API_KEY", "API_ADDR",
	"ADMIN_API_KEY", "ADVICE_INTERVAL", "DAILY_CHECK_SCHEDULE", "COLLECT_BIRTH_DATE",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL",
	"BACKEND_API_ENDPOINT", "BACKEND_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func testFlags(t *testing.T, config Config, args ...string) Flags {
	t.Helper()
	fs := flag.NewFlagSet("coachpipe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return parseFlags(fs, args, config)
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultDBFileName); config.DatabaseDSN != want {
		t.Errorf("DatabaseDSN = %q, want %q", config.DatabaseDSN, want)
	}
	if want := whatsAppFileDSN(DefaultStateDir); config.WhatsAppDSN != want {
		t.Errorf("WhatsAppDSN = %q, want %q", config.WhatsAppDSN, want)
	}
	if config.Transport != DefaultTransport {
		t.Errorf("Transport = %q, want %q", config.Transport, DefaultTransport)
	}
	if config.AdviceInterval != scheduler.DefaultAdviceInterval || config.DailySchedule != scheduler.DefaultDailySchedule {
		t.Errorf("hook defaults = %v %q", config.AdviceInterval, config.DailySchedule)
	}
	if config.BirthDate {
		t.Error("BirthDate should default to false")
	}
}

func TestLoadEnvironmentConfigDatabase(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		wantDB string
		wantWA string
	}{
		{
			name:   "DATABASE_URL shared with whatsmeow when postgres",
			env:    map[string]string{"DATABASE_URL": "postgres://u:p@localhost/db"},
			wantDB: "postgres://u:p@localhost/db",
			wantWA: "postgres://u:p@localhost/db",
		},
		{
			name:   "DATABASE_DSN takes precedence over DATABASE_URL",
			env:    map[string]string{"DATABASE_DSN": "host=db dbname=coach", "DATABASE_URL": "postgres://other/db"},
			wantDB: "host=db dbname=coach",
			wantWA: "host=db dbname=coach",
		},
		{
			name:   "sqlite application database keeps whatsmeow separate",
			env:    map[string]string{"DATABASE_DSN": "/data/app.db"},
			wantDB: "/data/app.db",
			wantWA: whatsAppFileDSN(DefaultStateDir),
		},
		{
			name:   "explicit whatsmeow DSN",
			env:    map[string]string{"WHATSAPP_DB_DSN": "file:/wa.db?_foreign_keys=on"},
			wantDB: filepath.Join(DefaultStateDir, DefaultDBFileName),
			wantWA: "file:/wa.db?_foreign_keys=on",
		},
		{
			name:   "redis leaves the database DSN empty",
			env:    map[string]string{"REDIS_ADDR": "localhost:6379"},
			wantDB: "",
			wantWA: whatsAppFileDSN(DefaultStateDir),
		},
		{
			name:   "custom state directory",
			env:    map[string]string{"COACHPIPE_STATE_DIR": "/srv/coach"},
			wantDB: filepath.Join("/srv/coach", DefaultDBFileName),
			wantWA: whatsAppFileDSN("/srv/coach"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			config := loadEnvironmentConfig()
			if config.DatabaseDSN != tt.wantDB {
				t.Errorf("DatabaseDSN = %q, want %q", config.DatabaseDSN, tt.wantDB)
			}
			if config.WhatsAppDSN != tt.wantWA {
				t.Errorf("WhatsAppDSN = %q, want %q", config.WhatsAppDSN, tt.wantWA)
			}
		})
	}
}

func TestLoadEnvironmentConfigHooks(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ADVICE_INTERVAL", "90m")
	t.Setenv("DAILY_CHECK_SCHEDULE", "30 8 * * *")
	t.Setenv("COLLECT_BIRTH_DATE", "yes")

	config := loadEnvironmentConfig()
	if config.AdviceInterval != 90*time.Minute {
		t.Errorf("AdviceInterval = %v", config.AdviceInterval)
	}
	if config.DailySchedule != "30 8 * * *" {
		t.Errorf("DailySchedule = %q", config.DailySchedule)
	}
	if !config.BirthDate {
		t.Error("BirthDate should be true")
	}
}

func TestParseFlagsStateDirUpdate(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()

	flags := testFlags(t, config, "-state-dir", "/tmp/new_state")
	if want := filepath.Join("/tmp/new_state", DefaultDBFileName); *flags.dbDSN != want {
		t.Errorf("dbDSN = %q, want %q", *flags.dbDSN, want)
	}
	if want := whatsAppFileDSN("/tmp/new_state"); *flags.waDSN != want {
		t.Errorf("waDSN = %q, want %q", *flags.waDSN, want)
	}

	flags = testFlags(t, config, "-state-dir", "/tmp/new_state", "-db-dsn", "/explicit.db")
	if *flags.dbDSN != "/explicit.db" {
		t.Errorf("explicit dbDSN overridden: %q", *flags.dbDSN)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	flags := testFlags(t, config,
		"-transport", "twilio", "-advice-interval", "2h", "-daily-schedule", "@daily",
		"-collect-birth-date", "-api-addr", ":9090")

	if *flags.transport != "twilio" || *flags.adviceInterval != 2*time.Hour ||
		*flags.dailySchedule != "@daily" || !*flags.birthDate || *flags.apiAddr != ":9090" {
		t.Errorf("flags not applied: transport=%q interval=%v schedule=%q birth=%v addr=%q",
			*flags.transport, *flags.adviceInterval, *flags.dailySchedule, *flags.birthDate, *flags.apiAddr)
	}
}

func TestUsesStateDir(t *testing.T) {
	tests := []struct {
		name      string
		db        string
		redis     string
		transport string
		wa        string
		want      bool
	}{
		{"sqlite sessions", "/var/lib/coachpipe/coachpipe.db", "", "tg", "", true},
		{"postgres sessions over telegram", "postgres://db/coach", "", "tg", "", false},
		{"redis sessions over telegram", "", "localhost:6379", "tg", "", false},
		{"postgres sessions with sqlite whatsmeow", "postgres://db/coach", "", "wa", "file:/wa.db?_foreign_keys=on", true},
		{"postgres everywhere", "postgres://db/coach", "", "whatsapp", "postgres://db/coach", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := Flags{dbDSN: &tt.db, redisAddr: &tt.redis, transport: &tt.transport, waDSN: &tt.wa}
			if got := usesStateDir(flags); got != tt.want {
				t.Errorf("usesStateDir = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name  string
		db    string
		redis string
		want  store.Opts
	}{
		{"sqlite", "/tmp/coach.db", "", store.Opts{DSN: "/tmp/coach.db"}},
		{"postgres", "postgres://db/coach", "", store.Opts{DSN: "postgres://db/coach"}},
		{"redis wins", "/tmp/coach.db", "localhost:6379", store.Opts{RedisAddr: "localhost:6379"}},
		{"in-memory", "", "", store.Opts{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := Flags{dbDSN: &tt.db, redisAddr: &tt.redis}
			var got store.Opts
			for _, opt := range buildStoreOptions(flags) {
				opt(&got)
			}
			if got != tt.want {
				t.Errorf("store options = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuildTransportErrors(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()

	if _, err := buildTransport(context.Background(), testFlags(t, config, "-transport", "tg")); err == nil ||
		!strings.Contains(err.Error(), "TG_BOT_TOKEN") {
		t.Errorf("telegram without token: err = %v", err)
	}
	if _, err := buildTransport(context.Background(), testFlags(t, config, "-transport", "carrier-pigeon")); err == nil {
		t.Error("unknown transport should fail")
	}
	if _, err := buildTransport(context.Background(), testFlags(t, config, "-transport", "twilio")); err == nil {
		t.Error("twilio without credentials should fail")
	}
}

func TestBuildTranscriberDisabled(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	for _, args := range [][]string{nil, {"-transcriber", "none"}} {
		tr, err := buildTranscriber(context.Background(), testFlags(t, config, args...))
		if err != nil || tr != nil {
			t.Errorf("args %v: transcriber = %v, err = %v; want disabled", args, tr, err)
		}
	}
	if _, err := buildTranscriber(context.Background(), testFlags(t, config, "-transcriber", "azure")); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestFireHookMissingSession(t *testing.T) {
	st := store.NewInMemoryStore()
	d := flow.NewDispatcher(flow.NewMachine(nil), flow.NewStoreBasedSessionManager(st), nil)
	if err := fireHook(d)(context.Background(), "404", models.HookAdvice); err != nil {
		t.Errorf("missing session should not be reported as failure, got %v", err)
	}
}
