package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the runtime configuration of the bot, read from the environment
// on top of config.json.
type Settings struct {
	BotToken string
	Calendar string
	Location *time.Location

	ConfigDir       string
	DataFile        string
	TokenFile       string
	CredentialsFile string
	RemindersFile   string
	DatabaseURL     string

	HTTPAddr    string
	RedirectURL string

	WizardTimeout    time.Duration
	ReminderLead     time.Duration
	MetricsNamespace string
}

// LoadEnvFile loads a .env file from the working directory when present.
func LoadEnvFile() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}
}

// LoadSettings reads the environment and applies defaults. A missing bot
// token or an unknown timezone is an error.
func LoadSettings() (Settings, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return Settings{}, fmt.Errorf("could not find path to configuration directory: %w", err)
	}
	cfg, err := Load()
	if err != nil {
		log.Printf("Warning: ignoring unreadable config file: %v", err)
		cfg = &Config{Calendar: DefaultCalendar}
	}

	s := Settings{
		BotToken:         envTrim("TELEGRAM_BOT_TOKEN"),
		Calendar:         envOrDefault("TASKBOT_CALENDAR", cfg.Calendar),
		ConfigDir:        dir,
		DataFile:         envOrDefault("TASKBOT_DATA_FILE", filepath.Join(dir, "tasks.json")),
		TokenFile:        envOrDefault("TASKBOT_TOKEN_FILE", filepath.Join(dir, "token.json")),
		CredentialsFile:  envOrDefault("TASKBOT_CREDENTIALS_FILE", filepath.Join(dir, "credentials.json")),
		RemindersFile:    envOrDefault("TASKBOT_REMINDERS_FILE", filepath.Join(dir, "reminders.json")),
		DatabaseURL:      envTrim("DATABASE_URL"),
		HTTPAddr:         envOrDefault("TASKBOT_HTTP_ADDR", ":6789"),
		RedirectURL:      envTrim("TASKBOT_REDIRECT_URL"),
		MetricsNamespace: envOrDefault("TASKBOT_METRICS_NAMESPACE", "taskbot"),
	}
	if s.BotToken == "" {
		return Settings{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}

	tz := envOrDefault("CALENDAR_TIMEZONE", cfg.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	s.Location, err = time.LoadLocation(tz)
	if err != nil {
		return Settings{}, fmt.Errorf("CALENDAR_TIMEZONE %q is not a known timezone: %w", tz, err)
	}

	s.WizardTimeout, err = durationFromEnv("TASKBOT_WIZARD_TIMEOUT", 30*time.Minute)
	if err != nil {
		return Settings{}, err
	}
	s.ReminderLead, err = durationFromEnv("TASKBOT_REMINDER_LEAD", 30*time.Minute)
	if err != nil {
		return Settings{}, err
	}
	if s.WizardTimeout < time.Minute {
		return Settings{}, fmt.Errorf("TASKBOT_WIZARD_TIMEOUT must be at least 1m")
	}
	if s.ReminderLead < 0 {
		return Settings{}, fmt.Errorf("TASKBOT_REMINDER_LEAD must not be negative")
	}
	return s, nil
}

func envOrDefault(key, fallback string) string {
	v := envTrim(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrim(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
