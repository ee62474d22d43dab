package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	TelegramToken  string
	DBDSN          string
	Environment    string
	LogLevel       string
	StorageDriver  string
	MigrationsPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MeetingBaseURL      string
	MeetingDefaultHost  string
	MeetingAllowedHosts []string

	GenerateLead    time.Duration
	JoinLead        time.Duration
	JoinGrace       time.Duration
	PreOpenLead     time.Duration
	DefaultDuration int // в минутах
	SweepInterval   time.Duration
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	return FromEnv(os.Getenv)
}

// FromEnv собирает конфиг из функции чтения переменных (удобно для тестов)
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		TelegramToken:      getenv("TELEGRAM_TOKEN"),
		DBDSN:              getenv("DB_DSN"),
		Environment:        getenv("ENV"),
		LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL"))),
		StorageDriver:      getenv("STORAGE_DRIVER"),
		MigrationsPath:     getenv("MIGRATIONS_PATH"),
		RedisAddr:          getenv("REDIS_ADDR"),
		RedisPassword:      getenv("REDIS_PASSWORD"),
		MeetingBaseURL:     getenv("MEETING_BASE_URL"),
		MeetingDefaultHost: strings.TrimSpace(getenv("MEETING_DEFAULT_HOST")),
	}

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverPostgres
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}
	if cfg.MeetingBaseURL == "" {
		cfg.MeetingBaseURL = "https://meet.example.com"
	}
	cfg.MeetingAllowedHosts = splitList(getenv("MEETING_ALLOWED_HOSTS"))

	var err error
	if cfg.RedisDB, err = intOr(getenv, "REDIS_DB", 0); err != nil {
		return nil, err
	}

	policy := timewindow.DefaultPolicy()
	if cfg.GenerateLead, err = minutesOr(getenv, "GENERATE_LEAD_MINUTES", policy.GenerateLead); err != nil {
		return nil, err
	}
	if cfg.JoinLead, err = minutesOr(getenv, "JOIN_LEAD_MINUTES", policy.JoinLead); err != nil {
		return nil, err
	}
	if cfg.JoinGrace, err = minutesOr(getenv, "JOIN_GRACE_MINUTES", policy.JoinGrace); err != nil {
		return nil, err
	}
	if cfg.PreOpenLead, err = minutesOr(getenv, "PRE_OPEN_LEAD_MINUTES", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = minutesOr(getenv, "SWEEP_INTERVAL_MINUTES", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DefaultDuration, err = intOr(getenv, "DEFAULT_DURATION_MINUTES", 30); err != nil {
		return nil, err
	}

	// Проверяем обязательные поля
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required but not set")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.DefaultDuration < 1 {
		return nil, fmt.Errorf("DEFAULT_DURATION_MINUTES must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}

	return cfg, nil
}

// WindowPolicy возвращает политику окон генерации и входа
func (c *Config) WindowPolicy() timewindow.Policy {
	return timewindow.Policy{
		GenerateLead: c.GenerateLead,
		JoinLead:     c.JoinLead,
		JoinGrace:    c.JoinGrace,
	}
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

func intOr(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func minutesOr(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return time.Duration(v) * time.Minute, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
