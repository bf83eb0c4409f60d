package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency int // parallel source units per run
	SourceDelayMs  int // min interval between requests to the same source
	GlobalDelayMs  int // min interval between requests across sources
	MaxRetries     int
	UnitTimeoutSec int // bounds a single source's extraction
	RunTimeoutSec  int // bounds total wall clock per run

	RubricPath     string
	ScopesPath     string
	CSVArchivePath string

	TestMode bool

	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	AlertRecipient string

	UserAgent string
	ServeAddr string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scout"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scout123"),
		PostgresDB:       getEnv("POSTGRES_DB", "estate_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
		SourceDelayMs:  getEnvInt("SOURCE_DELAY_MS", 3000),
		GlobalDelayMs:  getEnvInt("GLOBAL_DELAY_MS", 1000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		UnitTimeoutSec: getEnvInt("UNIT_TIMEOUT_SEC", 600),
		RunTimeoutSec:  getEnvInt("RUN_TIMEOUT_SEC", 3600),

		RubricPath:     getEnv("RUBRIC_PATH", ""),
		ScopesPath:     getEnv("SCOPES_PATH", ""),
		CSVArchivePath: getEnv("CSV_ARCHIVE_PATH", "./output/raw_listings.csv"),

		TestMode: getEnvBool("TEST_MODE", false),

		SMTPHost:       getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPUser:       getEnv("SMTP_USER", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		AlertRecipient: getEnv("ALERT_RECIPIENT", ""),

		UserAgent: getEnv("USER_AGENT",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ServeAddr: getEnv("SERVE_ADDR", ":8080"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}
