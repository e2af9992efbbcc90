package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabaseType   string
	DatabasePath   string
	DatabaseURL    string
	CurriculumPath string
	SessionFile    string
	LogLevel       string

	JWTSecret       string
	SessionDuration time.Duration
	NoteDebounce    time.Duration

	// Email verification (Amazon SES). Empty SESFromEmail disables sending.
	AWSRegion    string
	SESFromEmail string
	SESFromName  string
	AppBaseURL   string
	EmailDebug   bool
}

// Load reads configuration from an optional .env file and environment variables
// with sensible defaults
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	return &Config{
		DatabaseType:    getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:    getEnv("DB_PATH", "./roadmap.db"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		CurriculumPath:  getEnv("CURRICULUM_PATH", "./data/roadmap.json"),
		SessionFile:     getEnv("ROADMAP_SESSION_FILE", defaultSessionFile()),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		JWTSecret:       getEnv("JWT_SECRET", "change-me"),
		SessionDuration: getDuration("SESSION_DURATION", 7*24*time.Hour),
		NoteDebounce:    getDuration("NOTE_DEBOUNCE", time.Second),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail:    getEnv("SES_FROM_EMAIL", ""),
		SESFromName:     getEnv("SES_FROM_NAME", "DSA Roadmap"),
		AppBaseURL:      getEnv("APP_BASE_URL", "http://localhost:8080"),
		EmailDebug:      getBool("EMAIL_DEBUG", false),
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roadmap_session"
	}
	return home + string(os.PathSeparator) + ".roadmap_session"
}
