package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Store     StoreConfig
	Reconcile ReconcileConfig
}

type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver     string // postgres, sqlite, memory
	SQLitePath string
}

// ReconcileConfig holds the engine's policy knobs. All time arithmetic
// happens in Timezone; DefaultToleranceMinutes is the system-wide checkout
// tolerance used when neither a worker override nor a location default is
// configured.
type ReconcileConfig struct {
	Timezone                string
	DefaultToleranceMinutes int
	LookbackDays            int
	AbandonedAfterHours     int
	SweepHour               int // civil hour at which the daemon runs the abandoned sweep
}

var storeDrivers = []string{"postgres", "sqlite", "memory"}

func Load() (*Config, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	config := &Config{}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "clinika_attendance"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	config.App = AppConfig{
		Port:     appPort,
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	config.Store = StoreConfig{
		Driver:     getEnv("STORE_DRIVER", "postgres"),
		SQLitePath: getEnv("SQLITE_PATH", "./data/attendance.db"),
	}

	defaultTolerance, err := strconv.Atoi(getEnv("CHECKOUT_TOLERANCE_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKOUT_TOLERANCE_MINUTES: %w", err)
	}
	lookbackDays, err := strconv.Atoi(getEnv("RECONCILE_LOOKBACK_DAYS", "14"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_LOOKBACK_DAYS: %w", err)
	}
	abandonedHours, err := strconv.Atoi(getEnv("ABANDONED_AFTER_HOURS", "12"))
	if err != nil {
		return nil, fmt.Errorf("invalid ABANDONED_AFTER_HOURS: %w", err)
	}
	sweepHour, err := strconv.Atoi(getEnv("ABANDONED_SWEEP_HOUR", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid ABANDONED_SWEEP_HOUR: %w", err)
	}

	config.Reconcile = ReconcileConfig{
		Timezone:                getEnv("CIVIL_TIMEZONE", "Asia/Jakarta"),
		DefaultToleranceMinutes: defaultTolerance,
		LookbackDays:            lookbackDays,
		AbandonedAfterHours:     abandonedHours,
		SweepHour:               sweepHour,
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !isInSlice(c.Store.Driver, storeDrivers) {
		return fmt.Errorf("STORE_DRIVER must be one of: %s", strings.Join(storeDrivers, ", "))
	}
	if c.Store.Driver == "postgres" && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required for the postgres store")
	}
	if c.Reconcile.DefaultToleranceMinutes <= 0 {
		return fmt.Errorf("CHECKOUT_TOLERANCE_MINUTES must be positive")
	}
	if c.Reconcile.AbandonedAfterHours <= 0 {
		return fmt.Errorf("ABANDONED_AFTER_HOURS must be positive")
	}
	if c.Reconcile.SweepHour < 0 || c.Reconcile.SweepHour > 23 {
		return fmt.Errorf("ABANDONED_SWEEP_HOUR must be between 0 and 23")
	}
	if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil {
		return fmt.Errorf("invalid CIVIL_TIMEZONE: %w", err)
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func isInSlice(value string, slice []string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}
