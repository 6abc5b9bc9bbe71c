package config

import (
	"io"
	"log"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	DatabaseURL string

	// Auth
	JWTSecret string

	// Email fan-out
	EmailEnabled     bool
	NatsURL          string
	EmailSubject     string `yaml:"email_subject"`
	EmailFromAddress string `yaml:"email_from_address"`

	// Stream
	HeartbeatIntervalSeconds int
	WriteTimeoutSeconds      int

	// Dispatch
	BulkMaxConcurrent int // cap on concurrent per-recipient dispatches in a batch

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Maintenance
	DeliveryLogRetentionDays int

	// Observability
	OpLogCapacity int

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/carebridge?sslmode=disable"),

		// Auth
		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),

		// Email fan-out
		EmailEnabled:     getEnvOrDefault("EMAIL_ENABLED", "true") == "true",
		NatsURL:          getEnvOrDefault("NATS_URL", ""),
		EmailSubject:     getEnvOrDefault("EMAIL_OUTBOUND_SUBJECT", "email.outbound"),
		EmailFromAddress: getEnvOrDefault("EMAIL_FROM_ADDRESS", "care@carebridge.app"),

		// Stream
		HeartbeatIntervalSeconds: getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30),
		WriteTimeoutSeconds:      getEnvAsInt("STREAM_WRITE_TIMEOUT_SECONDS", 10),

		// Dispatch
		BulkMaxConcurrent: getEnvAsInt("BULK_MAX_CONCURRENT", 32),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Maintenance
		DeliveryLogRetentionDays: getEnvAsInt("DELIVERY_LOG_RETENTION_DAYS", 30),

		// Observability
		OpLogCapacity: getEnvAsInt("OPLOG_CAPACITY", 512),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Optional config file for settings that are awkward as environment
	// variables (email sender identity and similar).
	configFilePath := getEnvOrDefault("CONFIG_FILE", "")
	if configFilePath != "" {
		configFile, err := os.Open(configFilePath)
		if err != nil {
			log.Fatalf("Failed to open config file: %v", err)
		}
		defer configFile.Close()

		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if AppConfig.JWTSecret == "" {
		log.Println("Warning: JWT secret is missing. Please set JWT_SECRET environment variable.")
	}

	if AppConfig.NatsURL == "" {
		log.Println("Warning: NATS URL is missing, email fan-out disabled. Set NATS_URL to enable.")
		AppConfig.EmailEnabled = false
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
