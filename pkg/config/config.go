package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported values for DB_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds application configuration from environment variables
type Config struct {
	// Application
	AppPort             string
	ShutdownTimeout     time.Duration
	ActiveCartsInterval time.Duration

	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Catalog cache
	RedisAddr       string // empty keeps the cache in process
	ProductCacheTTL time.Duration

	// OpenTelemetry
	OTELExporterOTLPEndpoint       string
	OTELExporterOTLPProtocol       string
	OTELExporterOTLPHeaders        string // For SigNoz Cloud: signoz-ingestion-key=<key>
	OTELExporterOTLPInsecure       bool   // true for http://, false for https://
	OTELExporterOTLPTracesEndpoint string
	OTELTracesEnabled              bool
	OTELServiceName                string
	OTELServiceVersion             string
	OTELDeploymentEnvironment      string
	OTELResourceAttributes         string
}

// LoadConfig loads configuration from .env file and environment variables with defaults
func LoadConfig() *Config {
	// .env is optional; only complain when it exists but cannot be parsed
	if err := godotenv.Load(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	return &Config{
		AppPort:             getEnv("APP_PORT", "8080"),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		ActiveCartsInterval: getEnvDuration("ACTIVE_CARTS_INTERVAL", 30*time.Second),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", DriverMySQL)),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "ecommerce"),
		SQLitePath: getEnv("SQLITE_PATH", "checkout.db"),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		ProductCacheTTL: getEnvDuration("PRODUCT_CACHE_TTL", 5*time.Minute),

		OTELExporterOTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPProtocol:       getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf"),
		OTELExporterOTLPHeaders:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTELExporterOTLPInsecure:       getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELExporterOTLPTracesEndpoint: getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "localhost:4317"),
		OTELTracesEnabled:              getEnvBool("OTEL_TRACES_ENABLED", false),
		OTELServiceName:                getEnv("OTEL_SERVICE_NAME", "ecommerce-checkout"),
		OTELServiceVersion:             getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTELDeploymentEnvironment:      getEnv("OTEL_DEPLOYMENT_ENVIRONMENT", "development"),
		OTELResourceAttributes:         getEnv("OTEL_RESOURCE_ATTRIBUTES", ""),
	}
}

// Validate reports configuration that cannot be used to start the service
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverMySQL, DriverSQLite)
	}
	if c.DBDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=%s", DriverSQLite)
	}
	if c.ActiveCartsInterval <= 0 {
		return fmt.Errorf("ACTIVE_CARTS_INTERVAL must be positive")
	}
	return nil
}

// GetDSN returns the DSN for the configured driver
func (c *Config) GetDSN() string {
	if c.DBDriver == DriverSQLite {
		return SQLiteDSN(c.SQLitePath)
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true&loc=UTC&charset=utf8mb4"
}

// SQLiteDSN builds a modernc.org/sqlite DSN with WAL, foreign keys and a busy timeout
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
}

// GetAppPortInt returns the application port as an integer
func (c *Config) GetAppPortInt() int {
	port, err := strconv.Atoi(c.AppPort)
	if err != nil {
		return 8080
	}
	return port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration for %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
