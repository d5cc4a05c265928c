package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("APP_PORT", "")
	t.Setenv("PRODUCT_CACHE_TTL", "")

	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.Equal(t, 5*time.Minute, cfg.ProductCacheTTL)
	assert.True(t, cfg.OTELExporterOTLPInsecure)
	assert.False(t, cfg.OTELTracesEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/shop.db")
	t.Setenv("PRODUCT_CACHE_TTL", "90s")
	t.Setenv("OTEL_TRACES_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := LoadConfig()

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 90*time.Second, cfg.ProductCacheTTL)
	assert.True(t, cfg.OTELTracesEnabled)
	assert.False(t, cfg.OTELExporterOTLPInsecure)
	assert.Equal(t, "file:/tmp/shop.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", cfg.GetDSN())
}

func TestLoadConfig_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestGetDSN_MySQL(t *testing.T) {
	cfg := &Config{
		DBDriver:   DriverMySQL,
		DBUser:     "shop",
		DBPassword: "secret",
		DBHost:     "db",
		DBPort:     "3307",
		DBName:     "checkout",
	}

	assert.Equal(t, "shop:secret@tcp(db:3307)/checkout?parseTime=true&loc=UTC&charset=utf8mb4", cfg.GetDSN())
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	cfg := &Config{DBDriver: "postgres", ActiveCartsInterval: time.Second}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestGetAppPortInt(t *testing.T) {
	assert.Equal(t, 9090, (&Config{AppPort: "9090"}).GetAppPortInt())
	assert.Equal(t, 8080, (&Config{AppPort: "http"}).GetAppPortInt())
}
