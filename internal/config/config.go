// Package config loads process configuration from a .env file and FISHLOG_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fishlog/internal/blob"
	"fishlog/internal/core"
	"fishlog/pkg/domain"
)

// LogFormat selects the slog handler.
type LogFormat string

// Log formats.
const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// Config holds everything the CLI and the agent need to run.
type Config struct {
	Storage         core.StorageConfig
	SyncSchedule    string
	RefreshSchedule string
	MetricsAddr     string
	// ExpvarMetrics also publishes operation metrics under expvar.
	ExpvarMetrics bool
	// TraceFile receives one JSON line per traced operation when set.
	TraceFile   string
	DisplayZone *time.Location
	LogLevel    slog.Level
	LogFormat   LogFormat
}

// Defaults.
const (
	DefaultSQLitePath      = "./fishlog.db"
	DefaultBlobRoot        = "./blobdata"
	DefaultSyncSchedule    = "@every 15m"
	DefaultRefreshSchedule = "@daily"
	DefaultMetricsAddr     = ":9464"
)

// Load reads the given dotenv files (".env" when none are named) and then the
// environment. Variables already set in the environment win over the files.
// A missing file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	localDriver := core.LocalDriver(lower(getEnv("FISHLOG_LOCAL_DRIVER", string(core.LocalSQLite))))
	if localDriver != core.LocalSQLite && localDriver != core.LocalMemory {
		return nil, fmt.Errorf("invalid FISHLOG_LOCAL_DRIVER: '%s' (must be 'sqlite' or 'memory')", localDriver)
	}
	remoteDriver := core.RemoteDriver(lower(getEnv("FISHLOG_REMOTE_DRIVER", string(core.RemotePostgres))))
	if remoteDriver != core.RemotePostgres && remoteDriver != core.RemoteMemory {
		return nil, fmt.Errorf("invalid FISHLOG_REMOTE_DRIVER: '%s' (must be 'postgres' or 'memory')", remoteDriver)
	}
	blobCfg, err := loadBlobConfig()
	if err != nil {
		return nil, err
	}
	zone, err := loadZone(getEnv("FISHLOG_DISPLAY_TZ", ""))
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("FISHLOG_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid FISHLOG_LOG_LEVEL: %w", err)
	}
	expvarMetrics, err := getBool("FISHLOG_METRICS_EXPVAR", false)
	if err != nil {
		return nil, err
	}
	format := LogFormat(lower(getEnv("FISHLOG_LOG_FORMAT", string(LogText))))
	if format != LogText && format != LogJSON {
		return nil, fmt.Errorf("invalid FISHLOG_LOG_FORMAT: '%s' (must be 'text' or 'json')", format)
	}

	return &Config{
		Storage: core.StorageConfig{
			LocalDriver:  localDriver,
			SQLitePath:   getEnv("FISHLOG_SQLITE_PATH", DefaultSQLitePath),
			RemoteDriver: remoteDriver,
			PostgresDSN:  getEnv("FISHLOG_POSTGRES_DSN", ""),
			Blob:         blobCfg,
		},
		SyncSchedule:    getEnv("FISHLOG_SYNC_SCHEDULE", DefaultSyncSchedule),
		RefreshSchedule: getEnv("FISHLOG_REFRESH_SCHEDULE", DefaultRefreshSchedule),
		MetricsAddr:     getEnv("FISHLOG_METRICS_ADDR", DefaultMetricsAddr),
		ExpvarMetrics:   expvarMetrics,
		TraceFile:       getEnv("FISHLOG_TRACE_FILE", ""),
		DisplayZone:     zone,
		LogLevel:        level,
		LogFormat:       format,
	}, nil
}

func loadBlobConfig() (blob.Config, error) {
	driver := blob.Driver(lower(getEnv("FISHLOG_BLOB_DRIVER", string(blob.DriverFilesystem))))
	switch driver {
	case blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
	default:
		return blob.Config{}, fmt.Errorf("invalid FISHLOG_BLOB_DRIVER: '%s' (must be 'fs', 's3' or 'memory')", driver)
	}
	pathStyle, err := getBool("FISHLOG_BLOB_S3_PATH_STYLE", false)
	if err != nil {
		return blob.Config{}, err
	}
	cfg := blob.Config{
		Driver:    driver,
		FSRoot:    getEnv("FISHLOG_BLOB_FS_ROOT", DefaultBlobRoot),
		FSBaseURL: getEnv("FISHLOG_BLOB_FS_BASE_URL", ""),
		S3: blob.S3Config{
			Bucket:    getEnv("FISHLOG_BLOB_S3_BUCKET", ""),
			Region:    getEnv("FISHLOG_BLOB_S3_REGION", ""),
			Endpoint:  getEnv("FISHLOG_BLOB_S3_ENDPOINT", ""),
			PathStyle: pathStyle,
			PublicURL: getEnv("FISHLOG_BLOB_S3_PUBLIC_URL", ""),
		},
	}
	if driver == blob.DriverS3 && cfg.S3.Bucket == "" {
		return blob.Config{}, fmt.Errorf("FISHLOG_BLOB_S3_BUCKET is required for the s3 driver")
	}
	return cfg, nil
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return domain.DefaultDisplayZone, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid FISHLOG_DISPLAY_TZ: %w", err)
	}
	return loc, nil
}

// NewLogger builds the process logger described by cfg.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: '%s' (must be a boolean)", key, raw)
	}
	return v, nil
}

func lower(s string) string { return strings.ToLower(s) }
