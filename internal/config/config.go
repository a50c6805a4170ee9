package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "collabhub.db"
	defaultPGPoolMax            = 10
	defaultLogLevel             = "info"
	defaultSessionCookieName    = "collabhub_session"
	defaultSnapshotEveryUpdates = 50
	defaultSnapshotEveryMS      = 30000
	defaultSnapshotRetainCount  = 3
	defaultExecTimeoutMS        = 10000
	defaultExecCodeMaxBytes     = 100000
	defaultExecOutputMaxBytes   = 1048576
	defaultExecMaxConcurrency   = 2
	defaultExecRateLimitPerMin  = 10
	defaultWorkerIdleMS         = 30000
)

// AppConfig captures runtime configuration for the collaboration hub.
type AppConfig struct {
	Port           string
	HTTPAddress    string
	FrontendOrigin string
	LogLevel       string

	DatabaseURL  string
	DatabasePath string
	PGPoolMax    int
	DBSSLMode    string

	BlobEndpoint        string
	BlobRegion          string
	BlobBucket          string
	BlobAccessKeyID     string
	BlobSecretAccessKey string

	AuthJWKSURL  string
	AuthIssuer   string
	AuthAudience string

	SessionSigningSecret string
	SessionCookieName    string

	QueueURL string

	SnapshotEveryNUpdates int
	SnapshotEveryMS       time.Duration
	PruneBeforeSnapshot   bool
	SnapshotRetainCount   int

	ExecTimeout        time.Duration
	ExecCodeMaxBytes   int
	ExecOutputMaxBytes int
	ExecMaxConcurrency int
	ExecRateLimitPerMin int
	WorkerIdle         time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// envBindings maps dotted viper keys to the literal env var names spec'd for
// this system; kept explicit rather than relying on a prefix+replacer
// scheme because the external interface names flat, unprefixed variables.
var envBindings = map[string]string{
	"http.port":              "PORT",
	"http.address":           "HTTP_ADDRESS",
	"http.frontend_origin":   "FRONTEND_ORIGIN",
	"log.level":              "LOG_LEVEL",
	"database.url":           "DATABASE_URL",
	"database.path":          "DATABASE_PATH",
	"database.pg_pool_max":   "PG_POOL_MAX",
	"database.ssl_mode":      "DB_SSL_MODE",
	"blob.endpoint":          "BLOB_ENDPOINT",
	"blob.region":            "BLOB_REGION",
	"blob.bucket":            "BLOB_BUCKET",
	"blob.access_key_id":     "BLOB_ACCESS_KEY_ID",
	"blob.secret_access_key": "BLOB_SECRET_ACCESS_KEY",
	"auth.jwks_url":          "AUTH_JWKS_URL",
	"auth.issuer":            "AUTH_ISSUER",
	"auth.audience":          "AUTH_AUDIENCE",
	"session.signing_secret": "SESSION_SIGNING_SECRET",
	"session.cookie_name":    "SESSION_COOKIE_NAME",
	"queue.url":              "QUEUE_URL",
	"snapshot.every_n":       "SNAPSHOT_EVERY_N_UPDATES",
	"snapshot.every_ms":      "SNAPSHOT_EVERY_MS",
	"snapshot.prune":         "PRUNE_UPDATES_BEFORE_SNAPSHOT",
	"snapshot.retain_count":  "SNAPSHOT_RETAIN_COUNT",
	"exec.timeout_ms":        "EXEC_TIMEOUT_MS",
	"exec.code_max_bytes":    "EXEC_CODE_MAX_BYTES",
	"exec.output_max_bytes":  "EXEC_OUTPUT_MAX_BYTES",
	"exec.max_concurrency":   "EXEC_MAX_CONCURRENCY",
	"exec.rate_limit_per_min": "EXEC_RATE_LIMIT_PER_MIN",
	"worker.idle_ms":         "WORKER_IDLE_MS",
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	for key, env := range envBindings {
		_ = configViper.BindEnv(key, env)
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.pg_pool_max", defaultPGPoolMax)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("snapshot.every_n", defaultSnapshotEveryUpdates)
	configViper.SetDefault("snapshot.every_ms", defaultSnapshotEveryMS)
	configViper.SetDefault("snapshot.prune", false)
	configViper.SetDefault("snapshot.retain_count", defaultSnapshotRetainCount)
	configViper.SetDefault("exec.timeout_ms", defaultExecTimeoutMS)
	configViper.SetDefault("exec.code_max_bytes", defaultExecCodeMaxBytes)
	configViper.SetDefault("exec.output_max_bytes", defaultExecOutputMaxBytes)
	configViper.SetDefault("exec.max_concurrency", defaultExecMaxConcurrency)
	configViper.SetDefault("exec.rate_limit_per_min", defaultExecRateLimitPerMin)
	configViper.SetDefault("worker.idle_ms", defaultWorkerIdleMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		Port:           configViper.GetString("http.port"),
		HTTPAddress:    configViper.GetString("http.address"),
		FrontendOrigin: configViper.GetString("http.frontend_origin"),
		LogLevel:       configViper.GetString("log.level"),

		DatabaseURL:  configViper.GetString("database.url"),
		DatabasePath: configViper.GetString("database.path"),
		PGPoolMax:    configViper.GetInt("database.pg_pool_max"),
		DBSSLMode:    configViper.GetString("database.ssl_mode"),

		BlobEndpoint:        configViper.GetString("blob.endpoint"),
		BlobRegion:          configViper.GetString("blob.region"),
		BlobBucket:          configViper.GetString("blob.bucket"),
		BlobAccessKeyID:     configViper.GetString("blob.access_key_id"),
		BlobSecretAccessKey: configViper.GetString("blob.secret_access_key"),

		AuthJWKSURL:  configViper.GetString("auth.jwks_url"),
		AuthIssuer:   configViper.GetString("auth.issuer"),
		AuthAudience: configViper.GetString("auth.audience"),

		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),

		QueueURL: configViper.GetString("queue.url"),

		SnapshotEveryNUpdates: configViper.GetInt("snapshot.every_n"),
		SnapshotEveryMS:       time.Duration(configViper.GetInt64("snapshot.every_ms")) * time.Millisecond,
		PruneBeforeSnapshot:   configViper.GetBool("snapshot.prune"),
		SnapshotRetainCount:   configViper.GetInt("snapshot.retain_count"),

		ExecTimeout:         time.Duration(configViper.GetInt64("exec.timeout_ms")) * time.Millisecond,
		ExecCodeMaxBytes:    configViper.GetInt("exec.code_max_bytes"),
		ExecOutputMaxBytes:  configViper.GetInt("exec.output_max_bytes"),
		ExecMaxConcurrency:  configViper.GetInt("exec.max_concurrency"),
		ExecRateLimitPerMin: configViper.GetInt("exec.rate_limit_per_min"),
		WorkerIdle:          time.Duration(configViper.GetInt64("worker.idle_ms")) * time.Millisecond,
	}

	if cfg.Port != "" {
		cfg.HTTPAddress = "0.0.0.0:" + cfg.Port
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// BlobConfigured reports whether the Snapshot Store's blob backend has
// enough configuration to be usable; per spec §6 it is optional, and in its
// absence snapshots are kept in the database-backed store instead.
func (c AppConfig) BlobConfigured() bool {
	return strings.TrimSpace(c.BlobBucket) != "" &&
		strings.TrimSpace(c.BlobAccessKeyID) != "" &&
		strings.TrimSpace(c.BlobSecretAccessKey) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" && strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.url or database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	return nil
}
