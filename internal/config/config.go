package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CHAT2BENCH_"

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

// ConfigError reports a missing or malformed configuration value. It is only
// produced at startup and is the one error class allowed to stop the process.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Remote        RemoteConfig
	Poll          PollConfig
	Retry         RetryConfig
	Upload        UploadConfig
	ObjectStore   ObjectStoreConfig
	Results       ResultsConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type RemoteConfig struct {
	BaseURL           string
	PublicKey         string
	PrivateKey        string
	URIScheme         string
	Timeout           time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

type PollConfig struct {
	Interval        time.Duration
	MaxPolls        int
	SummaryMaxPolls int
	Deadline        time.Duration
}

type RetryConfig struct {
	Register RetryPolicyConfig
	Submit   RetryPolicyConfig
}

type RetryPolicyConfig struct {
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

type UploadConfig struct {
	URL            string
	Secret         string
	SnapshotDir    string
	SnapshotSource string
}

// Enabled reports whether the snapshot upload side-channel is configured.
func (u UploadConfig) Enabled() bool {
	return u.URL != ""
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ResultsConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// Load builds a Config from profile defaults overlaid with CHAT2BENCH_* values.
// Remote credentials have no defaults; leaving any of them unset is a
// *ConfigError.
func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}
	prefixed := func(key string) (string, bool) { return lookup(envPrefix + key) }

	profile := ProfileDev
	if raw, ok := prefixed("PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, &ConfigError{Key: envPrefix + "PROFILE", Reason: fmt.Sprintf("invalid profile %q", profile)}
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(prefixed, "SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "BASE_URL", &cfg.Remote.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "PUBLIC_KEY", &cfg.Remote.PublicKey); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "PRIVATE_KEY", &cfg.Remote.PrivateKey); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "URI_SCHEME", &cfg.Remote.URIScheme); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "HTTP_TIMEOUT", &cfg.Remote.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(prefixed, "REQUESTS_PER_SECOND", &cfg.Remote.RequestsPerSecond); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "REQUEST_BURST", &cfg.Remote.RequestBurst); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "POLL_INTERVAL", &cfg.Poll.Interval); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "POLL_MAX_POLLS", &cfg.Poll.MaxPolls); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "SUMMARY_MAX_POLLS", &cfg.Poll.SummaryMaxPolls); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "POLL_DEADLINE", &cfg.Poll.Deadline); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "REGISTER_ATTEMPTS", &cfg.Retry.Register.Attempts); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "REGISTER_BACKOFF_MIN", &cfg.Retry.Register.BackoffMin); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "REGISTER_BACKOFF_MAX", &cfg.Retry.Register.BackoffMax); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "SUBMIT_ATTEMPTS", &cfg.Retry.Submit.Attempts); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "SUBMIT_BACKOFF_MIN", &cfg.Retry.Submit.BackoffMin); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "SUBMIT_BACKOFF_MAX", &cfg.Retry.Submit.BackoffMax); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "UPLOAD_URL", &cfg.Upload.URL); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "UPLOAD_SECRET", &cfg.Upload.Secret); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "SNAPSHOT_DIR", &cfg.Upload.SnapshotDir); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "SNAPSHOT_SOURCE", &cfg.Upload.SnapshotSource); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(prefixed, "OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(prefixed, "OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "RESULTS_DSN", &cfg.Results.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "RESULTS_MAX_OPEN_CONNS", &cfg.Results.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(prefixed, "RESULTS_MAX_IDLE_CONNS", &cfg.Results.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "RESULTS_CONN_MAX_IDLE_TIME", &cfg.Results.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(prefixed, "RESULTS_CONN_MAX_LIFETIME", &cfg.Results.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(prefixed, "LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(prefixed, "LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyString(prefixed, "METRICS_ADDR", &cfg.Observability.MetricsAddr); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")
	return cfg, nil
}

// LoadStorageOnly is used by subcommands that never talk to the remote
// service (report, migrate); remote credentials are not required there.
func LoadStorageOnly(serviceName string, lookup LookupFunc) (Config, error) {
	patched := func(key string) (string, bool) {
		switch key {
		case envPrefix + "BASE_URL", envPrefix + "PUBLIC_KEY", envPrefix + "PRIVATE_KEY":
			if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
				return raw, true
			}
			return "unused", true
		}
		return lookup(key)
	}
	return Load(serviceName, patched)
}

func validate(cfg Config) error {
	required := []struct {
		key   string
		value string
	}{
		{"BASE_URL", cfg.Remote.BaseURL},
		{"PUBLIC_KEY", cfg.Remote.PublicKey},
		{"PRIVATE_KEY", cfg.Remote.PrivateKey},
	}
	for _, item := range required {
		if item.value == "" {
			return &ConfigError{Key: envPrefix + item.key, Reason: "is required"}
		}
	}
	if cfg.Service.Name == "" {
		return &ConfigError{Key: envPrefix + "SERVICE_NAME", Reason: "is required"}
	}
	if cfg.Remote.URIScheme == "" {
		return &ConfigError{Key: envPrefix + "URI_SCHEME", Reason: "is required"}
	}
	if cfg.Poll.Interval < 0 {
		return &ConfigError{Key: envPrefix + "POLL_INTERVAL", Reason: "must be >= 0"}
	}
	if cfg.Poll.MaxPolls <= 0 {
		return &ConfigError{Key: envPrefix + "POLL_MAX_POLLS", Reason: "must be > 0"}
	}
	if cfg.Poll.SummaryMaxPolls <= 0 {
		return &ConfigError{Key: envPrefix + "SUMMARY_MAX_POLLS", Reason: "must be > 0"}
	}
	if err := validateRetry("REGISTER", cfg.Retry.Register); err != nil {
		return err
	}
	if err := validateRetry("SUBMIT", cfg.Retry.Submit); err != nil {
		return err
	}
	if cfg.Upload.URL != "" && cfg.Upload.Secret == "" {
		return &ConfigError{Key: envPrefix + "UPLOAD_SECRET", Reason: "is required when UPLOAD_URL is set"}
	}
	switch cfg.Upload.SnapshotSource {
	case "local", "s3":
	default:
		return &ConfigError{Key: envPrefix + "SNAPSHOT_SOURCE", Reason: fmt.Sprintf("unsupported source %q", cfg.Upload.SnapshotSource)}
	}
	return nil
}

func validateRetry(name string, policy RetryPolicyConfig) error {
	if policy.Attempts <= 0 {
		return &ConfigError{Key: envPrefix + name + "_ATTEMPTS", Reason: "must be > 0"}
	}
	if policy.BackoffMin < 0 || policy.BackoffMax < policy.BackoffMin {
		return &ConfigError{Key: envPrefix + name + "_BACKOFF_MAX", Reason: "must be >= backoff min"}
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "chat2bench"},
		Remote: RemoteConfig{
			URIScheme:    "spider",
			Timeout:      30 * time.Second,
			RequestBurst: 1,
		},
		Poll: PollConfig{
			Interval:        5 * time.Second,
			MaxPolls:        300,
			SummaryMaxPolls: 720,
		},
		Retry: RetryConfig{
			Register: RetryPolicyConfig{Attempts: 10, BackoffMin: time.Second, BackoffMax: 60 * time.Second},
			Submit:   RetryPolicyConfig{Attempts: 3, BackoffMin: time.Second, BackoffMax: 5 * time.Second},
		},
		Upload: UploadConfig{
			SnapshotDir:    "./data/dev_databases",
			SnapshotSource: "local",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "chat2bench",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Results: ResultsConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Poll.Interval = 10 * time.Millisecond
		cfg.Retry.Register.BackoffMin = 0
		cfg.Retry.Register.BackoffMax = 0
		cfg.Retry.Submit.BackoffMin = 0
		cfg.Retry.Submit.BackoffMax = 0
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return &ConfigError{Key: envPrefix + key, Reason: "invalid duration", Err: err}
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return &ConfigError{Key: envPrefix + key, Reason: "invalid bool", Err: err}
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return &ConfigError{Key: envPrefix + key, Reason: "invalid int", Err: err}
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return &ConfigError{Key: envPrefix + key, Reason: "invalid float", Err: err}
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return &ConfigError{Key: envPrefix + key, Reason: fmt.Sprintf("invalid log level %q", raw)}
	}
	return nil
}
