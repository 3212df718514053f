package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "uvalens.yaml"

// Overrides carries values set explicitly on the command line. Nil fields
// leave the loaded value alone.
type Overrides struct {
	Binary    *string
	Mode      *string
	Framing   *string
	Workspace *string
	Addr      *string
	LogLevel  *string
	NATSURL   *string
	Watch     *bool
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	return LoadWithOverrides(yamlPath, Overrides{})
}

// LoadWithOverrides applies CLI overrides on top of LoadFrom.
func LoadWithOverrides(yamlPath string, o Overrides) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyOverrides(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	// Analyzer
	setString(&cfg.Analyzer.Binary, "UVALENS_ANALYZER_BINARY")
	setStrings(&cfg.Analyzer.ServerArgs, "UVALENS_ANALYZER_SERVER_ARGS")
	setStrings(&cfg.Analyzer.TokenArgs, "UVALENS_ANALYZER_TOKEN_ARGS")
	setBool(&cfg.Analyzer.DevMode, "UVALENS_DEV_MODE")
	setString(&cfg.Analyzer.DevPath, "UVALENS_DEV_PATH")
	setString(&cfg.Analyzer.Mode, "UVALENS_ANALYZER_MODE")
	setString(&cfg.Analyzer.Framing, "UVALENS_ANALYZER_FRAMING")
	setString(&cfg.Analyzer.LanguageID, "UVALENS_LANGUAGE_ID")
	setString(&cfg.Analyzer.TempDir, "UVALENS_TEMP_DIR")
	setDuration(&cfg.Analyzer.RequestTimeout, "UVALENS_REQUEST_TIMEOUT")
	setDuration(&cfg.Analyzer.StopTimeout, "UVALENS_STOP_TIMEOUT")
	setInt(&cfg.Analyzer.MaxOneShot, "UVALENS_MAX_ONESHOT")
	setInt(&cfg.Analyzer.EventBuffer, "UVALENS_EVENT_BUFFER")

	// Restart
	setString(&cfg.Restart.Policy, "UVALENS_RESTART_POLICY")
	setDuration(&cfg.Restart.Backoff, "UVALENS_RESTART_BACKOFF")
	setDuration(&cfg.Restart.MaxBackoff, "UVALENS_RESTART_MAX_BACKOFF")

	setInt(&cfg.Breaker.MaxFailures, "UVALENS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "UVALENS_BREAKER_TIMEOUT")

	// Cache
	setBool(&cfg.Cache.Enabled, "UVALENS_CACHE_ENABLED")
	setInt64(&cfg.Cache.MaxSizeMB, "UVALENS_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "UVALENS_CACHE_TTL")
	setBool(&cfg.Cache.Shared, "UVALENS_CACHE_SHARED")
	setString(&cfg.Cache.Bucket, "UVALENS_CACHE_BUCKET")

	setStrings(&cfg.Projection.Kinds, "UVALENS_PROJECTION_KINDS")

	// Session
	setString(&cfg.Session.Workspace, "UVALENS_WORKSPACE")
	setBool(&cfg.Session.Watch, "UVALENS_WATCH")
	setDuration(&cfg.Session.Debounce, "UVALENS_WATCH_DEBOUNCE")
	setDuration(&cfg.Session.TokenPollInterval, "UVALENS_TOKEN_POLL_INTERVAL")
	setStrings(&cfg.Session.Extensions, "UVALENS_EXTENSIONS")

	setString(&cfg.Server.Addr, "UVALENS_ADDR")
	setString(&cfg.Server.CORSOrigin, "UVALENS_CORS_ORIGIN")

	setString(&cfg.Events.NATSURL, "NATS_URL")
	setString(&cfg.Events.SubjectPrefix, "UVALENS_SUBJECT_PREFIX")

	// Telemetry
	setString(&cfg.Telemetry.TraceExporter, "UVALENS_TRACE_EXPORTER")
	setString(&cfg.Telemetry.MetricExporter, "UVALENS_METRIC_EXPORTER")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.OTLPInsecure, "UVALENS_OTLP_INSECURE")

	setString(&cfg.Logging.Level, "UVALENS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "UVALENS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "UVALENS_LOG_ASYNC")
	setString(&cfg.Logging.Format, "UVALENS_LOG_FORMAT")
}

// applyOverrides copies every non-nil override onto cfg.
func applyOverrides(cfg *Config, o Overrides) {
	if o.Binary != nil {
		cfg.Analyzer.Binary = *o.Binary
	}
	if o.Mode != nil {
		cfg.Analyzer.Mode = *o.Mode
	}
	if o.Framing != nil {
		cfg.Analyzer.Framing = *o.Framing
	}
	if o.Workspace != nil {
		cfg.Session.Workspace = *o.Workspace
	}
	if o.Addr != nil {
		cfg.Server.Addr = *o.Addr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.NATSURL != nil {
		cfg.Events.NATSURL = *o.NATSURL
	}
	if o.Watch != nil {
		cfg.Session.Watch = *o.Watch
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Analyzer.Binary == "" {
		return errors.New("analyzer.binary is required")
	}
	if cfg.Analyzer.LanguageID == "" {
		return errors.New("analyzer.language_id is required")
	}
	if !slices.Contains([]string{ModeServer, ModeOneShot}, cfg.Analyzer.Mode) {
		return fmt.Errorf("analyzer.mode must be %q or %q", ModeServer, ModeOneShot)
	}
	if !slices.Contains([]string{"stream", "length-prefixed"}, cfg.Analyzer.Framing) {
		return errors.New("analyzer.framing must be \"stream\" or \"length-prefixed\"")
	}
	if cfg.Analyzer.RequestTimeout <= 0 {
		return errors.New("analyzer.request_timeout must be > 0")
	}
	if cfg.Analyzer.MaxOneShot < 1 {
		return errors.New("analyzer.max_oneshot must be >= 1")
	}
	if cfg.Restart.Policy != "constant" && cfg.Restart.Policy != "exponential" {
		return errors.New("restart.policy must be \"constant\" or \"exponential\"")
	}
	if cfg.Restart.Backoff <= 0 {
		return errors.New("restart.backoff must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if len(cfg.Projection.Kinds) == 0 {
		return errors.New("projection.kinds must not be empty")
	}
	if cfg.Session.TokenPollInterval <= 0 {
		return errors.New("session.token_poll_interval must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings reads a comma-separated list.
func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
