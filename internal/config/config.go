// Package config provides hierarchical configuration loading for uvalens.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration of the analyzer client.
type Config struct {
	Analyzer   Analyzer   `yaml:"analyzer"`
	Restart    Restart    `yaml:"restart"`
	Breaker    Breaker    `yaml:"breaker"`
	Cache      Cache      `yaml:"cache"`
	Projection Projection `yaml:"projection"`
	Session    Session    `yaml:"session"`
	Server     Server     `yaml:"server"`
	Events     Events     `yaml:"events"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Logging    Logging    `yaml:"logging"`
}

// Analyzer mode values.
const (
	ModeServer  = "server"
	ModeOneShot = "oneshot"
)

// Analyzer configures the external analyzer binary and how it is driven.
type Analyzer struct {
	Binary         string        `yaml:"binary"`          // resolved through PATH (default: "uvalang-analyzer")
	ServerArgs     []string      `yaml:"server_args"`     // default: ["--server"]
	TokenArgs      []string      `yaml:"token_args"`      // one-shot args, "{path}" is substituted
	DevMode        bool          `yaml:"dev_mode"`        // use DevPath instead of Binary
	DevPath        string        `yaml:"dev_path"`        // relative to the session workspace
	Mode           string        `yaml:"mode"`            // "server" | "oneshot"
	Framing        string        `yaml:"framing"`         // "stream" | "length-prefixed"
	LanguageID     string        `yaml:"language_id"`     // documents of other languages are ignored
	TempDir        string        `yaml:"temp_dir"`        // handoff file directory (default: os.TempDir())
	RequestTimeout time.Duration `yaml:"request_timeout"` // per request
	StopTimeout    time.Duration `yaml:"stop_timeout"`    // graceful shutdown before kill
	MaxOneShot     int           `yaml:"max_oneshot"`     // concurrent one-shot processes
	EventBuffer    int           `yaml:"event_buffer"`    // supervisor event channel capacity
}

// Restart configures the relaunch delay after a crash.
type Restart struct {
	Policy     string        `yaml:"policy"` // "constant" | "exponential"
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache configures the result cache. With Shared set and a NATS URL
// configured, a JetStream KV bucket backs the in-process cache as L2.
type Cache struct {
	Enabled   bool          `yaml:"enabled"`
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
	Shared    bool          `yaml:"shared"`
	Bucket    string        `yaml:"bucket"`
}

// Style is the decoration style handle for one symbol kind.
type Style struct {
	Color          string `yaml:"color" json:"color,omitempty"`
	FontWeight     string `yaml:"font_weight" json:"font_weight,omitempty"`
	FontStyle      string `yaml:"font_style" json:"font_style,omitempty"`
	TextDecoration string `yaml:"text_decoration" json:"text_decoration,omitempty"`
}

// Projection configures how results become decorations.
type Projection struct {
	Kinds  []string         `yaml:"kinds"` // ordered decoration buckets
	Styles map[string]Style `yaml:"styles"`
}

// Session configures the host-facing document session.
type Session struct {
	Workspace         string        `yaml:"workspace"`
	Watch             bool          `yaml:"watch"`
	Debounce          time.Duration `yaml:"debounce"`
	TokenPollInterval time.Duration `yaml:"token_poll_interval"`
	Extensions        []string      `yaml:"extensions"`
}

// Server holds HTTP server configuration.
type Server struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Events configures the optional NATS event stream. An empty URL disables it.
type Events struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Telemetry configures OpenTelemetry exporters.
type Telemetry struct {
	TraceExporter  string `yaml:"trace_exporter"`  // "none" | "stdout" | "otlp"
	MetricExporter string `yaml:"metric_exporter"` // "none" | "prometheus" | "otlp"
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	ServiceVersion string `yaml:"service_version"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
	Format  string `yaml:"format"` // "json" | "text" | "auto"
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Analyzer: Analyzer{
			Binary:         "uvalang-analyzer",
			ServerArgs:     []string{"--server"},
			TokenArgs:      []string{"{path}", "--stdin"},
			DevPath:        "../uvalang/build/uvalang-analyzer",
			Mode:           ModeServer,
			Framing:        "stream",
			LanguageID:     "uva",
			RequestTimeout: 10 * time.Second,
			StopTimeout:    5 * time.Second,
			MaxOneShot:     2,
			EventBuffer:    16,
		},
		Restart: Restart{
			Policy:     "constant",
			Backoff:    3 * time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			Enabled:   true,
			MaxSizeMB: 64,
			TTL:       10 * time.Minute,
			Bucket:    "uvalens-results",
		},
		Projection: Projection{
			Kinds: []string{"class", "function", "variable"},
			Styles: map[string]Style{
				"class":    {Color: "#4EC9B0", FontWeight: "bold", TextDecoration: "none"},
				"function": {Color: "#DCDCAA"},
				"variable": {Color: "#9CDCFE"},
				"symbol":   {Color: "#4EC9B0", FontWeight: "bold", TextDecoration: "none"},
			},
		},
		Session: Session{
			Workspace:         ".",
			Debounce:          200 * time.Millisecond,
			TokenPollInterval: time.Second,
			Extensions:        []string{".uva"},
		},
		Server: Server{
			Addr:       "127.0.0.1:7420",
			CORSOrigin: "http://localhost:3000",
		},
		Events: Events{
			SubjectPrefix: "uvalens",
		},
		Telemetry: Telemetry{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
		Logging: Logging{
			Level:   "info",
			Service: "uvalens",
			Format:  "auto",
		},
	}
}
