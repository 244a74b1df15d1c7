// Package config loads the engine's YAML configuration file, substituting
// ${VAR} / ${VAR:-default} environment references before unmarshaling.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a viewstream process.
type Config struct {
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Engine        EngineConfig        `json:"engine" yaml:"engine"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Retention     RetentionConfig     `json:"retention" yaml:"retention"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Admin         AdminConfig         `json:"admin" yaml:"admin"`
}

// LoggingConfig holds log level, sampling and colour settings. No component
// reads it: logging.New takes only a component name and reads its sample
// rate from VIEWSTREAM_LOG_SAMPLE_N.
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level"`
	SampleN  int    `json:"sample_n" yaml:"sample_n"`
	Colorize bool   `json:"colorize" yaml:"colorize"`
}

// EngineConfig tunes the per-query ingest loop.
type EngineConfig struct {
	// CheckpointInterval is loaded and saved with the file; no component
	// reads it, and QueryStats are not flushed or reported on a timer.
	CheckpointInterval time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// HealthWindow is the number of recent event outcomes the per-query
	// health probe considers (spec default: 100).
	HealthWindow int `json:"health_window" yaml:"health_window"`
	// UnhealthyErrorRate is the fraction of HealthWindow outcomes that may
	// be errors before a query reports unhealthy.
	UnhealthyErrorRate float64 `json:"unhealthy_error_rate" yaml:"unhealthy_error_rate"`
}

// QueueConfig sizes the bounded per-query output queue and names its
// backpressure strategy. DropOldest is the only strategy the spec mandates
// be supported; the field exists so a future strategy has a slot.
type QueueConfig struct {
	Capacity    int    `json:"capacity" yaml:"capacity"`
	Backpressure string `json:"backpressure" yaml:"backpressure"` // "drop-oldest"
}

// RetentionConfig names a default retention policy and TTL. No component
// reads it: admin.Service.CreateQuery falls back to resultcache.Latest when
// a request names no retention.
type RetentionConfig struct {
	Policy string        `json:"policy" yaml:"policy"` // "latest", "all", "expire"
	TTL    time.Duration `json:"ttl" yaml:"ttl"`        // only meaningful for "expire"
}

// ObservabilityConfig carries OpenTelemetry exporter settings. No component
// reads it; internal/engine's per-event spans go to the global otel tracer
// provider.
type ObservabilityConfig struct {
	OTLP OTLPConfig `json:"otlp" yaml:"otlp"`
}

type OTLPConfig struct {
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // grpc or http
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
}

// AdminConfig binds the admin/subscribe surface (cmd/viewstreamd, internal/admin).
type AdminConfig struct {
	ListenAddress string        `json:"listen_address" yaml:"listen_address"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Engine: EngineConfig{
			CheckpointInterval: 10 * time.Second,
			HealthWindow:       100,
			UnhealthyErrorRate: 0.10,
		},
		Queue: QueueConfig{
			Capacity:     1024,
			Backpressure: "drop-oldest",
		},
		Retention: RetentionConfig{Policy: "latest"},
		Admin:     AdminConfig{ListenAddress: ":7070", RequestTimeout: 30 * time.Second},
	}
}

// LoadConfig reads path, substitutes environment references, and decodes it
// as YAML (falling back to JSON) over the defaults returned by Default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		if err := json.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	return cfg, nil
}

// SaveConfig writes cfg back to path as YAML.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references in input
// with the environment's value, or the default when VAR is unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
