// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Poll interval bounds for the log tail.
const (
	DefaultPollInterval = 100 * time.Millisecond
	MinPollInterval     = 50 * time.Millisecond
	MaxPollInterval     = 200 * time.Millisecond
)

// ServiceConfig holds configuration for the jobcore service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	LogDir         string        // Directory the tasks write app_log_*.md files into
	PollInterval   time.Duration // Log tail poll interval
	PipelinesFile  string        // YAML pipeline definitions
	CallbackURL    string        // Optional CloudEvents sink for job and step events
	CallbackKey    string        // HMAC key for callback signatures
	CallbackEvents []string      // Event types to deliver, all when empty
	OTLPEndpoint   string        // Trace exporter endpoint, spans stay local when empty

	LogFormat string // json or text
	LogLevel  string

	DockerEnabled bool
	ResultsDir    string // Host directory for per-job result.json files
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	cfg := &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		LogDir:            GetEnv("JOBCORE_LOG_DIR", ""),
		PollInterval:      GetDurationEnv("JOBCORE_POLL_INTERVAL", 0),
		PipelinesFile:     GetEnv("JOBCORE_PIPELINES", "pipelines.yaml"),
		CallbackURL:       GetEnv("JOBCORE_CALLBACK_URL", ""),
		CallbackKey:       GetSecretFile(GetEnv("JOBCORE_CALLBACK_KEY_FILE", "")),
		CallbackEvents:    GetListEnv("JOBCORE_CALLBACK_EVENTS"),
		OTLPEndpoint:      GetEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""),
		LogFormat:         GetEnv("JOBCORE_LOG_FORMAT", "json"),
		LogLevel:          GetEnv("JOBCORE_LOG_LEVEL", "info"),
		DockerEnabled:     GetBoolEnv("JOBCORE_DOCKER", false),
		ResultsDir:        GetEnv("JOBCORE_RESULTS_DIR", ""),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c *ServiceConfig) withDefaults() *ServiceConfig {
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir()
	}
	if c.ResultsDir == "" {
		c.ResultsDir = filepath.Join(os.TempDir(), "jobcore", "results")
	}
	c.PollInterval = ClampPollInterval(c.PollInterval)
	return c
}

// DefaultLogDir is the well-known temp-folder location tasks write their logs
// to. Existing task factories already write there.
func DefaultLogDir() string {
	return filepath.Join(os.TempDir(), "baicai", "log")
}

// ClampPollInterval returns the default for unset values and keeps everything
// else inside [MinPollInterval, MaxPollInterval].
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	default:
		return d
	}
}
