package dispatcher

import (
	"time"

	"jobcore/internal/config"
	"jobcore/pkg/backoff"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize      int            // pending events buffer (default: 1000)
	Workers         int            // concurrent delivery goroutines (default: 2)
	HTTPTimeout     time.Duration  // per-request timeout (default: 10s)
	DeliveryTimeout time.Duration  // total budget per event including retries (default: 30s)
	MaxRetries      int            // retries after the first attempt (default: 3)
	Backoff         backoff.Config // delay between retries
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:      config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:         config.GetIntEnv("DISPATCHER_WORKERS", 2),
		HTTPTimeout:     config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		DeliveryTimeout: config.GetDurationEnv("DISPATCHER_DELIVERY_TIMEOUT", 30*time.Second),
		MaxRetries:      config.GetIntEnv("DISPATCHER_MAX_RETRIES", 3),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}
