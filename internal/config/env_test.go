package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	// Test default value
	result := GetEnv("TEST_NONEXISTENT_VAR", "default")
	if result != "default" {
		t.Errorf("Expected 'default', got %q", result)
	}

	// Test with set value
	os.Setenv("TEST_GET_ENV", "custom")
	defer os.Unsetenv("TEST_GET_ENV")

	result = GetEnv("TEST_GET_ENV", "default")
	if result != "custom" {
		t.Errorf("Expected 'custom', got %q", result)
	}
}

func TestGetIntEnv(t *testing.T) {
	// Test default value
	result := GetIntEnv("TEST_NONEXISTENT_INT", 42)
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	// Test with valid int
	os.Setenv("TEST_INT_ENV", "123")
	defer os.Unsetenv("TEST_INT_ENV")

	result = GetIntEnv("TEST_INT_ENV", 42)
	if result != 123 {
		t.Errorf("Expected 123, got %d", result)
	}

	// Test with invalid int (should return default)
	os.Setenv("TEST_INVALID_INT", "not-a-number")
	defer os.Unsetenv("TEST_INVALID_INT")

	result = GetIntEnv("TEST_INVALID_INT", 42)
	if result != 42 {
		t.Errorf("Expected 42 for invalid int, got %d", result)
	}
}

func TestGetDurationEnv(t *testing.T) {
	defaultDuration := 5 * time.Second

	// Test default value
	result := GetDurationEnv("TEST_NONEXISTENT_DURATION", defaultDuration)
	if result != defaultDuration {
		t.Errorf("Expected %v, got %v", defaultDuration, result)
	}

	// Test with valid duration
	os.Setenv("TEST_DURATION_ENV", "30s")
	defer os.Unsetenv("TEST_DURATION_ENV")

	result = GetDurationEnv("TEST_DURATION_ENV", defaultDuration)
	if result != 30*time.Second {
		t.Errorf("Expected 30s, got %v", result)
	}

	// Test with milliseconds
	os.Setenv("TEST_DURATION_MS", "100ms")
	defer os.Unsetenv("TEST_DURATION_MS")

	result = GetDurationEnv("TEST_DURATION_MS", defaultDuration)
	if result != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", result)
	}

	// Test with invalid duration (should return default)
	os.Setenv("TEST_INVALID_DURATION", "not-a-duration")
	defer os.Unsetenv("TEST_INVALID_DURATION")

	result = GetDurationEnv("TEST_INVALID_DURATION", defaultDuration)
	if result != defaultDuration {
		t.Errorf("Expected %v for invalid duration, got %v", defaultDuration, result)
	}
}

func TestGetSecretFile(t *testing.T) {
	// Test empty path
	result := GetSecretFile("")
	if result != "" {
		t.Errorf("Expected empty string for empty path, got %q", result)
	}

	// Test nonexistent file
	result = GetSecretFile("/nonexistent/path/to/secret")
	if result != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", result)
	}

	// Test with actual file
	tmpFile, err := os.CreateTemp("", "secret-test")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	secretValue := "my-secret-value"
	if _, err := tmpFile.WriteString(secretValue + "\n"); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	result = GetSecretFile(tmpFile.Name())
	if result != secretValue {
		t.Errorf("Expected %q, got %q", secretValue, result)
	}
}

func TestGetBoolEnv(t *testing.T) {
	if !GetBoolEnv("TEST_NONEXISTENT_BOOL", true) {
		t.Error("Expected default true")
	}

	t.Setenv("TEST_BOOL_ENV", "false")
	if GetBoolEnv("TEST_BOOL_ENV", true) {
		t.Error("Expected false from env")
	}

	t.Setenv("TEST_BOOL_ENV", "maybe")
	if !GetBoolEnv("TEST_BOOL_ENV", true) {
		t.Error("Expected default for unparsable bool")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "JOBCORE_TEST_DOTENV=from-file\nJOBCORE_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("JOBCORE_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("JOBCORE_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got := os.Getenv("JOBCORE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected 'from-file', got %q", got)
	}
	if got := os.Getenv("JOBCORE_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("Expected existing env to win, got %q", got)
	}
}

func TestClampPollInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultPollInterval},
		{-time.Second, DefaultPollInterval},
		{10 * time.Millisecond, MinPollInterval},
		{75 * time.Millisecond, 75 * time.Millisecond},
		{time.Second, MaxPollInterval},
	}
	for _, tt := range tests {
		if got := ClampPollInterval(tt.in); got != tt.want {
			t.Errorf("ClampPollInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadServiceConfig(t *testing.T) {
	t.Setenv("JOBCORE_LOG_DIR", "/data/logs")
	t.Setenv("JOBCORE_POLL_INTERVAL", "5ms")
	t.Setenv("JOBCORE_DOCKER", "true")
	t.Setenv("JOBCORE_CALLBACK_EVENTS", "jobcore.job.exit, ,jobcore.step.transition")

	cfg := LoadServiceConfig()

	if cfg.LogDir != "/data/logs" {
		t.Errorf("Expected LogDir /data/logs, got %q", cfg.LogDir)
	}
	if cfg.PollInterval != MinPollInterval {
		t.Errorf("Expected PollInterval clamped to %v, got %v", MinPollInterval, cfg.PollInterval)
	}
	if !cfg.DockerEnabled {
		t.Error("Expected DockerEnabled")
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.ResultsDir == "" {
		t.Error("Expected a default ResultsDir")
	}
	if len(cfg.CallbackEvents) != 2 || cfg.CallbackEvents[1] != "jobcore.step.transition" {
		t.Errorf("Unexpected CallbackEvents %q", cfg.CallbackEvents)
	}
}

func TestDefaultLogDir(t *testing.T) {
	t.Parallel()
	want := filepath.Join(os.TempDir(), "baicai", "log")
	if got := DefaultLogDir(); got != want {
		t.Errorf("DefaultLogDir() = %q, want %q", got, want)
	}
}
