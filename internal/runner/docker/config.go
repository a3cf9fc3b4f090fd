package docker

import (
	"strings"
	"time"

	"jobcore/internal/config"
)

// Paths inside task containers.
const (
	ContainerLogDir     = "/var/log/jobcore"
	ContainerResultDir  = "/var/lib/jobcore"
	ContainerResultFile = ContainerResultDir + "/result.json"
)

// Config holds configuration for the Docker task runner.
type Config struct {
	LogDir      string            // host log directory mounted at ContainerLogDir
	ResultsDir  string            // host directory for per-job result folders
	Images      map[string]string // task type -> image
	ExtraHosts  []string          // extra /etc/hosts entries (e.g. "host.docker.internal:host-gateway")
	CPU         float64           // CPU limit per container, 0 for none
	MemoryMB    int               // memory limit per container, 0 for none
	StopTimeout int               // seconds given to a container to stop before it is killed
	PullRetries int
}

// LoadConfigFromEnv loads runner configuration from environment variables.
// Images come from JOBCORE_DOCKER_IMAGES as "ml=registry/ml:1,dl=registry/dl:1".
func LoadConfigFromEnv() Config {
	return Config{
		ResultsDir:  config.GetEnv("JOBCORE_RESULTS_DIR", ""),
		Images:      ParseImages(config.GetEnv("JOBCORE_DOCKER_IMAGES", "")),
		ExtraHosts:  config.GetListEnv("JOBCORE_DOCKER_EXTRA_HOSTS"),
		CPU:         float64(config.GetIntEnv("JOBCORE_DOCKER_CPU_MILLI", 0)) / 1000,
		MemoryMB:    config.GetIntEnv("JOBCORE_DOCKER_MEMORY_MB", 0),
		StopTimeout: int(config.GetDurationEnv("JOBCORE_DOCKER_STOP_TIMEOUT", 10*time.Second).Seconds()),
		PullRetries: config.GetIntEnv("JOBCORE_DOCKER_PULL_RETRIES", 2),
	}
}

// ParseImages parses a comma separated list of taskType=image pairs.
// Malformed entries are skipped.
func ParseImages(s string) map[string]string {
	images := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		taskType, image, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || taskType == "" || image == "" {
			continue
		}
		images[strings.TrimSpace(taskType)] = strings.TrimSpace(image)
	}
	return images
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10
	}
	if c.PullRetries < 0 {
		c.PullRetries = 0
	}
	return c
}
