// Package appconf holds application environment and runtime configuration.
package appconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment represents the application runtime environment.
type Environment int

const (
	Test Environment = iota
	Development
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Development:
		return "development"
	case Production:
		return "production"
	default:
		return "unknown"
	}
}

// EnvFlagToEnvironment maps an environment name to its Environment value.
// Unrecognized names default to Development.
func EnvFlagToEnvironment(name string) Environment {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "test":
		return Test
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

// Config holds the runtime configuration for the departures engine.
type Config struct {
	Env Environment

	// DatasetPath is the path to the bundled offline schedule database.
	DatasetPath string

	// APIBaseURL is the base URL of the remote departures API,
	// e.g. "https://api.sydneytransit.org/api/v1".
	APIBaseURL string

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables the metrics listener.
	MetricsAddr string

	Verbose bool
}

// Load reads configuration from the environment, loading an optional .env
// file first. Missing optional values take their documented defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:         EnvFlagToEnvironment(os.Getenv("APP_ENV")),
		DatasetPath: getenvDefault("DATASET_PATH", "gtfs.db"),
		APIBaseURL:  os.Getenv("API_BASE_URL"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if v := os.Getenv("VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VERBOSE: %q", v)
		}
		cfg.Verbose = b
	}

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL must be set")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
