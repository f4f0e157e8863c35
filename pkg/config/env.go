package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/samples"
)

// Environment variable names.
const (
	EnvConfig         = "STABLEMOCK_CONFIG"
	EnvMode           = "STABLEMOCK_MODE"
	EnvRoot           = "STABLEMOCK_ROOT"
	EnvSampleCap      = "STABLEMOCK_SAMPLE_CAP"
	EnvMinConfidence  = "STABLEMOCK_MIN_CONFIDENCE"
	EnvSamplesBackend = "STABLEMOCK_SAMPLES_BACKEND"
	EnvScope          = "STABLEMOCK_SCOPE"
	EnvLogLevel       = "STABLEMOCK_LOG_LEVEL"
	EnvLogFormat      = "STABLEMOCK_LOG_FORMAT"
	EnvLogFile        = "STABLEMOCK_LOG_FILE"
)

// ApplyEnv overrides cfg with STABLEMOCK_* variables that are set.
// Malformed numbers and tiers are reported as ErrInvalidConfig.
func ApplyEnv(cfg *Config) error {
	// STABLEMOCK_MODE
	if v := os.Getenv(EnvMode); v != "" {
		cfg.Mode = Mode(v)
		cfg.SetSource("mode", SourceEnv)
	}

	// STABLEMOCK_ROOT
	if v := os.Getenv(EnvRoot); v != "" {
		cfg.Root = v
		cfg.SetSource("root", SourceEnv)
	}

	// STABLEMOCK_SAMPLE_CAP
	if v := os.Getenv(EnvSampleCap); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvSampleCap, v)
		}
		cfg.Detection.SampleCap = n
		cfg.SetSource("detection.sampleCap", SourceEnv)
	}

	// STABLEMOCK_MIN_CONFIDENCE
	if v := os.Getenv(EnvMinConfidence); v != "" {
		c, err := detect.ParseConfidence(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvMinConfidence, err)
		}
		cfg.Detection.MinConfidence = c
		cfg.SetSource("detection.minConfidence", SourceEnv)
	}

	// STABLEMOCK_SAMPLES_BACKEND
	if v := os.Getenv(EnvSamplesBackend); v != "" {
		cfg.Samples.Backend = samples.Backend(v)
		cfg.SetSource("samples.backend", SourceEnv)
	}

	// STABLEMOCK_SCOPE
	if v := os.Getenv(EnvScope); v != "" {
		cfg.Detection.Scope = Scope(v)
		cfg.SetSource("detection.scope", SourceEnv)
	}

	// STABLEMOCK_LOG_LEVEL
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
		cfg.SetSource("logging.level", SourceEnv)
	}

	// STABLEMOCK_LOG_FORMAT
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
		cfg.SetSource("logging.format", SourceEnv)
	}

	// STABLEMOCK_LOG_FILE
	if v := os.Getenv(EnvLogFile); v != "" {
		if cfg.Logging.File == nil {
			cfg.Logging.File = &logging.FileConfig{}
		}
		cfg.Logging.File.Path = v
		cfg.SetSource("logging.file", SourceEnv)
	}
	return nil
}
