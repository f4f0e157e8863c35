package config

import (
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/samples"
)

// Mode is the harness run mode.
type Mode string

const (
	ModeRecord   Mode = "RECORD"
	ModePlayback Mode = "PLAYBACK"
)

// Scope selects how exchanges are pooled before comparison.
type Scope string

const (
	// ScopeMethod keeps one sample state per test method.
	ScopeMethod Scope = "method"
	// ScopeClass pools samples across the methods of a test class.
	ScopeClass Scope = "class"
)

// Defaults.
const (
	DefaultMode      = ModePlayback
	DefaultRoot      = "testdata/stablemock"
	DefaultSampleCap = samples.DefaultCap
	DefaultScope     = ScopeMethod
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Value sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// Config is the complete stablemock configuration.
type Config struct {
	Mode      Mode            `yaml:"mode" json:"mode"`
	Root      string          `yaml:"root" json:"root"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Samples   SamplesConfig   `yaml:"samples" json:"samples"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Tests     []TestConfig    `yaml:"tests,omitempty" json:"tests,omitempty"`

	// Path is the file the config was loaded from, if any.
	Path string `yaml:"-" json:"-"`

	// Sources tracks where each value came from.
	Sources map[string]string `yaml:"-" json:"-"`
}

// DetectionConfig tunes the detection engine.
type DetectionConfig struct {
	SampleCap               int               `yaml:"sampleCap" json:"sampleCap"`
	MinConfidence           detect.Confidence `yaml:"minConfidence" json:"minConfidence"`
	MaxSampleValues         int               `yaml:"maxSampleValues" json:"maxSampleValues"`
	GroupGraphQLByOperation bool              `yaml:"groupGraphQLByOperation" json:"groupGraphQLByOperation"`
	Scope                   Scope             `yaml:"scope" json:"scope"`
	Policy                  detect.PolicySpec `yaml:"policy" json:"policy"`
}

// SamplesConfig selects the sample state backend.
type SamplesConfig struct {
	Backend samples.Backend `yaml:"backend" json:"backend"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string              `yaml:"level" json:"level"`
	Format string              `yaml:"format" json:"format"`
	File   *logging.FileConfig `yaml:"file,omitempty" json:"file,omitempty"`
}

// TestConfig declares explicit ignore patterns for a test. An empty Method or
// "*" applies to every method of Class.
type TestConfig struct {
	Class  string   `yaml:"class" json:"class"`
	Method string   `yaml:"method,omitempty" json:"method,omitempty"`
	Ignore []string `yaml:"ignore" json:"ignore"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Mode: DefaultMode,
		Root: DefaultRoot,
		Detection: DetectionConfig{
			SampleCap:       DefaultSampleCap,
			MinConfidence:   detect.ConfidenceLow,
			MaxSampleValues: detect.DefaultMaxSampleValues,
			Scope:           DefaultScope,
		},
		Samples: SamplesConfig{Backend: samples.BackendJSON},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Sources: make(map[string]string),
	}
	for _, k := range []string{
		"mode", "root",
		"detection.sampleCap", "detection.minConfidence", "detection.maxSampleValues",
		"detection.groupGraphQLByOperation", "detection.scope",
		"samples.backend", "logging.level", "logging.format",
	} {
		cfg.Sources[k] = SourceDefault
	}
	return cfg
}

// ExplicitPatterns returns the ignore patterns declared for class and method,
// in declaration order without duplicates.
func (c *Config) ExplicitPatterns(class, method string) []string {
	var out []string
	for _, t := range c.Tests {
		if t.Class != class {
			continue
		}
		if t.Method != "" && t.Method != "*" && t.Method != method {
			continue
		}
		for _, p := range t.Ignore {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// Policy compiles the classification policy.
func (c *Config) Policy() (*detect.Policy, error) {
	return detect.NewPolicy(c.Detection.Policy)
}

// LogConfig converts the logging section for pkg/logging.
func (c *Config) LogConfig(out io.Writer) logging.Config {
	if out == nil {
		out = os.Stderr
	}
	return logging.Config{
		Level:  logging.ParseLevel(c.Logging.Level),
		Format: logging.ParseFormat(c.Logging.Format),
		Output: out,
		File:   c.Logging.File,
	}
}

// Logger builds the configured logger. The closer releases the log file.
func (c *Config) Logger(out io.Writer) (*slog.Logger, io.Closer) {
	return logging.Open(c.LogConfig(out))
}

// SetSource records where key's value came from.
func (c *Config) SetSource(key, source string) {
	if c.Sources == nil {
		c.Sources = make(map[string]string)
	}
	c.Sources[key] = source
}
