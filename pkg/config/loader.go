package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound  = errors.New("configuration file not found")
	ErrEmptyFile     = errors.New("configuration file is empty")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// FileNames are searched for, in order, by Find.
var FileNames = []string{"stablemock.yaml", "stablemock.yml", "stablemock.json"}

// Find returns the first config file present in dir, or "".
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load builds the effective configuration: defaults, then the file at path
// (or STABLEMOCK_CONFIG, or a file found in the working directory), then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = Find(".")
	}
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the file at path into cfg. The format is picked by
// extension: .yaml and .yml are YAML, anything else is JSON. Unknown keys are
// rejected.
func LoadFile(cfg *Config, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}

	// YAML is a superset of JSON, so one pass finds the keys either format set.
	var present map[string]any
	if err := yaml.Unmarshal(data, &present); err == nil {
		markSources(cfg, "", present, 0)
	}
	cfg.Path = path
	return nil
}

// markSources records SourceFile for every key the file set. Sections deeper
// than two levels (policy, tests) are recorded as a whole.
func markSources(cfg *Config, prefix string, m map[string]any, depth int) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && depth == 0 {
			markSources(cfg, key, sub, depth+1)
			continue
		}
		cfg.SetSource(key, SourceFile)
	}
}
