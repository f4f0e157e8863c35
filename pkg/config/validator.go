package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/samples"
	"github.com/sloppylopez/stablemock/pkg/util"
)

// ValidationError reports one invalid field. It matches ErrInvalidConfig
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validLogFormats = map[string]bool{
	"text": true, "json": true,
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeRecord, ModePlayback:
		return m, nil
	default:
		return "", &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q (want RECORD or PLAYBACK)", s)}
	}
}

// normalize canonicalizes case-insensitive enumerations in place.
func (c *Config) normalize() {
	if m, err := ParseMode(string(c.Mode)); err == nil {
		c.Mode = m
	}
	c.Detection.Scope = Scope(strings.ToLower(strings.TrimSpace(string(c.Detection.Scope))))
	c.Samples.Backend = samples.Backend(strings.ToLower(strings.TrimSpace(string(c.Samples.Backend))))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate normalizes c and checks every field. All problems are reported,
// joined.
func (c *Config) Validate() error {
	c.normalize()
	var errs []error

	if _, err := ParseMode(string(c.Mode)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, &ValidationError{Field: "root", Message: "must not be empty"})
	}

	d := c.Detection
	if d.SampleCap < 2 {
		errs = append(errs, &ValidationError{Field: "detection.sampleCap", Message: fmt.Sprintf("%d is below the minimum of 2", d.SampleCap)})
	}
	if d.MinConfidence < detect.ConfidenceLow || d.MinConfidence > detect.ConfidenceHigh {
		errs = append(errs, &ValidationError{Field: "detection.minConfidence", Message: "must be LOW, MEDIUM or HIGH"})
	}
	if d.MaxSampleValues < 1 {
		errs = append(errs, &ValidationError{Field: "detection.maxSampleValues", Message: "must be at least 1"})
	}
	if d.Scope != ScopeMethod && d.Scope != ScopeClass {
		errs = append(errs, &ValidationError{Field: "detection.scope", Message: fmt.Sprintf("unknown scope %q (want method or class)", d.Scope)})
	}
	if _, err := detect.NewPolicy(d.Policy); err != nil {
		errs = append(errs, &ValidationError{Field: "detection.policy", Message: err.Error()})
	}

	if !c.Samples.Backend.IsValid() {
		errs = append(errs, &ValidationError{Field: "samples.backend", Message: fmt.Sprintf("unknown backend %q (want json or sqlite)", c.Samples.Backend)})
	}

	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, &ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)})
	}
	if !validLogFormats[c.Logging.Format] {
		errs = append(errs, &ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)})
	}
	if f := c.Logging.File; f != nil && strings.TrimSpace(f.Path) == "" {
		errs = append(errs, &ValidationError{Field: "logging.file.path", Message: "must not be empty when logging.file is set"})
	}

	for i, t := range c.Tests {
		field := fmt.Sprintf("tests[%d]", i)
		if _, ok := util.SafePathComponent(t.Class); !ok {
			errs = append(errs, &ValidationError{Field: field + ".class", Message: fmt.Sprintf("%q is not a usable directory name", t.Class)})
		}
		if t.Method != "" && t.Method != "*" {
			if _, ok := util.SafePathComponent(t.Method); !ok {
				errs = append(errs, &ValidationError{Field: field + ".method", Message: fmt.Sprintf("%q is not a usable directory name", t.Method)})
			}
		}
		for j, p := range t.Ignore {
			if _, err := detect.ParseRule(p); err != nil {
				errs = append(errs, &ValidationError{Field: fmt.Sprintf("%s.ignore[%d]", field, j), Message: err.Error()})
			}
		}
	}

	return errors.Join(errs...)
}
