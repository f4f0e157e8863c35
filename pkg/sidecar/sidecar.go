// Package sidecar reads, merges and writes detected-fields.json, the per-test
// record of fields found to vary and the ignore rules derived from them.
//
// The file is reduced to current state with a deterministic merge: rules and
// dynamic fields from every RECORD pass are unioned, never discarded.
package sidecar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/util"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("sidecar not found")
	ErrCorrupt  = errors.New("sidecar is corrupt")
)

// Field is one dynamic field entry.
type Field struct {
	FieldPath    string            `json:"field_path"`
	Dialect      body.Dialect      `json:"dialect,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Confidence   detect.Confidence `json:"confidence"`
	SampleValues []string          `json:"sample_values"`
}

// Rule returns the ignore rule addressing this field.
func (f Field) Rule() detect.Rule {
	d := f.Dialect
	if d == "" {
		d = body.DialectJSON
	}
	return detect.Rule{Dialect: d, Path: f.FieldPath}
}

func (f Field) key() string {
	return f.Endpoint + "\x00" + f.Rule().String()
}

// Result is the content of detected-fields.json.
type Result struct {
	TestClass             string    `json:"testClass"`
	TestMethod            string    `json:"testMethod"`
	AnnotationIndex       int       `json:"annotation_index"`
	GeneratedAt           time.Time `json:"generated_at"`
	AnalyzedRequestsCount int       `json:"analyzed_requests_count"`
	DynamicFields         []Field   `json:"dynamic_fields"`
	ExplicitPatterns      []string  `json:"explicit_patterns"`
	IgnorePatterns        []string  `json:"ignore_patterns"`
}

// NewResult builds a result from classified fields, the rules synthesized from
// them and the user's explicit patterns.
func NewResult(id TestID, analyzed int, fields []detect.VaryingField, rules []detect.Rule, explicit []string, now time.Time) *Result {
	r := &Result{
		TestClass:             id.Class,
		TestMethod:            id.Method,
		AnnotationIndex:       id.Index,
		GeneratedAt:           now.UTC().Truncate(time.Second),
		AnalyzedRequestsCount: analyzed,
		ExplicitPatterns:      append([]string(nil), explicit...),
		IgnorePatterns:        detect.RuleStrings(rules),
	}
	for _, f := range fields {
		r.DynamicFields = append(r.DynamicFields, Field{
			FieldPath:    f.Path,
			Dialect:      f.Dialect,
			Endpoint:     f.Endpoint,
			Confidence:   f.Confidence,
			SampleValues: append([]string(nil), f.SampleValues...),
		})
	}
	// The classifier already bounded the values; Merge applies the store's cap.
	r.normalize(0)
	return r
}

// ID returns the identity recorded in the file.
func (r *Result) ID() TestID {
	return TestID{Class: r.TestClass, Method: r.TestMethod, Index: r.AnnotationIndex}
}

// Rules returns the effective rule set: explicit patterns plus ignore
// patterns, deduplicated and sorted. Unparseable patterns are returned in
// invalid so callers can report them.
func (r *Result) Rules() (rules []detect.Rule, invalid []string) {
	for _, group := range [][]string{r.ExplicitPatterns, r.IgnorePatterns} {
		for _, s := range group {
			rule, err := detect.ParseRule(s)
			if err != nil {
				invalid = append(invalid, s)
				continue
			}
			rules = append(rules, rule)
		}
	}
	return detect.Normalize(rules), invalid
}

// normalize canonicalizes pattern lists, merges duplicate fields and sorts
// everything so equal content always encodes to equal bytes. A maxValues of
// zero keeps every distinct value.
func (r *Result) normalize(maxValues int) {
	r.ExplicitPatterns = canonicalPatterns(r.ExplicitPatterns)

	// Explicit patterns are always part of the ignore set.
	r.IgnorePatterns = canonicalPatterns(append(append([]string(nil), r.IgnorePatterns...), r.ExplicitPatterns...))

	byKey := make(map[string]*Field, len(r.DynamicFields))
	var order []string
	for _, f := range r.DynamicFields {
		k := f.key()
		if existing, ok := byKey[k]; ok {
			existing.merge(f, maxValues)
			continue
		}
		cp := f
		cp.SampleValues = nil
		cp.merge(f, maxValues)
		byKey[k] = &cp
		order = append(order, k)
	}
	fields := make([]Field, 0, len(order))
	for _, k := range order {
		fields = append(fields, *byKey[k])
	}
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Endpoint != fields[j].Endpoint {
			return fields[i].Endpoint < fields[j].Endpoint
		}
		return fields[i].Rule().String() < fields[j].Rule().String()
	})
	r.DynamicFields = fields
}

func (f *Field) merge(other Field, maxValues int) {
	if other.Confidence > f.Confidence {
		f.Confidence = other.Confidence
	}
	for _, v := range other.SampleValues {
		if maxValues > 0 && len(f.SampleValues) >= maxValues {
			break
		}
		if !slices.Contains(f.SampleValues, v) {
			f.SampleValues = append(f.SampleValues, v)
		}
	}
	if f.SampleValues == nil {
		f.SampleValues = []string{}
	}
}

// canonicalPatterns parses and re-renders patterns, keeping any that do not
// parse verbatim so user input is never silently dropped.
func canonicalPatterns(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if r, err := detect.ParseRule(s); err == nil {
			s = r.String()
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Merge folds next into prior. Identity, timestamp, counts and explicit
// patterns come from next; rules and dynamic fields are the union of both.
// A nil prior returns a normalized copy of next.
func Merge(prior, next *Result, maxValues int) *Result {
	if maxValues <= 0 {
		maxValues = detect.DefaultMaxSampleValues
	}
	out := *next
	out.DynamicFields = append([]Field(nil), next.DynamicFields...)
	out.IgnorePatterns = append([]string(nil), next.IgnorePatterns...)
	if prior != nil {
		// Prior first so earlier sample values keep their slots.
		out.DynamicFields = append(append([]Field(nil), prior.DynamicFields...), out.DynamicFields...)
		out.IgnorePatterns = append(out.IgnorePatterns, prior.IgnorePatterns...)
	}
	out.normalize(maxValues)
	return &out
}

// Equivalent reports whether a and b differ at most in GeneratedAt.
func Equivalent(a, b *Result) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := *a, *b
	x.GeneratedAt, y.GeneratedAt = time.Time{}, time.Time{}
	xa, errA := encode(&x)
	yb, errB := encode(&y)
	return errA == nil && errB == nil && bytes.Equal(xa, yb)
}

func encode(r *Result) ([]byte, error) {
	cp := *r
	if cp.DynamicFields == nil {
		cp.DynamicFields = []Field{}
	}
	if cp.ExplicitPatterns == nil {
		cp.ExplicitPatterns = []string{}
	}
	if cp.IgnorePatterns == nil {
		cp.IgnorePatterns = []string{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses and schema-validates sidecar bytes.
func Decode(data []byte) (*Result, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &r, nil
}

// Read loads the sidecar at path. A missing file is ErrNotFound; invalid
// content is ErrCorrupt.
func Read(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	r, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Write encodes r and replaces the file at path atomically.
func Write(path string, r *Result) error {
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return util.WriteFileAtomic(path, data, 0o644)
}

// Store reads and merges the sidecars under one recordings root. Callers
// serialize access per test class.
type Store struct {
	root      string
	log       *slog.Logger
	maxValues int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxSampleValues bounds sample_values per field.
func WithMaxSampleValues(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxValues = n
		}
	}
}

// NewStore returns a store rooted at root.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{root: root, log: logging.Nop(), maxValues: detect.DefaultMaxSampleValues}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the recordings root.
func (s *Store) Root() string { return s.root }

// Load returns the sidecar for id, or nil if there is none. A corrupt file is
// logged and treated as absent; other I/O errors are returned.
func (s *Store) Load(id TestID) (*Result, error) {
	path := id.SidecarPath(s.root)
	r, err := Read(path)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case errors.Is(err, ErrCorrupt):
		s.log.Warn("ignoring corrupt sidecar", "file", path, "error", err)
		return nil, nil
	default:
		return nil, err
	}
}

// Merge reads the current sidecar for id, merges next into it and writes the
// result. The write is skipped when only the timestamp would change. It
// returns the merged result and whether the file was written.
func (s *Store) Merge(id TestID, next *Result) (*Result, bool, error) {
	prior, err := s.Load(id)
	if err != nil {
		return nil, false, err
	}
	merged := Merge(prior, next, s.maxValues)
	if prior != nil && Equivalent(prior, merged) {
		s.log.Debug("sidecar unchanged", "class", id.Class, "method", id.Method)
		return prior, false, nil
	}
	path := id.SidecarPath(s.root)
	if err := Write(path, merged); err != nil {
		return nil, false, fmt.Errorf("failed to write sidecar for %s: %w", id, err)
	}
	s.log.Info("sidecar written", "class", id.Class, "method", id.Method, "file", path,
		"rules", len(merged.IgnorePatterns), "fields", len(merged.DynamicFields))
	return merged, true, nil
}
