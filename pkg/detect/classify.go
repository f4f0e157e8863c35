package detect

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
)

// Confidence is how sure the classifier is that a variation is noise.
type Confidence int

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

// ErrInvalidConfidence is returned when parsing an unknown tier name.
var ErrInvalidConfidence = errors.New("invalid confidence")

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "LOW"
	case ConfidenceMedium:
		return "MEDIUM"
	case ConfidenceHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseConfidence parses a tier name, case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return ConfidenceLow, nil
	case "MEDIUM":
		return ConfidenceMedium, nil
	case "HIGH":
		return ConfidenceHigh, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidConfidence, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	if c < ConfidenceLow || c > ConfidenceHigh {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConfidence, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(text []byte) error {
	v, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DefaultMaxSampleValues bounds the values kept on a VaryingField.
const DefaultMaxSampleValues = 5

// VaryingField is a classified variation, ready for rule synthesis and reporting.
type VaryingField struct {
	Path         string
	Dialect      body.Dialect
	Endpoint     string
	Confidence   Confidence
	SampleValues []string
}

// Classifier scores variations with a Policy.
type Classifier struct {
	policy    *Policy
	maxValues int
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithMaxSampleValues sets how many distinct values a VaryingField keeps.
func WithMaxSampleValues(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.maxValues = n
		}
	}
}

// NewClassifier returns a classifier for policy. A nil policy uses DefaultPolicy.
func NewClassifier(policy *Policy, opts ...ClassifierOption) *Classifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	c := &Classifier{policy: policy, maxValues: DefaultMaxSampleValues}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scores one path given its observed values in sample order.
// The dialect is inferred from the path form.
func (c *Classifier) Classify(path string, values []string) Confidence {
	dialect := body.DialectJSON
	if strings.HasPrefix(path, "//") {
		dialect = body.DialectXML
	}
	return c.policy.classify(newFieldEnv(dialect, path, values, 0))
}

// ClassifyVariation scores a Variation produced by Compare.
func (c *Classifier) ClassifyVariation(v Variation) Confidence {
	return c.policy.classify(newFieldEnv(v.Dialect, v.Path, v.Values, v.Present))
}

// Fields classifies every variation of one endpoint.
func (c *Classifier) Fields(endpoint string, vars []Variation) []VaryingField {
	out := make([]VaryingField, 0, len(vars))
	for _, v := range vars {
		values := v.Distinct()
		if len(values) > c.maxValues {
			values = values[:c.maxValues]
		}
		out = append(out, VaryingField{
			Path:         v.Path,
			Dialect:      v.Dialect,
			Endpoint:     endpoint,
			Confidence:   c.ClassifyVariation(v),
			SampleValues: values,
		})
	}
	return out
}

// FieldEnv is what user rules see when they run. Field names are exposed in
// lower case: name, path, dialect, values, distinct, samples.
type FieldEnv struct {
	Name     string   `expr:"name"`
	Path     string   `expr:"path"`
	Dialect  string   `expr:"dialect"`
	Values   []string `expr:"values"`
	Distinct int      `expr:"distinct"`
	Samples  int      `expr:"samples"`
}

func newFieldEnv(dialect body.Dialect, path string, values []string, samples int) FieldEnv {
	return FieldEnv{
		Name:     fieldpath.LeafName(dialect, path),
		Path:     path,
		Dialect:  string(dialect),
		Values:   values,
		Distinct: Variation{Values: values}.distinctCount(),
		Samples:  samples,
	}
}

func (v Variation) distinctCount() int {
	seen := make(map[string]struct{}, len(v.Values))
	for _, s := range v.Values {
		seen[s] = struct{}{}
	}
	return len(seen)
}

// Heuristic names one step of the default classification chain.
type Heuristic string

const (
	// HeuristicKeyword: the field name is a known volatile keyword (HIGH).
	HeuristicKeyword Heuristic = "keyword"
	// HeuristicShape: every value looks like a timestamp or a UUID (HIGH).
	HeuristicShape Heuristic = "shape"
	// HeuristicCounter: numeric values strictly increase in sample order (MEDIUM).
	HeuristicCounter Heuristic = "counter"
	// HeuristicToken: values are distinct short alphanumeric tokens (MEDIUM).
	HeuristicToken Heuristic = "token"
)

// DefaultHeuristics is the default chain order.
var DefaultHeuristics = []Heuristic{HeuristicKeyword, HeuristicShape, HeuristicCounter, HeuristicToken}

// DefaultKeywords are field names treated as volatile. "ts" is the common
// abbreviation of timestamp.
var DefaultKeywords = []string{
	"timestamp", "time", "date", "ts",
	"nonce",
	"correlationid", "requestid", "transactionid",
	"echotoken", "sessionid", "token",
	"uuid", "guid",
}

// Confidence returns the tier a heuristic assigns on a match.
func (h Heuristic) Confidence() Confidence {
	switch h {
	case HeuristicKeyword, HeuristicShape:
		return ConfidenceHigh
	case HeuristicCounter, HeuristicToken:
		return ConfidenceMedium
	default:
		return 0
	}
}

// IsValid reports whether h is a known heuristic.
func (h Heuristic) IsValid() bool {
	return h.Confidence() != 0
}

var folder = cases.Fold()

// foldKeyword case-folds a keyword and drops separators.
func foldKeyword(s string) string {
	return folder.String(strings.Join(splitWords(s), ""))
}

// keywordCandidates returns the folded full name and, with trailing set, its
// last one to three words joined.
func keywordCandidates(name string, trailing bool) []string {
	words := splitWords(name)
	if len(words) == 0 {
		return nil
	}
	for i := range words {
		words[i] = folder.String(words[i])
	}
	out := []string{strings.Join(words, "")}
	if !trailing {
		return out
	}
	for n := 1; n <= 3 && n < len(words); n++ {
		out = append(out, strings.Join(words[len(words)-n:], ""))
	}
	return out
}

// splitWords splits camelCase, snake_case, kebab-case and dotted names.
// Acronyms stay together: HTTPRequestID -> HTTP, Request, ID.
func splitWords(s string) []string {
	var words []string
	rs := []rune(s)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(rs[start:end]))
		}
		start = -1
	}
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := rs[i-1]
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush(i)
			start = i
		case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(rs))
	return words
}

// Epoch bounds in seconds: 2001-01-01T00:00:00Z to 2286-11-20T17:46:39Z.
const (
	epochMin = 978307200
	epochMax = 9999999999
)

var isoTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:[.,]\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?$`)

var shortToken = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func isEpoch(s string) bool {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return false
	}
	for _, scale := range []uint64{1, 1e3, 1e6, 1e9} {
		if v >= epochMin*scale && v <= epochMax*scale {
			return true
		}
	}
	return false
}

func isTimestamp(s string) bool {
	if isEpoch(s) || isoTimestamp.MatchString(s) {
		return true
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func allMatch(values []string, fn func(string) bool) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !fn(v) {
			return false
		}
	}
	return true
}

func shapeMatch(values []string) bool {
	return allMatch(values, isTimestamp) || allMatch(values, isUUID)
}

func counterMatch(values []string) bool {
	if len(values) < 2 {
		return false
	}
	prev, err := strconv.ParseFloat(values[0], 64)
	if err != nil {
		return false
	}
	for _, s := range values[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= prev {
			return false
		}
		prev = v
	}
	return true
}

func tokenMatch(values []string, distinct int) bool {
	return len(values) >= 2 && distinct == len(values) && allMatch(values, shortToken.MatchString)
}
