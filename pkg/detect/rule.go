package detect

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
)

// ErrInvalidRule is returned by ParseRule for malformed rule strings.
var ErrInvalidRule = errors.New("invalid ignore rule")

// Rule prefixes. "graphql:" is accepted on input and written as "gql:".
const (
	prefixJSON    = "json:"
	prefixXML     = "xml:"
	prefixGQL     = "gql:"
	prefixGraphQL = "graphql:"
)

// Rule tells the stub matcher to ignore the value at Path.
type Rule struct {
	Dialect body.Dialect
	Path    string
}

// String returns the canonical dialect-prefixed form, e.g. json:a.b.c.
func (r Rule) String() string {
	return string(r.Dialect) + ":" + r.Path
}

// MarshalText implements encoding.TextMarshaler.
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rule) UnmarshalText(text []byte) error {
	parsed, err := ParseRule(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Segments returns the parsed JSON path of a JSON or GraphQL rule.
func (r Rule) Segments() ([]fieldpath.Segment, error) {
	if r.Dialect == body.DialectXML {
		return nil, fmt.Errorf("%w: xml rules have no JSON segments", ErrInvalidRule)
	}
	return fieldpath.ParseJSON(r.Path)
}

// LocalName returns the element name an XML rule selects.
func (r Rule) LocalName() string {
	name, _ := fieldpath.XMLLocalName(r.Path)
	return name
}

// ParseRule parses a dialect-prefixed rule. A string without a known prefix
// is a JSON path. The returned rule is canonical: String() of two rules that
// address the same field is identical.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, prefixXML):
		return parseXMLRule(strings.TrimPrefix(s, prefixXML))
	case strings.HasPrefix(s, prefixGQL):
		return parseGraphQLRule(strings.TrimPrefix(s, prefixGQL))
	case strings.HasPrefix(s, prefixGraphQL):
		return parseGraphQLRule(strings.TrimPrefix(s, prefixGraphQL))
	case strings.HasPrefix(s, prefixJSON):
		return parseJSONRule(body.DialectJSON, strings.TrimPrefix(s, prefixJSON))
	default:
		return parseJSONRule(body.DialectJSON, s)
	}
}

func parseJSONRule(dialect body.Dialect, path string) (Rule, error) {
	segs, err := fieldpath.ParseJSON(path)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if _, err := jp.ParseString(fieldpath.JSONPath(segs)); err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %w", ErrInvalidRule, path, err)
	}
	return Rule{Dialect: dialect, Path: fieldpath.FormatJSON(segs)}, nil
}

func parseGraphQLRule(path string) (Rule, error) {
	r, err := parseJSONRule(body.DialectGraphQL, path)
	if err != nil {
		return Rule{}, err
	}
	segs, _ := fieldpath.ParseJSON(r.Path)
	if len(segs) < 2 || segs[0].IsIndex || segs[0].Key != body.GraphQLVariables {
		return Rule{}, fmt.Errorf("%w: graphql rule %q must address variables.<path>", ErrInvalidRule, path)
	}
	return r, nil
}

func parseXMLRule(path string) (Rule, error) {
	name, ok := fieldpath.XMLLocalName(strings.TrimSpace(path))
	if !ok {
		return Rule{}, fmt.Errorf("%w: xml rule %q does not name an element", ErrInvalidRule, path)
	}
	return Rule{Dialect: body.DialectXML, Path: fieldpath.XMLPath(name)}, nil
}

// ParseRules parses every string, stopping at the first error.
func ParseRules(ss []string) ([]Rule, error) {
	out := make([]Rule, 0, len(ss))
	for _, s := range ss {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RuleStrings renders rules in their canonical form.
func RuleStrings(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.String()
	}
	return out
}

// Normalize deduplicates rules and sorts them by their string form.
func Normalize(rules []Rule) []Rule {
	seen := make(map[Rule]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
