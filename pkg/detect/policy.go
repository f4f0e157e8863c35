package detect

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrInvalidPolicy is returned when a policy spec cannot be compiled.
var ErrInvalidPolicy = errors.New("invalid classification policy")

// UserRule assigns a tier when its expression evaluates to true.
//
// Example:
//
//	when: 'name == "cursor" || all(values, {# matches "^[0-9a-f]{32}$"})'
//	confidence: HIGH
type UserRule struct {
	When       string     `json:"when" yaml:"when"`
	Confidence Confidence `json:"confidence" yaml:"confidence"`
}

// PolicySpec is the configurable form of a Policy. Empty fields fall back to
// the defaults.
type PolicySpec struct {
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	// TrailingWords also matches a keyword against the last one to three
	// words of a name, so requestTimestamp and X-Request-ID count.
	TrailingWords bool        `json:"trailingWords,omitempty" yaml:"trailingWords,omitempty"`
	Order         []Heuristic `json:"order,omitempty" yaml:"order,omitempty"`
	Rules         []UserRule  `json:"rules,omitempty" yaml:"rules,omitempty"`
}

type compiledRule struct {
	source     string
	program    *vm.Program
	confidence Confidence
}

// Policy decides the confidence tier of a variation. User rules run first,
// in declaration order, then the heuristic chain; the first match wins.
// Anything unmatched is LOW.
type Policy struct {
	keywords map[string]struct{}
	trailing bool
	order    []Heuristic
	rules    []compiledRule
}

// DefaultPolicy returns the built-in keyword set and heuristic order.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(PolicySpec{})
	return p
}

// NewPolicy compiles spec.
func NewPolicy(spec PolicySpec) (*Policy, error) {
	keywords := spec.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	order := spec.Order
	if len(order) == 0 {
		order = DefaultHeuristics
	}

	p := &Policy{
		keywords: make(map[string]struct{}, len(keywords)),
		trailing: spec.TrailingWords,
		order:    make([]Heuristic, 0, len(order)),
	}
	for _, k := range keywords {
		if f := foldKeyword(k); f != "" {
			p.keywords[f] = struct{}{}
		}
	}
	seen := make(map[Heuristic]bool, len(order))
	for _, h := range order {
		if !h.IsValid() {
			return nil, fmt.Errorf("%w: unknown heuristic %q", ErrInvalidPolicy, h)
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		p.order = append(p.order, h)
	}

	for i, r := range spec.Rules {
		if r.Confidence < ConfidenceLow || r.Confidence > ConfidenceHigh {
			return nil, fmt.Errorf("%w: rule %d: confidence is required", ErrInvalidPolicy, i)
		}
		program, err := expr.Compile(r.When, expr.Env(FieldEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d %q: %w", ErrInvalidPolicy, i, r.When, err)
		}
		p.rules = append(p.rules, compiledRule{source: r.When, program: program, confidence: r.Confidence})
	}
	return p, nil
}

// Keyword reports whether name matches the policy's keyword set. Names are
// compared case-folded with separators removed.
func (p *Policy) Keyword(name string) bool {
	for _, c := range keywordCandidates(name, p.trailing) {
		if _, ok := p.keywords[c]; ok {
			return true
		}
	}
	return false
}

func (p *Policy) classify(env FieldEnv) Confidence {
	for _, r := range p.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return r.confidence
		}
	}

	for _, h := range p.order {
		if p.matches(h, env) {
			return h.Confidence()
		}
	}
	return ConfidenceLow
}

func (p *Policy) matches(h Heuristic, env FieldEnv) bool {
	switch h {
	case HeuristicKeyword:
		return p.Keyword(env.Name)
	case HeuristicShape:
		return shapeMatch(env.Values)
	case HeuristicCounter:
		return counterMatch(env.Values)
	case HeuristicToken:
		return tokenMatch(env.Values, env.Distinct)
	default:
		return false
	}
}
