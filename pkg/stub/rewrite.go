package stub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
	"github.com/sloppylopez/stablemock/pkg/logging"
)

// Placeholders understood by the stub-serving engine.
const (
	JSONPlaceholder = "${json-unit.ignore}"
	XMLPlaceholder  = "${xmlunit.ignore}"
)

// ErrRewriteCorrupted means a rewrite produced an invalid mapping. The
// original file is left untouched when this happens.
var ErrRewriteCorrupted = errors.New("rewrite produced invalid mapping")

// Change describes the outcome of rewriting one mapping. A rule whose field
// already holds the placeholder counts as applied.
type Change struct {
	Path string `json:"path"`
	// Applied lists the rules that matched at least one field.
	Applied []string `json:"applied,omitempty"`
	// Skipped lists the rules whose path was not present in any pattern.
	Skipped []string `json:"skipped,omitempty"`
	// Modified is set when the rewritten bytes differ from the input.
	Modified bool `json:"modified"`
}

// Rewriter applies ignore rules to mappings.
type Rewriter struct {
	log         *slog.Logger
	concurrency int
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Rewriter) {
		if log != nil {
			r.log = log
		}
	}
}

// WithConcurrency bounds parallel file rewrites in ApplyDir.
func WithConcurrency(n int) Option {
	return func(r *Rewriter) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRewriter creates a Rewriter.
func NewRewriter(opts ...Option) *Rewriter {
	r := &Rewriter{log: logging.Nop(), concurrency: 4}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// edit replaces Raw[start:end] with text. Insertions have start == end.
type edit struct {
	start, end int
	text       string
}

// Rewrite returns the rewritten bytes of m. The input mapping is not modified.
func (r *Rewriter) Rewrite(m *Mapping, rules []detect.Rule) ([]byte, Change, error) {
	change := Change{Path: m.Path}
	applied := make(map[string]bool, len(rules))
	var edits []edit

	for _, p := range m.patterns() {
		var (
			es   []edit
			hits []detect.Rule
			err  error
		)
		switch p.kind {
		case patternJSON:
			es, hits, err = rewriteJSONPattern(p, rules)
		case patternXML:
			es, hits, err = rewriteXMLPattern(m.Raw, p, rules)
		}
		if err != nil {
			r.log.Debug("body pattern not rewritable", "file", m.Path, "error", err)
			continue
		}
		edits = append(edits, es...)
		for _, h := range hits {
			applied[h.String()] = true
		}
	}

	for _, rule := range detect.Normalize(rules) {
		s := rule.String()
		if applied[s] {
			change.Applied = append(change.Applied, s)
			continue
		}
		change.Skipped = append(change.Skipped, s)
		r.log.Debug("rule did not match mapping", "rule", s, "file", m.Path)
	}

	if len(edits) == 0 {
		return m.Raw, change, nil
	}
	out := splice(m.Raw, edits)
	if err := verify(out); err != nil {
		return nil, Change{Path: m.Path}, fmt.Errorf("%w: %s: %w", ErrRewriteCorrupted, m.Path, err)
	}
	change.Modified = !bytes.Equal(out, m.Raw)
	return out, change, nil
}

// Apply rewrites every mapping and returns new Mapping values. Mappings that
// no rule matched are returned as they were.
func (r *Rewriter) Apply(rules []detect.Rule, mappings []*Mapping) ([]*Mapping, []Change, error) {
	out := make([]*Mapping, 0, len(mappings))
	changes := make([]Change, 0, len(mappings))
	for _, m := range mappings {
		raw, change, err := r.Rewrite(m, rules)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, change)
		if !change.Modified {
			out = append(out, m)
			continue
		}
		rewritten, err := ParseMapping(m.Path, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrRewriteCorrupted, err)
		}
		out = append(out, rewritten)
	}
	return out, changes, nil
}

func splice(raw []byte, edits []edit) []byte {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := append([]byte(nil), raw...)
	for _, e := range edits {
		var b bytes.Buffer
		b.Grow(len(out) - (e.end - e.start) + len(e.text))
		b.Write(out[:e.start])
		b.WriteString(e.text)
		b.Write(out[e.end:])
		out = b.Bytes()
	}
	return out
}

// verify checks that rewritten bytes are still a JSON document.
func verify(raw []byte) error {
	_, err := oj.Parse(raw)
	return err
}

var quotedJSONPlaceholder = mustQuote(JSONPlaceholder)

func mustQuote(s string) string {
	q, err := quoteJSON(s)
	if err != nil {
		panic(err)
	}
	return q
}

// quoteJSON encodes s as a JSON string literal without HTML escaping.
func quoteJSON(s string) (string, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func jsonRulesFor(doc *body.Node, rules []detect.Rule) []detect.Rule {
	graphQL := body.IsGraphQL(doc)
	var out []detect.Rule
	for _, rule := range rules {
		switch rule.Dialect {
		case body.DialectJSON:
			out = append(out, rule)
		case body.DialectGraphQL:
			if graphQL {
				out = append(out, rule)
			}
		}
	}
	return out
}

// jsonEdits computes splices against the text doc was parsed from.
func jsonEdits(doc *body.Node, rules []detect.Rule) ([]edit, []detect.Rule) {
	var (
		edits []edit
		hits  []detect.Rule
	)
	for _, rule := range jsonRulesFor(doc, rules) {
		segs, err := rule.Segments()
		if err != nil {
			continue
		}
		n := fieldpath.LookupJSON(doc, segs)
		if n == nil {
			continue
		}
		hits = append(hits, rule)
		if n.Kind == body.KindString && n.Value == JSONPlaceholder {
			continue
		}
		edits = append(edits, edit{start: n.Start, end: n.End, text: quotedJSONPlaceholder})
	}
	return dedupeEdits(edits), hits
}

// dedupeEdits drops edits whose span lies inside another edit's span, so a
// rule on a.b is absorbed when a itself is replaced.
func dedupeEdits(edits []edit) []edit {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].end > edits[j].end
	})
	out := edits[:0]
	end := -1
	for _, e := range edits {
		if e.end <= end {
			continue
		}
		out = append(out, e)
		end = e.end
	}
	return out
}

func rewriteJSONPattern(p pattern, rules []detect.Rule) ([]edit, []detect.Rule, error) {
	v := p.value
	switch v.Kind {
	case body.KindObject, body.KindArray:
		// Inline document: its spans already index the file.
		es, hits := jsonEdits(v, rules)
		return es, hits, nil
	case body.KindString:
		inner, err := body.ParseJSON(v.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("equalToJson is not JSON: %w", err)
		}
		es, hits := jsonEdits(inner, rules)
		if len(es) == 0 {
			return nil, hits, nil
		}
		quoted, err := quoteJSON(string(splice([]byte(v.Value), es)))
		if err != nil {
			return nil, nil, err
		}
		return []edit{{start: v.Start, end: v.End, text: quoted}}, hits, nil
	default:
		return nil, nil, fmt.Errorf("equalToJson holds a %s", v.Kind)
	}
}

func rewriteXMLPattern(raw []byte, p pattern, rules []detect.Rule) ([]edit, []detect.Rule, error) {
	text := p.value.Value
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil, nil, fmt.Errorf("equalToXml is not XML: %w", err)
	}
	if doc.Root() == nil {
		return nil, nil, errors.New("equalToXml has no root element")
	}

	// Edits splice the placeholder into the JSON literal so bytes outside the
	// ruled elements never change.
	var (
		hits  []detect.Rule
		edits []edit
		offs  []int
		seen  = make(map[int]bool)
	)
	for _, rule := range rules {
		if rule.Dialect != body.DialectXML {
			continue
		}
		if len(fieldpath.FindXMLLeaves(doc, rule.LocalName())) == 0 {
			continue
		}
		hits = append(hits, rule)

		leaves, err := findXMLLeaves(text, rule.LocalName())
		if err != nil {
			return nil, nil, fmt.Errorf("scan equalToXml: %w", err)
		}
		for _, leaf := range leaves {
			e, ok := leaf.placeholderEdit(text)
			if !ok || seen[e.start] {
				continue
			}
			seen[e.start] = true
			if offs == nil {
				if offs, err = literalOffsets(string(raw[p.value.Start:p.value.End])); err != nil {
					return nil, nil, err
				}
				if len(offs) != len(text)+1 {
					return nil, nil, errors.New("equalToXml literal does not match its decoded value")
				}
			}
			edits = append(edits, edit{
				start: p.value.Start + offs[e.start],
				end:   p.value.Start + offs[e.end],
				text:  e.text,
			})
		}
	}

	if len(hits) > 0 {
		if e, ok := enablePlaceholders(p); ok {
			edits = append(edits, e)
		}
	}
	return edits, hits, nil
}

// enablePlaceholders returns the edit that sets enablePlaceholders to true on
// the pattern, if it is not already.
func enablePlaceholders(p pattern) (edit, bool) {
	const key = "enablePlaceholders"
	if n := p.obj.Get(key); n != nil {
		if n.Kind == body.KindBool && n.Value == "true" {
			return edit{}, false
		}
		return edit{start: n.Start, end: n.End, text: "true"}, true
	}
	return edit{start: p.value.End, end: p.value.End, text: `, "` + key + `": true`}, true
}

// Lookup evaluates a JSON rule against the equalToJson documents of m and
// returns every value found. It reads the rewritten state, so callers can
// check that a rule's path now holds the placeholder.
func Lookup(m *Mapping, rule detect.Rule) ([]any, error) {
	segs, err := rule.Segments()
	if err != nil {
		return nil, err
	}
	expr, err := jp.ParseString(fieldpath.JSONPath(segs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", detect.ErrInvalidRule, err)
	}

	var out []any
	for _, p := range m.patterns() {
		if p.kind != patternJSON {
			continue
		}
		var doc any
		switch p.value.Kind {
		case body.KindString:
			doc, err = oj.ParseString(p.value.Value)
		default:
			doc, err = oj.Parse(m.Raw[p.value.Start:p.value.End])
		}
		if err != nil {
			continue
		}
		out = append(out, expr.Get(doc)...)
	}
	return out, nil
}
