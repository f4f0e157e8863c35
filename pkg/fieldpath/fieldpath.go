// Package fieldpath walks parsed bodies and yields every leaf value with its address.
//
// Path forms per dialect:
//
//	JSON     user.session.token, items[2].id, ["key.with.dots"].x
//	XML      //*[local-name()='TransactionIdentifier']
//	GraphQL  variables.filter.cursor
//
// Extraction is depth-first in document order and deterministic for identical input.
package fieldpath

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/sloppylopez/stablemock/pkg/body"
)

// Observation is one leaf value found in one body.
type Observation struct {
	Path    string       `json:"path"`
	Value   string       `json:"value"`
	Kind    body.Kind    `json:"kind"`
	Dialect body.Dialect `json:"dialect"`
	// Sample is the index of the body within its sample set.
	Sample int `json:"sample"`
}

// Sample is the extraction result for one body.
type Sample struct {
	Index        int
	Dialect      body.Dialect
	Observations []Observation
}

// Extract yields every leaf of tree. Containers are traversed, not emitted.
// A JSON document whose root is a scalar has no addressable fields.
func Extract(tree *body.Tree) []Observation {
	if tree == nil {
		return nil
	}
	w := &walker{dialect: tree.Dialect}
	switch tree.Dialect {
	case body.DialectJSON:
		if tree.JSON != nil && !tree.JSON.Kind.IsLeaf() {
			w.json(tree.JSON, nil)
		}
	case body.DialectGraphQL:
		vars := tree.JSON.Get(body.GraphQLVariables)
		if vars != nil && !vars.Kind.IsLeaf() {
			w.json(vars, []Segment{{Key: body.GraphQLVariables}})
		}
	case body.DialectXML:
		if tree.XML != nil && tree.XML.Root() != nil {
			w.xml(tree.XML.Root())
		}
	}
	return w.out
}

// ExtractSample extracts tree and tags every observation with the sample index.
func ExtractSample(index int, tree *body.Tree) Sample {
	obs := Extract(tree)
	for i := range obs {
		obs[i].Sample = index
	}
	s := Sample{Index: index, Observations: obs}
	if tree != nil {
		s.Dialect = tree.Dialect
	}
	return s
}

type walker struct {
	dialect body.Dialect
	out     []Observation
}

func (w *walker) json(n *body.Node, prefix []Segment) {
	switch n.Kind {
	case body.KindObject:
		for _, f := range n.Fields {
			w.json(f.Value, appendSegment(prefix, Segment{Key: f.Key}))
		}
	case body.KindArray:
		for i, item := range n.Items {
			w.json(item, appendSegment(prefix, Segment{Index: i, IsIndex: true}))
		}
	default:
		w.out = append(w.out, Observation{
			Path:    FormatJSON(prefix),
			Value:   n.Value,
			Kind:    n.Kind,
			Dialect: w.dialect,
		})
	}
}

// appendSegment never aliases prefix's backing array across siblings.
func appendSegment(prefix []Segment, s Segment) []Segment {
	out := make([]Segment, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = s
	return out
}

func (w *walker) xml(e *etree.Element) {
	children := e.ChildElements()
	if len(children) == 0 {
		w.out = append(w.out, Observation{
			Path:    XMLPath(e.Tag),
			Value:   strings.TrimSpace(e.Text()),
			Kind:    body.KindString,
			Dialect: body.DialectXML,
		})
		return
	}
	for _, c := range children {
		w.xml(c)
	}
}

// LeafName returns the final named segment of a path, used for keyword matching.
// Array indexes are skipped: items[3] -> items, a.b[0][1] -> b.
func LeafName(dialect body.Dialect, path string) string {
	if dialect == body.DialectXML {
		name, _ := XMLLocalName(path)
		return name
	}
	segs, err := ParseJSON(path)
	if err != nil {
		return path
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if !segs[i].IsIndex {
			return segs[i].Key
		}
	}
	return ""
}
