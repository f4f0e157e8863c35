// Package body parses captured request bodies into structural trees.
//
// Parse never fails loudly: input that is empty, malformed, or neither JSON nor XML
// is reported as not parseable and the caller simply skips that sample.
//
// Three dialects are recognized:
//
//   - JSON: objects and arrays, kept in document order with byte spans per node
//   - XML: an etree document, matched by element local name (prefixes ignored)
//   - GraphQL: a JSON envelope with "variables" plus "query" or "operationName"
package body

import (
	"strings"

	"github.com/beevik/etree"
)

// Dialect tags the structural format of a body. Every pipeline stage dispatches on it.
type Dialect string

const (
	DialectJSON    Dialect = "json"
	DialectXML     Dialect = "xml"
	DialectGraphQL Dialect = "gql"
)

// IsValid checks if the dialect is known.
func (d Dialect) IsValid() bool {
	switch d {
	case DialectJSON, DialectXML, DialectGraphQL:
		return true
	default:
		return false
	}
}

// Tree is a parsed body.
type Tree struct {
	Dialect Dialect

	// JSON is set for DialectJSON and DialectGraphQL.
	JSON *Node

	// XML is set for DialectXML.
	XML *etree.Document

	// Operation is the GraphQL operation name when it could be determined.
	Operation string

	// Raw is the source text the tree was parsed from.
	Raw string
}

const utf8BOM = "\ufeff"

// Parse parses raw as JSON, GraphQL-over-JSON, or XML.
// contentType may be empty. The boolean is false when raw is not parseable.
func Parse(raw, contentType string) (*Tree, bool) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(raw, utf8BOM))
	if trimmed == "" {
		return nil, false
	}

	switch {
	case trimmed[0] == '<':
		return parseXML(raw)
	case trimmed[0] == '{' || trimmed[0] == '[' || strings.Contains(strings.ToLower(contentType), "json"):
		node, err := ParseJSON(raw)
		if err != nil {
			return nil, false
		}
		tree := &Tree{Dialect: DialectJSON, JSON: node, Raw: raw}
		if IsGraphQL(node) {
			tree.Dialect = DialectGraphQL
			tree.Operation = OperationName(node)
		}
		return tree, true
	default:
		return nil, false
	}
}

// Sniff reports the dialect raw would parse as, without keeping the tree.
func Sniff(raw, contentType string) (Dialect, bool) {
	tree, ok := Parse(raw, contentType)
	if !ok {
		return "", false
	}
	return tree.Dialect, true
}

func parseXML(raw string) (*Tree, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(strings.TrimPrefix(raw, utf8BOM)); err != nil {
		return nil, false
	}
	if !wellFormed(doc) {
		return nil, false
	}
	return &Tree{Dialect: DialectXML, XML: doc, Raw: raw}, true
}

// wellFormed reports whether doc has exactly one root element and nothing but
// whitespace, comments and processing instructions around it.
func wellFormed(doc *etree.Document) bool {
	if len(doc.ChildElements()) != 1 {
		return false
	}
	for _, tok := range doc.Child {
		if cd, ok := tok.(*etree.CharData); ok && !cd.IsWhitespace() {
			return false
		}
	}
	return true
}
