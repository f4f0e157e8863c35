package body

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// GraphQL envelope members.
const (
	GraphQLVariables     = "variables"
	GraphQLQuery         = "query"
	GraphQLOperationName = "operationName"
)

// IsGraphQL reports whether a JSON root is a GraphQL request envelope:
// an object with "variables" and either "query" or "operationName".
func IsGraphQL(root *Node) bool {
	if root == nil || root.Kind != KindObject {
		return false
	}
	if root.Get(GraphQLVariables) == nil {
		return false
	}
	return root.Get(GraphQLQuery) != nil || root.Get(GraphQLOperationName) != nil
}

// OperationName returns the operation a GraphQL envelope invokes.
// An explicit operationName wins; otherwise the query document is parsed and
// the name of its only operation is used. Anonymous or ambiguous documents
// yield "".
func OperationName(root *Node) string {
	if n := root.Get(GraphQLOperationName); n != nil && n.Kind == KindString && n.Value != "" {
		return n.Value
	}
	q := root.Get(GraphQLQuery)
	if q == nil || q.Kind != KindString {
		return ""
	}
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: q.Value})
	if err != nil || doc == nil || len(doc.Operations) != 1 {
		return ""
	}
	return doc.Operations[0].Name
}
