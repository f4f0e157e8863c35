package body

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind is the JSON type of a node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

// String returns the JSON type name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// IsLeaf reports whether the kind is a scalar.
func (k Kind) IsLeaf() bool {
	return k != KindObject && k != KindArray
}

// Node is one value of a JSON document.
//
// Objects keep their members in document order. Leaf values are kept as text:
// decoded strings, number literals exactly as written, "true"/"false", "null".
// Start and End are byte offsets of the value in the parsed source, so callers
// can splice replacements without re-serializing the document.
type Node struct {
	Kind   Kind
	Value  string
	Fields []Field
	Items  []*Node
	Start  int
	End    int
}

// Field is an object member.
type Field struct {
	Key   string
	Value *Node
}

// Get returns the first member named key, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Index returns the i-th array element, or nil.
func (n *Node) Index(i int) *Node {
	if n == nil || n.Kind != KindArray || i < 0 || i >= len(n.Items) {
		return nil
	}
	return n.Items[i]
}

// ErrTrailingData is returned when a JSON value is followed by more input.
var ErrTrailingData = errors.New("trailing data after JSON value")

// ParseJSON parses a single JSON value into a Node tree.
func ParseJSON(raw string) (*Node, error) {
	base := 0
	if strings.HasPrefix(raw, utf8BOM) {
		base = len(utf8BOM)
	}
	p := &jsonParser{src: raw[base:], base: base}
	p.dec = json.NewDecoder(strings.NewReader(p.src))
	p.dec.UseNumber()

	node, err := p.value()
	if err != nil {
		return nil, err
	}
	if _, err := p.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return node, nil
}

type jsonParser struct {
	src  string
	base int
	dec  *json.Decoder
}

// valueStart finds the first byte of the next value at or after off,
// skipping whitespace and the separators the decoder elides.
func (p *jsonParser) valueStart(off int) int {
	for off < len(p.src) {
		switch p.src[off] {
		case ' ', '\t', '\n', '\r', ':', ',':
			off++
		default:
			return off
		}
	}
	return off
}

func (p *jsonParser) value() (*Node, error) {
	start := p.valueStart(int(p.dec.InputOffset()))
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}

	node := &Node{Start: p.base + start}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			node.Kind = KindObject
			if err := p.object(node); err != nil {
				return nil, err
			}
		case '[':
			node.Kind = KindArray
			if err := p.array(node); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		node.Kind = KindString
		node.Value = v
	case json.Number:
		node.Kind = KindNumber
		node.Value = v.String()
	case bool:
		node.Kind = KindBool
		if v {
			node.Value = "true"
		} else {
			node.Value = "false"
		}
	case nil:
		node.Kind = KindNull
		node.Value = "null"
	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
	node.End = p.base + int(p.dec.InputOffset())
	return node, nil
}

func (p *jsonParser) object(node *Node) error {
	node.Fields = make([]Field, 0)
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T, not string", tok)
		}
		child, err := p.value()
		if err != nil {
			return err
		}
		node.Fields = append(node.Fields, Field{Key: key, Value: child})
	}
	_, err := p.dec.Token() // '}'
	return err
}

func (p *jsonParser) array(node *Node) error {
	node.Items = make([]*Node, 0)
	for p.dec.More() {
		child, err := p.value()
		if err != nil {
			return err
		}
		node.Items = append(node.Items, child)
	}
	_, err := p.dec.Token() // ']'
	return err
}
