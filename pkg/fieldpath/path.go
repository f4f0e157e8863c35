package fieldpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/sloppylopez/stablemock/pkg/body"
)

// ErrInvalidPath is returned for path text that cannot be parsed.
var ErrInvalidPath = errors.New("invalid field path")

// Segment is one step of a JSON path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// FormatJSON renders segments as a dotted path.
// Keys that would be ambiguous in dotted form are written as ["quoted"] members.
func FormatJSON(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		switch {
		case s.IsIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		case needsQuoting(s.Key):
			quoted, _ := json.Marshal(s.Key)
			b.WriteByte('[')
			b.Write(quoted)
			b.WriteByte(']')
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

func needsQuoting(key string) bool {
	return key == "" || strings.ContainsAny(key, ".[]\"") || strings.HasPrefix(key, "$")
}

// ParseJSON parses the output of FormatJSON. A leading "$." or "$" is accepted so
// JSONPath-style input works too.
func ParseJSON(path string) ([]Segment, error) {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var segs []Segment
	i := 0
	for i < len(p) {
		switch p[i] {
		case '.':
			if i == 0 || i == len(p)-1 || p[i+1] == '.' || p[i+1] == '[' {
				return nil, fmt.Errorf("%w: misplaced '.' in %q", ErrInvalidPath, path)
			}
			i++
		case '[':
			end, seg, err := parseBracket(p, i)
			if err != nil {
				return nil, fmt.Errorf("%w: %v in %q", ErrInvalidPath, err, path)
			}
			segs = append(segs, seg)
			i = end
		default:
			j := i
			for j < len(p) && p[j] != '.' && p[j] != '[' {
				if p[j] == ']' || p[j] == '"' {
					return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidPath, p[j], path)
				}
				j++
			}
			segs = append(segs, Segment{Key: p[i:j]})
			i = j
		}
	}
	return segs, nil
}

// parseBracket parses [N] or ["key"] starting at p[i]=='[' and returns the index after ']'.
func parseBracket(p string, i int) (int, Segment, error) {
	if i+1 < len(p) && p[i+1] == '"' {
		// Quoted key: find the closing quote, honoring escapes.
		j := i + 2
		for j < len(p) {
			if p[j] == '\\' {
				j += 2
				continue
			}
			if p[j] == '"' {
				break
			}
			j++
		}
		if j >= len(p) || j+1 >= len(p) || p[j+1] != ']' {
			return 0, Segment{}, errors.New("unterminated quoted key")
		}
		var key string
		if err := json.Unmarshal([]byte(p[i+1:j+1]), &key); err != nil {
			return 0, Segment{}, err
		}
		return j + 2, Segment{Key: key}, nil
	}

	end := strings.IndexByte(p[i:], ']')
	if end < 0 {
		return 0, Segment{}, errors.New("unterminated index")
	}
	n, err := strconv.Atoi(p[i+1 : i+end])
	if err != nil || n < 0 {
		return 0, Segment{}, fmt.Errorf("bad index %q", p[i+1:i+end])
	}
	return i + end + 1, Segment{Index: n, IsIndex: true}, nil
}

// LookupJSON follows segs from root. It returns nil when any step is missing.
func LookupJSON(root *body.Node, segs []Segment) *body.Node {
	n := root
	for _, s := range segs {
		if s.IsIndex {
			n = n.Index(s.Index)
		} else {
			n = n.Get(s.Key)
		}
		if n == nil {
			return nil
		}
	}
	return n
}

// JSONPath converts a dotted path to a $-rooted JSONPath expression,
// e.g. items[2].id -> $.items[2].id, ["a.b"] -> $['a.b'].
func JSONPath(segs []Segment) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range segs {
		switch {
		case s.IsIndex:
			fmt.Fprintf(&b, "[%d]", s.Index)
		case !isIdentifier(s.Key):
			b.WriteString("['")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(s.Key, `\`, `\\`), "'", `\'`))
			b.WriteString("']")
		default:
			b.WriteByte('.')
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r != '_' && r != '-' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

const (
	xmlPathPrefix = "//*[local-name()='"
	xmlPathSuffix = "']"
)

// XMLPath returns the namespace-agnostic XPath selecting elements by local name.
func XMLPath(localName string) string {
	return xmlPathPrefix + localName + xmlPathSuffix
}

// XMLLocalName extracts the local name from an XMLPath expression.
// A bare element name is accepted as well.
func XMLLocalName(path string) (string, bool) {
	if strings.HasPrefix(path, xmlPathPrefix) && strings.HasSuffix(path, xmlPathSuffix) {
		name := path[len(xmlPathPrefix) : len(path)-len(xmlPathSuffix)]
		return name, isXMLName(name)
	}
	if name, ok := strings.CutPrefix(path, "//"); ok {
		path = name
	}
	// Strip a namespace prefix from bare names like ns1:Echo.
	if _, local, found := strings.Cut(path, ":"); found {
		path = local
	}
	return path, isXMLName(path)
}

func isXMLName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r > 0x7f:
		case i > 0 && (r == '-' || r == '.' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

// FindXMLLeaves returns, in document order, every leaf element whose local name is
// localName, whatever its namespace prefix.
func FindXMLLeaves(doc *etree.Document, localName string) []*etree.Element {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	var out []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		children := e.ChildElements()
		if len(children) == 0 {
			if e.Tag == localName {
				out = append(out, e)
			}
			return
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(doc.Root())
	return out
}
