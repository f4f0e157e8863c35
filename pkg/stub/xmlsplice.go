package stub

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// xmlLeaf locates the content of one leaf element inside an XML document.
type xmlLeaf struct {
	name        string // qualified name as written, prefix included
	start, end  int    // content between the tags
	selfClosing bool   // written as <name/>; start is just past the "/>"
}

// placeholderEdit returns the document edit that makes the leaf's content
// the XML placeholder, or false when it already is.
func (l xmlLeaf) placeholderEdit(doc string) (edit, bool) {
	if l.selfClosing {
		return edit{start: l.start - len("/>"), end: l.start, text: ">" + XMLPlaceholder + "</" + l.name + ">"}, true
	}
	if doc[l.start:l.end] == XMLPlaceholder {
		return edit{}, false
	}
	return edit{start: l.start, end: l.end, text: XMLPlaceholder}, true
}

// findXMLLeaves returns, in document order, the byte spans of every leaf
// element whose local name is localName.
func findXMLLeaves(doc, localName string) ([]xmlLeaf, error) {
	type frame struct {
		local    string
		leaf     xmlLeaf
		children bool
	}

	d := xml.NewDecoder(strings.NewReader(doc))
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var (
		stack []frame
		out   []xmlLeaf
	)
	for {
		before := int(d.InputOffset())
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if n := len(stack); n > 0 {
				stack[n-1].children = true
			}
			after := int(d.InputOffset())
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + name
			}
			stack = append(stack, frame{
				local: t.Name.Local,
				leaf: xmlLeaf{
					name:        name,
					start:       after,
					end:         after,
					selfClosing: strings.HasSuffix(doc[before:after], "/>"),
				},
			})
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected </%s> at offset %d", t.Name.Local, before)
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.children || f.local != localName {
				continue
			}
			if !f.leaf.selfClosing {
				f.leaf.end = before
			}
			out = append(out, f.leaf)
		}
	}
	return out, nil
}

// literalOffsets maps each byte of the decoded value of the JSON string
// literal lit to the offset in lit where it is encoded. The extra final entry
// is the offset of the closing quote.
func literalOffsets(lit string) ([]int, error) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return nil, errors.New("not a JSON string literal")
	}
	end := len(lit) - 1
	offs := make([]int, 0, end)
	for i := 1; i < end; {
		switch c := lit[i]; {
		case c == '\\' && i+1 < end && lit[i+1] == 'u':
			r, n := unicodeEscape(lit[i:end])
			if n == 0 {
				return nil, fmt.Errorf("invalid escape at offset %d", i)
			}
			offs = appendOffset(offs, i, utf8.RuneLen(r))
			i += n
		case c == '\\':
			offs = append(offs, i)
			i += 2
		case c < utf8.RuneSelf:
			offs = append(offs, i)
			i++
		default:
			r, size := utf8.DecodeRuneInString(lit[i:end])
			if r == utf8.RuneError && size == 1 {
				// Decoded as U+FFFD.
				offs = appendOffset(offs, i, utf8.RuneLen(unicode.ReplacementChar))
			} else {
				offs = appendOffset(offs, i, size)
			}
			i += size
		}
	}
	return append(offs, end), nil
}

func appendOffset(offs []int, off, n int) []int {
	for range n {
		offs = append(offs, off)
	}
	return offs
}

// unicodeEscape decodes the \uXXXX escape (or surrogate pair) at the start of
// s. It returns the number of bytes consumed, or zero if s is malformed.
func unicodeEscape(s string) (rune, int) {
	hex := func(s string) (rune, bool) {
		if len(s) < 4 {
			return 0, false
		}
		v, err := strconv.ParseUint(s[:4], 16, 32)
		return rune(v), err == nil
	}
	if len(s) < 6 {
		return 0, 0
	}
	r, ok := hex(s[2:])
	if !ok {
		return 0, 0
	}
	if !utf16.IsSurrogate(r) {
		return r, 6
	}
	if len(s) >= 12 && s[6] == '\\' && s[7] == 'u' {
		if r2, ok := hex(s[8:]); ok {
			if dec := utf16.DecodeRune(r, r2); dec != unicode.ReplacementChar {
				return dec, 12
			}
		}
	}
	return unicode.ReplacementChar, 6
}
