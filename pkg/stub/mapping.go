// Package stub reads WireMock stub mappings and rewrites their request body
// matchers so fields named by ignore rules match any value.
//
// Only request.bodyPatterns entries using equalToJson or equalToXml are
// touched. JSON edits are byte splices at the spans of the matched values, so
// everything else in the file keeps its exact bytes.
package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/recording"
)

// ErrInvalidMapping is returned for files that are not WireMock mappings.
var ErrInvalidMapping = errors.New("invalid stub mapping")

// WireMockMapping is the subset of a WireMock stub mapping this package reads.
type WireMockMapping struct {
	ID       string           `json:"id,omitempty"`
	UUID     string           `json:"uuid,omitempty"`
	Name     string           `json:"name,omitempty"`
	Request  WireMockRequest  `json:"request"`
	Response WireMockResponse `json:"response"`
}

// WireMockRequest is the request matcher of a mapping.
type WireMockRequest struct {
	Method         string                `json:"method,omitempty"`
	URL            string                `json:"url,omitempty"`
	URLPath        string                `json:"urlPath,omitempty"`
	URLPattern     string                `json:"urlPattern,omitempty"`
	URLPathPattern string                `json:"urlPathPattern,omitempty"`
	BodyPatterns   []WireMockBodyPattern `json:"bodyPatterns,omitempty"`
}

// WireMockBodyPattern is one body matcher. EqualToJSON may be a JSON string
// holding the document or the document itself.
type WireMockBodyPattern struct {
	EqualTo            string          `json:"equalTo,omitempty"`
	EqualToJSON        json.RawMessage `json:"equalToJson,omitempty"`
	EqualToXML         string          `json:"equalToXml,omitempty"`
	MatchesJSONPath    string          `json:"matchesJsonPath,omitempty"`
	EnablePlaceholders bool            `json:"enablePlaceholders,omitempty"`
	IgnoreArrayOrder   bool            `json:"ignoreArrayOrder,omitempty"`
	IgnoreExtraElems   bool            `json:"ignoreExtraElements,omitempty"`
}

// WireMockResponse is the response definition. It is decoded for reporting
// only and never written back.
type WireMockResponse struct {
	Status       int    `json:"status"`
	BodyFileName string `json:"bodyFileName,omitempty"`
}

// Endpoint returns the method and URL the mapping matches.
func (m WireMockMapping) Endpoint() recording.EndpointKey {
	url := m.Request.URL
	for _, alt := range []string{m.Request.URLPath, m.Request.URLPattern, m.Request.URLPathPattern} {
		if url == "" {
			url = alt
		}
	}
	method := m.Request.Method
	if method == "" {
		method = "ANY"
	}
	return recording.NewEndpointKey(method, url)
}

// Mapping is one mapping file held as raw bytes plus a span tree, so edits
// can be spliced without re-encoding the file.
type Mapping struct {
	Path string
	Raw  []byte
	// Stubs are the mapping objects in the file: one for a plain mapping,
	// several for a {"mappings": [...]} file or a top-level array.
	Stubs []WireMockMapping

	root    *body.Node
	objects []*body.Node
}

// ParseMapping parses a mapping file.
func ParseMapping(path string, raw []byte) (*Mapping, error) {
	root, err := body.ParseJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, path, err)
	}

	var objects []*body.Node
	switch {
	case root.Kind == body.KindObject && root.Get("request") != nil:
		objects = []*body.Node{root}
	case root.Kind == body.KindObject && root.Get("mappings") != nil && root.Get("mappings").Kind == body.KindArray:
		objects = root.Get("mappings").Items
	case root.Kind == body.KindArray:
		objects = root.Items
	default:
		return nil, fmt.Errorf("%w: %s: no request matcher", ErrInvalidMapping, path)
	}

	m := &Mapping{Path: path, Raw: raw, root: root}
	for _, obj := range objects {
		if obj.Kind != body.KindObject || obj.Get("request") == nil {
			continue
		}
		var wm WireMockMapping
		if err := json.Unmarshal(raw[obj.Start:obj.End], &wm); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, path, err)
		}
		m.Stubs = append(m.Stubs, wm)
		m.objects = append(m.objects, obj)
	}
	if len(m.objects) == 0 {
		return nil, fmt.Errorf("%w: %s: no request matcher", ErrInvalidMapping, path)
	}
	return m, nil
}

// ReadMapping reads and parses the mapping file at path.
func ReadMapping(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping %s: %w", path, err)
	}
	return ParseMapping(path, raw)
}

// patternKind is the literal matcher a body pattern uses.
type patternKind int

const (
	patternJSON patternKind = iota + 1
	patternXML
)

// pattern locates one rewritable body matcher inside Raw.
type pattern struct {
	stub  int
	kind  patternKind
	obj   *body.Node // the bodyPatterns entry
	value *body.Node // the equalToJson / equalToXml value
}

func (m *Mapping) patterns() []pattern {
	var out []pattern
	for i, obj := range m.objects {
		bps := obj.Get("request").Get("bodyPatterns")
		if bps == nil || bps.Kind != body.KindArray {
			continue
		}
		for _, bp := range bps.Items {
			if v := bp.Get("equalToJson"); v != nil {
				out = append(out, pattern{stub: i, kind: patternJSON, obj: bp, value: v})
			}
			if v := bp.Get("equalToXml"); v != nil && v.Kind == body.KindString {
				out = append(out, pattern{stub: i, kind: patternXML, obj: bp, value: v})
			}
		}
	}
	return out
}
