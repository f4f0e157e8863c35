package recording

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// EndpointKey identifies "the same logical request": the HTTP method plus the URL with
// path parameters normalized. Two exchanges share a sample bucket iff their keys are equal.
type EndpointKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	// Operation is the GraphQL operation name. It is only set when grouping by
	// operation is enabled; otherwise it stays empty and the key is (method, URL).
	Operation string `json:"operation,omitempty"`
}

// NewEndpointKey builds a key from a method and a (possibly absolute) URL.
func NewEndpointKey(method, rawURL string) EndpointKey {
	return EndpointKey{
		Method: strings.ToUpper(method),
		URL:    NormalizeURL(rawURL),
	}
}

// WithOperation returns a copy of the key scoped to a GraphQL operation.
func (k EndpointKey) WithOperation(op string) EndpointKey {
	k.Operation = op
	return k
}

// String returns the canonical text form, e.g. "POST /users/{id}?expand=1".
func (k EndpointKey) String() string {
	s := k.Method + " " + k.URL
	if k.Operation != "" {
		s += " #" + k.Operation
	}
	return s
}

// ParseEndpointKey parses the output of EndpointKey.String.
func ParseEndpointKey(s string) (EndpointKey, bool) {
	method, rest, ok := strings.Cut(s, " ")
	if !ok || method == "" || rest == "" {
		return EndpointKey{}, false
	}
	k := EndpointKey{Method: method}
	if u, op, found := strings.Cut(rest, " #"); found {
		k.URL, k.Operation = u, op
	} else {
		k.URL = rest
	}
	return k, true
}

// Less orders keys for deterministic iteration.
func (k EndpointKey) Less(other EndpointKey) bool {
	if k.Method != other.Method {
		return k.Method < other.Method
	}
	if k.URL != other.URL {
		return k.URL < other.URL
	}
	return k.Operation < other.Operation
}

// SortKeys sorts keys in place using EndpointKey.Less.
func SortKeys(keys []EndpointKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// NormalizeURL converts a concrete URL into its stable endpoint form.
// Scheme and host are dropped, dynamic path segments become {id}, and query
// parameters are sorted by name (values keep their order).
// For example: https://api/users/123?b=2&a=1 -> /users/{id}?a=1&b=2
func NormalizeURL(rawURL string) string {
	stripped := StripHost(rawURL)
	path, rawQuery, _ := strings.Cut(stripped, "?")

	normalized := normalizePath(path)
	if rawQuery == "" {
		return normalized
	}
	return normalized + "?" + normalizeQuery(rawQuery)
}

// normalizePath replaces ID-like segments with {id}.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if isUUID(segment) || isNumericID(segment) || isAlphanumericID(segment) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func normalizeQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	// url.Values.Encode sorts by key and preserves per-key value order.
	return values.Encode()
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func isUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

func isNumericID(s string) bool {
	if len(s) == 0 {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// Hashes and encoded identifiers.
var alphanumericIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{16,}$|^[0-9a-zA-Z_-]{20,}$`)

// Long slugs made only of letters and dashes ("customer-notification-settings")
// are route names, not identifiers, so a digit is required.
func isAlphanumericID(s string) bool {
	if len(s) < 16 {
		return false
	}
	return alphanumericIDPattern.MatchString(s) && strings.ContainsAny(s, "0123456789")
}
