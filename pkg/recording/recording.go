// Package recording provides the captured-traffic types consumed by the detection engine.
//
// An Exchange is one request/response pair observed by the capturing proxy. Exchanges
// are grouped by EndpointKey, the (method, normalized URL) identity of "the same logical
// request". The Log interface is the contract the capturing proxy must satisfy so
// exchanges can be attributed to the test method that produced them.
package recording

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Exchange represents a captured HTTP request/response pair.
// Exchanges are immutable once captured; copy before modifying.
type Exchange struct {
	ID string `json:"id"`

	// Seq is the position of the exchange in the capture log (0-based, chronological).
	Seq int `json:"seq"`

	// LoggedAt is when the capturing proxy saw the request.
	LoggedAt time.Time `json:"loggedAt"`

	Request  Request  `json:"request"`
	Response Response `json:"response"`
}

// Request represents the captured request details.
type Request struct {
	Method string `json:"method"`
	// URL is path + query with scheme and host stripped.
	URL     string      `json:"url"`
	Headers http.Header `json:"headers,omitempty"`
	// Body is nil when the request carried no body.
	Body *string `json:"body,omitempty"`
}

// Response represents the captured response details.
type Response struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers,omitempty"`
	Body    string      `json:"body,omitempty"`
}

// NewExchange creates an exchange with a unique ID from raw request data.
// The URL may be absolute; scheme and host are stripped.
func NewExchange(method, rawURL string, headers http.Header, body []byte) *Exchange {
	ex := &Exchange{
		ID:       uuid.NewString(),
		LoggedAt: time.Now(),
		Request: Request{
			Method:  method,
			URL:     StripHost(rawURL),
			Headers: headers.Clone(),
		},
	}
	if body != nil {
		s := string(body)
		ex.Request.Body = &s
	}
	return ex
}

// CaptureResponse captures details from an HTTP response.
func (e *Exchange) CaptureResponse(status int, headers http.Header, body []byte) {
	e.Response = Response{
		Status:  status,
		Headers: headers.Clone(),
		Body:    string(body),
	}
}

// RequestBody returns the request body or "" when absent.
func (e *Exchange) RequestBody() string {
	if e.Request.Body == nil {
		return ""
	}
	return *e.Request.Body
}

// ContentType returns the declared request content type, if any.
func (e *Exchange) ContentType() string {
	return e.Request.Headers.Get("Content-Type")
}

// Key returns the endpoint identity of the exchange.
func (e *Exchange) Key() EndpointKey {
	return NewEndpointKey(e.Request.Method, e.Request.URL)
}

// StripHost removes scheme and host from a URL, keeping path and query.
// Relative URLs are returned unchanged apart from a guaranteed leading slash.
func StripHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	} else if out[0] != '/' {
		out = "/" + out
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
