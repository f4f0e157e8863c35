// Package journal adapts external capture logs to recording.Log.
//
// Three sources are supported: the request journal of a running WireMock
// (or a saved copy of it), go-vcr cassettes, and exchange export files
// written by this module. Exchange IDs are stable across reads so repeated
// analysis of the same log does not duplicate samples.
package journal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sloppylopez/stablemock/pkg/recording"
)

// ErrUnavailable is returned when a capture log cannot be reached.
var ErrUnavailable = errors.New("capture log unavailable")

// idNamespace scopes derived exchange IDs.
var idNamespace = uuid.MustParse("6f1d3c2e-8a4b-5c9d-9e0f-1a2b3c4d5e6f")

// stableID derives a deterministic exchange ID from a source and position.
func stableID(source string, index int) string {
	return uuid.NewSHA1(idNamespace, fmt.Appendf(nil, "%s#%d", source, index)).String()
}

// wireMockJournal is the body of GET /__admin/requests.
type wireMockJournal struct {
	Requests []wireMockServeEvent `json:"requests"`
	Meta     struct {
		Total int `json:"total"`
	} `json:"meta"`
	RequestJournalDisabled bool `json:"requestJournalDisabled"`
}

type wireMockServeEvent struct {
	ID       string            `json:"id"`
	Request  wireMockRequest   `json:"request"`
	Response *wireMockResponse `json:"response,omitempty"`
}

type wireMockRequest struct {
	URL          string    `json:"url"`
	AbsoluteURL  string    `json:"absoluteUrl"`
	Method       string    `json:"method"`
	Headers      headerMap `json:"headers"`
	Body         string    `json:"body"`
	BodyAsBase64 string    `json:"bodyAsBase64"`
	LoggedDate   int64     `json:"loggedDate"`
}

type wireMockResponse struct {
	Status  int       `json:"status"`
	Headers headerMap `json:"headers"`
	Body    string    `json:"body"`
}

// headerMap accepts WireMock's header encoding, where a value is either a
// string or an array of strings.
type headerMap http.Header

func (h *headerMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(http.Header, len(raw))
	for k, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out.Add(k, one)
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return fmt.Errorf("header %q: %w", k, err)
		}
		for _, s := range many {
			out.Add(k, s)
		}
	}
	*h = headerMap(out)
	return nil
}

func (e wireMockServeEvent) exchange(source string, index int) *recording.Exchange {
	ex := &recording.Exchange{
		ID: e.ID,
		Request: recording.Request{
			Method:  e.Request.Method,
			URL:     e.Request.URL,
			Headers: http.Header(e.Request.Headers),
		},
	}
	if ex.ID == "" {
		ex.ID = stableID(source, index)
	}
	if ex.Request.URL == "" {
		ex.Request.URL = recording.StripHost(e.Request.AbsoluteURL)
	}
	if e.Request.LoggedDate > 0 {
		ex.LoggedAt = time.UnixMilli(e.Request.LoggedDate).UTC()
	}
	switch {
	case e.Request.Body != "":
		b := e.Request.Body
		ex.Request.Body = &b
	case e.Request.BodyAsBase64 != "":
		if decoded, err := base64.StdEncoding.DecodeString(e.Request.BodyAsBase64); err == nil && len(decoded) > 0 {
			b := string(decoded)
			ex.Request.Body = &b
		}
	}
	if e.Response != nil {
		ex.Response = recording.Response{
			Status:  e.Response.Status,
			Headers: http.Header(e.Response.Headers),
			Body:    e.Response.Body,
		}
	}
	return ex
}

func (j *wireMockJournal) snapshot(source string) recording.Snapshot {
	// The journal lists the newest request first; index from the oldest so
	// derived IDs do not shift as requests arrive.
	n := len(j.Requests)
	out := make([]*recording.Exchange, n)
	for i, e := range j.Requests {
		out[i] = e.exchange(source, n-1-i)
	}
	return recording.Snapshot{Exchanges: out, Order: recording.OrderReverseChronological}
}

// WireMock reads the request journal of a running WireMock server.
type WireMock struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a WireMock client.
type Option func(*WireMock)

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(w *WireMock) {
		w.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *WireMock) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// NewWireMock creates a journal client for the WireMock at baseURL.
func NewWireMock(baseURL string, opts ...Option) *WireMock {
	w := &WireMock{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Exchanges returns the journal, newest first as WireMock lists it.
func (w *WireMock) Exchanges(ctx context.Context) (recording.Snapshot, error) {
	j, err := w.fetch(ctx)
	if err != nil {
		return recording.Snapshot{}, err
	}
	return j.snapshot(w.baseURL), nil
}

// Count returns the number of journal entries.
func (w *WireMock) Count(ctx context.Context) (int, error) {
	j, err := w.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(j.Requests), nil
}

// Reset clears the journal.
func (w *WireMock) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.baseURL+"/__admin/requests", nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return w.parseError(resp)
	}
	return nil
}

func (w *WireMock) fetch(ctx context.Context) (*wireMockJournal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/__admin/requests", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, w.parseError(resp)
	}
	var j wireMockJournal
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return nil, fmt.Errorf("failed to decode request journal: %w", err)
	}
	if j.RequestJournalDisabled {
		return nil, fmt.Errorf("%w: request journal is disabled", ErrUnavailable)
	}
	return &j, nil
}

func (w *WireMock) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
}

// WireMockFile reads a saved copy of a WireMock request journal.
type WireMockFile struct {
	path string
}

// NewWireMockFile returns a log backed by the journal JSON at path.
func NewWireMockFile(path string) *WireMockFile {
	return &WireMockFile{path: path}
}

// Exchanges reads the file, newest first.
func (f *WireMockFile) Exchanges(_ context.Context) (recording.Snapshot, error) {
	j, err := f.read()
	if err != nil {
		return recording.Snapshot{}, err
	}
	return j.snapshot(f.path), nil
}

// Count returns the number of journal entries in the file.
func (f *WireMockFile) Count(_ context.Context) (int, error) {
	j, err := f.read()
	if err != nil {
		return 0, err
	}
	return len(j.Requests), nil
}

func (f *WireMockFile) read() (*wireMockJournal, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", recording.ErrNotFound, f.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal %s: %w", f.path, err)
	}
	var j wireMockJournal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode journal %s: %w", f.path, err)
	}
	return &j, nil
}
