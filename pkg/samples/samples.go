// Package samples groups captured request bodies by endpoint and keeps a
// bounded, append-only history per endpoint across RECORD passes.
package samples

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/recording"
)

// DefaultCap is the number of samples kept per endpoint when no cap is configured.
const DefaultCap = 20

// Entry is one request body retained for comparison.
type Entry struct {
	ExchangeID  string    `json:"exchange_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        string    `json:"body"`
	CapturedAt  time.Time `json:"captured_at,omitzero"`
}

// SampleSet is the ordered history of one endpoint, oldest first.
type SampleSet struct {
	Key     recording.EndpointKey `json:"key"`
	Entries []Entry               `json:"samples"`
}

// State is every SampleSet of one scope, keyed by EndpointKey.String().
type State map[string]*SampleSet

// Keys returns the endpoint keys in deterministic order.
func (s State) Keys() []recording.EndpointKey {
	keys := make([]recording.EndpointKey, 0, len(s))
	for _, set := range s {
		keys = append(keys, set.Key)
	}
	recording.SortKeys(keys)
	return keys
}

// Get returns the set for key, or nil.
func (s State) Get(key recording.EndpointKey) *SampleSet {
	return s[key.String()]
}

// Total counts entries across all endpoints.
func (s State) Total() int {
	n := 0
	for _, set := range s {
		n += len(set.Entries)
	}
	return n
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, set := range s {
		out[k] = &SampleSet{Key: set.Key, Entries: append([]Entry(nil), set.Entries...)}
	}
	return out
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithCap bounds the samples kept per endpoint. Values below 1 are ignored.
func WithCap(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.cap = n
		}
	}
}

// WithGraphQLOperations splits GraphQL traffic on one URL by operation name.
func WithGraphQLOperations(enabled bool) Option {
	return func(a *Accumulator) {
		a.byOperation = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Accumulator) {
		if log != nil {
			a.log = log
		}
	}
}

type bucket struct {
	mu      sync.Mutex
	key     recording.EndpointKey
	entries []Entry
	ids     map[string]struct{}
}

// Accumulator is the concurrent form of Accumulate. Appends to one endpoint
// are serialized by that endpoint's lock; distinct endpoints proceed in parallel.
type Accumulator struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	cap         int
	byOperation bool
	log         *slog.Logger
}

// NewAccumulator starts from prior, which is copied.
func NewAccumulator(prior State, opts ...Option) *Accumulator {
	a := &Accumulator{
		buckets: make(map[string]*bucket),
		cap:     DefaultCap,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	for k, set := range prior {
		b := &bucket{key: set.Key, ids: make(map[string]struct{})}
		for _, e := range set.Entries {
			b.append(e, a.cap)
		}
		a.buckets[k] = b
	}
	return a
}

// Accumulate merges exchanges into prior and returns the new state. prior is
// not modified.
func Accumulate(prior State, exchanges []*recording.Exchange, limit int) State {
	a := NewAccumulator(prior, WithCap(limit))
	a.Add(exchanges...)
	return a.State()
}

// KeyFor returns the bucket an exchange belongs to.
func (a *Accumulator) KeyFor(ex *recording.Exchange) recording.EndpointKey {
	key := ex.Key()
	if !a.byOperation {
		return key
	}
	if tree, ok := body.Parse(ex.RequestBody(), ex.ContentType()); ok && tree.Dialect == body.DialectGraphQL {
		return key.WithOperation(tree.Operation)
	}
	return key
}

// Add appends the request bodies of exchanges in order and returns the keys
// that received at least one new sample. Exchanges without a body are skipped,
// as are exchanges whose ID is already present in their set.
func (a *Accumulator) Add(exchanges ...*recording.Exchange) []recording.EndpointKey {
	touched := make(map[string]recording.EndpointKey)
	for _, ex := range exchanges {
		if ex == nil || ex.Request.Body == nil {
			continue
		}
		key := a.KeyFor(ex)
		entry := Entry{
			ExchangeID:  ex.ID,
			ContentType: ex.ContentType(),
			Body:        *ex.Request.Body,
			CapturedAt:  ex.LoggedAt,
		}

		b := a.bucket(key)
		b.mu.Lock()
		added := b.append(entry, a.cap)
		b.mu.Unlock()

		if added {
			touched[key.String()] = key
		} else {
			a.log.Debug("sample already recorded", "endpoint", key.String(), "exchange", ex.ID)
		}
	}

	keys := make([]recording.EndpointKey, 0, len(touched))
	for _, k := range touched {
		keys = append(keys, k)
	}
	recording.SortKeys(keys)
	return keys
}

func (a *Accumulator) bucket(key recording.EndpointKey) *bucket {
	k := key.String()
	a.mu.RLock()
	b, ok := a.buckets[k]
	a.mu.RUnlock()
	if ok {
		return b
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buckets[k]; ok {
		return b
	}
	b = &bucket{key: key, ids: make(map[string]struct{})}
	a.buckets[k] = b
	return b
}

// append adds e unless its exchange ID is known, then evicts the oldest
// entries beyond limit. The caller holds b.mu.
func (b *bucket) append(e Entry, limit int) bool {
	if e.ExchangeID != "" {
		if _, dup := b.ids[e.ExchangeID]; dup {
			return false
		}
		b.ids[e.ExchangeID] = struct{}{}
	}
	b.entries = append(b.entries, e)
	if over := len(b.entries) - limit; limit > 0 && over > 0 {
		for _, old := range b.entries[:over] {
			delete(b.ids, old.ExchangeID)
		}
		b.entries = append([]Entry(nil), b.entries[over:]...)
	}
	return true
}

// Samples returns a copy of the entries for key, oldest first.
func (a *Accumulator) Samples(key recording.EndpointKey) []Entry {
	a.mu.RLock()
	b, ok := a.buckets[key.String()]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Len returns the number of samples held for key.
func (a *Accumulator) Len(key recording.EndpointKey) int {
	a.mu.RLock()
	b, ok := a.buckets[key.String()]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Keys returns every endpoint with samples, sorted.
func (a *Accumulator) Keys() []recording.EndpointKey {
	a.mu.RLock()
	keys := make([]recording.EndpointKey, 0, len(a.buckets))
	for _, b := range a.buckets {
		keys = append(keys, b.key)
	}
	a.mu.RUnlock()
	recording.SortKeys(keys)
	return keys
}

// State snapshots the accumulator.
func (a *Accumulator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(State, len(a.buckets))
	for k, b := range a.buckets {
		b.mu.Lock()
		out[k] = &SampleSet{Key: b.key, Entries: append([]Entry(nil), b.entries...)}
		b.mu.Unlock()
	}
	return out
}

// sortedSets returns the sets of s ordered by key.
func sortedSets(s State) []*SampleSet {
	sets := make([]*SampleSet, 0, len(s))
	for _, set := range s {
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Key.Less(sets[j].Key) })
	return sets
}
