package recording

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a log or exchange does not exist.
var ErrNotFound = errors.New("not found")

// Order describes how a capture log lists its exchanges.
type Order string

const (
	// OrderChronological lists the oldest exchange first.
	OrderChronological Order = "chronological"
	// OrderReverseChronological lists the newest exchange first (WireMock's request journal).
	OrderReverseChronological Order = "reverse-chronological"
)

// Snapshot is a point-in-time copy of a capture log.
type Snapshot struct {
	Exchanges []*Exchange
	Order     Order
}

// Log is the capturing proxy's exchange log.
// Count must agree with the number of exchanges Exchanges would return at the same
// instant, so a count taken before a test runs can be used as a slicing marker.
type Log interface {
	Exchanges(ctx context.Context) (Snapshot, error)
	Count(ctx context.Context) (int, error)
}

// CaptureServer is the record-side collaborator: a proxy bound to an upstream URL
// and a local port whose traffic lands in Log.
type CaptureServer interface {
	Start(ctx context.Context, upstream string, port int) error
	Stop(ctx context.Context) error
	Log() Log
}

// Chronological returns the snapshot's exchanges oldest first with Seq renumbered.
//
// The declared order is applied first. Exchanges are then stable-sorted by LoggedAt
// when timestamps are present, which catches adapters that declared the wrong
// order. The boolean reports whether that second step changed anything.
func Chronological(s Snapshot) ([]*Exchange, bool) {
	out := make([]*Exchange, len(s.Exchanges))
	copy(out, s.Exchanges)

	if s.Order == OrderReverseChronological {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	reordered := false
	if hasTimestamps(out) && !sort.SliceIsSorted(out, func(i, j int) bool {
		return out[i].LoggedAt.Before(out[j].LoggedAt)
	}) {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].LoggedAt.Before(out[j].LoggedAt)
		})
		reordered = true
	}

	renumbered := make([]*Exchange, len(out))
	for i, ex := range out {
		cp := *ex
		cp.Seq = i
		renumbered[i] = &cp
	}
	return renumbered, reordered
}

func hasTimestamps(exchanges []*Exchange) bool {
	for _, ex := range exchanges {
		if ex.LoggedAt.IsZero() {
			return false
		}
	}
	return len(exchanges) > 0
}

// MemoryLog is an in-process, chronological capture log.
type MemoryLog struct {
	mu        sync.RWMutex
	exchanges []*Exchange
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{exchanges: make([]*Exchange, 0)}
}

// Append adds exchanges to the end of the log, assigning Seq.
func (l *MemoryLog) Append(exchanges ...*Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ex := range exchanges {
		ex.Seq = len(l.exchanges)
		l.exchanges = append(l.exchanges, ex)
	}
}

// Exchanges returns a copy of all exchanges, oldest first.
func (l *MemoryLog) Exchanges(_ context.Context) (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Exchange, len(l.exchanges))
	copy(result, l.exchanges)
	return Snapshot{Exchanges: result, Order: OrderChronological}, nil
}

// Count returns the number of exchanges in the log.
func (l *MemoryLog) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.exchanges), nil
}

// Get returns an exchange by ID.
func (l *MemoryLog) Get(id string) (*Exchange, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ex := range l.exchanges {
		if ex.ID == id {
			return ex, nil
		}
	}
	return nil, ErrNotFound
}

// Reset removes all exchanges and returns how many were dropped.
func (l *MemoryLog) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.exchanges)
	l.exchanges = make([]*Exchange, 0)
	return n
}
