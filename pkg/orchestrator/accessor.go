package orchestrator

import (
	"context"
	"strings"

	"github.com/sloppylopez/stablemock/pkg/sidecar"
)

// ContextAccessor supplies the identity of the test that is running. Hosts
// that cannot tell which test is active return false and detection is
// skipped.
type ContextAccessor interface {
	TestID(ctx context.Context) (sidecar.TestID, bool)
}

// NopAccessor never knows the current test.
type NopAccessor struct{}

// TestID implements ContextAccessor.
func (NopAccessor) TestID(context.Context) (sidecar.TestID, bool) {
	return sidecar.TestID{}, false
}

type testIDKey struct{}

// WithTestID returns a context carrying id.
func WithTestID(ctx context.Context, id sidecar.TestID) context.Context {
	return context.WithValue(ctx, testIDKey{}, id)
}

// ContextValueAccessor reads the identity stored by WithTestID.
type ContextValueAccessor struct{}

// TestID implements ContextAccessor.
func (ContextValueAccessor) TestID(ctx context.Context) (sidecar.TestID, bool) {
	id, ok := ctx.Value(testIDKey{}).(sidecar.TestID)
	return id, ok
}

// Named is satisfied by testing.T, testing.B and testing.TB.
type Named interface {
	Name() string
}

// TestingAccessor derives the identity from a Go test name:
//
//	TestOrders/creates_order -> class TestOrders, method creates_order
//	TestOrders_Create        -> class TestOrders, method Create
//	TestOrders               -> class TestOrders, method TestOrders
//
// Nested subtest names are joined with "_".
type TestingAccessor struct {
	T     Named
	Index int
}

// TestID implements ContextAccessor.
func (a TestingAccessor) TestID(context.Context) (sidecar.TestID, bool) {
	if a.T == nil {
		return sidecar.TestID{}, false
	}
	id := TestIDFromName(a.T.Name())
	id.Index = a.Index
	return id, id.Validate() == nil
}

// TestIDFromName splits a Go test name into class and method.
func TestIDFromName(name string) sidecar.TestID {
	if class, rest, ok := strings.Cut(name, "/"); ok {
		return sidecar.TestID{Class: class, Method: strings.ReplaceAll(rest, "/", "_")}
	}
	if class, method, ok := strings.Cut(name, "_"); ok && class != "" && method != "" {
		return sidecar.TestID{Class: class, Method: method}
	}
	return sidecar.TestID{Class: name, Method: name}
}
