package sidecar

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/detect"
)

var (
	t0  = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t1  = t0.Add(time.Hour)
	tid = TestID{Class: "OrderServiceTest", Method: "createsOrder"}
)

func rule(t *testing.T, s string) detect.Rule {
	t.Helper()
	r, err := detect.ParseRule(s)
	require.NoError(t, err)
	return r
}

func TestTestID_Layout(t *testing.T) {
	root := filepath.Join("rec")
	assert.Equal(t, filepath.Join("rec", "OrderServiceTest", "createsOrder"), tid.Dir(root))
	assert.Equal(t, filepath.Join("rec", "OrderServiceTest", "createsOrder", "mappings"), tid.MappingsDir(root))
	assert.Equal(t, filepath.Join("rec", "OrderServiceTest", "createsOrder", "__files"), tid.FilesDir(root))
	assert.Equal(t, filepath.Join("rec", "OrderServiceTest", "createsOrder", FileName), tid.SidecarPath(root))
	assert.Equal(t, filepath.Join("rec", "OrderServiceTest"), tid.ClassDir(root))

	second := TestID{Class: "C", Method: "m", Index: 2}
	assert.Equal(t, filepath.Join("rec", "C", "m", "url_2"), second.Dir(root))
	assert.Equal(t, "C.m[2]", second.String())
	assert.Equal(t, "OrderServiceTest.createsOrder", tid.String())
}

func TestTestID_Validate(t *testing.T) {
	assert.NoError(t, tid.Validate())
	for _, bad := range []TestID{
		{Class: "", Method: "m"},
		{Class: "C", Method: "../m"},
		{Class: "..", Method: "m"},
		{Class: "C", Method: "m", Index: -1},
	} {
		assert.ErrorIs(t, bad.Validate(), ErrInvalidTestID, bad.String())
	}
}

func TestNewResult_Normalizes(t *testing.T) {
	fields := []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /b", Confidence: detect.ConfidenceHigh, SampleValues: []string{"1", "2"}},
		{Path: "nonce", Dialect: body.DialectJSON, Endpoint: "POST /a", Confidence: detect.ConfidenceMedium, SampleValues: []string{"x"}},
	}
	rules := []detect.Rule{rule(t, "json:ts"), rule(t, "json:nonce")}
	r := NewResult(tid, 4, fields, detect.Normalize(rules), []string{"graphql:variables.cursor", "json:ts"}, t0)

	assert.Equal(t, []string{"gql:variables.cursor", "json:ts"}, r.ExplicitPatterns)
	assert.Equal(t, []string{"gql:variables.cursor", "json:nonce", "json:ts"}, r.IgnorePatterns)
	require.Len(t, r.DynamicFields, 2)
	assert.Equal(t, "POST /a", r.DynamicFields[0].Endpoint)
	assert.Equal(t, tid, r.ID())
}

func TestResult_Rules(t *testing.T) {
	r := &Result{
		ExplicitPatterns: []string{"xml:ns:Echo", "not a [rule"},
		IgnorePatterns:   []string{"json:ts", "xml://*[local-name()='Echo']"},
	}
	rules, invalid := r.Rules()
	assert.Equal(t, []string{"json:ts", "xml://*[local-name()='Echo']"}, detect.RuleStrings(rules))
	assert.Equal(t, []string{"not a [rule"}, invalid)
}

func TestMerge_UnionsAndNeverDrops(t *testing.T) {
	prior := NewResult(tid, 2, []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /x", Confidence: detect.ConfidenceMedium, SampleValues: []string{"1", "2"}},
	}, []detect.Rule{rule(t, "json:ts")}, nil, t0)

	next := NewResult(tid, 3, []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /x", Confidence: detect.ConfidenceHigh, SampleValues: []string{"2", "3", "4", "5", "6"}},
		{Path: "variables.cursor", Dialect: body.DialectGraphQL, Endpoint: "POST /graphql", Confidence: detect.ConfidenceLow, SampleValues: []string{"c"}},
	}, []detect.Rule{rule(t, "gql:variables.cursor")}, nil, t1)

	merged := Merge(prior, next, 5)
	assert.Equal(t, []string{"gql:variables.cursor", "json:ts"}, merged.IgnorePatterns)
	assert.Equal(t, 3, merged.AnalyzedRequestsCount)
	assert.Equal(t, t1, merged.GeneratedAt)

	require.Len(t, merged.DynamicFields, 2)
	ts := merged.DynamicFields[1]
	assert.Equal(t, "ts", ts.FieldPath)
	assert.Equal(t, detect.ConfidenceHigh, ts.Confidence, "confidence only rises")
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ts.SampleValues)
}

func TestMerge_Idempotent(t *testing.T) {
	next := NewResult(tid, 3, []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /x", Confidence: detect.ConfidenceHigh, SampleValues: []string{"1"}},
	}, []detect.Rule{rule(t, "json:ts")}, []string{"json:requestId"}, t0)

	once := Merge(nil, next, 5)
	twice := Merge(once, next, 5)
	thrice := Merge(twice, next, 5)
	assert.True(t, Equivalent(once, twice))
	assert.True(t, Equivalent(twice, thrice))

	a, err := encode(once)
	require.NoError(t, err)
	b, err := encode(thrice)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEquivalent(t *testing.T) {
	a := NewResult(tid, 1, nil, []detect.Rule{rule(t, "json:ts")}, nil, t0)
	b := NewResult(tid, 1, nil, []detect.Rule{rule(t, "json:ts")}, nil, t1)
	assert.True(t, Equivalent(a, b))

	c := NewResult(tid, 2, nil, []detect.Rule{rule(t, "json:ts")}, nil, t1)
	assert.False(t, Equivalent(a, c))
	assert.False(t, Equivalent(a, nil))
	assert.True(t, Equivalent(nil, nil))
}

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "C", "m", FileName)
	r := NewResult(TestID{Class: "C", Method: "m"}, 2, []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /x", Confidence: detect.ConfidenceHigh, SampleValues: []string{"1", "2"}},
	}, []detect.Rule{rule(t, "json:ts")}, nil, t0)
	require.NoError(t, Write(path, r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ignore_patterns": [`)
	assert.Contains(t, string(data), `"confidence": "HIGH"`)
	assert.Contains(t, string(data), `"explicit_patterns": []`)
	assert.Contains(t, string(data), `"generated_at": "2026-05-01T10:00:00Z"`)

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, r.IgnorePatterns, back.IgnorePatterns)
	assert.Equal(t, r.DynamicFields, back.DynamicFields)
	assert.True(t, Equivalent(r, back))

	_, err = Read(filepath.Join(t.TempDir(), FileName))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecode_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"malformed":          `{"testClass":`,
		"missing required":   `{"testClass":"C","testMethod":"m","dynamic_fields":[]}`,
		"bad confidence":     `{"testClass":"C","testMethod":"m","dynamic_fields":[{"field_path":"a","confidence":"SURE"}],"ignore_patterns":[]}`,
		"wrong pattern type": `{"testClass":"C","testMethod":"m","dynamic_fields":[],"ignore_patterns":[1]}`,
		"negative count":     `{"testClass":"C","testMethod":"m","dynamic_fields":[],"ignore_patterns":[],"analyzed_requests_count":-1}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}

	r, err := Decode([]byte(`{"testClass":"C","testMethod":"m","analyzed_requests_count":3,"dynamic_fields":[{"field_path":"ts","confidence":"LOW","sample_values":["a"]}],"ignore_patterns":["json:ts"]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, r.AnalyzedRequestsCount)
	assert.Equal(t, detect.ConfidenceLow, r.DynamicFields[0].Confidence)
}

func TestStore_CorruptSidecarIsTreatedAsEmpty(t *testing.T) {
	root := t.TempDir()
	path := tid.SidecarPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	var logs bytes.Buffer
	store := NewStore(root, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	prior, err := store.Load(tid)
	require.NoError(t, err)
	assert.Nil(t, prior)
	assert.Contains(t, logs.String(), "ignoring corrupt sidecar")

	merged, written, err := store.Merge(tid, NewResult(tid, 2, nil, []detect.Rule{rule(t, "json:ts")}, nil, t0))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, []string{"json:ts"}, merged.IgnorePatterns)

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"json:ts"}, back.IgnorePatterns)
}

func TestStore_MergeSkipsTimestampOnlyChanges(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	_, written, err := store.Merge(tid, NewResult(tid, 2, nil, []detect.Rule{rule(t, "json:ts")}, nil, t0))
	require.NoError(t, err)
	assert.True(t, written)
	before, err := os.ReadFile(tid.SidecarPath(root))
	require.NoError(t, err)

	_, written, err = store.Merge(tid, NewResult(tid, 2, nil, []detect.Rule{rule(t, "json:ts")}, nil, t1))
	require.NoError(t, err)
	assert.False(t, written)
	after, err := os.ReadFile(tid.SidecarPath(root))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	merged, written, err := store.Merge(tid, NewResult(tid, 3, nil, []detect.Rule{rule(t, "json:nonce")}, nil, t1))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, []string{"json:nonce", "json:ts"}, merged.IgnorePatterns)
}

func TestStore_MergeHonorsMaxSampleValues(t *testing.T) {
	values := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	fields := []detect.VaryingField{
		{Path: "ts", Dialect: body.DialectJSON, Endpoint: "POST /x", Confidence: detect.ConfidenceHigh, SampleValues: values},
	}

	r := NewResult(tid, 8, fields, []detect.Rule{rule(t, "json:ts")}, nil, t0)
	require.Len(t, r.DynamicFields, 1)
	assert.Equal(t, values, r.DynamicFields[0].SampleValues)

	root := t.TempDir()
	merged, written, err := NewStore(root, WithMaxSampleValues(10)).Merge(tid, r)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, values, merged.DynamicFields[0].SampleValues)

	back, err := Read(tid.SidecarPath(root))
	require.NoError(t, err)
	assert.Equal(t, values, back.DynamicFields[0].SampleValues)

	capped := Merge(nil, r, 3)
	assert.Equal(t, []string{"1", "2", "3"}, capped.DynamicFields[0].SampleValues)
}

func TestStore_LoadMissing(t *testing.T) {
	r, err := NewStore(t.TempDir()).Load(tid)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestFindAndReadAll(t *testing.T) {
	root := t.TempDir()
	ids := []TestID{
		{Class: "B", Method: "m"},
		{Class: "A", Method: "m"},
		{Class: "A", Method: "m", Index: 1},
	}
	for _, id := range ids {
		require.NoError(t, Write(id.SidecarPath(root), NewResult(id, 1, nil, nil, nil, t0)))
	}
	bad := TestID{Class: "C", Method: "broken"}.SidecarPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0o755))
	require.NoError(t, os.WriteFile(bad, []byte(`[]`), 0o644))

	paths, err := Find(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		ids[1].SidecarPath(root),
		ids[2].SidecarPath(root),
		ids[0].SidecarPath(root),
		bad,
	}, paths)

	entries, err := ReadAll(root)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.NoError(t, entries[0].Err)
	assert.ErrorIs(t, entries[3].Err, ErrCorrupt)
}
