package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
)

func samplesOf(t *testing.T, raws ...string) []fieldpath.Sample {
	t.Helper()
	out := make([]fieldpath.Sample, 0, len(raws))
	for i, raw := range raws {
		tree, ok := body.Parse(raw, "")
		require.True(t, ok, "parse %q", raw)
		out = append(out, fieldpath.ExtractSample(i, tree))
	}
	return out
}

func variationPaths(vars []Variation) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Path
	}
	return out
}

func TestCompare_SingleSampleHasNoVariations(t *testing.T) {
	assert.Empty(t, Compare(samplesOf(t, `{"ts":"1","id":"x"}`)))
	assert.Empty(t, Compare(nil))
}

func TestCompare_ConstantAndVarying(t *testing.T) {
	vars := Compare(samplesOf(t,
		`{"id":"u1","ts":"100"}`,
		`{"id":"u1","ts":"200"}`,
		`{"id":"u1","ts":"300"}`,
	))
	require.Len(t, vars, 1)
	assert.Equal(t, "ts", vars[0].Path)
	assert.Equal(t, []string{"100", "200", "300"}, vars[0].Values)
	assert.Equal(t, 3, vars[0].Present)
	assert.False(t, vars[0].Missing)
}

func TestCompare_MissingPathIsVariation(t *testing.T) {
	vars := Compare(samplesOf(t, `{"a":1,"b":2}`, `{"a":1}`))
	require.Len(t, vars, 1)
	assert.Equal(t, "b", vars[0].Path)
	assert.True(t, vars[0].Missing)
	assert.Equal(t, []string{"2"}, vars[0].Values)
}

func TestCompare_KindMatters(t *testing.T) {
	vars := Compare(samplesOf(t, `{"a":1}`, `{"a":"1"}`))
	assert.Equal(t, []string{"a"}, variationPaths(vars))
}

func TestCompare_FirstSeenOrder(t *testing.T) {
	vars := Compare(samplesOf(t,
		`{"z":1,"a":1,"m":1}`,
		`{"q":9,"m":2,"a":2,"z":2}`,
	))
	assert.Equal(t, []string{"z", "a", "m", "q"}, variationPaths(vars))
}

func TestCompare_XMLNamespaceAgnostic(t *testing.T) {
	vars := Compare(samplesOf(t,
		`<r xmlns:ns1="urn:a"><ns1:Echo>abc</ns1:Echo><Fixed>1</Fixed></r>`,
		`<r xmlns:ns2="urn:b"><ns2:Echo>xyz</ns2:Echo><Fixed>1</Fixed></r>`,
	))
	require.Len(t, vars, 1)
	assert.Equal(t, `//*[local-name()='Echo']`, vars[0].Path)
	assert.Equal(t, body.DialectXML, vars[0].Dialect)
	assert.Equal(t, []string{"abc", "xyz"}, vars[0].Values)
}

func TestCompare_XMLRepeatedElements(t *testing.T) {
	same := Compare(samplesOf(t,
		`<r><Id>1</Id><Id>2</Id></r>`,
		`<r><Id>1</Id><Id>2</Id></r>`,
	))
	assert.Empty(t, same)

	changed := Compare(samplesOf(t,
		`<r><Id>1</Id><Id>2</Id></r>`,
		`<r><Id>1</Id><Id>3</Id></r>`,
	))
	require.Len(t, changed, 1)
	assert.Equal(t, []string{"1", "2", "1", "3"}, changed[0].Values)
	assert.Equal(t, []string{"1", "2", "3"}, changed[0].Distinct())
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(nil)
	tests := []struct {
		name   string
		path   string
		values []string
		want   Confidence
	}{
		{"keyword exact", "nonce", []string{"a b", "c d"}, ConfidenceHigh},
		{"keyword abbreviation", "ts", []string{"100", "200"}, ConfidenceHigh},
		{"trailing word is not a keyword", "header.requestTimestamp", []string{"a b", "c d"}, ConfidenceLow},
		{"birthDate is not a keyword", "person.birthDate", []string{"a b", "c d"}, ConfidenceLow},
		{"pageToken is not a keyword", "pageToken", []string{"a b", "c d"}, ConfidenceLow},
		{"prefixed kebab is not a keyword", "X-Session-Id", []string{"a b", "c d"}, ConfidenceLow},
		{"keyword separators folded", "Request-ID", []string{"a b", "c d"}, ConfidenceHigh},
		{"keyword snake", "meta.echo_token", []string{"a b", "c d"}, ConfidenceHigh},
		{"keyword inside array", "events[2].correlationId", []string{"a b", "c d"}, ConfidenceHigh},
		{"keyword in xml", `//*[local-name()='EchoToken']`, []string{"a b", "c d"}, ConfidenceHigh},
		{"no substring keyword match", "candidate", []string{"a b", "c d"}, ConfidenceLow},
		{"epoch seconds", "created", []string{"1700000000", "1700000100"}, ConfidenceHigh},
		{"epoch millis", "created", []string{"1700000000000", "1700000000123"}, ConfidenceHigh},
		{"epoch nanos", "created", []string{"1700000000000000000", "1700000000000000001"}, ConfidenceHigh},
		{"iso timestamps", "a.b.c", []string{"2024-01-01T00:00:00Z", "2024-01-02T10:11:12.345+02:00"}, ConfidenceHigh},
		{"iso dates", "due", []string{"2024-01-01", "2024-02-01"}, ConfidenceHigh},
		{"rfc1123", "updated_at", []string{"Mon, 02 Jan 2006 15:04:05 MST", "Tue, 03 Jan 2006 15:04:05 MST"}, ConfidenceHigh},
		{"uuids", "ref", []string{"123e4567-e89b-12d3-a456-426614174000", "9f0c1e6a-3b5d-4c2e-8f7a-1d2c3b4a5e6f"}, ConfidenceHigh},
		{"mixed shapes", "ref", []string{"123e4567-e89b-12d3-a456-426614174000", "2024-01-01"}, ConfidenceMedium},
		{"counter", "seq", []string{"1", "2", "3"}, ConfidenceMedium},
		{"decreasing numbers are distinct tokens", "seq", []string{"3", "2"}, ConfidenceMedium},
		{"distinct tokens", "code", []string{"AB12", "CD34"}, ConfidenceMedium},
		{"repeated tokens", "code", []string{"AB12", "AB12", "CD34"}, ConfidenceLow},
		{"free text", "comment", []string{"hello there", "general kenobi"}, ConfidenceLow},
		{"single value", "comment", []string{"AB12"}, ConfidenceLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path, tt.values))
		})
	}
}

func TestSplitWords(t *testing.T) {
	tests := map[string][]string{
		"HTTPRequestID":    {"HTTP", "Request", "ID"},
		"X-Request-ID":     {"X", "Request", "ID"},
		"echo_token":       {"echo", "token"},
		"requestTimestamp": {"request", "Timestamp"},
		"v2Token":          {"v2", "Token"},
		"":                 nil,
	}
	for in, want := range tests {
		assert.Equal(t, want, splitWords(in), in)
	}
}

func TestPolicy_UserRulesRunFirst(t *testing.T) {
	p, err := NewPolicy(PolicySpec{
		Rules: []UserRule{
			{When: `name == "cursor"`, Confidence: ConfidenceHigh},
			{When: `name == "ts" && dialect == "json"`, Confidence: ConfidenceLow},
			{When: `all(values, {# matches "^[0-9a-f]{8}$"})`, Confidence: ConfidenceHigh},
		},
	})
	require.NoError(t, err)
	c := NewClassifier(p)

	assert.Equal(t, ConfidenceHigh, c.Classify("variables.cursor", []string{"x y", "z w"}))
	assert.Equal(t, ConfidenceLow, c.Classify("ts", []string{"1700000000", "1700000001"}))
	assert.Equal(t, ConfidenceHigh, c.Classify("blob", []string{"deadbeef", "cafebabe"}))
	assert.Equal(t, ConfidenceHigh, c.Classify("nonce", []string{"x y", "z w"}))
}

func TestPolicy_CustomKeywordsAndOrder(t *testing.T) {
	p, err := NewPolicy(PolicySpec{
		Keywords:      []string{"cursor", "Page-Token"},
		TrailingWords: true,
		Order:         []Heuristic{HeuristicKeyword, HeuristicCounter},
	})
	require.NoError(t, err)
	c := NewClassifier(p)

	assert.Equal(t, ConfidenceHigh, c.Classify("cursor", []string{"x y", "z w"}))
	assert.Equal(t, ConfidenceHigh, c.Classify("nextPageToken", []string{"x y", "z w"}))
	assert.Equal(t, ConfidenceLow, c.Classify("timestamp", []string{"x y", "z w"}))
	// shape is no longer in the chain
	assert.Equal(t, ConfidenceMedium, c.Classify("created", []string{"1700000000", "1700000100"}))
	assert.Equal(t, ConfidenceLow, c.Classify("ref", []string{"123e4567-e89b-12d3-a456-426614174000", "9f0c1e6a-3b5d-4c2e-8f7a-1d2c3b4a5e6f"}))
}

func TestPolicy_TrailingWords(t *testing.T) {
	exact := DefaultPolicy()
	p, err := NewPolicy(PolicySpec{TrailingWords: true})
	require.NoError(t, err)

	for _, name := range []string{"requestTimestamp", "X-Request-ID", "expiryTime", "birthDate"} {
		assert.False(t, exact.Keyword(name), name)
		assert.True(t, p.Keyword(name), name)
	}
	for _, name := range []string{"timestamp", "echo_token", "correlationId"} {
		assert.True(t, exact.Keyword(name), name)
		assert.True(t, p.Keyword(name), name)
	}
	assert.False(t, p.Keyword("candidate"))
}

func TestNewPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec PolicySpec
	}{
		{"unknown heuristic", PolicySpec{Order: []Heuristic{"vibes"}}},
		{"bad expression", PolicySpec{Rules: []UserRule{{When: "name ==", Confidence: ConfidenceHigh}}}},
		{"non-bool expression", PolicySpec{Rules: []UserRule{{When: "distinct + 1", Confidence: ConfidenceHigh}}}},
		{"unknown variable", PolicySpec{Rules: []UserRule{{When: "colour == 1", Confidence: ConfidenceHigh}}}},
		{"missing confidence", PolicySpec{Rules: []UserRule{{When: "true"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestConfidence_Text(t *testing.T) {
	for _, c := range []Confidence{ConfidenceLow, ConfidenceMedium, ConfidenceHigh} {
		text, err := c.MarshalText()
		require.NoError(t, err)
		var back Confidence
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}

	got, err := ParseConfidence(" medium ")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, got)

	_, err = ParseConfidence("SURE")
	assert.ErrorIs(t, err, ErrInvalidConfidence)
	_, err = Confidence(0).MarshalText()
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestClassifier_FieldsCapsValues(t *testing.T) {
	c := NewClassifier(nil, WithMaxSampleValues(2))
	fields := c.Fields("POST /x", []Variation{{
		Path:    "nonce",
		Dialect: body.DialectJSON,
		Values:  []string{"a", "b", "a", "c"},
		Present: 4,
	}})
	require.Len(t, fields, 1)
	assert.Equal(t, []string{"a", "b"}, fields[0].SampleValues)
	assert.Equal(t, "POST /x", fields[0].Endpoint)
	assert.Equal(t, ConfidenceHigh, fields[0].Confidence)
}
