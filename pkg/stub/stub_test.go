package stub

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppylopez/stablemock/pkg/detect"
)

func mustRules(t *testing.T, ss ...string) []detect.Rule {
	t.Helper()
	rules, err := detect.ParseRules(ss)
	require.NoError(t, err)
	return rules
}

func mustMapping(t *testing.T, raw string) *Mapping {
	t.Helper()
	m, err := ParseMapping("mapping.json", []byte(raw))
	require.NoError(t, err)
	return m
}

const inlineMapping = `{
  "id": "5a1c",
  "request": {
    "method": "POST",
    "url": "/api/orders",
    "bodyPatterns": [
      {"equalToJson": {"id": "u1", "meta": {"ts": "2024-01-01T00:00:00Z"}, "n": 1}, "ignoreExtraElements": true}
    ]
  },
  "response": {"status": 200, "body": "{\"meta\":{\"ts\":\"keep\"}}"}
}`

func TestParseMapping_Shapes(t *testing.T) {
	single := mustMapping(t, inlineMapping)
	require.Len(t, single.Stubs, 1)
	assert.Equal(t, "POST /api/orders", single.Stubs[0].Endpoint().String())
	assert.Equal(t, 200, single.Stubs[0].Response.Status)

	wrapped := mustMapping(t, `{"mappings":[{"request":{"method":"GET","url":"/a"},"response":{"status":200}},{"request":{"urlPath":"/b"},"response":{"status":204}}]}`)
	require.Len(t, wrapped.Stubs, 2)
	assert.Equal(t, "GET", wrapped.Stubs[0].Endpoint().Method)
	assert.Equal(t, "ANY", wrapped.Stubs[1].Endpoint().Method)
	assert.Equal(t, "/b", wrapped.Stubs[1].Endpoint().URL)

	array := mustMapping(t, `[{"request":{"method":"GET","url":"/a"},"response":{"status":200}}]`)
	require.Len(t, array.Stubs, 1)
}

func TestParseMapping_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"request":`},
		{"no request", `{"response":{"status":200}}`},
		{"scalar", `"x"`},
		{"empty array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMapping("bad.json", []byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidMapping)
		})
	}
}

func TestRewrite_InlineJSONOnlyTouchesTarget(t *testing.T) {
	m := mustMapping(t, inlineMapping)
	out, change, err := NewRewriter().Rewrite(m, mustRules(t, "json:meta.ts"))
	require.NoError(t, err)

	want := strings.Replace(inlineMapping, `"2024-01-01T00:00:00Z"`, `"${json-unit.ignore}"`, 1)
	assert.Equal(t, want, string(out))
	assert.Equal(t, []string{"json:meta.ts"}, change.Applied)
	assert.Empty(t, change.Skipped)
	assert.True(t, change.Modified)

	// The input mapping is unchanged.
	assert.Equal(t, inlineMapping, string(m.Raw))
}

func TestRewrite_WholeSubtree(t *testing.T) {
	m := mustMapping(t, inlineMapping)
	out, _, err := NewRewriter().Rewrite(m, mustRules(t, "json:meta", "json:meta.ts"))
	require.NoError(t, err)

	want := strings.Replace(inlineMapping, `{"ts": "2024-01-01T00:00:00Z"}`, `"${json-unit.ignore}"`, 1)
	assert.Equal(t, want, string(out))
}

func TestRewrite_Idempotent(t *testing.T) {
	rw := NewRewriter()
	rules := mustRules(t, "json:meta.ts", "json:id")

	first, _, err := rw.Rewrite(mustMapping(t, inlineMapping), rules)
	require.NoError(t, err)
	second, change, err := rw.Rewrite(mustMapping(t, string(first)), rules)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.False(t, change.Modified)
	assert.Equal(t, []string{"json:id", "json:meta.ts"}, change.Applied)
}

func TestRewrite_UnmatchedRuleSkipped(t *testing.T) {
	m := mustMapping(t, inlineMapping)
	out, change, err := NewRewriter().Rewrite(m, mustRules(t, "json:absent.field", "xml:ts"))
	require.NoError(t, err)

	assert.Equal(t, inlineMapping, string(out))
	assert.Empty(t, change.Applied)
	assert.Equal(t, []string{"json:absent.field", "xml://*[local-name()='ts']"}, change.Skipped)
	assert.False(t, change.Modified)
}

func TestRewrite_StringEqualToJSON(t *testing.T) {
	raw := `{"request":{"method":"POST","url":"/x","bodyPatterns":[{"equalToJson":"{\"id\":\"a\",\"ts\":\"123\",\"html\":\"<b>\"}","ignoreExtraElements":true}]},"response":{"status":200}}`
	out, change, err := NewRewriter().Rewrite(mustMapping(t, raw), mustRules(t, "ts"))
	require.NoError(t, err)

	want := strings.Replace(raw, `\"123\"`, `\"${json-unit.ignore}\"`, 1)
	assert.Equal(t, want, string(out))
	assert.Equal(t, []string{"json:ts"}, change.Applied)

	rewritten := mustMapping(t, string(out))
	got, err := Lookup(rewritten, mustRules(t, "ts")[0])
	require.NoError(t, err)
	assert.Equal(t, []any{JSONPlaceholder}, got)
}

func TestRewrite_XMLSetsPlaceholderAndEnablesPlaceholders(t *testing.T) {
	raw := `{"request":{"method":"POST","url":"/soap","bodyPatterns":[{"equalToXml":"<soap:Envelope xmlns:soap=\"http://schemas.xmlsoap.org/soap/envelope/\"><soap:Body><ns1:Echo xmlns:ns1=\"urn:echo\"><ns1:ts>1700000000</ns1:ts><ns1:name>x</ns1:name></ns1:Echo></soap:Body></soap:Envelope>"}]},"response":{"status":200}}`
	rw := NewRewriter()
	out, change, err := rw.Rewrite(mustMapping(t, raw), mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.Equal(t, []string{"xml://*[local-name()='ts']"}, change.Applied)

	m := mustMapping(t, string(out))
	bp := m.Stubs[0].Request.BodyPatterns[0]
	assert.True(t, bp.EnablePlaceholders)
	assert.Contains(t, bp.EqualToXML, "<ns1:ts>${xmlunit.ignore}</ns1:ts>")
	assert.Contains(t, bp.EqualToXML, "<ns1:name>x</ns1:name>")
	assert.True(t, strings.HasSuffix(string(out), `"response":{"status":200}}`))

	again, change, err := rw.Rewrite(m, mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))
	assert.False(t, change.Modified)
}

func TestRewrite_XMLLeavesOtherBytesUntouched(t *testing.T) {
	raw := `{"request":{"bodyPatterns":[{"equalToXml":"<r a='1' xmlns:x=\"urn:x\"><Name>café &#233;<\/Name><E></E><ts>9</ts><x:ts/></r>"}]},"response":{"status":200}}`
	rw := NewRewriter()
	out, change, err := rw.Rewrite(mustMapping(t, raw), mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.True(t, change.Modified)
	assert.Equal(t,
		`{"request":{"bodyPatterns":[{"equalToXml":"<r a='1' xmlns:x=\"urn:x\"><Name>café &#233;<\/Name><E></E><ts>${xmlunit.ignore}</ts><x:ts>${xmlunit.ignore}</x:ts></r>", "enablePlaceholders": true}]},"response":{"status":200}}`,
		string(out))

	again, change, err := rw.Rewrite(mustMapping(t, string(out)), mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.False(t, change.Modified)
	assert.Equal(t, string(out), string(again))
}

func TestLiteralOffsets(t *testing.T) {
	tests := []struct {
		lit  string
		want []int
	}{
		{`"ab"`, []int{1, 2, 3}},
		{`"a\"b"`, []int{1, 2, 4, 5}},
		{`"\u00e9x"`, []int{1, 1, 7, 8}},
		{`"\ud83d\ude00"`, []int{1, 1, 1, 1, 13}},
		{`"\ud83dx"`, []int{1, 1, 1, 7, 8}},
		{`"é"`, []int{1, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.lit, func(t *testing.T) {
			got, err := literalOffsets(tt.lit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			var decoded string
			require.NoError(t, json.Unmarshal([]byte(tt.lit), &decoded))
			assert.Len(t, got, len(decoded)+1)
		})
	}

	_, err := literalOffsets(`abc`)
	assert.Error(t, err)
	_, err = literalOffsets(`"\u12"`)
	assert.Error(t, err)
}

func TestRewrite_XMLFlipsDisabledPlaceholders(t *testing.T) {
	raw := `{"request":{"bodyPatterns":[{"equalToXml":"<a><ts>1</ts></a>","enablePlaceholders":false}]},"response":{"status":200}}`
	out, _, err := NewRewriter().Rewrite(mustMapping(t, raw), mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"enablePlaceholders":true`)
	assert.NotContains(t, string(out), "false")
}

func TestRewrite_XMLAlreadyIgnoredStillEnablesPlaceholders(t *testing.T) {
	raw := `{"request":{"bodyPatterns":[{"equalToXml":"<a><ts>${xmlunit.ignore}</ts></a>"}]},"response":{"status":200}}`
	out, change, err := NewRewriter().Rewrite(mustMapping(t, raw), mustRules(t, "xml:ts"))
	require.NoError(t, err)
	assert.True(t, change.Modified)
	assert.Equal(t, `{"request":{"bodyPatterns":[{"equalToXml":"<a><ts>${xmlunit.ignore}</ts></a>", "enablePlaceholders": true}]},"response":{"status":200}}`, string(out))
}

func TestRewrite_GraphQLRulesOnlyApplyToGraphQLBodies(t *testing.T) {
	gql := `{"request":{"method":"POST","url":"/graphql","bodyPatterns":[{"equalToJson":{"query":"query Q($id: ID!) { a(id: $id) }","variables":{"id":"1"}}}]},"response":{"status":200}}`
	plain := `{"request":{"method":"POST","url":"/rest","bodyPatterns":[{"equalToJson":{"variables":{"id":"1"}}}]},"response":{"status":200}}`
	rules := mustRules(t, "gql:variables.id")
	rw := NewRewriter()

	out, change, err := rw.Rewrite(mustMapping(t, gql), rules)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"variables":{"id":"${json-unit.ignore}"}`)
	assert.Equal(t, []string{"gql:variables.id"}, change.Applied)

	out, change, err = rw.Rewrite(mustMapping(t, plain), rules)
	require.NoError(t, err)
	assert.Equal(t, plain, string(out))
	assert.Empty(t, change.Applied)
}

func TestRewrite_ArrayIndexAndQuotedKey(t *testing.T) {
	raw := `{"request":{"bodyPatterns":[{"equalToJson":{"items":[{"id":"a"},{"id":"b"}],"a.b":"v"}}]},"response":{"status":200}}`
	out, _, err := NewRewriter().Rewrite(mustMapping(t, raw), mustRules(t, "items[1].id", `["a.b"]`))
	require.NoError(t, err)
	assert.Equal(t,
		`{"request":{"bodyPatterns":[{"equalToJson":{"items":[{"id":"a"},{"id":"${json-unit.ignore}"}],"a.b":"${json-unit.ignore}"}}]},"response":{"status":200}}`,
		string(out))
}

func TestRewrite_ResponseNeverTouched(t *testing.T) {
	raw := `{"request":{"method":"GET","url":"/a"},"response":{"status":200,"jsonBody":{"ts":"1"}}}`
	out, change, err := NewRewriter().Rewrite(mustMapping(t, raw), mustRules(t, "ts"))
	require.NoError(t, err)
	assert.Equal(t, raw, string(out))
	assert.Equal(t, []string{"json:ts"}, change.Skipped)
}

func TestApply_ReturnsRewrittenCopies(t *testing.T) {
	in := []*Mapping{
		mustMapping(t, inlineMapping),
		mustMapping(t, `{"request":{"method":"GET","url":"/a"},"response":{"status":200}}`),
	}
	out, changes, err := NewRewriter().Apply(mustRules(t, "meta.ts"), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, changes, 2)

	assert.NotSame(t, in[0], out[0])
	assert.Same(t, in[1], out[1])
	assert.Contains(t, string(out[0].Raw), JSONPlaceholder)
	assert.NotContains(t, string(in[0].Raw), JSONPlaceholder)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestApplyDir(t *testing.T) {
	dir := t.TempDir()
	untouched := `{"request":{"method":"GET","url":"/a"},"response":{"status":200}}`
	writeFile(t, filepath.Join(dir, "mappings", "orders.json"), inlineMapping)
	writeFile(t, filepath.Join(dir, "mappings", "nested", "get.json"), untouched)
	writeFile(t, filepath.Join(dir, "__files", "body.json"), `{"ts":"1"}`)

	changes, err := NewRewriter(WithConcurrency(2)).ApplyDir(context.Background(), dir, mustRules(t, "json:meta.ts"))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	got, err := os.ReadFile(filepath.Join(dir, "mappings", "orders.json"))
	require.NoError(t, err)
	assert.Contains(t, string(got), `"ts": "${json-unit.ignore}"`)

	got, err = os.ReadFile(filepath.Join(dir, "mappings", "nested", "get.json"))
	require.NoError(t, err)
	assert.Equal(t, untouched, string(got))

	got, err = os.ReadFile(filepath.Join(dir, "__files", "body.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ts":"1"}`, string(got))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, filepath.Join(dir, "mappings", "nested", "get.json"), loaded[0].Path)
}

func TestApplyDir_InvalidMappingFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mappings", "bad.json"), `{"request":`)

	_, err := NewRewriter().ApplyDir(context.Background(), dir, mustRules(t, "ts"))
	assert.ErrorIs(t, err, ErrInvalidMapping)
}

func TestApplyDir_NoMappings(t *testing.T) {
	changes, err := NewRewriter().ApplyDir(context.Background(), t.TempDir(), mustRules(t, "ts"))
	require.NoError(t, err)
	assert.Empty(t, changes)
}
