package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppylopez/stablemock/pkg/body"
)

func mustParse(t *testing.T, raw string) *body.Tree {
	t.Helper()
	tree, ok := body.Parse(raw, "")
	require.True(t, ok, "parse %q", raw)
	return tree
}

func paths(obs []Observation) []string {
	out := make([]string, len(obs))
	for i, o := range obs {
		out[i] = o.Path
	}
	return out
}

func TestExtract_JSON(t *testing.T) {
	tree := mustParse(t, `{"user":{"id":7,"session":{"token":"abc"}},"items":[{"id":1},{"id":2}],"ok":true,"none":null,"empty":{},"list":[]}`)
	obs := Extract(tree)

	assert.Equal(t, []string{
		"user.id",
		"user.session.token",
		"items[0].id",
		"items[1].id",
		"ok",
		"none",
	}, paths(obs))

	assert.Equal(t, "abc", obs[1].Value)
	assert.Equal(t, body.KindString, obs[1].Kind)
	assert.Equal(t, body.KindNumber, obs[0].Kind)
	assert.Equal(t, body.KindNull, obs[5].Kind)
	for _, o := range obs {
		assert.Equal(t, body.DialectJSON, o.Dialect)
	}
}

func TestExtract_RootArrayAndScalar(t *testing.T) {
	obs := Extract(mustParse(t, `[{"a":1},2]`))
	assert.Equal(t, []string{"[0].a", "[1]"}, paths(obs))

	tree, ok := body.Parse(`"scalar"`, "application/json")
	require.True(t, ok)
	assert.Empty(t, Extract(tree))
}

func TestExtract_QuotedKeys(t *testing.T) {
	obs := Extract(mustParse(t, `{"a.b":{"c":1},"x[0]":2,"":3}`))
	assert.Equal(t, []string{`["a.b"].c`, `["x[0]"]`, `[""]`}, paths(obs))
}

func TestExtract_XML(t *testing.T) {
	tree := mustParse(t, `<Envelope><Header><Echo> tok </Echo></Header><Body><Item><Id>1</Id></Item><Item><Id>2</Id></Item><Empty/></Body></Envelope>`)
	obs := Extract(tree)

	assert.Equal(t, []string{
		XMLPath("Echo"),
		XMLPath("Id"),
		XMLPath("Id"),
		XMLPath("Empty"),
	}, paths(obs))
	assert.Equal(t, "tok", obs[0].Value)
	assert.Equal(t, "2", obs[2].Value)
	assert.Equal(t, "", obs[3].Value)
}

func TestExtract_XMLNamespaceAgnostic(t *testing.T) {
	a := Extract(mustParse(t, `<r xmlns:ns1="urn:a"><ns1:Echo>abc</ns1:Echo></r>`))
	b := Extract(mustParse(t, `<r xmlns:ns2="urn:b"><ns2:Echo>xyz</ns2:Echo></r>`))

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Path, b[0].Path)
	assert.Equal(t, `//*[local-name()='Echo']`, a[0].Path)
}

func TestExtract_GraphQLVariablesOnly(t *testing.T) {
	tree := mustParse(t, `{"query":"query Q($c: String) { a(c: $c) }","operationName":"Q","variables":{"c":"cur","filter":{"ids":[1,2]}}}`)
	require.Equal(t, body.DialectGraphQL, tree.Dialect)

	obs := Extract(tree)
	assert.Equal(t, []string{
		"variables.c",
		"variables.filter.ids[0]",
		"variables.filter.ids[1]",
	}, paths(obs))
	for _, o := range obs {
		assert.Equal(t, body.DialectGraphQL, o.Dialect)
	}
}

func TestExtract_GraphQLNullVariables(t *testing.T) {
	tree := mustParse(t, `{"query":"{ a }","variables":null}`)
	assert.Empty(t, Extract(tree))
}

func TestExtract_Deterministic(t *testing.T) {
	raw := `{"b":{"y":1,"x":2},"a":[3,4]}`
	first := Extract(mustParse(t, raw))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Extract(mustParse(t, raw)))
	}
}

func TestExtractSample(t *testing.T) {
	s := ExtractSample(3, mustParse(t, `{"a":1,"b":2}`))
	assert.Equal(t, 3, s.Index)
	assert.Equal(t, body.DialectJSON, s.Dialect)
	for _, o := range s.Observations {
		assert.Equal(t, 3, o.Sample)
	}

	empty := ExtractSample(0, nil)
	assert.Empty(t, empty.Observations)
}

func TestParseJSON_RoundTrip(t *testing.T) {
	for _, p := range []string{
		"a",
		"a.b.c",
		"items[2].id",
		"[0].a",
		`["a.b"].c`,
		`x["q\"uote"][3]`,
		`[""]`,
	} {
		t.Run(p, func(t *testing.T) {
			segs, err := ParseJSON(p)
			require.NoError(t, err)
			assert.Equal(t, p, FormatJSON(segs))
		})
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, p := range []string{"", "$", "a..b", "a.", ".", "a[", "a[x]", "a[-1]", `a["x`, "a]b", "a.[0]"} {
		t.Run(p, func(t *testing.T) {
			_, err := ParseJSON(p)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestParseJSON_DollarPrefix(t *testing.T) {
	segs, err := ParseJSON("$.a.b[1]")
	require.NoError(t, err)
	assert.Equal(t, "a.b[1]", FormatJSON(segs))
}

func TestLookupJSON(t *testing.T) {
	tree := mustParse(t, `{"a":{"b":[10,{"c":"hit"}]}}`)

	segs, err := ParseJSON("a.b[1].c")
	require.NoError(t, err)
	n := LookupJSON(tree.JSON, segs)
	require.NotNil(t, n)
	assert.Equal(t, "hit", n.Value)

	segs, _ = ParseJSON("a.b[5]")
	assert.Nil(t, LookupJSON(tree.JSON, segs))
	segs, _ = ParseJSON("a.zzz.c")
	assert.Nil(t, LookupJSON(tree.JSON, segs))
}

func TestJSONPath(t *testing.T) {
	segs, _ := ParseJSON(`items[2].id`)
	assert.Equal(t, "$.items[2].id", JSONPath(segs))

	segs, _ = ParseJSON(`["a.b"].c`)
	assert.Equal(t, "$['a.b'].c", JSONPath(segs))
}

func TestXMLLocalName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{XMLPath("Echo"), "Echo", true},
		{"Echo", "Echo", true},
		{"//Echo", "Echo", true},
		{"ns1:Echo", "Echo", true},
		{"//*[local-name()='']", "", false},
		{"1bad", "1bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := XMLLocalName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestFindXMLLeaves(t *testing.T) {
	tree := mustParse(t, `<a xmlns:p="urn:p"><p:Id>1</p:Id><b><Id>2</Id><Id><x/></Id></b></a>`)
	leaves := FindXMLLeaves(tree.XML, "Id")
	require.Len(t, leaves, 2)
	assert.Equal(t, "1", leaves[0].Text())
	assert.Equal(t, "2", leaves[1].Text())

	assert.Nil(t, FindXMLLeaves(nil, "Id"))
}

func TestLeafName(t *testing.T) {
	assert.Equal(t, "token", LeafName(body.DialectJSON, "user.session.token"))
	assert.Equal(t, "items", LeafName(body.DialectJSON, "items[3]"))
	assert.Equal(t, "b", LeafName(body.DialectJSON, "a.b[0][1]"))
	assert.Equal(t, "cursor", LeafName(body.DialectGraphQL, "variables.cursor"))
	assert.Equal(t, "TransactionIdentifier", LeafName(body.DialectXML, XMLPath("TransactionIdentifier")))
	assert.Equal(t, "", LeafName(body.DialectJSON, "[0]"))
}
