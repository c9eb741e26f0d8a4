package selector

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"
)

type item struct {
	name string
	sel  Selector
}

func (i item) DocumentSelector() Selector { return i.sel }

func names(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func TestSpecificity(t *testing.T) {
	doc := &Document{URI: "file:///src/app/main.go", LanguageID: "go"}

	tests := []struct {
		name string
		sel  Selector
		want int
	}{
		{"global", nil, 0},
		{"language", Language("go"), 4},
		{"pattern", Pattern("**/*.go"), 2},
		{"scheme", Filter("", "file", ""), 1},
		{"language and pattern", Filter("go", "", "**/*.go"), 6},
		{"all three", Filter("go", "file", "**/main.go"), 7},
		{"wrong language", Language("python"), NoMatch},
		{"wrong scheme", Filter("", "untitled", ""), NoMatch},
		{"wrong pattern", Pattern("**/*.ts"), NoMatch},
		{"absolute pattern", Pattern("/src/**/*.go"), 2},
		{"best filter wins", Selector{{Language: "go"}, {Language: "go", Pattern: "**/*.go"}}, 6},
		{"any filter may match", Selector{{Language: "python"}, {Pattern: "**/*.go"}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Specificity(doc))
		})
	}
}

func TestNoDocument(t *testing.T) {
	assert.Equal(t, 0, Language("go").Specificity(nil))
	assert.True(t, Language("go").Matches(nil))
}

func TestMatchKeepsInputOrder(t *testing.T) {
	items := []item{
		{"go", Language("go")},
		{"global", nil},
		{"ts", Pattern("**/*.ts")},
		{"go-pattern", Filter("go", "", "**/*.go")},
	}
	doc := &Document{URI: "file:///a/b.go", LanguageID: "go"}

	assert.Equal(t, []string{"go", "global", "go-pattern"}, names(Match(items, doc)))
	assert.Equal(t, []string{"go", "global", "ts", "go-pattern"}, names(Match(items, nil)))
}

func TestRankAndTiers(t *testing.T) {
	items := []item{
		{"global-1", nil},
		{"pattern", Pattern("**/*.go")},
		{"lang+pattern", Filter("go", "", "**/*.go")},
		{"global-2", nil},
		{"lang", Language("go")},
	}
	doc := &Document{URI: "file:///a/b.go", LanguageID: "go"}

	assert.Equal(t,
		[]string{"lang+pattern", "lang", "pattern", "global-1", "global-2"},
		names(Rank(items, doc)))

	tiers := Tiers(items, doc)
	require.Len(t, tiers, 4)
	assert.Equal(t, []string{"global-1", "global-2"}, names(tiers[3]))

	assert.Equal(t, []string{"lang+pattern"}, names(MostSpecific(items, doc)))
	assert.Equal(t, []string{"global-1"}, names(MostSpecific(items[:1], doc)))
	assert.Nil(t, MostSpecific([]item{{"ts", Pattern("*.ts")}}, doc))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Pattern("**/*.{go,mod}").Validate())
	assert.Error(t, Pattern("[").Validate())
}

func TestDocumentFromParams(t *testing.T) {
	doc, ok := DocumentFromParams(json.RawMessage(`{"textDocument":{"uri":"file:///a.go"},"position":{"line":1,"character":2}}`))
	require.True(t, ok)
	assert.Equal(t, "file:///a.go", doc.URI)

	doc, ok = DocumentFromParams(json.RawMessage(`{"textDocument":{"uri":"file:///a.go","languageId":"go","version":1,"text":""}}`))
	require.True(t, ok)
	assert.Equal(t, "go", doc.LanguageID)

	doc, ok = DocumentFromParams(json.RawMessage(`{"uri":"file:///b.go"}`))
	require.True(t, ok)
	assert.Equal(t, "file:///b.go", doc.URI)

	_, ok = DocumentFromParams(json.RawMessage(`{"query":"foo"}`))
	assert.False(t, ok)

	_, ok = DocumentFromParams(nil)
	assert.False(t, ok)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()

	open, err := json.Marshal(lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: "file:///a.py", LanguageID: "python", Version: 1},
	})
	require.NoError(t, err)
	tr.Observe("textDocument/didOpen", open)

	lang, ok := tr.LanguageOf("file:///a.py")
	require.True(t, ok)
	assert.Equal(t, "python", lang)

	doc, ok := tr.Document(json.RawMessage(`{"textDocument":{"uri":"file:///a.py"}}`))
	require.True(t, ok)
	assert.Equal(t, "python", doc.LanguageID)
	assert.True(t, Language("python").Matches(doc))

	tr.Observe("textDocument/didClose", json.RawMessage(`{"textDocument":{"uri":"file:///a.py"}}`))
	assert.Equal(t, 0, tr.Len())
}
