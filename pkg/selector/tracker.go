package selector

import (
	"encoding/json"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// Tracker remembers the language id of every open document so requests
// that only carry a uri can still be matched by language.
type Tracker struct {
	languages cmap.ConcurrentMap[string, string]
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{languages: cmap.New[string]()}
}

// Open records a document's language id.
func (t *Tracker) Open(uri, languageID string) {
	t.languages.Set(uri, languageID)
}

// Close forgets a document.
func (t *Tracker) Close(uri string) {
	t.languages.Remove(uri)
}

// LanguageOf returns the recorded language id of uri.
func (t *Tracker) LanguageOf(uri string) (string, bool) {
	return t.languages.Get(uri)
}

// Len returns the number of open documents.
func (t *Tracker) Len() int {
	return t.languages.Count()
}

// Observe updates the tracker from didOpen and didClose params.
func (t *Tracker) Observe(method string, params json.RawMessage) {
	switch method {
	case protocol.MethodDidOpen:
		res := gjson.GetManyBytes(params, "textDocument.uri", "textDocument.languageId")
		if res[0].Str != "" {
			t.Open(res[0].Str, res[1].Str)
		}
	case protocol.MethodDidClose:
		if uri := gjson.GetBytes(params, "textDocument.uri").Str; uri != "" {
			t.Close(uri)
		}
	}
}

// Document resolves the document of params, filling in the language id
// from the tracker when the params do not carry one.
func (t *Tracker) Document(params json.RawMessage) (*Document, bool) {
	doc, ok := DocumentFromParams(params)
	if !ok {
		return nil, false
	}
	if doc.LanguageID == "" && t != nil {
		if lang, found := t.LanguageOf(doc.URI); found {
			doc.LanguageID = lang
		}
	}
	return doc, true
}
