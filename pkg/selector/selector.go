// Package selector decides which handlers apply to a document. A selector
// is an OR of document filters; a handler without one is global.
package selector

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"
)

// Specificity weights. A filter's score is the sum of the constraints it
// sets, so language+pattern beats pattern-only beats global.
const (
	weightLanguage = 4
	weightPattern  = 2
	weightScheme   = 1
)

// NoMatch is the specificity of a selector that rejects the document.
const NoMatch = -1

// Document is the context a request is about.
type Document struct {
	URI        string
	LanguageID string
}

func (d *Document) split() (scheme, path string) {
	u, err := url.Parse(d.URI)
	if err != nil {
		return "", d.URI
	}
	if u.Opaque != "" {
		return u.Scheme, u.Opaque
	}
	return u.Scheme, u.Path
}

// Selector is an OR of document filters. The empty selector is global.
type Selector []lsp.DocumentFilter

// Filter builds a one-filter selector.
func Filter(language, scheme, pattern string) Selector {
	return Selector{{Language: language, Scheme: scheme, Pattern: pattern}}
}

// Language builds a selector matching one language id.
func Language(id string) Selector {
	return Filter(id, "", "")
}

// Pattern builds a selector matching a glob.
func Pattern(glob string) Selector {
	return Filter("", "", glob)
}

// IsGlobal reports whether the selector applies to every document.
func (s Selector) IsGlobal() bool {
	return len(s) == 0
}

// Validate reports the first malformed glob pattern.
func (s Selector) Validate() error {
	for _, f := range s {
		if f.Pattern != "" && !doublestar.ValidatePattern(f.Pattern) {
			return doublestar.ErrBadPattern
		}
	}
	return nil
}

// Specificity scores how precisely s targets doc: the best score of a
// matching filter, 0 for a global selector, NoMatch when nothing matches.
func (s Selector) Specificity(doc *Document) int {
	if s.IsGlobal() {
		return 0
	}
	if doc == nil {
		return 0
	}
	scheme, path := doc.split()
	best := NoMatch
	for _, f := range s {
		score, ok := filterScore(f, doc, scheme, path)
		if ok && score > best {
			best = score
		}
	}
	return best
}

// Matches reports whether s applies to doc.
func (s Selector) Matches(doc *Document) bool {
	return s.Specificity(doc) != NoMatch
}

func filterScore(f lsp.DocumentFilter, doc *Document, scheme, path string) (int, bool) {
	score := 0
	if f.Language != "" {
		if f.Language != doc.LanguageID {
			return 0, false
		}
		score += weightLanguage
	}
	if f.Scheme != "" {
		if f.Scheme != scheme {
			return 0, false
		}
		score += weightScheme
	}
	if f.Pattern != "" {
		if !globMatch(f.Pattern, path) {
			return 0, false
		}
		score += weightPattern
	}
	return score, true
}

// globMatch matches relative patterns against the path without its
// leading slash so "**/*.go" matches "/src/main.go".
func globMatch(pattern, path string) bool {
	if !strings.HasPrefix(pattern, "/") {
		path = strings.TrimPrefix(path, "/")
	}
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

// Scoped is anything carrying a selector, such as a handler descriptor.
type Scoped interface {
	DocumentSelector() Selector
}

// Match keeps global items and items whose selector matches doc, in input
// order. A nil doc keeps everything.
func Match[T Scoped](items []T, doc *Document) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if doc == nil || it.DocumentSelector().Matches(doc) {
			out = append(out, it)
		}
	}
	return out
}

// Rank returns the matching items ordered by decreasing specificity. Items
// with equal specificity keep their input order.
func Rank[T Scoped](items []T, doc *Document) []T {
	type scored struct {
		item  T
		score int
	}
	ranked := make([]scored, 0, len(items))
	for _, it := range items {
		score := it.DocumentSelector().Specificity(doc)
		if score == NoMatch {
			continue
		}
		ranked = append(ranked, scored{it, score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]T, len(ranked))
	for i, r := range ranked {
		out[i] = r.item
	}
	return out
}

// Tiers groups the matching items by specificity, most specific first.
func Tiers[T Scoped](items []T, doc *Document) [][]T {
	ranked := Rank(items, doc)
	var tiers [][]T
	last := NoMatch
	for _, it := range ranked {
		score := it.DocumentSelector().Specificity(doc)
		if len(tiers) == 0 || score != last {
			tiers = append(tiers, nil)
			last = score
		}
		tiers[len(tiers)-1] = append(tiers[len(tiers)-1], it)
	}
	return tiers
}

// MostSpecific returns the top tier of matching items.
func MostSpecific[T Scoped](items []T, doc *Document) []T {
	tiers := Tiers(items, doc)
	if len(tiers) == 0 {
		return nil
	}
	return tiers[0]
}

// DocumentFromParams extracts the document a request is about from its
// params: textDocument.uri, or a top level uri. The language id is taken
// from textDocument.languageId when the params carry it.
func DocumentFromParams(params json.RawMessage) (*Document, bool) {
	if len(params) == 0 {
		return nil, false
	}
	res := gjson.GetManyBytes(params, "textDocument.uri", "uri", "textDocument.languageId")
	uri := res[0]
	if uri.Type != gjson.String {
		uri = res[1]
	}
	if uri.Type != gjson.String || uri.Str == "" {
		return nil, false
	}
	return &Document{URI: uri.Str, LanguageID: res[2].Str}, true
}
