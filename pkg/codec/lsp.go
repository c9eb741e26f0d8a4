package codec

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"
)

// LocationOrLink is a definition-style result item: a plain Location or a
// LocationLink. Exactly one field is set.
type LocationOrLink struct {
	Location *lsp.Location
	Link     *lsp.LocationLink
}

var locationOrLink = []Discriminator{
	{Name: "Location", Match: HasKey("range")},
	{Name: "LocationLink", Match: HasAnyKey("targetUri", "targetRange")},
}

func (v LocationOrLink) MarshalJSON() ([]byte, error) {
	switch {
	case v.Location != nil:
		return wire.Marshal(v.Location)
	case v.Link != nil:
		return wire.Marshal(v.Link)
	default:
		return nil, fmt.Errorf("empty LocationOrLink")
	}
}

func (v *LocationOrLink) UnmarshalJSON(data []byte) error {
	i, err := Discriminate("Location or LocationLink", data, locationOrLink...)
	if err != nil {
		return err
	}
	*v = LocationOrLink{}
	if i == 0 {
		v.Location = &lsp.Location{}
		return Decode(data, v.Location, "Location")
	}
	v.Link = &lsp.LocationLink{}
	return Decode(data, v.Link, "LocationLink")
}

// Definition is the result of definition-like requests: one item or a list.
type Definition = OneOrMany[LocationOrLink]

// CommandOrCodeAction is an item of a textDocument/codeAction result.
type CommandOrCodeAction struct {
	Command    *lsp.Command
	CodeAction *lsp.CodeAction
}

var commandOrCodeAction = []Discriminator{
	// a Command's "command" is a string; a CodeAction's is an object
	{Name: "Command", Match: HasStringKey("command")},
	{Name: "CodeAction", Match: HasKey("title")},
}

func (v CommandOrCodeAction) MarshalJSON() ([]byte, error) {
	switch {
	case v.Command != nil:
		return wire.Marshal(v.Command)
	case v.CodeAction != nil:
		return wire.Marshal(v.CodeAction)
	default:
		return nil, fmt.Errorf("empty CommandOrCodeAction")
	}
}

func (v *CommandOrCodeAction) UnmarshalJSON(data []byte) error {
	i, err := Discriminate("Command or CodeAction", data, commandOrCodeAction...)
	if err != nil {
		return err
	}
	*v = CommandOrCodeAction{}
	if i == 0 {
		v.Command = &lsp.Command{}
		return Decode(data, v.Command, "Command")
	}
	v.CodeAction = &lsp.CodeAction{}
	return Decode(data, v.CodeAction, "CodeAction")
}

// SymbolResult is an item of a textDocument/documentSymbol result.
type SymbolResult struct {
	Information *lsp.SymbolInformation
	Symbol      *lsp.DocumentSymbol
}

var symbolResult = []Discriminator{
	{Name: "SymbolInformation", Match: HasKey("location")},
	{Name: "DocumentSymbol", Match: HasKey("selectionRange")},
}

func (v SymbolResult) MarshalJSON() ([]byte, error) {
	switch {
	case v.Information != nil:
		return wire.Marshal(v.Information)
	case v.Symbol != nil:
		return wire.Marshal(v.Symbol)
	default:
		return nil, fmt.Errorf("empty SymbolResult")
	}
}

func (v *SymbolResult) UnmarshalJSON(data []byte) error {
	i, err := Discriminate("SymbolInformation or DocumentSymbol", data, symbolResult...)
	if err != nil {
		return err
	}
	*v = SymbolResult{}
	if i == 0 {
		v.Information = &lsp.SymbolInformation{}
		return Decode(data, v.Information, "SymbolInformation")
	}
	v.Symbol = &lsp.DocumentSymbol{}
	return Decode(data, v.Symbol, "DocumentSymbol")
}

// MarkedString is the legacy hover content form. Without a language it is
// encoded as a bare markdown string.
type MarkedString struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

var markedString = []Discriminator{
	{Name: "string", Match: IsString},
	{Name: "code block", Match: HasKey("language")},
}

func (m MarkedString) MarshalJSON() ([]byte, error) {
	if m.Language == "" {
		return wire.Marshal(m.Value)
	}
	type plain MarkedString
	return wire.Marshal(plain(m))
}

func (m *MarkedString) UnmarshalJSON(data []byte) error {
	i, err := Discriminate("MarkedString", data, markedString...)
	if err != nil {
		return err
	}
	*m = MarkedString{}
	if i == 0 {
		return Decode(data, &m.Value, "MarkedString")
	}
	type plain MarkedString
	return Decode(data, (*plain)(m), "MarkedString")
}

// HoverContents is MarkupContent or one or more MarkedStrings.
type HoverContents struct {
	Markup *lsp.MarkupContent
	Marked OneOrMany[MarkedString]
}

var hoverContents = []Discriminator{
	{Name: "MarkupContent", Match: HasKey("kind")},
	{Name: "MarkedString", Match: func(v gjson.Result) bool { return IsString(v) || IsArray(v) || HasKey("language")(v) }},
}

func (h HoverContents) MarshalJSON() ([]byte, error) {
	if h.Markup != nil {
		return wire.Marshal(h.Markup)
	}
	return h.Marked.MarshalJSON()
}

func (h *HoverContents) UnmarshalJSON(data []byte) error {
	i, err := Discriminate("hover contents", data, hoverContents...)
	if err != nil {
		return err
	}
	*h = HoverContents{}
	if i == 0 {
		h.Markup = &lsp.MarkupContent{}
		return Decode(data, h.Markup, "MarkupContent")
	}
	return h.Marked.UnmarshalJSON(data)
}

// TextDocumentSync is the server's sync capability: a bare sync kind or the
// full options object.
type TextDocumentSync struct {
	Kind    *SyncKind
	Options *lsp.TextDocumentSyncOptions
}

var textDocumentSync = []Discriminator{
	{Name: "TextDocumentSyncKind", Match: IsNumber},
	{Name: "TextDocumentSyncOptions", Match: IsObject},
}

func (s TextDocumentSync) MarshalJSON() ([]byte, error) {
	switch {
	case s.Kind != nil:
		return s.Kind.MarshalJSON()
	case s.Options != nil:
		return wire.Marshal(s.Options)
	default:
		return jsonNull, nil
	}
}

func (s *TextDocumentSync) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*s = TextDocumentSync{}
		return nil
	}
	i, err := Discriminate("text document sync", data, textDocumentSync...)
	if err != nil {
		return err
	}
	*s = TextDocumentSync{}
	if i == 0 {
		s.Kind = new(SyncKind)
		return s.Kind.UnmarshalJSON(data)
	}
	s.Options = &lsp.TextDocumentSyncOptions{}
	if err := Decode(data, s.Options, "TextDocumentSyncOptions"); err != nil {
		return err
	}
	s.Options.Change = SyncKinds.Normalize(s.Options.Change)
	return nil
}
