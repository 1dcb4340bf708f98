package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/lingo/compiler"
	"github.com/chazu/lingo/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "lingo-lsp"

// LspServer bridges LSP editor features to a VM via VMWorker. Loaded
// movie handlers, builtins and globals feed completion, hover and the
// undefined-name checks.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server wrapping the given VM.
func NewLSP(v *vm.VM) *LspServer {
	s := &LspServer{
		worker:  NewVMWorker(v),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentHover:          s.textDocumentHover,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Lingo LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.DocumentSymbolProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return complete(snap, text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, nil
	}
	return hover(snap, text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	s.mu.Lock()
	docs := make(map[string]string, len(s.docs))
	for uri, t := range s.docs {
		docs[uri] = t
	}
	s.mu.Unlock()

	locs := definition(docs, string(params.TextDocument.URI), word)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return documentSymbols(text), nil
}

// --- VM snapshot ---

// handlerSig describes a loaded movie handler.
type handlerSig struct {
	name   string
	params []string
	script string
}

// vmSnapshot is the VM state the editor features read. It is taken on
// the worker goroutine and used outside it.
type vmSnapshot struct {
	handlers  map[string]handlerSig // folded name → handler
	builtins  map[string]*vm.Builtin
	globals   map[string]vm.Datum
	names     map[string]string // folded → display name for globals
	precision int
}

func (s *LspServer) snapshot() (*vmSnapshot, error) {
	return doTyped(context.Background(), s.worker, func(v *vm.VM) (*vmSnapshot, error) {
		return takeSnapshot(v), nil
	})
}

func takeSnapshot(v *vm.VM) *vmSnapshot {
	snap := &vmSnapshot{
		handlers:  make(map[string]handlerSig),
		builtins:  make(map[string]*vm.Builtin),
		globals:   make(map[string]vm.Datum),
		names:     make(map[string]string),
		precision: v.Interpreter().FloatPrecision,
	}
	for _, script := range v.MovieScripts() {
		for _, h := range script.Handlers {
			snap.handlers[vm.FoldName(h.Name)] = handlerSig{name: h.Name, params: h.Params, script: script.Name}
		}
	}
	for _, name := range v.Builtins().Names() {
		if b, ok := v.Builtins().Lookup(name); ok {
			snap.builtins[vm.FoldName(name)] = b
		}
	}
	for _, name := range v.GlobalNames() {
		d, _ := v.GetGlobal(name)
		snap.globals[vm.FoldName(name)] = d
		snap.names[vm.FoldName(name)] = name
	}
	return snap
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	snap, err := s.snapshot()
	if err != nil {
		return
	}
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(snap, text),
	})
}

// diagnose reports compile errors, and when the unit compiles, the
// semantic analyzer's warnings.
func diagnose(snap *vmSnapshot, text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	source := lspName

	add := func(pos compiler.Position, sev protocol.DiagnosticSeverity, msg string) {
		p := toLSPPosition(pos)
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{Start: p, End: p},
			Severity: &sev,
			Source:   &source,
			Message:  msg,
		})
	}

	unit, err := compiler.Parse("document", text)
	if err == nil {
		_, err = compiler.NewCodegen(unit).Generate()
	}
	if err != nil {
		for _, e := range compiler.Errors(err) {
			add(e.Pos, protocol.DiagnosticSeverityError, e.Msg)
		}
		return diagnostics
	}

	an := compiler.NewSemanticAnalyzer()
	for name := range snap.globals {
		an.AddKnownName(name)
	}
	for name := range snap.builtins {
		an.AddKnownName(name)
	}
	for name := range snap.handlers {
		an.AddKnownHandler(name)
	}
	an.AnalyzeUnit(unit)
	for _, w := range an.Warnings() {
		add(w.Pos, protocol.DiagnosticSeverityWarning, w.Msg)
	}
	return diagnostics
}

func toLSPPosition(pos compiler.Position) protocol.Position {
	line, col := pos.Line-1, pos.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

// --- Completion, hover, definition ---

// documentHandlers returns the handlers declared in text, or nil if it
// does not parse far enough to find any.
func documentHandlers(text string) []*compiler.HandlerDecl {
	unit, _ := compiler.Parse("document", text)
	if unit == nil {
		return nil
	}
	return unit.Handlers
}

func complete(snap *vmSnapshot, text, prefix string) []protocol.CompletionItem {
	lowerPrefix := vm.FoldName(prefix)
	seen := make(map[string]bool)
	var items []protocol.CompletionItem

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		key := vm.FoldName(label)
		if seen[key] || !strings.HasPrefix(key, lowerPrefix) {
			return
		}
		seen[key] = true
		labelCopy := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &labelCopy,
		})
	}

	for _, h := range documentHandlers(text) {
		add(h.Name, protocol.CompletionItemKindFunction, "handler")
	}
	for _, h := range snap.handlers {
		add(h.name, protocol.CompletionItemKindFunction, "handler in "+h.script)
	}
	for _, b := range snap.builtins {
		add(b.Name, protocol.CompletionItemKindFunction, "builtin")
	}
	for key, name := range snap.names {
		add(name, protocol.CompletionItemKindVariable, "global = "+vm.CoerceToString(snap.globals[key], snap.precision))
	}
	for _, k := range vm.EventKinds() {
		add(k.HandlerName(), protocol.CompletionItemKindEvent, "event")
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func hover(snap *vmSnapshot, text, word string) *protocol.Hover {
	key := vm.FoldName(word)
	local := findHandler(documentHandlers(text), key)
	var b strings.Builder

	switch {
	case compiler.IsKeyword(word):
		return nil
	case local != nil:
		h := local
		fmt.Fprintf(&b, "**on %s**", h.Name)
		if len(h.Params) > 0 {
			fmt.Fprintf(&b, " %s", strings.Join(h.Params, ", "))
		}
		fmt.Fprintf(&b, "\n\nHandler defined on line %d", h.NamePos.Line)
	case snap.handlers[key].name != "":
		h := snap.handlers[key]
		fmt.Fprintf(&b, "**on %s**", h.name)
		if len(h.params) > 0 {
			fmt.Fprintf(&b, " %s", strings.Join(h.params, ", "))
		}
		fmt.Fprintf(&b, "\n\nMovie handler in script %s", h.script)
	case snap.builtins[key] != nil:
		bi := snap.builtins[key]
		fmt.Fprintf(&b, "**%s**\n\nBuiltin, %s", bi.Name, bi.Arity)
	case snap.names[key] != "":
		d := snap.globals[key]
		fmt.Fprintf(&b, "**%s**\n\nGlobal %s = `%s`", snap.names[key], d.Kind(), vm.CoerceToString(d, snap.precision))
	default:
		if _, err := vm.ParseEventKind(word); err == nil {
			fmt.Fprintf(&b, "**%s**\n\nEvent; define `on %s` to handle it", word, word)
		} else {
			return nil
		}
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func findHandler(handlers []*compiler.HandlerDecl, key string) *compiler.HandlerDecl {
	for _, h := range handlers {
		if vm.FoldName(h.Name) == key {
			return h
		}
	}
	return nil
}

// definition finds the handler called word in the open documents. The
// current document is searched first.
func definition(docs map[string]string, current, word string) []protocol.Location {
	key := vm.FoldName(word)
	uris := make([]string, 0, len(docs))
	for uri := range docs {
		if uri != current {
			uris = append(uris, uri)
		}
	}
	sort.Strings(uris)
	if _, ok := docs[current]; ok {
		uris = append([]string{current}, uris...)
	}

	var locations []protocol.Location
	for _, uri := range uris {
		h := findHandler(documentHandlers(docs[uri]), key)
		if h == nil {
			continue
		}
		start := toLSPPosition(h.NamePos)
		end := start
		end.Character += protocol.UInteger(len([]rune(h.Name)))
		locations = append(locations, protocol.Location{
			URI:   protocol.DocumentUri(uri),
			Range: protocol.Range{Start: start, End: end},
		})
	}
	return locations
}

func documentSymbols(text string) []protocol.DocumentSymbol {
	var symbols []protocol.DocumentSymbol
	for _, h := range documentHandlers(text) {
		start := toLSPPosition(h.Span().Start)
		end := toLSPPosition(h.Span().End)
		name := toLSPPosition(h.NamePos)
		nameEnd := name
		nameEnd.Character += protocol.UInteger(len([]rune(h.Name)))
		detail := strings.Join(h.Params, ", ")
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           h.Name,
			Detail:         &detail,
			Kind:           protocol.SymbolKindFunction,
			Range:          protocol.Range{Start: start, End: end},
			SelectionRange: protocol.Range{Start: name, End: nameEnd},
		})
	}
	return symbols
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(line[end]) {
		end++
	}
	return string(line[start:end])
}

func boolPtr(b bool) *bool {
	return &b
}
