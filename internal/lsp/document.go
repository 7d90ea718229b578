package lsp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TextDocument is a snapshot of an open document.
type TextDocument struct {
	URI        DocumentURI
	LanguageID string
	Version    int
	Text       string

	OpenedAt   time.Time
	ModifiedAt time.Time
}

// DocumentStore tracks the text of open documents as the client edits them.
// It is safe for concurrent use.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[DocumentURI]*TextDocument
}

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{documents: make(map[DocumentURI]*TextDocument)}
}

// Open records a newly opened document, replacing any previous state.
func (ds *DocumentStore) Open(item TextDocumentItem) TextDocument {
	now := time.Now()
	doc := &TextDocument{
		URI:        item.URI,
		LanguageID: item.LanguageID,
		Version:    item.Version,
		Text:       item.Text,
		OpenedAt:   now,
		ModifiedAt: now,
	}

	ds.mu.Lock()
	ds.documents[item.URI] = doc
	ds.mu.Unlock()

	return *doc
}

// Change applies content changes in order and returns the new snapshot.
func (ds *DocumentStore) Change(id VersionedTextDocumentIdentifier, changes []TextDocumentContentChangeEvent) (TextDocument, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	doc, ok := ds.documents[id.URI]
	if !ok {
		return TextDocument{}, fmt.Errorf("%w: %s", ErrDocumentNotOpen, id.URI)
	}

	text := doc.Text
	for i, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		var err error
		if text, err = applyTextChange(text, *change.Range, change.Text); err != nil {
			return TextDocument{}, fmt.Errorf("change %d of %s: %w", i, id.URI, err)
		}
	}

	doc.Text = text
	doc.Version = id.Version
	doc.ModifiedAt = time.Now()
	return *doc, nil
}

// Save replaces the text when the client sent it with didSave.
func (ds *DocumentStore) Save(uri DocumentURI, text *string) (TextDocument, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	doc, ok := ds.documents[uri]
	if !ok {
		return TextDocument{}, fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}
	if text != nil && *text != doc.Text {
		doc.Text = *text
		doc.ModifiedAt = time.Now()
	}
	return *doc, nil
}

// Close forgets a document.
func (ds *DocumentStore) Close(uri DocumentURI) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, ok := ds.documents[uri]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}
	delete(ds.documents, uri)
	return nil
}

// Get returns a snapshot of an open document.
func (ds *DocumentStore) Get(uri DocumentURI) (TextDocument, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	doc, ok := ds.documents[uri]
	if !ok {
		return TextDocument{}, false
	}
	return *doc, true
}

// URIs returns the open document URIs, sorted.
func (ds *DocumentStore) URIs() []DocumentURI {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	uris := make([]DocumentURI, 0, len(ds.documents))
	for uri := range ds.documents {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// Len returns the number of open documents.
func (ds *DocumentStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.documents)
}

// applyTextChange replaces the text covered by rng.
func applyTextChange(content string, rng Range, newText string) (string, error) {
	if ComparePositions(rng.Start, rng.End) > 0 {
		return "", fmt.Errorf("%w: start %d:%d after end %d:%d", ErrInvalidChange,
			rng.Start.Line, rng.Start.Character, rng.End.Line, rng.End.Character)
	}
	pc := NewPositionConverter(content)
	start, end := pc.RangeToByteOffsets(rng)

	var b strings.Builder
	b.Grow(len(content) - (end - start) + len(newText))
	b.WriteString(content[:start])
	b.WriteString(newText)
	b.WriteString(content[end:])
	return b.String(), nil
}
