// Package docs holds the open text documents. A Store is not safe for
// concurrent use; it lives inside the world serializer.
package docs

import "sort"

type Document struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

type Store struct {
	docs map[string]*Document
}

func NewStore() *Store { return &Store{docs: make(map[string]*Document)} }

// Open adds or replaces a document.
func (s *Store) Open(uri, languageID string, version int32, text string) *Document {
	d := &Document{URI: uri, LanguageID: languageID, Version: version, Text: text}
	s.docs[uri] = d
	return d
}

// Change replaces the full text. It returns false for unknown documents and
// for versions older than the stored one.
func (s *Store) Change(uri string, version int32, text string) (*Document, bool) {
	d, ok := s.docs[uri]
	if !ok || version < d.Version {
		return nil, false
	}
	d.Version = version
	d.Text = text
	return d, true
}

func (s *Store) Close(uri string) bool {
	_, ok := s.docs[uri]
	delete(s.docs, uri)
	return ok
}

// Get returns a copy so callers outside the owner cannot mutate the store.
func (s *Store) Get(uri string) (Document, bool) {
	d, ok := s.docs[uri]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

func (s *Store) Len() int { return len(s.docs) }

// URIs returns the open documents, sorted.
func (s *Store) URIs() []string {
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}
