// Package memory provides an in-process room document store, typically seeded
// from YAML files at startup.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/stylesync/internal/document"
)

// Store holds the current document of every room in memory.
//
// Invariant: every stored document has passed Validate.
type Store struct {
	mu   sync.RWMutex
	docs map[string]document.RoomDocument
}

// NewStore returns a Store holding docs.
//
// Precondition: each doc must be valid and room ids must be unique.
// Postcondition: Returns a populated Store or a non-nil error.
func NewStore(docs ...document.RoomDocument) (*Store, error) {
	s := &Store{docs: make(map[string]document.RoomDocument, len(docs))}
	for _, d := range docs {
		if _, dup := s.docs[d.RoomID]; dup {
			return nil, fmt.Errorf("duplicate room %q", d.RoomID)
		}
		if err := s.PutCurrent(context.Background(), d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadCurrent returns a copy of the current document for roomID.
//
// Postcondition: Returns document.ErrNotFound if the room is unknown.
func (s *Store) LoadCurrent(_ context.Context, roomID string) (document.RoomDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[roomID]
	if !ok {
		return document.RoomDocument{}, fmt.Errorf("room %q: %w", roomID, document.ErrNotFound)
	}
	return d.Clone(), nil
}

// LoadAll returns copies of all documents ordered by room id.
func (s *Store) LoadAll(_ context.Context) ([]document.RoomDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.RoomDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// PutCurrent replaces the current document of doc.RoomID.
//
// Precondition: doc must be valid.
// Postcondition: Subsequent loads observe doc.
func (s *Store) PutCurrent(_ context.Context, doc document.RoomDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.RoomID] = doc.Clone()
	return nil
}

// Len returns the number of rooms held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
