package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/fsidx/internal/objstore"
)

// MemStore is an in-memory objstore.Store.
//
// Thread-safety: MemStore is safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]*objstore.Object
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]*objstore.Object)}
}

// Object implements objstore.Store.
func (s *MemStore) Object(ctx context.Context, pid string) (*objstore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objstore.ErrNotFound, pid)
	}
	return obj, nil
}

// PutObject stores obj as is.
func (s *MemStore) PutObject(obj *objstore.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.PID] = obj
}

// PutDC stores an object whose inline DC record holds the given
// element/value pairs.
func (s *MemStore) PutDC(pid string, pairs ...string) {
	content, err := objstore.NewDCRecord(pairs...).Marshal()
	if err != nil {
		panic(err)
	}
	s.PutObject(&objstore.Object{
		PID:   pid,
		Label: "Object " + pid,
		State: "A",
		Datastreams: []objstore.Datastream{
			{ID: objstore.DCDatastream, Control: objstore.ControlInline, Content: content},
		},
	})
}

// PutIdentifiers stores an object declaring exactly ids.
func (s *MemStore) PutIdentifiers(pid string, ids ...string) {
	pairs := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		pairs = append(pairs, "identifier", id)
	}
	s.PutDC(pid, pairs...)
}

// PutNonInlineDC stores an object whose DC datastream is managed content
// rather than inline XML.
func (s *MemStore) PutNonInlineDC(pid string) {
	s.PutObject(&objstore.Object{
		PID: pid,
		Datastreams: []objstore.Datastream{
			{ID: objstore.DCDatastream, Control: "M", Ref: "http://example.org/" + pid},
		},
	})
}

// Remove deletes pid.
func (s *MemStore) Remove(pid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, pid)
}
