package relations

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ai4hf/passport/internal/apperr"
)

type memoryEntry[P any] struct {
	seq     uint64
	payload P
}

type memoryHit[L, R comparable, P any] struct {
	seq uint64
	rel Relation[L, R, P]
}

// MemoryStore keeps relations in a map guarded by a RWMutex. Several stores
// may share one mutex so a caller can snapshot them together.
type MemoryStore[L, R comparable, P any] struct {
	name string
	mu   *sync.RWMutex
	seq  uint64
	rows map[Key[L, R]]memoryEntry[P]
}

// NewMemoryStore returns an empty store with its own lock.
func NewMemoryStore[L, R comparable, P any](name string) *MemoryStore[L, R, P] {
	return NewSharedMemoryStore[L, R, P](name, &sync.RWMutex{})
}

// NewSharedMemoryStore returns an empty store guarded by mu.
func NewSharedMemoryStore[L, R comparable, P any](name string, mu *sync.RWMutex) *MemoryStore[L, R, P] {
	return &MemoryStore[L, R, P]{
		name: name,
		mu:   mu,
		rows: make(map[Key[L, R]]memoryEntry[P]),
	}
}

func (s *MemoryStore[L, R, P]) Name() string { return s.name }

func (s *MemoryStore[L, R, P]) Put(_ context.Context, key Key[L, R], payload P) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.rows[key]; ok {
		s.rows[key] = memoryEntry[P]{seq: cur.seq, payload: payload}
		return false, nil
	}
	s.insertLocked(key, payload)
	return true, nil
}

func (s *MemoryStore[L, R, P]) Create(_ context.Context, key Key[L, R], payload P) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[key]; ok {
		return apperr.Conflict(s.name, key.String())
	}
	s.insertLocked(key, payload)
	return nil
}

func (s *MemoryStore[L, R, P]) insertLocked(key Key[L, R], payload P) {
	s.seq++
	s.rows[key] = memoryEntry[P]{seq: s.seq, payload: payload}
}

func (s *MemoryStore[L, R, P]) Get(_ context.Context, key Key[L, R]) (*Relation[L, R, P], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &Relation[L, R, P]{Key: key, Payload: e.payload}, nil
}

func (s *MemoryStore[L, R, P]) GetByLeft(_ context.Context, left L) ([]Relation[L, R, P], error) {
	return s.collect(func(k Key[L, R]) bool { return k.Left == left }), nil
}

func (s *MemoryStore[L, R, P]) GetByRight(_ context.Context, right R) ([]Relation[L, R, P], error) {
	return s.collect(func(k Key[L, R]) bool { return k.Right == right }), nil
}

func (s *MemoryStore[L, R, P]) collect(match func(Key[L, R]) bool) []Relation[L, R, P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []memoryHit[L, R, P]
	for k, e := range s.rows {
		if match(k) {
			hits = append(hits, memoryHit[L, R, P]{seq: e.seq, rel: Relation[L, R, P]{Key: k, Payload: e.payload}})
		}
	}
	slices.SortFunc(hits, func(a, b memoryHit[L, R, P]) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]Relation[L, R, P], len(hits))
	for i, h := range hits {
		out[i] = h.rel
	}
	return out
}

func (s *MemoryStore[L, R, P]) Delete(_ context.Context, key Key[L, R]) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[key]; !ok {
		return false, nil
	}
	delete(s.rows, key)
	return true, nil
}

// Len returns the number of stored relations.
func (s *MemoryStore[L, R, P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// CloneLocked copies the store's contents into a new store with its own lock.
// The caller must hold the store's lock (read or write).
func (s *MemoryStore[L, R, P]) CloneLocked() *MemoryStore[L, R, P] {
	c := NewMemoryStore[L, R, P](s.name)
	c.seq = s.seq
	for k, e := range s.rows {
		c.rows[k] = e
	}
	return c
}

// Clone copies the store under its read lock.
func (s *MemoryStore[L, R, P]) Clone() *MemoryStore[L, R, P] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CloneLocked()
}
