// Package relations stores join records keyed by an ordered pair of foreign
// ids plus a payload: role bindings, parameter bindings, feature/dataset
// characteristics and learning-process/dataset usage.
//
// A key pair never changes once written. Put replaces the whole payload and
// keeps the pair's original position, so listings stay in insertion order.
// Concurrent writers to the same pair are last-write-wins.
package relations

import (
	"context"
	"fmt"
)

// Key is an immutable (left, right) pair. It is comparable and can be used
// directly as a map key.
type Key[L, R comparable] struct {
	Left  L
	Right R
}

// NewKey builds a key pair.
func NewKey[L, R comparable](left L, right R) Key[L, R] {
	return Key[L, R]{Left: left, Right: right}
}

// String renders the key as "left:right", the form used for audit record ids.
func (k Key[L, R]) String() string {
	return fmt.Sprintf("%v:%v", k.Left, k.Right)
}

// Relation is one stored join record.
type Relation[L, R comparable, P any] struct {
	Key     Key[L, R]
	Payload P
}

// Store is the contract every backend implements.
type Store[L, R comparable, P any] interface {
	// Name is the relation name used in errors and audit entries.
	Name() string
	// Put inserts or fully replaces the relation for key. inserted is false
	// when an existing relation was replaced.
	Put(ctx context.Context, key Key[L, R], payload P) (inserted bool, err error)
	// Create inserts a new relation and fails with a ConflictError when the
	// pair already exists.
	Create(ctx context.Context, key Key[L, R], payload P) error
	// Get returns the relation for key, or nil when absent.
	Get(ctx context.Context, key Key[L, R]) (*Relation[L, R, P], error)
	// GetByLeft returns every relation with the given left id in insertion order.
	GetByLeft(ctx context.Context, left L) ([]Relation[L, R, P], error)
	// GetByRight returns every relation with the given right id in insertion order.
	GetByRight(ctx context.Context, right R) ([]Relation[L, R, P], error)
	// Delete removes the relation for key. Deleting an absent pair is a no-op
	// reporting deleted=false.
	Delete(ctx context.Context, key Key[L, R]) (deleted bool, err error)
}
