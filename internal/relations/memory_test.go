package relations

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/roles"
)

func newParamStore() *MemoryStore[string, string, models.ParameterValue] {
	return NewMemoryStore[string, string, models.ParameterValue](models.RelationModelParameter)
}

func TestKey_StringAndEquality(t *testing.T) {
	a := NewKey("M1", "P1")
	b := Key[string, string]{Left: "M1", Right: "P1"}
	if a != b {
		t.Error("keys with the same pair should be equal")
	}
	if a.String() != "M1:P1" {
		t.Errorf("String() = %q, want M1:P1", a.String())
	}

	m := map[Key[string, string]]int{a: 1}
	if m[b] != 1 {
		t.Error("equal keys should address the same map slot")
	}
}

func TestMemoryStore_PutInsertsThenReplaces(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()
	key := NewKey("M1", "P1")

	inserted, err := s.Put(ctx, key, models.ParameterValue{Type: "int", Value: "3"})
	if err != nil || !inserted {
		t.Fatalf("first Put = %v, %v; want inserted", inserted, err)
	}
	inserted, err = s.Put(ctx, key, models.ParameterValue{Type: "int", Value: "5"})
	if err != nil || inserted {
		t.Fatalf("second Put = %v, %v; want replaced", inserted, err)
	}

	rel, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel == nil || rel.Payload.Value != "5" {
		t.Errorf("Get = %+v, want value 5", rel)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_CreateConflict(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()
	key := NewKey("M1", "P1")

	if err := s.Create(ctx, key, models.ParameterValue{Value: "1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, key, models.ParameterValue{Value: "2"})
	var ce *apperr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second Create error = %v, want ConflictError", err)
	}
	if ce.Key != "M1:P1" || ce.Entity != models.RelationModelParameter {
		t.Errorf("ConflictError = %+v", ce)
	}

	// Upsert on the same pair never conflicts.
	if _, err := s.Put(ctx, key, models.ParameterValue{Value: "3"}); err != nil {
		t.Errorf("Put after Create: %v", err)
	}
}

func TestMemoryStore_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()

	for _, p := range []string{"P3", "P1", "P2"} {
		if _, err := s.Put(ctx, NewKey("M1", p), models.ParameterValue{Value: p}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := s.Put(ctx, NewKey("M2", "P1"), models.ParameterValue{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Replacement keeps the original position.
	if _, err := s.Put(ctx, NewKey("M1", "P3"), models.ParameterValue{Value: "again"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rels, err := s.GetByLeft(ctx, "M1")
	if err != nil {
		t.Fatalf("GetByLeft: %v", err)
	}
	want := []string{"P3", "P1", "P2"}
	if len(rels) != len(want) {
		t.Fatalf("GetByLeft len = %d, want %d", len(rels), len(want))
	}
	for i, rel := range rels {
		if rel.Key.Right != want[i] {
			t.Errorf("rels[%d] = %s, want %s", i, rel.Key.Right, want[i])
		}
	}
	if rels[0].Payload.Value != "again" {
		t.Errorf("replaced payload = %q, want again", rels[0].Payload.Value)
	}

	byRight, err := s.GetByRight(ctx, "P1")
	if err != nil {
		t.Fatalf("GetByRight: %v", err)
	}
	if len(byRight) != 2 || byRight[0].Key.Left != "M1" || byRight[1].Key.Left != "M2" {
		t.Errorf("GetByRight = %+v", byRight)
	}
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()
	key := NewKey("M1", "P1")

	deleted, err := s.Delete(ctx, key)
	if err != nil || deleted {
		t.Fatalf("Delete(absent) = %v, %v; want no-op", deleted, err)
	}
	_, _ = s.Put(ctx, key, models.ParameterValue{})
	deleted, err = s.Delete(ctx, key)
	if err != nil || !deleted {
		t.Fatalf("Delete(present) = %v, %v; want deleted", deleted, err)
	}
	rel, _ := s.Get(ctx, key)
	if rel != nil {
		t.Errorf("Get after Delete = %+v, want nil", rel)
	}
}

func TestMemoryStore_CloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()
	_, _ = s.Put(ctx, NewKey("M1", "P1"), models.ParameterValue{Value: "before"})

	c := s.Clone()
	_, _ = s.Put(ctx, NewKey("M1", "P1"), models.ParameterValue{Value: "after"})
	_, _ = s.Put(ctx, NewKey("M1", "P2"), models.ParameterValue{})

	rels, _ := c.GetByLeft(ctx, "M1")
	if len(rels) != 1 || rels[0].Payload.Value != "before" {
		t.Errorf("clone saw later writes: %+v", rels)
	}
}

func TestMemoryBindings_SharedLockClone(t *testing.T) {
	ctx := context.Background()
	var mu sync.RWMutex
	b := NewMemoryBindings(&mu)

	payload := models.OrganizationRoles{Roles: roles.NewSet(roles.StudyOwner)}
	if err := b.StudyOrganizations.Create(ctx, NewKey("S1", "O1"), payload); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mu.RLock()
	snap := b.CloneLocked()
	mu.RUnlock()

	if _, err := b.StudyOrganizations.Delete(ctx, NewKey("S1", "O1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rels, err := snap.StudyOrganizations.GetByLeft(ctx, "S1")
	if err != nil {
		t.Fatalf("GetByLeft: %v", err)
	}
	if len(rels) != 1 || !rels[0].Payload.Roles.Has(roles.StudyOwner) {
		t.Errorf("snapshot = %+v, want the pre-delete binding", rels)
	}
}

func TestMemoryStore_ConcurrentPutLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newParamStore()
	key := NewKey("M1", "P1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Put(ctx, key, models.ParameterValue{Value: "v"})
		}()
	}
	wg.Wait()

	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
