package policy

import (
	"context"
	"testing"
	"time"

	"github.com/kordell-io/agentgate/internal/testutil"
)

func pgPolicy(id, name string) *Policy {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Policy{
		ID:        id,
		Name:      name,
		Priority:  10,
		Enabled:   true,
		AppliesTo: []string{"transfer"},
		Conditions: []Condition{
			{Field: "amount", Operator: OpGt, Value: "1000000000000000000"},
		},
		Effect:    EffectDeny,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStore_CreateGetPolicy(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	want := pgPolicy("pol_pg1", "no-large-transfers")
	if err := store.Create(ctx, want); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "pol_pg1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "no-large-transfers" {
		t.Errorf("name = %s", got.Name)
	}
	if got.Effect != EffectDeny {
		t.Errorf("effect = %s, want deny", got.Effect)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Operator != OpGt {
		t.Errorf("conditions not round-tripped: %+v", got.Conditions)
	}
	if len(got.AppliesTo) != 1 || got.AppliesTo[0] != "transfer" {
		t.Errorf("appliesTo = %v", got.AppliesTo)
	}
}

func TestPostgresStore_DuplicatePolicy(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	p := pgPolicy("pol_dup", "first")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := store.Create(ctx, pgPolicy("pol_dup", "second"))
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Code != "already_exists" {
		t.Errorf("expected already_exists error, got %v", err)
	}
}

func TestPostgresStore_UpdateAndDeletePolicy(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	p := pgPolicy("pol_upd", "original")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	p.Name = "renamed"
	p.Enabled = false
	p.Effect = EffectWarn
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, "pol_upd")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "renamed" || got.Enabled || got.Effect != EffectWarn {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := store.Delete(ctx, "pol_upd"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "pol_upd"); err != ErrPolicyNotFound {
		t.Errorf("expected ErrPolicyNotFound after delete, got %v", err)
	}
}

func TestPostgresStore_ListInsertionOrder(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	ids := []string{"pol_a", "pol_b", "pol_c"}
	for _, id := range ids {
		if err := store.Create(ctx, pgPolicy(id, id)); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(list))
	}
	for i, id := range ids {
		if list[i].ID != id {
			t.Errorf("list[%d].ID = %s, want %s", i, list[i].ID, id)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
