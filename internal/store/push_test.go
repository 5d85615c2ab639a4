package store

import (
	"context"
	"testing"
)

func TestPushUpsertReplacesPerOwner(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	ps := NewPushStore(db)
	ctx := context.Background()

	first, err := ps.Upsert(ctx, "u1", "https://push.example.com/a", "p1", "a1", "Chrome")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := ps.Upsert(ctx, "u1", "https://push.example.com/b", "p2", "a2", "Firefox")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id changed from %d to %d, want replace in place", first.ID, second.ID)
	}
	if second.Endpoint != "https://push.example.com/b" || second.P256dhKey != "p2" || second.DeviceName != "Firefox" {
		t.Errorf("subscription not replaced: %+v", second)
	}

	all, err := ps.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d subscriptions, want 1", len(all))
	}
}

func TestPushDeleteByOwner(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	ps := NewPushStore(db)
	ctx := context.Background()

	ps.Upsert(ctx, "u1", "https://push.example.com/a", "p", "a", "")
	if err := ps.DeleteByOwner(ctx, "u1"); err != nil {
		t.Fatalf("DeleteByOwner: %v", err)
	}
	sub, err := ps.GetByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if sub != nil {
		t.Errorf("expected nil after delete, got %+v", sub)
	}
}

func TestPushDeleteByOwnerEndpointKeepsReplacement(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	ps := NewPushStore(db)
	ctx := context.Background()

	ps.Upsert(ctx, "u1", "https://push.example.com/old", "p", "a", "")
	ps.Upsert(ctx, "u1", "https://push.example.com/new", "p", "a", "")

	if err := ps.DeleteByOwnerEndpoint(ctx, "u1", "https://push.example.com/old"); err != nil {
		t.Fatalf("DeleteByOwnerEndpoint: %v", err)
	}
	sub, _ := ps.GetByOwner(ctx, "u1")
	if sub == nil || sub.Endpoint != "https://push.example.com/new" {
		t.Fatalf("replacement subscription removed: %+v", sub)
	}

	if err := ps.DeleteByOwnerEndpoint(ctx, "u1", "https://push.example.com/new"); err != nil {
		t.Fatalf("DeleteByOwnerEndpoint: %v", err)
	}
	sub, _ = ps.GetByOwner(ctx, "u1")
	if sub != nil {
		t.Errorf("expected subscription removed, got %+v", sub)
	}
}
