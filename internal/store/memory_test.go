package store

import (
	"context"
	"testing"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for missing key, got %v", rec)
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "profile:u1", Record{"display_name": "Ada", "avatar_url": "a.png"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	rec, err := s.Get(ctx, "profile:u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec["display_name"] != "Ada" {
		t.Errorf("expected display_name %q, got %q", "Ada", rec["display_name"])
	}

	// Mutating the returned record must not alias store internals.
	rec["display_name"] = "Eve"
	again, _ := s.Get(ctx, "profile:u1")
	if again["display_name"] != "Ada" {
		t.Error("Get() result aliases stored record")
	}

	if err := s.Delete(ctx, "profile:u1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	gone, _ := s.Get(ctx, "profile:u1")
	if gone != nil {
		t.Error("expected nil record after Delete()")
	}
}

func TestMemoryStore_UpdateCreatesAndPatches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Update on a missing key creates it.
	if err := s.Update(ctx, "presence:u1", Record{"is_online": "true"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	rec, _ := s.Get(ctx, "presence:u1")
	if rec["is_online"] != "true" {
		t.Fatalf("expected is_online=true, got %q", rec["is_online"])
	}

	// A patch only touches the named fields.
	if err := s.Update(ctx, "presence:u1", Record{"last_active": "1700000000"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	rec, _ = s.Get(ctx, "presence:u1")
	if rec["is_online"] != "true" || rec["last_active"] != "1700000000" {
		t.Errorf("unexpected record after patch: %v", rec)
	}
}

func TestMemoryStore_QueryByAttribute(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Put(ctx, "reaction:m1:u1", Record{"message_id": "m1", "user_id": "u1", "reaction": "heart"})
	s.Put(ctx, "reaction:m1:u2", Record{"message_id": "m1", "user_id": "u2", "reaction": "laugh"})
	s.Put(ctx, "reaction:m2:u1", Record{"message_id": "m2", "user_id": "u1", "reaction": "heart"})

	results, err := s.QueryByAttribute(ctx, "message_id", "m1")
	if err != nil {
		t.Fatalf("QueryByAttribute() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Record["message_id"] != "m1" {
			t.Errorf("unexpected record in result set: %v", r.Record)
		}
	}

	empty, err := s.QueryByAttribute(ctx, "message_id", "m3")
	if err != nil {
		t.Fatalf("QueryByAttribute() error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected 0 results, got %d", len(empty))
	}
}
