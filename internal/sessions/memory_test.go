package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

func newTestSession(id string) *models.Session {
	now := time.Now()
	return &models.Session{
		SessionID: id,
		Model:     "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	s := newTestSession("s1")

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.SessionID != "s1" {
		t.Fatalf("unexpected load result: %+v", loaded)
	}
	if len(loaded.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(loaded.Messages))
	}

	// Mutating the returned clone must not affect the store's copy.
	loaded.Messages[0].Content = "mutated"
	reloaded, _ := store.Load(ctx, "s1")
	if reloaded.Messages[0].Content != "hi" {
		t.Fatalf("store was mutated through returned clone")
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	s, err := store.Load(ctx, "missing")
	if err != nil || s != nil {
		t.Fatalf("expected nil, nil; got %v, %v", s, err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Millisecond)
	s := newTestSession("s1")
	_ = store.Save(ctx, s)
	time.Sleep(5 * time.Millisecond)
	loaded, err := store.Load(ctx, "s1")
	if err != nil || loaded != nil {
		t.Fatalf("expected expired session to load as nil, got %v, %v", loaded, err)
	}
}

func TestMemoryStoreListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		s := newTestSession(id)
		s.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		_ = store.Save(ctx, s)
	}

	ids, err := store.List(ctx, "", 0, 0)
	if err != nil || len(ids) != 0 {
		t.Fatalf("limit=0 must return empty, got %v", ids)
	}

	ids, err = store.List(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[2] != "a" {
		t.Fatalf("expected most-recent-first [c b a], got %v", ids)
	}

	ids, _ = store.List(ctx, "", 10, 5)
	if len(ids) != 0 {
		t.Fatalf("offset beyond count must return empty, got %v", ids)
	}
}
