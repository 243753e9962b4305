package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/tools"
)

func TestEnsureCreatesAndReuses(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	first, err := store.Ensure(ctx, "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.ID == "" || first.State == nil {
		t.Fatalf("session = %+v", first)
	}

	again, err := store.Ensure(ctx, first.ID)
	if err != nil {
		t.Fatalf("Ensure existing: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("got new session %s, want %s", again.ID, first.ID)
	}

	fresh, err := store.Ensure(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("Ensure unknown: %v", err)
	}
	if fresh.ID == "no-such-id" {
		t.Error("unknown id should mint a fresh session")
	}
}

func TestAppendTurnsAccumulates(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()
	sess, _ := store.Ensure(ctx, "")

	if err := store.AppendTurns(ctx, sess.ID,
		core.Turn{Role: core.RoleUser, Content: "plan dinner"},
		core.Turn{Role: core.RoleAssistant, Content: "on it"},
	); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Turns) != 2 || got.Turns[1].Content != "on it" {
		t.Errorf("turns = %+v", got.Turns)
	}

	if err := store.AppendTurns(ctx, "missing", core.Turn{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("append to missing session: %v", err)
	}
}

func TestGetCloneIsIsolated(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()
	sess, _ := store.Ensure(ctx, "")
	_ = store.AppendTurns(ctx, sess.ID, core.Turn{Role: core.RoleUser, Content: "hi"})

	got, _ := store.Get(ctx, sess.ID)
	got.Turns[0].Content = "mutated"

	fresh, _ := store.Get(ctx, sess.ID)
	if fresh.Turns[0].Content != "hi" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestSaveStatePersists(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()
	sess, _ := store.Ensure(ctx, "")

	st := &tools.State{Candidates: []tools.Restaurant{{Name: "Thai Palace"}}}
	if err := store.SaveState(ctx, sess.ID, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, _ := store.Get(ctx, sess.ID)
	if len(got.State.Candidates) != 1 || got.State.Candidates[0].Name != "Thai Palace" {
		t.Errorf("state = %+v", got.State)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()
	sess, _ := store.Ensure(ctx, "")

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	expired, _ := store.Ensure(ctx, "")
	live, _ := store.Ensure(ctx, "")

	now := time.Now()
	store.now = func() time.Time { return now.Add(30 * time.Minute) }
	_, _ = store.Ensure(ctx, live.ID) // refresh

	store.now = func() time.Time { return now.Add(70 * time.Minute) }
	if removed := store.Sweep(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, expired.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session should be gone: %v", err)
	}
	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Errorf("refreshed session should survive: %v", err)
	}
}

func TestExpiredSessionBehavesLikeMissing(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	ctx := context.Background()
	sess, _ := store.Ensure(ctx, "")

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get expired: %v", err)
	}
	again, err := store.Ensure(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Ensure expired: %v", err)
	}
	if again.ID == sess.ID {
		t.Error("expired id should not be resurrected")
	}
}
