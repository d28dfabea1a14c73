package approval

import (
	"testing"
	"time"
)

func TestStoreAndConsume(t *testing.T) {
	q := New()
	id := q.Store("sess1", "chat1", 1, "rm -rf ./build", "/workspace/1", "recursive delete")

	entry, ok := q.Consume(id)
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if entry.Command != "rm -rf ./build" {
		t.Errorf("unexpected command: %s", entry.Command)
	}
	if entry.UserID != 1 {
		t.Errorf("unexpected user id: %d", entry.UserID)
	}

	if _, ok := q.Consume(id); ok {
		t.Error("expected second consume to fail: single-shot")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	q := New()
	id := q.Store("sess1", "chat1", 1, "rm -rf /tmp/x", "/workspace/1", "recursive delete")

	if !q.Cancel(id) {
		t.Fatal("expected first cancel to succeed")
	}
	if q.Cancel(id) {
		t.Error("expected second cancel to be a no-op, not an error")
	}
}

func TestListForSession(t *testing.T) {
	q := New()
	id1 := q.Store("sess1", "chat1", 1, "cmd1", "/workspace/1", "r1")
	q.Store("sess2", "chat2", 2, "cmd2", "/workspace/2", "r2")

	list := q.ListForSession("sess1")
	if len(list) != 1 || list[0].ID != id1 {
		t.Fatalf("expected exactly one entry for sess1, got %v", list)
	}
}

func TestExpiry(t *testing.T) {
	q := NewWithTTL(20 * time.Millisecond)
	id := q.Store("sess1", "chat1", 1, "rm -rf /tmp/x", "/workspace/1", "recursive delete")

	time.Sleep(60 * time.Millisecond)

	if _, ok := q.Consume(id); ok {
		t.Error("expected entry to have expired")
	}
}
