package session

import (
	"strings"
	"testing"

	"github.com/openpact/sandboxbot/internal/config"
)

func testStore(t *testing.T, maxTurns int) *Store {
	t.Helper()
	ws := config.WorkspaceConfig{Root: t.TempDir()}
	return NewWithMaxTurns(ws, maxTurns)
}

func TestAppendAndHistoryOrdering(t *testing.T) {
	st := testStore(t, 10)
	st.Append(1, "hi", "hello")
	st.Append(1, "how are you", "fine")

	hist := st.History(1)
	if len(hist) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(hist))
	}
	if hist[0].User != "hi" || hist[1].User != "how are you" {
		t.Errorf("expected oldest-first ordering, got %+v", hist)
	}
}

func TestHistoryEvictsOldestPastCap(t *testing.T) {
	st := testStore(t, 2)
	st.Append(1, "a", "A")
	st.Append(1, "b", "B")
	st.Append(1, "c", "C")

	hist := st.History(1)
	if len(hist) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(hist))
	}
	if hist[0].User != "b" || hist[1].User != "c" {
		t.Errorf("expected oldest turn evicted, got %+v", hist)
	}
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	st := testStore(t, 10)
	st.Append(1, "hi", "hello")
	st.Append(2, "yo", "hey")

	if len(st.History(1)) != 1 || len(st.History(2)) != 1 {
		t.Fatal("expected independent per-user histories")
	}
}

func TestClearHistoryDoesNotTouchMemory(t *testing.T) {
	st := testStore(t, 10)
	st.Append(1, "hi", "hello")
	if err := st.AppendMemory(1, "remember this"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}

	st.ClearHistory(1)
	if len(st.History(1)) != 0 {
		t.Error("expected history cleared")
	}
	mem, err := st.ReadMemory(1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !strings.Contains(mem, "remember this") {
		t.Error("expected memory file unaffected by history clear")
	}
}

func TestReadMemoryMissingFileReturnsEmpty(t *testing.T) {
	st := testStore(t, 10)
	mem, err := st.ReadMemory(99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem != "" {
		t.Errorf("expected empty string for missing memory file, got %q", mem)
	}
}

func TestAppendMemoryAccumulates(t *testing.T) {
	st := testStore(t, 10)
	if err := st.AppendMemory(1, "first note"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	if err := st.AppendMemory(1, "second note"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}

	mem, err := st.ReadMemory(1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !strings.Contains(mem, "first note") || !strings.Contains(mem, "second note") {
		t.Errorf("expected both notes present, got %q", mem)
	}
}

func TestClearMemoryTruncates(t *testing.T) {
	st := testStore(t, 10)
	if err := st.AppendMemory(1, "note"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	if err := st.ClearMemory(1); err != nil {
		t.Fatalf("ClearMemory: %v", err)
	}
	mem, err := st.ReadMemory(1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if mem != "" {
		t.Errorf("expected empty memory after clear, got %q", mem)
	}
}

func TestMemoryTailTruncatesLongContent(t *testing.T) {
	st := testStore(t, 10)
	long := strings.Repeat("x", 100)
	if err := st.AppendMemory(1, long); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}

	tail, err := st.MemoryTail(1, 10)
	if err != nil {
		t.Fatalf("MemoryTail: %v", err)
	}
	if !strings.HasPrefix(tail, "[earlier notes truncated]") {
		t.Errorf("expected truncation notice, got %q", tail)
	}
	// AppendMemory terminates each note with a newline, so the last 10
	// chars are nine x's followed by "\n".
	if !strings.HasSuffix(tail, strings.Repeat("x", 9)+"\n") {
		t.Errorf("expected last 10 chars preserved, got %q", tail)
	}
}

func TestMemoryTailReturnsFullContentWhenUnderLimit(t *testing.T) {
	st := testStore(t, 10)
	if err := st.AppendMemory(1, "short"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	tail, err := st.MemoryTail(1, 4000)
	if err != nil {
		t.Fatalf("MemoryTail: %v", err)
	}
	if tail != "short\n" {
		t.Errorf("expected full content, got %q", tail)
	}
}
