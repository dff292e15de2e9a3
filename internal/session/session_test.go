package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	return NewStore(repo)
}

func TestGet_FreshSession(t *testing.T) {
	s := newTestStore(t)
	sess := s.Get("U1", "C1", 30, "")
	if sess.Domain != "" {
		t.Errorf("domain = %q, want empty", sess.Domain)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(sess.Messages))
	}
	if sess.Scope != DefaultScope {
		t.Errorf("scope = %q, want %q", sess.Scope, DefaultScope)
	}
}

func TestUpdate_AppendsPair(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update("U1", "C1", "schedule", "hello", "hi there", 30, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sess := s.Get("U1", "C1", 30, "")
	if sess.Domain != "schedule" {
		t.Errorf("domain = %q, want schedule", sess.Domain)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hello" {
		t.Errorf("first message = %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" {
		t.Errorf("second role = %q", sess.Messages[1].Role)
	}
}

func TestUpdate_MessageWindow(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 15; i++ {
		if err := s.Update("U1", "C1", "schedule", "q", "a", 30, ""); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	sess := s.Get("U1", "C1", 30, "")
	if len(sess.Messages) != MaxMessages {
		t.Errorf("messages = %d, want %d", len(sess.Messages), MaxMessages)
	}
}

func TestUpdate_WindowBelowCap(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		s.Update("U1", "C1", "schedule", "q", "a", 30, "")
	}
	sess := s.Get("U1", "C1", 30, "")
	if len(sess.Messages) != 6 {
		t.Errorf("messages = %d, want 6", len(sess.Messages))
	}
}

func TestUpdate_AssistantTruncation(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("가", 600)
	s.Update("U1", "C1", "schedule", "q", long, 30, "")

	sess := s.Get("U1", "C1", 30, "")
	got := []rune(sess.Messages[1].Content)
	if len(got) != 500 {
		t.Errorf("assistant content length = %d runes, want 500", len(got))
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	s.Update("U1", "C1", "finance", "q", "a", 30, "")

	// Jump the clock past the TTL.
	s.SetNow(func() time.Time { return time.Now().Add(31 * time.Minute) })

	sess := s.Get("U1", "C1", 30, "")
	if sess.Domain != "" {
		t.Errorf("domain = %q, want empty after expiry", sess.Domain)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("messages = %d, want 0 after expiry", len(sess.Messages))
	}
}

func TestTTLNotExpired(t *testing.T) {
	s := newTestStore(t)
	s.Update("U1", "C1", "finance", "q", "a", 30, "")

	s.SetNow(func() time.Time { return time.Now().Add(10 * time.Minute) })

	sess := s.Get("U1", "C1", 30, "")
	if sess.Domain != "finance" {
		t.Errorf("domain = %q, want finance", sess.Domain)
	}
}

func TestPendingAction_SingleSlot(t *testing.T) {
	s := newTestStore(t)

	first := &PendingAction{Tool: "book", Args: map[string]any{"title": "meeting"}, FieldName: "day"}
	second := &PendingAction{Tool: "add_schedule", Args: map[string]any{"title": "lunch"}, FieldName: "date"}

	s.SetPendingAction("U1", "C1", first, 30, "")
	s.SetPendingAction("U1", "C1", second, 30, "")

	got, err := s.GetAndClearPendingAction("U1", "C1", 30, "")
	if err != nil {
		t.Fatalf("GetAndClearPendingAction: %v", err)
	}
	if got == nil || got.Tool != "add_schedule" {
		t.Errorf("pending = %+v, want the overwriting action", got)
	}

	again, err := s.GetAndClearPendingAction("U1", "C1", 30, "")
	if err != nil {
		t.Fatalf("second pop: %v", err)
	}
	if again != nil {
		t.Errorf("second pop = %+v, want nil", again)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	s.Update("U1", "C1", "travel", "q", "a", 30, "")
	if err := s.Clear("U1", "C1", ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	sess := s.Get("U1", "C1", 30, "")
	if sess.Domain != "" || len(sess.Messages) != 0 {
		t.Errorf("session not cleared: %+v", sess)
	}
}

func TestScopeSeparation(t *testing.T) {
	s := newTestStore(t)
	s.Update("U1", "C1", "schedule", "q", "a", 30, "work")
	sess := s.Get("U1", "C1", 30, "personal")
	if len(sess.Messages) != 0 {
		t.Error("scopes should not share session state")
	}
}

func TestFileRepository_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := NewKey("U1", "C1", "")
	path := filepath.Join(dir, "sessions", key.String()+".json")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	sess, err := repo.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess != nil {
		t.Error("corrupt record should load as absent")
	}

	// The store turns absent into a fresh empty session.
	store := NewStore(repo)
	fresh := store.Get("U1", "C1", 30, "")
	if fresh.Domain != "" || len(fresh.Messages) != 0 {
		t.Error("expected fresh session from corrupt record")
	}
}

func TestKeySanitization(t *testing.T) {
	key := NewKey("U/1", "C/1", "a/b")
	if strings.Contains(key.String(), "/") {
		t.Errorf("key %q contains a path separator", key.String())
	}
}
