package chat

import "testing"

func TestLocalStore_SessionsAreIsolated(t *testing.T) {
	s := NewLocalStore()

	a, err := s.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	b, err := s.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	s.Append(a, LocalMessage{Role: RoleUser, Content: "Hello"})
	s.Append(a, LocalMessage{Role: RoleAssistant, Content: "Hi there"})
	s.Append(b, LocalMessage{Role: RoleUser, Content: "other"})

	got := s.List(a)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Content != "Hello" || got[1].Content != "Hi there" {
		t.Fatalf("unexpected log: %+v", got)
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be stamped")
	}
	if len(s.List(b)) != 1 {
		t.Fatalf("sessions must not share logs")
	}
}

func TestLocalStore_ListReturnsACopy(t *testing.T) {
	s := NewLocalStore()
	id, err := s.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Append(id, LocalMessage{Role: RoleUser, Content: "Hello"})

	got := s.List(id)
	got[0].Content = "mutated"

	if s.List(id)[0].Content != "Hello" {
		t.Fatalf("List must return a copy")
	}
}

func TestLocalStore_UnknownSessionAutoCreates(t *testing.T) {
	s := NewLocalStore()
	s.Append("stale-id-from-before-restart", LocalMessage{Role: RoleUser, Content: "Hello"})
	if len(s.List("stale-id-from-before-restart")) != 1 {
		t.Fatalf("append to unknown session must start a fresh log")
	}
}
