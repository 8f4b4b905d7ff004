package gateway

import (
	"errors"
	"testing"

	"github.com/ashureev/codecollab/internal/domain"
)

func TestSessionDeliver(t *testing.T) {
	s := NewSession(domain.Identity{Email: "a@example.com"}, testProjectID, 2)
	if s.SessionID() == "" {
		t.Fatal("session id is empty")
	}
	if s.Status() != StatusActive {
		t.Fatalf("Status = %v, want active", s.Status())
	}

	for i := 0; i < 2; i++ {
		if err := s.Deliver(domain.Frame{Event: domain.EventPong}); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	if got := len(s.Outbound()); got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}
}

func TestSessionDeliverOverflowCloses(t *testing.T) {
	s := NewSession(domain.Identity{Email: "a@example.com"}, testProjectID, 1)
	if err := s.Deliver(domain.Frame{Event: domain.EventPong}); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(domain.Frame{Event: domain.EventPong}); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("err = %v, want ErrSendQueueFull", err)
	}
	if s.Status() != StatusClosed {
		t.Error("overflowing session not closed")
	}
	if s.CloseReason() != ErrSendQueueFull.Error() {
		t.Errorf("CloseReason = %q", s.CloseReason())
	}
	if err := s.Deliver(domain.Frame{Event: domain.EventPong}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err after close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseKeepsFirstReason(t *testing.T) {
	s := NewSession(domain.Identity{}, testProjectID, 1)
	s.Close("logout")
	s.Close("session ended")
	if s.CloseReason() != "logout" {
		t.Errorf("CloseReason = %q, want logout", s.CloseReason())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestSessionAccessors(t *testing.T) {
	id := domain.Identity{Email: "a@example.com", Subject: "u-1"}
	s := NewSession(id, testProjectID, 1)

	if s.Email() != "a@example.com" || s.RoomID() != testProjectID || s.Identity() != id {
		t.Errorf("accessors = %q %q %+v", s.Email(), s.RoomID(), s.Identity())
	}
	if got := s.Status().String(); got != "active" {
		t.Errorf("Status = %q, want active", got)
	}
	s.Close("bye")
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Close")
	}
	if got := s.Status().String(); got != "closed" {
		t.Errorf("Status = %q, want closed", got)
	}
}

func TestSessionIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSession(domain.Identity{}, testProjectID, 1).SessionID()
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager()
	a1 := NewSession(domain.Identity{Email: "a@example.com"}, testProjectID, 1)
	a2 := NewSession(domain.Identity{Email: "a@example.com"}, otherProject, 1)
	b := NewSession(domain.Identity{Email: "b@example.com"}, testProjectID, 1)

	sm.Register(a1, nil)
	sm.Register(a2, nil)
	sm.Register(b, nil)
	if sm.Len() != 3 {
		t.Fatalf("Len = %d, want 3", sm.Len())
	}
	if got, ok := sm.Get("a@example.com", a2.SessionID()); !ok || got != a2 {
		t.Error("Get did not return registered session")
	}

	if n := sm.CloseUser("a@example.com", "logout"); n != 2 {
		t.Errorf("CloseUser closed %d, want 2", n)
	}
	if a1.Status() != StatusClosed || a2.Status() != StatusClosed {
		t.Error("user sessions not closed")
	}
	if b.Status() != StatusActive {
		t.Error("other user's session closed")
	}

	sm.Unregister(a1)
	sm.Unregister(a2)
	if sm.Len() != 1 {
		t.Errorf("Len after unregister = %d, want 1", sm.Len())
	}

	sm.CloseAll("shutdown")
	if b.Status() != StatusClosed {
		t.Error("CloseAll left a session open")
	}
}
