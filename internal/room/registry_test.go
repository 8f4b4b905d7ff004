package room

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
)

type fakeParticipant struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames []domain.Frame
}

func newFake(id string) *fakeParticipant {
	return &fakeParticipant{id: id}
}

func (f *fakeParticipant) SessionID() string { return f.id }
func (f *fakeParticipant) Email() string     { return f.id + "@example.com" }

func (f *fakeParticipant) Deliver(frame domain.Frame) error {
	if f.fail {
		return errors.New("connection gone")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeParticipant) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeRun struct {
	stopped chan struct{}
}

func (r *fakeRun) Stop(_ context.Context) error {
	close(r.stopped)
	return nil
}

func mustFrame(t *testing.T) domain.Frame {
	t.Helper()
	frame, err := domain.NewFrame(domain.EventProjectMessage, map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	return frame
}

func TestRegistry_JoinAndParticipants(t *testing.T) {
	g := NewRegistry()
	a, b := newFake("a"), newFake("b")

	if _, err := g.Join("p1", a, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p1", b, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if got := len(g.Participants("p1")); got != 2 {
		t.Errorf("Expected 2 participants, got %d", got)
	}
	if !g.Exists("p1") {
		t.Error("Expected room p1 to exist")
	}
}

func TestRegistry_JoinTwiceRejected(t *testing.T) {
	g := NewRegistry()
	a := newFake("a")

	if _, err := g.Join("p1", a, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p1", a, nil); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("Expected ErrAlreadyJoined, got %v", err)
	}
	if got := len(g.Participants("p1")); got != 1 {
		t.Errorf("Expected 1 participant, got %d", got)
	}
}

func TestRegistry_SeedOnlyOnCreate(t *testing.T) {
	g := NewRegistry()

	r, _ := g.Join("p1", newFake("a"), filetree.Tree{"a.js": "1"})
	if _, err := g.Join("p1", newFake("b"), filetree.Tree{"a.js": "stale"}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	tree, _ := r.Files().Snapshot()
	if tree["a.js"] != "1" {
		t.Errorf("Expected seed from first join, got %q", tree["a.js"])
	}
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
	g := NewRegistry()
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	for _, p := range []*fakeParticipant{a, b, c} {
		if _, err := g.Join("p1", p, nil); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	n, err := g.Broadcast("p1", mustFrame(t), "a")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deliveries, got %d", n)
	}
	if a.count() != 0 {
		t.Error("Sender must not receive its own message")
	}
	if b.count() != 1 || c.count() != 1 {
		t.Errorf("Expected b and c to receive once, got %d and %d", b.count(), c.count())
	}
}

func TestRegistry_RoomIsolation(t *testing.T) {
	g := NewRegistry()
	a, b := newFake("a"), newFake("b")
	if _, err := g.Join("p1", a, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p2", b, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if _, err := g.Broadcast("p1", mustFrame(t), ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if b.count() != 0 {
		t.Error("Message leaked across rooms")
	}
	if a.count() != 1 {
		t.Errorf("Expected a to receive 1 frame, got %d", a.count())
	}
}

func TestRegistry_BroadcastIsolatesFailures(t *testing.T) {
	g := NewRegistry()
	bad := newFake("bad")
	bad.fail = true
	good := newFake("good")
	if _, err := g.Join("p1", bad, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p1", good, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	n, err := g.Broadcast("p1", mustFrame(t), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if n != 1 || good.count() != 1 {
		t.Errorf("Expected healthy participant to receive, delivered=%d count=%d", n, good.count())
	}
}

func TestRegistry_LeaveStopsDelivery(t *testing.T) {
	g := NewRegistry()
	a, b := newFake("a"), newFake("b")
	if _, err := g.Join("p1", a, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p1", b, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	g.Leave("p1", "b")

	if _, err := g.Broadcast("p1", mustFrame(t), ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if b.count() != 0 {
		t.Error("Departed session must not receive broadcasts")
	}
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	g := NewRegistry()
	if _, err := g.Join("p1", newFake("a"), nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	g.Leave("p1", "nobody")
	g.Leave("unknown-room", "a")

	if got := len(g.Participants("p1")); got != 1 {
		t.Errorf("Expected 1 participant, got %d", got)
	}
}

func TestRegistry_EmptyRoomReclaimed(t *testing.T) {
	g := NewRegistry()
	r, err := g.Join("p1", newFake("a"), nil)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	run := &fakeRun{stopped: make(chan struct{})}
	r.SwapRun(run)

	g.Leave("p1", "a")

	if g.Exists("p1") {
		t.Error("Expected empty room to be reclaimed")
	}
	if g.Len() != 0 {
		t.Errorf("Expected no live rooms, got %d", g.Len())
	}
	if _, err := g.Broadcast("p1", mustFrame(t), ""); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	select {
	case <-run.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected run of reclaimed room to be stopped")
	}
}

func TestRegistry_RejoinAfterReclaimGetsFreshRoom(t *testing.T) {
	g := NewRegistry()
	first, _ := g.Join("p1", newFake("a"), filetree.Tree{"x": "old"})
	g.Leave("p1", "a")

	second, err := g.Join("p1", newFake("b"), filetree.Tree{"x": "new"})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if first == second {
		t.Fatal("Expected a new room instance after reclamation")
	}
	tree, _ := second.Files().Snapshot()
	if tree["x"] != "new" {
		t.Errorf("Expected fresh seed, got %q", tree["x"])
	}
}

func TestRegistry_SendToSingleParticipant(t *testing.T) {
	g := NewRegistry()
	a, b := newFake("a"), newFake("b")
	if _, err := g.Join("p1", a, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := g.Join("p1", b, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := g.Send("p1", "a", mustFrame(t)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if a.count() != 1 || b.count() != 0 {
		t.Errorf("Expected only a to receive, got a=%d b=%d", a.count(), b.count())
	}
	if err := g.Send("p1", "zzz", mustFrame(t)); !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}
}

func TestRegistry_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	g := NewRegistry()
	anchor := newFake("anchor")
	if _, err := g.Join("p1", anchor, nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	frame := mustFrame(t)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := "s-" + strconv.Itoa(i)
			if _, err := g.Join("p1", newFake(id), nil); err != nil {
				t.Errorf("Join failed: %v", err)
				return
			}
			g.Leave("p1", id)
		}(i)
		go func() {
			defer wg.Done()
			if _, err := g.Broadcast("p1", frame, ""); err != nil {
				t.Errorf("Broadcast failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(g.Participants("p1")); got != 1 {
		t.Errorf("Expected only the anchor to remain, got %d", got)
	}
	if anchor.count() != 100 {
		t.Errorf("Expected anchor to see all 100 broadcasts, got %d", anchor.count())
	}
}

func TestRegistry_JoinWithWelcomeDeliversFirst(t *testing.T) {
	g := NewRegistry()
	a := newFake("a")
	if _, err := g.Join("room", a, filetree.Tree{"index.js": "x"}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	b := newFake("b")
	_, err := g.JoinWithWelcome("room", b, nil, func(r *Room) (domain.Frame, error) {
		tree, _ := r.Files().Snapshot()
		return domain.NewFrame(domain.EventConnected, map[string]any{"fileTree": tree})
	})
	if err != nil {
		t.Fatalf("JoinWithWelcome failed: %v", err)
	}
	if _, err := g.Broadcast("room", mustFrame(t), "a"); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) != 2 || b.frames[0].Event != domain.EventConnected {
		t.Fatalf("expected welcome then message, got %+v", b.frames)
	}
}

func TestRegistry_JoinWithWelcomeErrorUndoesJoin(t *testing.T) {
	g := NewRegistry()
	p := newFake("a")
	_, err := g.JoinWithWelcome("room", p, nil, func(*Room) (domain.Frame, error) {
		return domain.Frame{}, errors.New("snapshot failed")
	})
	if err == nil {
		t.Fatal("expected error from failing welcome")
	}
	if g.Exists("room") {
		t.Error("room created for failed join was not reclaimed")
	}
	if p.count() != 0 {
		t.Errorf("participant received %d frames", p.count())
	}
}
