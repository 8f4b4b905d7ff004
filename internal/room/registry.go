package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
)

const runStopTimeout = 30 * time.Second

var (
	// ErrRoomNotFound is returned when a room has no live entry.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAlreadyJoined is returned when a session joins a room twice.
	ErrAlreadyJoined = errors.New("session already in room")
	// ErrNotMember is returned when addressing a session outside the room.
	ErrNotMember = errors.New("session not in room")
)

// Registry maps project identifiers to live rooms.
//
// The registry lock only guards the map itself. Membership and broadcasts
// are serialized by each room's own lock so unrelated rooms never contend.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (g *Registry) getOrCreate(roomID string, seed filetree.Tree) *Room {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[roomID]; ok {
		return r
	}
	r = newRoom(roomID, seed)
	g.rooms[roomID] = r
	slog.Info("Room created", "room_id", roomID, "files", len(seed))
	return r
}

// Join adds p to the room, creating the room seeded with seed if it does not
// exist yet. The seed is ignored for rooms that are already live.
func (g *Registry) Join(roomID string, p Participant, seed filetree.Tree) (*Room, error) {
	return g.JoinWithWelcome(roomID, p, seed, nil)
}

// WelcomeFunc builds the first frame a joining participant receives.
type WelcomeFunc func(r *Room) (domain.Frame, error)

// JoinWithWelcome is Join, but delivers welcome's frame to p while the room
// lock is still held, so no broadcast can reach p before it. A welcome error
// undoes the join.
func (g *Registry) JoinWithWelcome(roomID string, p Participant, seed filetree.Tree, welcome WelcomeFunc) (*Room, error) {
	for {
		r := g.getOrCreate(roomID, seed)

		r.mu.Lock()
		if r.closed {
			// Lost a race with reclamation of the previous room instance.
			r.mu.Unlock()
			continue
		}
		if _, exists := r.participants[p.SessionID()]; exists {
			r.mu.Unlock()
			return nil, ErrAlreadyJoined
		}
		if welcome != nil {
			frame, err := welcome(r)
			if err == nil {
				err = p.Deliver(frame)
			}
			if err != nil {
				r.mu.Unlock()
				g.reclaimIfEmpty(r)
				return nil, fmt.Errorf("welcome: %w", err)
			}
		}
		r.participants[p.SessionID()] = p
		n := len(r.participants)
		r.mu.Unlock()

		slog.Info("Session joined room", "room_id", roomID, "session_id", p.SessionID(), "email", p.Email(), "participants", n)
		return r, nil
	}
}

// Leave removes the session from the room. Leaving a room one is not part of
// is a no-op. The room is reclaimed when its last participant leaves.
func (g *Registry) Leave(roomID, sessionID string) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, member := r.participants[sessionID]; !member {
		r.mu.Unlock()
		return
	}
	delete(r.participants, sessionID)
	n := len(r.participants)
	empty := n == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	slog.Info("Session left room", "room_id", roomID, "session_id", sessionID, "participants", n)

	if empty {
		g.reclaim(r)
	}
}

// reclaimIfEmpty reclaims a room created for a join that did not complete.
func (g *Registry) reclaimIfEmpty(r *Room) {
	r.mu.Lock()
	if len(r.participants) > 0 || r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	g.reclaim(r)
}

// reclaim drops a closed room from the map and stops its run.
func (g *Registry) reclaim(r *Room) {
	g.mu.Lock()
	if g.rooms[r.id] == r {
		delete(g.rooms, r.id)
	}
	g.mu.Unlock()
	slog.Info("Room reclaimed", "room_id", r.id)

	if run := r.TakeRun(); run != nil {
		go stopRun(r.id, run)
	}
}

func stopRun(roomID string, run Stopper) {
	ctx, cancel := context.WithTimeout(context.Background(), runStopTimeout)
	defer cancel()
	if err := run.Stop(ctx); err != nil {
		slog.Warn("Failed to stop run of reclaimed room", "room_id", roomID, "error", err)
	}
}

// Room returns the live room for roomID.
func (g *Registry) Room(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// Exists reports whether roomID has a live room.
func (g *Registry) Exists(roomID string) bool {
	_, ok := g.Room(roomID)
	return ok
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Rooms returns a snapshot of the live rooms.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Participants returns a snapshot of the room's participants.
func (g *Registry) Participants(roomID string) []Participant {
	r, ok := g.Room(roomID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Broadcast delivers frame to every participant of the room except the one
// with session id exclude (pass "" to include everyone). A failed delivery to
// one participant is logged and does not affect the others. It returns the
// number of successful deliveries.
func (g *Registry) Broadcast(roomID string, frame domain.Frame, exclude string) (int, error) {
	r, ok := g.Room(roomID)
	if !ok {
		return 0, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRoomNotFound
	}

	delivered := 0
	for id, p := range r.participants {
		if id == exclude {
			continue
		}
		if err := p.Deliver(frame); err != nil {
			slog.Warn("Failed to deliver to participant", "room_id", roomID, "session_id", id, "event", frame.Event, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Send delivers frame to a single participant of the room.
func (g *Registry) Send(roomID, sessionID string, frame domain.Frame) error {
	r, ok := g.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	p, member := r.participants[sessionID]
	if !member {
		r.mu.Unlock()
		return ErrNotMember
	}
	err := p.Deliver(frame)
	r.mu.Unlock()
	return err
}
