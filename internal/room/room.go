// Package room tracks which sessions are connected to which project and fans
// events out to them.
package room

import (
	"context"
	"sync"

	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
)

// Participant is a connected session that can receive room events.
//
// Deliver must not block and must not call back into the Registry: it is
// invoked while the room lock is held.
type Participant interface {
	SessionID() string
	Email() string
	Deliver(frame domain.Frame) error
}

// Stopper is a process owned by a room, such as a running copy of the project.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Room is the broadcast scope of one project.
type Room struct {
	id string

	mu           sync.Mutex
	participants map[string]Participant
	closed       bool

	files *filetree.State

	runMu sync.Mutex
	run   Stopper
}

func newRoom(id string, seed filetree.Tree) *Room {
	return &Room{
		id:           id,
		participants: make(map[string]Participant),
		files:        filetree.NewState(seed),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// Files returns the room's live file tree.
func (r *Room) Files() *filetree.State {
	return r.files
}

// Len returns the current number of participants.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// SwapRun installs run as the room's active process and returns the one it
// replaced, if any. The caller is responsible for stopping the old process.
func (r *Room) SwapRun(run Stopper) Stopper {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	prev := r.run
	r.run = run
	return prev
}

// TakeRun detaches and returns the active process.
func (r *Room) TakeRun() Stopper {
	return r.SwapRun(nil)
}

// TakeRunIf detaches the active process only if it is still run.
func (r *Room) TakeRunIf(run Stopper) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.run == nil || r.run != run {
		return false
	}
	r.run = nil
	return true
}

// Run returns the active process without detaching it.
func (r *Room) Run() Stopper {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.run
}
