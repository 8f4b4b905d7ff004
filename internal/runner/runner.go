// Package runner executes a room's current file tree in an isolated
// container. Each room owns at most one run; starting a new one replaces it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/codecollab/internal/filetree"
	"github.com/ashureev/codecollab/internal/room"
)

var (
	// ErrDisabled is returned when no engine is configured.
	ErrDisabled = errors.New("runner disabled")
	// ErrNotRunning is returned when stopping a room without a run.
	ErrNotRunning = errors.New("no active run")
	// ErrNoFiles is returned when the room's tree is empty.
	ErrNoFiles = errors.New("project has no files")
)

// Instance identifies a started container.
type Instance struct {
	ContainerID string
	URL         string
}

// Engine starts and stops containers.
type Engine interface {
	Start(ctx context.Context, roomID string, files filetree.Tree) (Instance, error)
	Stop(ctx context.Context, containerID string) error
	IsRunning(ctx context.Context, containerID string) (bool, error)
}

// Run is the active execution of one room. It is installed in the room's
// run slot and stopped when replaced or when the room is reclaimed.
type Run struct {
	engine Engine

	RoomID      string    `json:"roomId"`
	ContainerID string    `json:"containerId"`
	URL         string    `json:"url,omitempty"`
	StartedAt   time.Time `json:"startedAt"`

	stopped atomic.Bool
}

// Stop stops the run's container. Only the first call reaches the engine.
func (r *Run) Stop(ctx context.Context) error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.engine.Stop(ctx, r.ContainerID); err != nil {
		return fmt.Errorf("stop run of room %s: %w", r.RoomID, err)
	}
	return nil
}

// Stopped reports whether Stop was called.
func (r *Run) Stopped() bool {
	return r.stopped.Load()
}

// Service starts and stops room runs.
type Service struct {
	rooms  *room.Registry
	engine Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a service. A nil engine disables runs.
func NewService(rooms *room.Registry, engine Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rooms: rooms, engine: engine, logger: logger, now: time.Now}
}

// Enabled reports whether an engine is configured.
func (s *Service) Enabled() bool {
	return s.engine != nil
}

// Start runs the room's current tree and stops the room's previous run.
// Runs of other rooms are never touched.
func (s *Service) Start(ctx context.Context, roomID string) (*Run, error) {
	if s.engine == nil {
		return nil, ErrDisabled
	}
	rm, ok := s.rooms.Room(roomID)
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	tree, _ := rm.Files().Snapshot()
	if len(tree) == 0 {
		return nil, ErrNoFiles
	}

	if prev := rm.TakeRun(); prev != nil {
		if err := prev.Stop(ctx); err != nil {
			s.logger.Warn("Failed to stop previous run", "room_id", roomID, "error", err)
		}
	}

	inst, err := s.engine.Start(ctx, roomID, tree)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	run := &Run{
		engine:      s.engine,
		RoomID:      roomID,
		ContainerID: inst.ContainerID,
		URL:         inst.URL,
		StartedAt:   s.now(),
	}

	if prev := rm.SwapRun(run); prev != nil {
		// A concurrent Start won the slot first.
		s.stopDetached(roomID, prev)
	}

	// The room may have been reclaimed while the container was starting.
	if cur, ok := s.rooms.Room(roomID); !ok || cur != rm {
		if stale := rm.TakeRun(); stale != nil {
			s.stopDetached(roomID, stale)
		}
		return nil, room.ErrRoomNotFound
	}

	s.logger.Info("Run started", "room_id", roomID, "container_id", run.ContainerID, "files", len(tree))
	return run, nil
}

// Stop stops the room's active run.
func (s *Service) Stop(ctx context.Context, roomID string) error {
	if s.engine == nil {
		return ErrDisabled
	}
	rm, ok := s.rooms.Room(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	prev := rm.TakeRun()
	if prev == nil {
		return ErrNotRunning
	}
	if err := prev.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info("Run stopped", "room_id", roomID)
	return nil
}

// StopAll stops the runs of every live room and returns how many it stopped.
func (s *Service) StopAll(ctx context.Context) int {
	n := 0
	for _, rm := range s.rooms.Rooms() {
		run := rm.TakeRun()
		if run == nil {
			continue
		}
		if err := run.Stop(ctx); err != nil {
			s.logger.Warn("Failed to stop run", "room_id", rm.ID(), "error", err)
			continue
		}
		n++
	}
	return n
}

// Status returns the room's active run, if any.
func (s *Service) Status(roomID string) (*Run, bool) {
	rm, ok := s.rooms.Room(roomID)
	if !ok {
		return nil, false
	}
	run, ok := rm.Run().(*Run)
	return run, ok && run != nil
}

func (s *Service) stopDetached(roomID string, run room.Stopper) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := run.Stop(ctx); err != nil {
			s.logger.Warn("Failed to stop superseded run", "room_id", roomID, "error", err)
		}
	}()
}
