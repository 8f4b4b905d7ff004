// Package router dispatches inbound session events to the room: chat
// broadcast, @ai invocations and file-tree edits.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/codecollab/internal/ai"
	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
	"github.com/ashureev/codecollab/internal/room"
)

// ErrBadPayload is returned for frames whose data cannot be decoded.
var ErrBadPayload = errors.New("bad event payload")

// Session is the sending side of an inbound frame.
type Session interface {
	SessionID() string
	Email() string
	RoomID() string
}

// Invoker calls the AI backend and returns its structured reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (domain.Envelope, error)
}

// Config holds router limits.
type Config struct {
	RateLimit  int
	RateWindow time.Duration
}

// Router routes inbound frames. One Router serves every room.
type Router struct {
	rooms   *room.Registry
	ai      Invoker
	limiter *RateLimiter
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// New creates a router.
func New(rooms *room.Registry, invoker Invoker, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rooms:   rooms,
		ai:      invoker,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:  logger,
	}
}

type projectMessageIn struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

type fileTreeUpdate struct {
	FileTree filetree.Tree     `json:"fileTree"`
	Versions filetree.Versions `json:"versions,omitempty"`
	Sender   string            `json:"sender,omitempty"`
}

type fileRemove struct {
	Path    string `json:"path"`
	Version uint64 `json:"version,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

// Route handles one frame from s. Callers must invoke Route sequentially per
// session so a sender's events keep their order.
func (r *Router) Route(ctx context.Context, s Session, frame domain.Frame) error {
	switch frame.Event {
	case domain.EventProjectMessage:
		var in projectMessageIn
		if err := decode(frame, &in); err != nil {
			return err
		}
		return r.handleMessage(ctx, s, in)
	case domain.EventFileTreeUpdate:
		var in fileTreeUpdate
		if err := decode(frame, &in); err != nil {
			return err
		}
		return r.handleFileTree(s, in.FileTree)
	case domain.EventFileRemove:
		var in fileRemove
		if err := decode(frame, &in); err != nil {
			return err
		}
		return r.handleRemove(s, in.Path)
	case domain.EventPing:
		pong := domain.Frame{Event: domain.EventPong, Data: frame.Data}
		return r.rooms.Send(s.RoomID(), s.SessionID(), pong)
	default:
		r.logger.Debug("Ignoring unknown event", "event", frame.Event, "session_id", s.SessionID())
		return nil
	}
}

func decode(frame domain.Frame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrBadPayload, frame.Event)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadPayload, frame.Event, err)
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, s Session, in projectMessageIn) error {
	sender := in.Sender
	if sender == "" {
		sender = s.Email()
	}
	msg := domain.NewPlainMessage(in.Message, sender, s.Email(), s.SessionID())
	frame, err := msg.Frame()
	if err != nil {
		return err
	}
	if _, err := r.rooms.Broadcast(s.RoomID(), frame, s.SessionID()); err != nil {
		return fmt.Errorf("broadcast message: %w", err)
	}

	if !ai.HasTrigger(in.Message) {
		return nil
	}

	if !r.limiter.Allow(s.Email()) {
		r.logger.Info("AI request rate limited", "email", s.Email(), "room_id", s.RoomID())
		notice, err := domain.NewAIMessage(domain.Envelope{
			Text:  "You are sending requests to the assistant too quickly. Please wait a moment.",
			Error: true,
		}).Frame()
		if err != nil {
			return err
		}
		return r.rooms.Send(s.RoomID(), s.SessionID(), notice)
	}

	prompt := ai.DerivePrompt(in.Message)
	roomID := s.RoomID()
	// The reply belongs to the room, not the sender: it must survive the
	// sender disconnecting before the model answers.
	detached := context.WithoutCancel(ctx)

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.answer(detached, roomID, s.Email(), prompt)
	}()
	return nil
}

func (r *Router) answer(ctx context.Context, roomID, requester, prompt string) {
	start := time.Now()
	env, err := r.ai.Invoke(ctx, prompt)
	if err != nil {
		r.logger.Warn("AI invocation failed", "room_id", roomID, "email", requester, "error", err)
		env = ai.FailureEnvelope(err)
	}

	if len(env.FileTree) > 0 {
		rm, ok := r.rooms.Room(roomID)
		if !ok {
			r.logger.Info("Dropping AI reply for empty room", "room_id", roomID)
			return
		}
		rm.Files().Apply(env.FileTree)
	}

	frame, err := domain.NewAIMessage(env).Frame()
	if err != nil {
		r.logger.Error("Failed to encode AI reply", "room_id", roomID, "error", err)
		return
	}
	n, err := r.rooms.Broadcast(roomID, frame, "")
	if errors.Is(err, room.ErrRoomNotFound) {
		r.logger.Info("Dropping AI reply for empty room", "room_id", roomID)
		return
	}
	r.logger.Info("AI reply broadcast",
		"room_id", roomID,
		"email", requester,
		"recipients", n,
		"files", len(env.FileTree),
		"failed", env.Error,
		"duration", time.Since(start),
	)
}

func (r *Router) handleFileTree(s Session, delta filetree.Tree) error {
	if len(delta) == 0 {
		return nil
	}
	rm, ok := r.rooms.Room(s.RoomID())
	if !ok {
		return room.ErrRoomNotFound
	}
	versions := rm.Files().Apply(delta)

	frame, err := domain.NewFrame(domain.EventFileTreeUpdate, fileTreeUpdate{
		FileTree: delta,
		Versions: versions,
		Sender:   s.Email(),
	})
	if err != nil {
		return err
	}
	_, err = r.rooms.Broadcast(s.RoomID(), frame, s.SessionID())
	return err
}

func (r *Router) handleRemove(s Session, path string) error {
	if path == "" {
		return fmt.Errorf("%w: file-remove without path", ErrBadPayload)
	}
	rm, ok := r.rooms.Room(s.RoomID())
	if !ok {
		return room.ErrRoomNotFound
	}
	version, existed := rm.Files().Remove(path)
	if !existed {
		return nil
	}

	frame, err := domain.NewFrame(domain.EventFileRemove, fileRemove{
		Path:    path,
		Version: version,
		Sender:  s.Email(),
	})
	if err != nil {
		return err
	}
	_, err = r.rooms.Broadcast(s.RoomID(), frame, s.SessionID())
	return err
}

// AllowAI reports whether email may make another assistant request now. It
// draws from the same quota as @ai chat messages.
func (r *Router) AllowAI(email string) bool {
	return r.limiter.Allow(email)
}

// Wait blocks until every in-flight AI invocation has finished.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Close stops background work. It does not wait for in-flight invocations.
func (r *Router) Close() {
	r.limiter.Close()
}
