package gateway

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ashureev/codecollab/internal/domain"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrSessionClosed is returned when delivering to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendQueueFull is returned when a session cannot keep up. The session
	// is closed as a consequence.
	ErrSendQueueFull = errors.New("send queue full")
)

// Status is the lifecycle state of a session.
type Status int32

// Session states.
const (
	StatusActive Status = iota
	StatusClosed
)

// String returns "active" or "closed".
func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "closed"
}

// Session is one admitted connection bound to exactly one room.
type Session struct {
	id       string
	identity domain.Identity
	roomID   string

	out    chan domain.Frame
	done   chan struct{}
	once   sync.Once
	status atomic.Int32
	reason atomic.Value
}

// NewSession creates an active session with an outbound queue of queueSize.
func NewSession(identity domain.Identity, roomID string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		id:       ulid.Make().String(),
		identity: identity,
		roomID:   roomID,
		out:      make(chan domain.Frame, queueSize),
		done:     make(chan struct{}),
	}
}

// SessionID returns the session's ULID.
func (s *Session) SessionID() string {
	return s.id
}

// Email returns the verified email of the session owner.
func (s *Session) Email() string {
	return s.identity.Email
}

// RoomID returns the room the session was admitted to.
func (s *Session) RoomID() string {
	return s.roomID
}

// Identity returns the verified token identity.
func (s *Session) Identity() domain.Identity {
	return s.identity
}

// Status reports whether the session is still active.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Outbound returns the queue drained by the connection writer.
func (s *Session) Outbound() <-chan domain.Frame {
	return s.out
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver enqueues frame without blocking. A full queue closes the session.
func (s *Session) Deliver(frame domain.Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- frame:
		return nil
	default:
		s.Close(ErrSendQueueFull.Error())
		return ErrSendQueueFull
	}
}

// Close marks the session closed. Only the first reason is kept.
func (s *Session) Close(reason string) {
	s.once.Do(func() {
		s.reason.Store(reason)
		s.status.Store(int32(StatusClosed))
		close(s.done)
	})
}

// CloseReason returns the reason passed to the first Close call.
func (s *Session) CloseReason() string {
	r, _ := s.reason.Load().(string)
	return r
}
