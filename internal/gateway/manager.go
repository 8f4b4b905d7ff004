package gateway

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

type liveConn struct {
	session *Session
	conn    *websocket.Conn
}

// SessionManager tracks live sessions and their connections, indexed by user
// email and session id.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]liveConn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]liveConn),
	}
}

// Register adds a live session.
func (m *SessionManager) Register(s *Session, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := s.Email()
	if _, exists := m.active[email]; !exists {
		m.active[email] = make(map[string]liveConn)
	}
	m.active[email][s.SessionID()] = liveConn{session: s, conn: conn}
	slog.Debug("Session registered", "email", email, "session_id", s.SessionID(), "room_id", s.RoomID())
}

// Unregister removes a session. Empty per-user maps are pruned.
func (m *SessionManager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := s.Email()
	if sessions, ok := m.active[email]; ok {
		if current, exists := sessions[s.SessionID()]; exists && current.session == s {
			delete(sessions, s.SessionID())
			if len(sessions) == 0 {
				delete(m.active, email)
			}
			slog.Debug("Session unregistered", "email", email, "session_id", s.SessionID())
		}
	}
}

// Get returns the live session with the given id owned by email.
func (m *SessionManager) Get(email, sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lc, ok := m.active[email][sessionID]
	return lc.session, ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseUser terminates every live session of a user, e.g. after logout.
// It returns the number of sessions closed.
func (m *SessionManager) CloseUser(email, reason string) int {
	m.mu.RLock()
	var targets []liveConn
	for _, lc := range m.active[email] {
		targets = append(targets, lc)
	}
	m.mu.RUnlock()

	closeAll(targets, websocket.StatusCode(closeAuth), reason)
	return len(targets)
}

// CloseAll terminates every live session, e.g. on shutdown.
func (m *SessionManager) CloseAll(reason string) {
	m.mu.RLock()
	var targets []liveConn
	for _, sessions := range m.active {
		for _, lc := range sessions {
			targets = append(targets, lc)
		}
	}
	m.mu.RUnlock()

	closeAll(targets, websocket.StatusGoingAway, reason)
	slog.Info("Closed all sessions", "count", len(targets), "reason", reason)
}

// closeAll closes the connections concurrently. The close frame goes out
// before the session is marked closed.
func closeAll(targets []liveConn, code websocket.StatusCode, reason string) {
	var wg sync.WaitGroup
	for _, lc := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.conn != nil {
				if err := lc.conn.Close(code, reason); err != nil {
					slog.Debug("Failed to close session connection", "session_id", lc.session.SessionID(), "error", err)
				}
			}
			lc.session.Close(reason)
		}()
	}
	wg.Wait()
}
