package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/codecollab/internal/auth"
	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
	"github.com/ashureev/codecollab/internal/room"
	"github.com/ashureev/codecollab/internal/router"
	"github.com/coder/websocket"
)

// Close status codes sent when a connection is refused or abandoned.
const (
	closeInvalidProject   = 4400
	closeAuth             = 4401
	closeProjectNotFound  = 4404
	closeHandshakeTimeout = 4408
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	maxMessageBytes         = 8 << 20
)

// Router processes admitted frames.
type Router interface {
	Route(ctx context.Context, s router.Session, frame domain.Frame) error
}

// Options configures a WebSocketHandler.
type Options struct {
	AllowedOrigin    string
	IsDev            bool
	HandshakeTimeout time.Duration
	SendQueueSize    int
}

// WebSocketHandler serves the real-time project endpoint.
type WebSocketHandler struct {
	gw    *Gateway
	rooms *room.Registry
	rt    Router
	sm    *SessionManager
	opts  Options
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(gw *Gateway, rooms *room.Registry, rt Router, sm *SessionManager, opts Options) *WebSocketHandler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &WebSocketHandler{
		gw:    gw,
		rooms: rooms,
		rt:    rt,
		sm:    sm,
		opts:  opts,
	}
}

type connectedData struct {
	SessionID string            `json:"sessionId"`
	RoomID    string            `json:"roomId"`
	Email     string            `json:"email"`
	FileTree  filetree.Tree     `json:"fileTree"`
	Versions  filetree.Versions `json:"versions"`
}

type connectErrorData struct {
	Reason  string `json:"reason"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		_ = ws.CloseNow()
	}()
	ws.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hs := Handshake{
		ProjectID: r.URL.Query().Get("projectId"),
		Token:     auth.TokenFromRequest(r),
	}
	// A malformed project id is refused without waiting for a token.
	invalidID := hs.ProjectID != "" && !ValidProjectID(hs.ProjectID)
	if !invalidID && (hs.ProjectID == "" || hs.Token == "") {
		var ok bool
		hs, ok = h.awaitHandshake(ctx, ws, hs)
		if !ok {
			return
		}
	}

	admitCtx, cancelAdmit := context.WithTimeout(ctx, h.opts.HandshakeTimeout)
	project, identity, err := h.gw.Admit(admitCtx, hs)
	cancelAdmit()
	if err != nil {
		h.reject(ws, hs.ProjectID, err)
		return
	}

	sess := NewSession(identity, project.RoomID(), h.opts.SendQueueSize)
	logger := slog.With("session_id", sess.SessionID(), "room_id", sess.RoomID(), "email", identity.Email)

	_, err = h.rooms.JoinWithWelcome(sess.RoomID(), sess, filetree.Tree(project.FileTree), func(rm *room.Room) (domain.Frame, error) {
		tree, versions := rm.Files().Snapshot()
		return domain.NewFrame(domain.EventConnected, connectedData{
			SessionID: sess.SessionID(),
			RoomID:    rm.ID(),
			Email:     identity.Email,
			FileTree:  tree,
			Versions:  versions,
		})
	})
	if err != nil {
		logger.Error("Failed to join room", "error", err)
		_ = ws.Close(websocket.StatusInternalError, "join failed")
		return
	}
	defer h.rooms.Leave(sess.RoomID(), sess.SessionID())

	h.sm.Register(sess, ws)
	defer h.sm.Unregister(sess)
	defer sess.Close("session ended")

	logger.Info("Session admitted")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(ctx, ws, sess, logger)
	}()

	h.readLoop(ctx, ws, sess, logger)

	sess.Close("session ended")
	cancel()
	<-writerDone
	logger.Info("Session ended", "reason", sess.CloseReason())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

type readResult struct {
	data []byte
	err  error
}

// awaitHandshake waits for an auth frame carrying whatever the upgrade
// request lacked. When the wait expires a partial handshake is still
// returned so admission can report the missing part; a client that sent
// nothing at all is closed with closeHandshakeTimeout.
func (h *WebSocketHandler) awaitHandshake(ctx context.Context, ws *websocket.Conn, hs Handshake) (Handshake, bool) {
	// Reading with a deadline context would tear the connection down on
	// expiry, before the timeout status could be sent.
	result := make(chan readResult, 1)
	go func() {
		_, data, err := ws.Read(ctx)
		result <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(h.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		if hs.ProjectID != "" || hs.Token != "" {
			slog.Debug("Handshake incomplete at deadline", "project_id", hs.ProjectID, "has_token", hs.Token != "")
			return hs, true
		}
		slog.Info("Handshake timed out", "timeout", h.opts.HandshakeTimeout)
		_ = ws.Close(websocket.StatusCode(closeHandshakeTimeout), "handshake timeout")
		return hs, false
	case res := <-result:
		if res.err != nil {
			slog.Debug("Connection closed during handshake", "error", res.err)
			return hs, false
		}
		var frame domain.Frame
		if err := json.Unmarshal(res.data, &frame); err != nil || frame.Event != domain.EventAuth {
			slog.Debug("First frame is not an auth frame", "event", frame.Event)
			return hs, true
		}
		var in Handshake
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &in); err != nil {
				slog.Debug("Malformed auth frame", "error", err)
			}
		}
		if hs.ProjectID == "" {
			hs.ProjectID = in.ProjectID
		}
		if hs.Token == "" {
			hs.Token = in.Token
		}
		return hs, true
	case <-ctx.Done():
		return hs, false
	}
}

// reject reports the admission failure to the client and closes the socket.
func (h *WebSocketHandler) reject(ws *websocket.Conn, projectID string, err error) {
	data := connectErrorData{Message: err.Error()}
	var status websocket.StatusCode
	switch {
	case errors.Is(err, ErrInvalidProject):
		data.Reason, status = "InvalidProject", closeInvalidProject
	case errors.Is(err, ErrProjectNotFound):
		data.Reason, status = "ProjectNotFound", closeProjectNotFound
	case auth.Reason(err) != "":
		data.Reason, data.Code, status = "AuthError", auth.Reason(err), closeAuth
		data.Message = "authentication failed"
	default:
		data.Reason, status = "InternalError", websocket.StatusInternalError
		data.Message = "internal error"
	}
	slog.Info("Connection rejected", "project_id", projectID, "reason", data.Reason, "code", data.Code, "error", err)

	frame, ferr := domain.NewFrame(domain.EventConnectError, data)
	if ferr == nil {
		if werr := writeFrame(ws, frame); werr != nil {
			slog.Debug("Failed to send connect_error", "error", werr)
		}
	}
	_ = ws.Close(status, data.Reason)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client", "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debug("Dropping malformed frame", "error", err)
			continue
		}
		if frame.Event == domain.EventAuth {
			continue
		}
		if err := h.rt.Route(ctx, sess, frame); err != nil {
			logger.Warn("Failed to route frame", "event", frame.Event, "error", err)
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sess *Session, logger *slog.Logger) {
	for {
		select {
		case frame := <-sess.Outbound():
			if err := writeFrame(ws, frame); err != nil {
				if ctx.Err() == nil {
					logger.Debug("WebSocket write error", "error", err)
				}
				sess.Close("write failed")
				return
			}
		case <-sess.Done():
			if reason := sess.CloseReason(); reason == ErrSendQueueFull.Error() {
				logger.Warn("Closing slow session")
				_ = ws.Close(websocket.StatusPolicyViolation, reason)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(ws *websocket.Conn, frame domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
