package domain

import (
	"encoding/json"
	"fmt"
)

// MessageKind tags the variant carried by a ChatMessage.
type MessageKind int

const (
	// KindPlain is a human chat message.
	KindPlain MessageKind = iota
	// KindAIResult is a gateway-originated AI reply or failure notice.
	KindAIResult
)

// Envelope is the structured result of an AI invocation.
type Envelope struct {
	Text     string            `json:"text"`
	FileTree map[string]string `json:"fileTree,omitempty"`
	Error    bool              `json:"error,omitempty"`
}

// ChatMessage is a single ephemeral chat event routed to a room.
type ChatMessage struct {
	Kind     MessageKind
	Text     string
	Envelope *Envelope

	Sender          string
	SenderEmail     string
	SenderSessionID string
}

// NewPlainMessage builds a human message.
func NewPlainMessage(text, sender, email, sessionID string) ChatMessage {
	return ChatMessage{
		Kind:            KindPlain,
		Text:            text,
		Sender:          sender,
		SenderEmail:     email,
		SenderSessionID: sessionID,
	}
}

// NewAIMessage builds an AI result message.
func NewAIMessage(env Envelope) ChatMessage {
	return ChatMessage{
		Kind:     KindAIResult,
		Envelope: &env,
		Sender:   "ai",
	}
}

// IsAI reports whether the message originates from the assistant.
func (m ChatMessage) IsAI() bool {
	return m.Kind == KindAIResult
}

// WireMessage is the project-message payload exchanged with clients.
type WireMessage struct {
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
	Email   string `json:"email,omitempty"`
	IsAI    bool   `json:"isAi"`
}

// Wire encodes the message in its client-facing form. AI results carry the
// serialized envelope in Message.
func (m ChatMessage) Wire() (WireMessage, error) {
	switch m.Kind {
	case KindPlain:
		return WireMessage{
			Message: m.Text,
			Sender:  m.Sender,
			Email:   m.SenderEmail,
		}, nil
	case KindAIResult:
		if m.Envelope == nil {
			return WireMessage{}, fmt.Errorf("ai message without envelope")
		}
		body, err := json.Marshal(m.Envelope)
		if err != nil {
			return WireMessage{}, fmt.Errorf("marshal envelope: %w", err)
		}
		return WireMessage{
			Message: string(body),
			Sender:  m.Sender,
			IsAI:    true,
		}, nil
	default:
		return WireMessage{}, fmt.Errorf("unknown message kind %d", m.Kind)
	}
}

// Event names exchanged over the real-time channel.
const (
	EventAuth           = "auth"
	EventConnected      = "connected"
	EventConnectError   = "connect_error"
	EventProjectMessage = "project-message"
	EventFileTreeUpdate = "file-tree-update"
	EventFileRemove     = "file-remove"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Frame is one event on the real-time channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes data into a frame for event.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// Frame encodes the message as a project-message frame.
func (m ChatMessage) Frame() (Frame, error) {
	w, err := m.Wire()
	if err != nil {
		return Frame{}, err
	}
	return NewFrame(EventProjectMessage, w)
}
