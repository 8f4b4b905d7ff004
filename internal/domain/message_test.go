package domain

import (
	"encoding/json"
	"testing"
)

func TestChatMessage_WirePlain(t *testing.T) {
	msg := NewPlainMessage("hello", "u1", "a@example.com", "s1")

	w, err := msg.Wire()
	if err != nil {
		t.Fatalf("Wire failed: %v", err)
	}
	if w.IsAI {
		t.Error("plain message must not be tagged isAi")
	}
	if w.Message != "hello" || w.Sender != "u1" || w.Email != "a@example.com" {
		t.Errorf("unexpected wire message: %+v", w)
	}
}

func TestChatMessage_WireAIResult(t *testing.T) {
	msg := NewAIMessage(Envelope{Text: "done", FileTree: map[string]string{"a.js": "x"}})

	w, err := msg.Wire()
	if err != nil {
		t.Fatalf("Wire failed: %v", err)
	}
	if !w.IsAI {
		t.Fatal("expected isAi=true")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(w.Message), &env); err != nil {
		t.Fatalf("message is not a serialized envelope: %v", err)
	}
	if env.Text != "done" || env.FileTree["a.js"] != "x" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestChatMessage_WireAIWithoutEnvelope(t *testing.T) {
	msg := ChatMessage{Kind: KindAIResult}
	if _, err := msg.Wire(); err == nil {
		t.Fatal("expected error for AI message without envelope")
	}
}
