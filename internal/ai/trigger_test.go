package ai

import "testing"

func TestHasTrigger(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"@ai help", true},
		{"please @ai", true},
		{"mail me at x@aim.com", true},
		{"@AI help", false},
		{"no marker here", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasTrigger(tt.in); got != tt.want {
			t.Errorf("HasTrigger(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDerivePrompt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@ai fix this @ai bug", "fix this bug"},
		{"@ai create an express server", "create an express server"},
		{"  hello @ai  ", "hello"},
		{"@ai@ai twice", "twice"},
		{"@ai", ""},
		{"line one\n@ai\nline two", "line one\nline two"},
		{"keep  inner  spacing @ai", "keep  inner  spacing"},
		{"voilà@ai  fix it", "voilà  fix it"},
		{"Å@ai x", "Å x"},
		{"café @ai  au lait", "café au lait"},
		{"日本語@ai\u00a0テスト", "日本語\u00a0テスト"},
	}
	for _, tt := range tests {
		if got := DerivePrompt(tt.in); got != tt.want {
			t.Errorf("DerivePrompt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
