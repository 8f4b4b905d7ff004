package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/codecollab/internal/domain"
)

var (
	errNotObject    = errors.New("reply is not a JSON object")
	errMissingText  = errors.New("reply has no string text field")
	errBadFileEntry = errors.New("fileTree entry is neither a string nor a file node")
)

// fileNode is the nested shape some models emit for file contents:
// {"path": {"file": {"contents": "..."}}}.
type fileNode struct {
	File *struct {
		Contents *string `json:"contents"`
	} `json:"file"`
}

// ParseEnvelope decodes a raw model reply into an Envelope. Replies wrapped
// in a fenced code block are unwrapped first. The text field is required;
// fileTree is optional and every value must resolve to a string.
func ParseEnvelope(raw string) (domain.Envelope, error) {
	body := unfence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil || fields == nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", ErrMalformedResponse, errNotObject)
	}

	var env domain.Envelope
	rawText, ok := fields["text"]
	if !ok || json.Unmarshal(rawText, &env.Text) != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", ErrMalformedResponse, errMissingText)
	}

	rawTree, ok := fields["fileTree"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawTree), []byte("null")) {
		return env, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(rawTree, &entries); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: fileTree: %w", ErrMalformedResponse, err)
	}
	if len(entries) == 0 {
		return env, nil
	}

	env.FileTree = make(map[string]string, len(entries))
	for path, value := range entries {
		contents, err := fileContents(value)
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: %q: %w", ErrMalformedResponse, path, err)
		}
		env.FileTree[path] = contents
	}
	return env, nil
}

func fileContents(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var node fileNode
	if err := json.Unmarshal(value, &node); err != nil || node.File == nil || node.File.Contents == nil {
		return "", errBadFileEntry
	}
	return *node.File.Contents, nil
}

// unfence strips a surrounding ``` or ```json block if present.
func unfence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
