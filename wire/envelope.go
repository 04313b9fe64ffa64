// Package wire defines the JSON envelope exchanged between the editor,
// the relay and viewers, and the frame codec around it.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrInvalidFrame = errors.New("invalid frame")
	ErrNoContent    = errors.New("envelope has no content")
)

// Envelope is one logical message. Content is either an embedded JSON value
// or a JSON string whose text is itself JSON; DecodeContent handles both.
type Envelope struct {
	Cmd         Command         `json:"cmd"`
	Type        Role            `json:"type,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	RuntimeType string          `json:"runtimeType,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Target      string          `json:"target,omitempty"`
}

// New builds an envelope whose content is v encoded as a JSON value.
func New(cmd Command, v any) (Envelope, error) {
	env := Envelope{Cmd: cmd}
	if v == nil {
		return env, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s content: %w", cmd, err)
	}
	env.Content = data
	return env, nil
}

// NewSerialized builds an envelope whose content is payload carried as a
// JSON string, the form used for full exports.
func NewSerialized(cmd Command, payload []byte) Envelope {
	quoted, _ := json.Marshal(string(payload))
	return Envelope{Cmd: cmd, Content: quoted}
}

// DecodeContent unmarshals the envelope content into v.
func (e Envelope) DecodeContent(v any) error {
	raw, err := e.ContentJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s content: %w", e.Cmd, err)
	}
	return nil
}

// ContentJSON returns the content as JSON text, unwrapping the string form.
func (e Envelope) ContentJSON() (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(e.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNoContent
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return nil, fmt.Errorf("decode %s content string: %w", e.Cmd, err)
	}
	inner := bytes.TrimSpace([]byte(text))
	if len(inner) == 0 {
		return nil, ErrNoContent
	}
	return inner, nil
}

// Encode serializes one envelope.
func Encode(env Envelope) ([]byte, error) {
	if env.Cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", ErrInvalidFrame)
	}
	return json.Marshal(env)
}
