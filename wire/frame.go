package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Frame is one message as read off the connection.
type Frame struct {
	Binary bool
	Data   []byte
}

// DecodeFrame turns a frame into envelopes in array order. Binary frames are
// decoded as UTF-8 first. In a batch, a malformed element does not prevent
// the others from being returned; its error is joined into err.
func DecodeFrame(frame Frame) ([]Envelope, error) {
	data := frame.Data
	if frame.Binary {
		decoded, err := decodeUTF8(data)
		if err != nil {
			return nil, err
		}
		data = decoded
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyFrame
	}

	if trimmed[0] != '[' {
		env, err := decodeEnvelope(trimmed)
		if err != nil {
			return nil, err
		}
		return []Envelope{env}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	envs := make([]Envelope, 0, len(elements))
	var errs []error
	for i, element := range elements {
		env, err := decodeEnvelope(element)
		if err != nil {
			errs = append(errs, fmt.Errorf("batch element %d: %w", i, err))
			continue
		}
		envs = append(envs, env)
	}
	return envs, errors.Join(errs...)
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Cmd == "" {
		return Envelope{}, fmt.Errorf("%w: missing cmd", ErrInvalidFrame)
	}
	return env, nil
}

// decodeUTF8 strips a leading byte order mark and replaces invalid
// sequences so that the JSON decoder always sees valid text.
func decodeUTF8(data []byte) ([]byte, error) {
	decoded, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: binary frame is not UTF-8: %v", ErrInvalidFrame, err)
	}
	return decoded, nil
}
