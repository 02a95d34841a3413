// Package wire defines the frames exchanged across an isolation boundary and
// their length-prefixed JSON encoding.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/offload/internal/capability"
)

// MaxMessageSize is the maximum allowed frame payload (16 MiB).
const MaxMessageSize = 16 << 20

// Frame types. Start and resume travel host→worker; the rest worker→host.
const (
	TypeStart  = "start"
	TypeResume = "resume"
	TypeStep   = "step"
	TypeResult = "result"
	TypeError  = "error"
	TypeLog    = "log"
)

// StartRequest is the initial payload of a worker context.
type StartRequest struct {
	Task     string                     `json:"task"`
	Mode     string                     `json:"mode"`
	Args     []json.RawMessage          `json:"args,omitempty"`
	Context  map[string]json.RawMessage `json:"context,omitempty"`
	Bindings []capability.Binding       `json:"bindings,omitempty"`
}

// ErrorInfo is a failure raised by the delegated work.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Frame is the envelope for every message crossing the boundary.
//
// A stream worker sends one step frame per produced value and a final step
// frame with Done set. A one-shot worker sends exactly one result frame.
// Either may send an error frame instead, and log frames at any time.
type Frame struct {
	Type  string          `json:"type"`
	Start *StartRequest   `json:"start,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Done  bool            `json:"done,omitempty"`
	Error *ErrorInfo      `json:"error,omitempty"`
	Line  string          `json:"line,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// One write per frame so concurrent writers guarded by a mutex never
	// interleave a prefix with another frame's payload.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}

// Encode marshals v into a frame value. A nil v encodes as JSON null.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}
