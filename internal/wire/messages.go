package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/azargarov/conductor"
)

// Message types.
const (
	TypeHello = "hello"
	TypeTask  = "task"
	TypeDone  = "done"
	TypeBye   = "bye"
)

// Roles announced in the hello frame.
const (
	RoleClient = "client"
	RoleWorker = "worker"
)

// ErrUnexpectedType is returned when a frame of one type arrives where
// another was required.
var ErrUnexpectedType = errors.New("wire: unexpected message type")

// Hello is the first frame of every connection. Clients identify with
// their integer id; workers announce their kind and a display id.
type Hello struct {
	Role     string         `json:"role"`
	ClientID int            `json:"client_id,omitempty"`
	WorkerID string         `json:"worker_id,omitempty"`
	Kind     conductor.Kind `json:"kind"`
}

// Encode wraps payload into a Message of type typ.
func Encode(typ string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: typ}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("wire: encode %s: %w", typ, err)
	}
	return Message{Type: typ, Data: data}, nil
}

// Decode unmarshals msg.Data into out after checking the type.
func Decode(msg Message, typ string, out any) error {
	if msg.Type != typ {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, msg.Type, typ)
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("wire: decode %s: %w", typ, err)
	}
	return nil
}

// Send encodes payload and writes it as one frame.
func Send(w io.Writer, typ string, payload any) error {
	msg, err := Encode(typ, payload)
	if err != nil {
		return err
	}
	return WriteMessage(w, msg)
}

// ReadTask reads one frame and decodes it as a task of type typ.
func ReadTask(r io.Reader, typ string) (conductor.Task, error) {
	var t conductor.Task
	msg, err := ReadMessage(r)
	if err != nil {
		return t, err
	}
	err = Decode(msg, typ, &t)
	return t, err
}
