package conductor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when a kind string is neither "A" nor "B".
var ErrUnknownKind = errors.New("conductor: unknown kind")

// Kind is the category of a task or a worker.
//
// A worker completes tasks of its own kind faster than tasks of the
// other kind; the scheduler relies on that asymmetry.
type Kind uint8

const (
	KindA Kind = iota
	KindB

	numKinds = 2
)

// Kinds lists every kind in a stable order.
var Kinds = [numKinds]Kind{KindA, KindB}

func (k Kind) String() string {
	switch k {
	case KindA:
		return "A"
	case KindB:
		return "B"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Other returns the opposite kind.
func (k Kind) Other() Kind {
	if k == KindA {
		return KindB
	}
	return KindA
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k < numKinds }

// ParseKind converts "A"/"B" (case-insensitive) into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return KindA, nil
	case "B":
		return KindB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Task is an immutable unit of work.
//
// TaskID is unique only within the owning client's task set; the pair
// (ClientID, TaskID) is the key used to correlate a completed task with
// its pending record on the client side.
type Task struct {
	ClientID int  `json:"client_id"`
	TaskID   int  `json:"task_id"`
	Kind     Kind `json:"kind"`
}

// TaskKey identifies a task across the whole fleet.
type TaskKey struct {
	ClientID int
	TaskID   int
}

func (t Task) Key() TaskKey { return TaskKey{ClientID: t.ClientID, TaskID: t.TaskID} }

func (t Task) String() string {
	return fmt.Sprintf("task[client=%d id=%d kind=%s]", t.ClientID, t.TaskID, t.Kind)
}
