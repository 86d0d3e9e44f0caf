package model

import (
	"time"

	"github.com/google/uuid"
)

// Command is the unit carried by the command bus. Payload is one of the
// registry's command structs; the executor replies exactly once on Reply.
type Command struct {
	ID         string
	Payload    any
	Reply      chan Result
	EnqueuedAt time.Time
}

// Result is an executed command's outcome.
type Result struct {
	Value any
	Err   error
}

// NewCommand wraps payload with a fresh ID and a buffered reply channel.
func NewCommand(payload any) Command {
	return NewCommandWithID(uuid.NewString(), payload)
}

// NewCommandWithID is NewCommand with a caller-chosen idempotency key.
func NewCommandWithID(id string, payload any) Command {
	return Command{
		ID:      id,
		Payload: payload,
		Reply:   make(chan Result, 1),
	}
}
