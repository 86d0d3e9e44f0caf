package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for model errors.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is a request's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal. Nothing moves a request there yet.
	StatusCancelled Status = "cancelled"
)

// AllowedTransitions is the request lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves r to status to, stamping the matching timestamp.
func (r *Request) Transition(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	switch to {
	case StatusAccepted:
		r.AcceptedAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	}
	return nil
}
