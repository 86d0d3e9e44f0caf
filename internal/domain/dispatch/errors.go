package dispatch

import "errors"

// Sentinel kinds for dispatch errors. All of them are caller-recoverable;
// a failed operation leaves the registry unchanged.
var (
	ErrNotFound            = errors.New("not found")
	ErrRequesterBusy       = errors.New("requester already has an active request")
	ErrFulfillerBusy       = errors.New("fulfiller already has a current assignment")
	ErrRequestNotPending   = errors.New("request is not pending")
	ErrNoCurrentAssignment = errors.New("fulfiller has no current assignment")
	ErrNoPendingReview     = errors.New("no completed request awaiting review")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnknownCommand      = errors.New("unknown command")
)

// errorType maps an error to a metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRequesterBusy):
		return "requester_busy"
	case errors.Is(err, ErrFulfillerBusy):
		return "fulfiller_busy"
	case errors.Is(err, ErrRequestNotPending):
		return "request_not_pending"
	case errors.Is(err, ErrNoCurrentAssignment):
		return "no_current_assignment"
	case errors.Is(err, ErrNoPendingReview):
		return "no_pending_review"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	default:
		return "internal"
	}
}
