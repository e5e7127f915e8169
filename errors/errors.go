package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure so callers can decide what to do with it.
// Only KindTransport is worth retrying, and nothing in this module retries on its own.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindStateConflict
	KindNotFound
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Kind() Kind { return e.kind }

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")
)

// Validation: caller bugs, rejected before anything reaches the channel
var (
	ErrInvalidSeatIndex    = newError(KindValidation, "invalid seat index")
	ErrInvalidRoomID       = newError(KindValidation, "invalid room id")
	ErrInvalidParam        = newError(KindValidation, "invalid parameters")
	ErrInvalidUserID       = newError(KindValidation, "invalid user id")
	ErrInvalidInvitationID = newError(KindValidation, "invalid invitation id")
	ErrContentTooLong      = newError(KindValidation, "content exceeds maximum length")
)

// State conflicts: expected races, reported through completions
var (
	ErrAlreadyInRoom        = newError(KindStateConflict, "session already in a room")
	ErrNotInRoom            = newError(KindStateConflict, "session is not in a room")
	ErrNotOwner             = newError(KindStateConflict, "caller is not the room owner")
	ErrRoomAlreadyExists    = newError(KindStateConflict, "room already exists")
	ErrSeatOccupied         = newError(KindStateConflict, "seat is occupied")
	ErrSeatClosed           = newError(KindStateConflict, "seat is closed")
	ErrAlreadySeated        = newError(KindStateConflict, "user already holds another seat")
	ErrInvitationNotPending = newError(KindStateConflict, "invitation is not pending")
	ErrInvitationExists     = newError(KindStateConflict, "invitation id already used")
	ErrNotInvitee           = newError(KindStateConflict, "caller is not the invitee")
	ErrNotInviter           = newError(KindStateConflict, "caller is not the inviter")
	ErrRoomDestroyed        = newError(KindStateConflict, "room has been destroyed")
)

var (
	ErrRoomNotFound       = newError(KindNotFound, "room not found")
	ErrInvitationNotFound = newError(KindNotFound, "invitation not found")
	ErrUserNotInRoom      = newError(KindNotFound, "user is not a member of the room")
)

var (
	ErrTransport     = newError(KindTransport, "event channel unavailable")
	ErrTimeout       = newError(KindTransport, "operation timed out")
	ErrSessionClosed = newError(KindTransport, "session closed")
)

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}

// Transport classifies an error coming back from the event channel.
// Errors that already carry a kind are returned untouched.
func Transport(err error) error {
	if err == nil || KindOf(err) != KindUnknown {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
