package chat

import (
	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/store"
)

var (
	// ErrNotAuthorized means the actor is not a persisted participant.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrForbidden means the actor lacks a role the operation needs.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means a chat or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the change would duplicate existing state.
	ErrConflict = errors.New("conflict")
	// ErrMalformedInput means a request or frame is missing or has bad fields.
	ErrMalformedInput = errors.New("malformed input")
	// ErrStoreFailure means the persisted store could not complete the call.
	ErrStoreFailure = errors.New("store failure")
	// ErrBadCredentials means a login did not match any account.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrWrongPassword means a password change did not carry the account's
	// current password.
	ErrWrongPassword = errors.New("current password is incorrect")
)

// kindError tags a store error with its taxonomy kind while keeping the
// underlying cause reachable through Unwrap.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string        { return e.cause.Error() }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	kind := ErrStoreFailure
	switch {
	case errors.Is(err, store.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, store.ErrConflict):
		kind = ErrConflict
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, op)}
}
