package domain

import "errors"

// Kind classifies an Error for the dispatcher and the login-fail guard.
type Kind int

const (
	// KindValidation covers rejected input the handler checked explicitly.
	KindValidation Kind = iota + 1
	// KindMalformed covers parse and crypto failures (bad hex, bad point,
	// bad signature, unparseable timestamp).
	KindMalformed
	// KindAuth covers login-state failures.
	KindAuth
	// KindAuthorization covers access to DMs, messages or reactions the
	// caller has no right to.
	KindAuthorization
	// KindConflict covers state violations with a specific user-facing
	// message (duplicate username, duplicate individual DM, ...).
	KindConflict
	// KindInternal is everything else; the message is never shown.
	KindInternal
)

// Error is a user-facing failure. Msg is placed verbatim in the response
// envelope's result field.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Sentinel validation failures shared across handlers.
var (
	ErrInvalidFormat = &Error{Kind: KindValidation, Msg: "Invalid data format."}
	ErrMalformed     = &Error{Kind: KindMalformed, Msg: "Malformed data."}
)

// Validation returns a KindValidation error with msg.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

// Auth returns a KindAuth error with msg.
func Auth(msg string) *Error { return &Error{Kind: KindAuth, Msg: msg} }

// Authorization returns a KindAuthorization error with msg.
func Authorization(msg string) *Error { return &Error{Kind: KindAuthorization, Msg: msg} }

// Conflict returns a KindConflict error with msg.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }

// KindOf extracts the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// UserMessage returns the string placed in the failure envelope for err.
func UserMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindInternal {
		return de.Msg
	}
	return "Internal server error."
}
