// Package vsockerr defines the failure kinds shared by every vsocky
// component. The set is closed: new kinds are appended, existing kinds are
// never renumbered, because hosts may persist and compare the numeric values.
package vsockerr

import (
	"errors"
	"fmt"
)

// Code is a vsocky failure kind. Code implements error so a kind can be
// returned directly when there is no underlying OS error to carry.
type Code int

const (
	Success Code = iota

	// Socket errors
	SocketFailed
	BindFailed
	ListenFailed
	AcceptFailed
	ConnectionClosed
	ReadFailed
	WriteFailed

	// Protocol errors
	MessageTooLarge
	InvalidMessage
	InvalidJSON
	MissingField
	InvalidField
	UnsupportedType
	UnsupportedLanguage

	// System errors
	ResourceUnavailable
	InternalError

	// Base64 errors
	InvalidEncoding

	// General errors
	Timeout
	Interrupted
)

// String returns the human-readable description of the kind. Descriptions are
// permanent once assigned.
func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case SocketFailed:
		return "socket creation failed"
	case BindFailed:
		return "bind failed"
	case ListenFailed:
		return "listen failed"
	case AcceptFailed:
		return "accept failed"
	case ConnectionClosed:
		return "connection closed"
	case ReadFailed:
		return "read failed"
	case WriteFailed:
		return "write failed"
	case MessageTooLarge:
		return "message too large"
	case InvalidMessage:
		return "invalid message format"
	case InvalidJSON:
		return "invalid JSON"
	case MissingField:
		return "missing required field"
	case InvalidField:
		return "invalid field value"
	case UnsupportedType:
		return "unsupported message type"
	case UnsupportedLanguage:
		return "unsupported language"
	case ResourceUnavailable:
		return "resource unavailable"
	case InternalError:
		return "internal error"
	case InvalidEncoding:
		return "invalid base64 encoding"
	case Timeout:
		return "timeout"
	case Interrupted:
		return "interrupted"
	}
	return "unknown error"
}

// Token returns the stable wire identifier of the kind, used in error
// responses sent to the host.
func (c Code) Token() string {
	switch c {
	case Success:
		return "success"
	case SocketFailed:
		return "socket-failed"
	case BindFailed:
		return "bind-failed"
	case ListenFailed:
		return "listen-failed"
	case AcceptFailed:
		return "accept-failed"
	case ConnectionClosed:
		return "connection-closed"
	case ReadFailed:
		return "read-failed"
	case WriteFailed:
		return "write-failed"
	case MessageTooLarge:
		return "message-too-large"
	case InvalidMessage:
		return "invalid-message"
	case InvalidJSON:
		return "invalid-json"
	case MissingField:
		return "missing-field"
	case InvalidField:
		return "invalid-field"
	case UnsupportedType:
		return "unsupported-type"
	case UnsupportedLanguage:
		return "unsupported-language"
	case ResourceUnavailable:
		return "resource-unavailable"
	case InternalError:
		return "internal-error"
	case InvalidEncoding:
		return "invalid-encoding"
	case Timeout:
		return "timeout"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

func (c Code) Error() string {
	return c.String()
}

// Error pairs a Code with the OS error that caused it, so callers can match
// either the vsocky kind or the underlying errno with errors.Is.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, someCode) match the wrapped kind.
func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return c == e.Code
	}
	return false
}

// Wrap attaches an underlying cause to a failure kind. A nil cause returns
// the bare Code.
func Wrap(code Code, cause error) error {
	if cause == nil {
		return code
	}
	return &Error{Code: code, Cause: cause}
}

// CodeOf extracts the failure kind from an error returned by a vsocky
// component. Errors from outside the taxonomy report InternalError; a nil
// error reports Success.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return InternalError
}
