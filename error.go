package dbuswire

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrZeroSerial is returned when a message carries the reserved
	// zero serial.
	ErrZeroSerial = errors.New("message serial must not be zero")

	// ErrInvalidHeaderField is returned when a message asks for the
	// reserved header field code 0 to be encoded.
	ErrInvalidHeaderField = errors.New("header field code 0 is reserved and cannot be encoded")

	// ErrMessageTooLarge is returned when a message's total encoded
	// size (header, padding and body) would exceed [MaxMessageSize].
	ErrMessageTooLarge = errors.New("message exceeds maximum DBus message size")
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}
