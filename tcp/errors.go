package tcp

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors this package surfaces at its API boundary,
// independent of the specific Go sentinel/wrapper used to signal them.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindInvalidArgument
	KindAddressInUse
	KindNotBound
	KindNotConnected
	KindAlreadyConnected
	KindConnectionRefused
	KindConnectionReset
	KindConnectionAborted
	KindConnectionTimedOut
	KindNoMemory
	KindMessageTooLong
	KindDecodeError
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindAddressInUse:
		return "AddressInUse"
	case KindNotBound:
		return "NotBound"
	case KindNotConnected:
		return "NotConnected"
	case KindAlreadyConnected:
		return "AlreadyConnected"
	case KindConnectionRefused:
		return "ConnectionRefused"
	case KindConnectionReset:
		return "ConnectionReset"
	case KindConnectionAborted:
		return "ConnectionAborted"
	case KindConnectionTimedOut:
		return "ConnectionTimedOut"
	case KindNoMemory:
		return "NoMemory"
	case KindMessageTooLong:
		return "MessageTooLong"
	case KindDecodeError:
		return "DecodeError"
	default:
		return "None"
	}
}

// StackError wraps a plain error with the [ErrorKind] the caller should
// branch on, so that API callers can do:
//
//	var serr *StackError
//	if errors.As(err, &serr) && serr.Kind == tcp.KindNoMemory { ... }
type StackError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tcp: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("tcp: %s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *StackError) Unwrap() error { return e.Err }

func stackErr(op string, kind ErrorKind, err error) *StackError {
	return &StackError{Op: op, Kind: kind, Err: err}
}

// DecodeErrorKind enumerates [DecodeError] sub-reasons per section 4.3
// of the segment codec contract.
type DecodeErrorKind uint8

const (
	DecodeOK DecodeErrorKind = iota
	BadOffset
	BadOption
	BadLength
)

func (k DecodeErrorKind) String() string {
	switch k {
	case BadOffset:
		return "BadOffset"
	case BadOption:
		return "BadOption"
	case BadLength:
		return "BadLength"
	default:
		return "OK"
	}
}

// DecodeError reports a malformed inbound segment. Per the propagation
// policy, the caller drops the segment and increments a counter; it is
// never surfaced as a connection-fatal error.
type DecodeError struct {
	Sub DecodeErrorKind
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "tcp: decode error: " + e.Sub.String()
	}
	return "tcp: decode error: " + e.Sub.String() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeErr(sub DecodeErrorKind, err error) *DecodeError {
	return &DecodeError{Sub: sub, Err: err}
}

// Well-known errors returned from the Registry and upstream API per section 7.
var (
	ErrAddressInUse      = errors.New("tcp: address already in use")
	ErrNotBound          = errors.New("tcp: socket not bound")
	ErrNotConnected      = errors.New("tcp: not connected")
	ErrAlreadyConnected  = errors.New("tcp: already connected")
	ErrConnectionRefused = errors.New("tcp: connection refused")
	ErrConnectionReset   = errors.New("tcp: connection reset by peer")
	ErrConnectionAborted = errors.New("tcp: connection aborted")
	ErrConnectionTimeout = errors.New("tcp: connection timed out")
	ErrNoMemory          = errors.New("tcp: no memory available, pool exhausted")
	ErrMessageTooLong    = errors.New("tcp: message exceeds negotiated MSS")
	ErrInvalidArgument   = errors.New("tcp: invalid argument")
)
