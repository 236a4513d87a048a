package binder

import (
	"errors"
	"fmt"
	"math"
)

// StatusCode is a transport-level result. Values match the platform's
// status_t so they can cross the wire unchanged.
type StatusCode int32

const (
	Ok                 StatusCode = 0
	UnknownError       StatusCode = math.MinInt32
	NoMemory           StatusCode = -12
	InvalidOperation   StatusCode = -38
	BadValue           StatusCode = -22
	BadType            StatusCode = UnknownError + 1
	NameNotFound       StatusCode = -2
	PermissionDenied   StatusCode = -1
	NoInit             StatusCode = -19
	AlreadyExists      StatusCode = -17
	DeadObject         StatusCode = -32
	FailedTransaction  StatusCode = UnknownError + 2
	BadIndex           StatusCode = -75
	NotEnoughData      StatusCode = -61
	WouldBlock         StatusCode = -11
	TimedOut           StatusCode = -110
	UnknownTransaction StatusCode = -74
	FdsNotAllowed      StatusCode = UnknownError + 7
	UnexpectedNull     StatusCode = UnknownError + 8
	BadFd              StatusCode = -9
)

var statusNames = map[StatusCode]string{
	Ok:                 "ok",
	UnknownError:       "unknown error",
	NoMemory:           "no memory",
	InvalidOperation:   "invalid operation",
	BadValue:           "bad value",
	BadType:            "bad type",
	NameNotFound:       "name not found",
	PermissionDenied:   "permission denied",
	NoInit:             "no init",
	AlreadyExists:      "already exists",
	DeadObject:         "dead object",
	FailedTransaction:  "failed transaction",
	BadIndex:           "bad index",
	NotEnoughData:      "not enough data",
	WouldBlock:         "would block",
	TimedOut:           "timed out",
	UnknownTransaction: "unknown transaction",
	FdsNotAllowed:      "fds not allowed",
	UnexpectedNull:     "unexpected null",
	BadFd:              "bad fd",
}

func (c StatusCode) Error() string {
	if name, ok := statusNames[c]; ok {
		return fmt.Sprintf("binder: %s (%d)", name, int32(c))
	}
	return fmt.Sprintf("binder: status %d", int32(c))
}

// StatusFromError maps any error onto the status written back to a peer.
func StatusFromError(err error) StatusCode {
	if err == nil {
		return Ok
	}
	var code StatusCode
	if errors.As(err, &code) {
		return code
	}
	var st *Status
	if errors.As(err, &st) && st.Exception == ExceptionTransactionFailed {
		return st.Code
	}
	return UnknownError
}

// ExceptionCode is the application-level exception carried at the head of a
// reply written by a generated stub.
type ExceptionCode int32

const (
	ExceptionNone                 ExceptionCode = 0
	ExceptionSecurity             ExceptionCode = -1
	ExceptionBadParcelable        ExceptionCode = -2
	ExceptionIllegalArgument      ExceptionCode = -3
	ExceptionNullPointer          ExceptionCode = -4
	ExceptionIllegalState         ExceptionCode = -5
	ExceptionNetworkMainThread    ExceptionCode = -6
	ExceptionUnsupportedOperation ExceptionCode = -7
	ExceptionServiceSpecific      ExceptionCode = -8
	ExceptionParcelable           ExceptionCode = -9
	ExceptionHasReplyHeader       ExceptionCode = -128
	ExceptionTransactionFailed    ExceptionCode = -129
)

func (e ExceptionCode) Error() string {
	return fmt.Sprintf("binder: exception %d", int32(e))
}

// Status is an exception reply. A transaction failure wraps a StatusCode;
// a service-specific failure carries an application error code.
type Status struct {
	Exception ExceptionCode
	Code      StatusCode
	Message   string
}

func NewException(ex ExceptionCode, msg string) *Status {
	return &Status{Exception: ex, Message: msg}
}

func NewServiceSpecific(code int32, msg string) *Status {
	return &Status{Exception: ExceptionServiceSpecific, Code: StatusCode(code), Message: msg}
}

func NewTransactionFailed(code StatusCode) *Status {
	return &Status{Exception: ExceptionTransactionFailed, Code: code}
}

func (s *Status) Error() string {
	switch s.Exception {
	case ExceptionTransactionFailed:
		return fmt.Sprintf("binder: transaction failed: %v", s.Code)
	case ExceptionServiceSpecific:
		return fmt.Sprintf("binder: service specific error %d: %s", int32(s.Code), s.Message)
	default:
		return fmt.Sprintf("binder: exception %d: %s", int32(s.Exception), s.Message)
	}
}

// Is matches ExceptionCode targets, and StatusCode targets for transaction
// failures.
func (s *Status) Is(target error) bool {
	switch t := target.(type) {
	case ExceptionCode:
		return s.Exception == t
	case StatusCode:
		return s.Exception == ExceptionTransactionFailed && s.Code == t
	}
	return false
}

// WriteStatus writes the reply header. A nil status writes ExceptionNone.
// Transaction failures are not representable in a reply body and are
// returned instead so the engine sends them as a status-code reply.
func WriteStatus(p *Parcel, s *Status) error {
	if s == nil || s.Exception == ExceptionNone {
		return p.WriteInt32(int32(ExceptionNone))
	}
	if s.Exception == ExceptionTransactionFailed {
		return s.Code
	}
	if err := p.WriteInt32(int32(s.Exception)); err != nil {
		return err
	}
	if err := p.WriteString(s.Message); err != nil {
		return err
	}
	// empty remote stack trace header
	if err := p.WriteInt32(0); err != nil {
		return err
	}
	switch s.Exception {
	case ExceptionServiceSpecific:
		return p.WriteInt32(int32(s.Code))
	case ExceptionParcelable:
		return p.WriteInt32(0)
	}
	return nil
}

// ReadStatus consumes a reply header and returns the remote exception, if
// any, as a *Status error.
func ReadStatus(p *Parcel) error {
	raw, err := p.ReadInt32()
	if err != nil {
		return err
	}
	ex := ExceptionCode(raw)
	if ex == ExceptionHasReplyHeader {
		start := p.DataPosition()
		size, err := p.ReadInt32()
		if err != nil {
			return err
		}
		if size < 0 {
			return BadValue
		}
		if err := p.SetDataPosition(start + int(size)); err != nil {
			return err
		}
		return nil
	}
	if ex == ExceptionNone {
		return nil
	}
	msg, err := p.ReadNullableString()
	if err != nil {
		return err
	}
	st := &Status{Exception: ex}
	if msg != nil {
		st.Message = *msg
	}
	traceSize, err := p.ReadInt32()
	if err != nil {
		return err
	}
	if traceSize > 0 {
		if err := p.SetDataPosition(p.DataPosition() + int(traceSize)); err != nil {
			return err
		}
	}
	switch ex {
	case ExceptionServiceSpecific:
		code, err := p.ReadInt32()
		if err != nil {
			return err
		}
		st.Code = StatusCode(code)
	case ExceptionParcelable:
		if _, err := p.ReadInt32(); err != nil {
			return err
		}
	}
	return st
}

// BadParcelableError reports an interface token that names a different
// interface than the receiving stub.
type BadParcelableError struct {
	Expected string
	Actual   string
}

func (e *BadParcelableError) Error() string {
	return fmt.Sprintf("binder: check_interface() expected '%s' but read '%s'", e.Expected, e.Actual)
}

func (e *BadParcelableError) Is(target error) bool {
	return target == ExceptionBadParcelable
}

// AsException returns the exception reply for err when err carries one.
func AsException(err error) (*Status, bool) {
	var st *Status
	if errors.As(err, &st) && st.Exception != ExceptionTransactionFailed {
		return st, true
	}
	var bp *BadParcelableError
	if errors.As(err, &bp) {
		return NewException(ExceptionBadParcelable, bp.Error()), true
	}
	return nil, false
}
