package interfaces

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned across the service boundary.
type Kind int

const (
	KindUnknown Kind = iota
	// NotFound: identity, session, edge or share absent.
	NotFound
	// Forbidden: the actor lacks the required trust relationship or ownership.
	Forbidden
	// AlreadyExists: duplicate trust edge.
	AlreadyExists
	// InsufficientShares: quorum not met at commit time.
	InsufficientShares
	// Invalid: malformed input, e.g. an empty share payload.
	Invalid
	// StoreFailure: underlying persistence error.
	StoreFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case AlreadyExists:
		return "already_exists"
	case InsufficientShares:
		return "insufficient_shares"
	case Invalid:
		return "invalid"
	case StoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrNotFound           = &Error{Kind: NotFound}
	ErrForbidden          = &Error{Kind: Forbidden}
	ErrAlreadyExists      = &Error{Kind: AlreadyExists}
	ErrInsufficientShares = &Error{Kind: InsufficientShares}
	ErrInvalid            = &Error{Kind: Invalid}
	ErrStoreFailure       = &Error{Kind: StoreFailure}
)

// Error is a typed failure. Msg is safe to show to callers; Err is the
// underlying cause and is only logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// E builds an *Error without an underlying cause.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error around cause.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage is the caller-facing text for err. Store failures and
// untyped errors never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == StoreFailure || e.Kind == KindUnknown {
		return "storage failure"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}
