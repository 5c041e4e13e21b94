package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateKey    = errors.New("reminder already exists")
	ErrNotFound        = errors.New("reminder not found")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrNotReady        = errors.New("reminder not ready")
	ErrDeliveryFailed  = errors.New("delivery failed")
	ErrInvalidKey      = errors.New("invalid reminder key")
)

// ParseErrorKind tells why an interval was rejected.
type ParseErrorKind int

const (
	NotANumber ParseErrorKind = iota + 1
	TooSmall
	TooLarge
)

func (k ParseErrorKind) String() string {
	switch k {
	case NotANumber:
		return "not a number"
	case TooSmall:
		return "too small"
	case TooLarge:
		return "too large"
	default:
		return "unknown"
	}
}

// ParseError is returned by Parser.Parse. It matches ErrInvalidInterval.
type ParseError struct {
	Kind  ParseErrorKind
	Input string
	// Min is the exclusive lower bound, set for TooSmall.
	Min fmt.Stringer
}

func (e *ParseError) Error() string {
	if e.Kind == TooSmall && e.Min != nil {
		return fmt.Sprintf("interval %q: %s (must be greater than %s)", e.Input, e.Kind, e.Min)
	}
	return fmt.Sprintf("interval %q: %s", e.Input, e.Kind)
}

func (e *ParseError) Is(target error) bool { return target == ErrInvalidInterval }
