// Package errcode maps the integer result codes of the QR bridge onto a
// closed set of named kinds shared by the bridge, detector and results layers.
package errcode

import (
	"errors"
	"fmt"
	"math"
)

// Kind is a bridge result code.
type Kind int32

const (
	Ok              Kind = 0
	InvalidHandle   Kind = -1
	InvalidIndex    Kind = -2
	BufferTooSmall  Kind = -3
	DecodeFailed    Kind = -4
	InvalidArgument Kind = -5
	OutOfMemory     Kind = -6
	// Unknown is the catch-all for codes outside the closed set.
	Unknown Kind = math.MinInt32
)

// FromCode converts a raw integer code into a Kind. Every input maps to
// exactly one Kind; values the bridge does not define map to Unknown.
func FromCode(code int32) Kind {
	switch k := Kind(code); k {
	case Ok, InvalidHandle, InvalidIndex, BufferTooSmall, DecodeFailed, InvalidArgument, OutOfMemory:
		return k
	default:
		return Unknown
	}
}

// Code returns the integer code sent over the bridge.
func (k Kind) Code() int32 { return int32(k) }

// IsOk reports whether k is Ok.
func (k Kind) IsOk() bool { return k == Ok }

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case InvalidHandle:
		return "invalid_handle"
	case InvalidIndex:
		return "invalid_index"
	case BufferTooSmall:
		return "buffer_too_small"
	case DecodeFailed:
		return "decode_failed"
	case InvalidArgument:
		return "invalid_argument"
	case OutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to a failed operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error for op with the given kind.
func New(op string, kind Kind) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap returns an *Error for op with the given kind and cause.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err, errcode.New("", k))
// and errors.Is(err, Sentinel(k)) work regardless of Op.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var sentinels = map[Kind]*Error{
	InvalidHandle:   {Kind: InvalidHandle},
	InvalidIndex:    {Kind: InvalidIndex},
	BufferTooSmall:  {Kind: BufferTooSmall},
	DecodeFailed:    {Kind: DecodeFailed},
	InvalidArgument: {Kind: InvalidArgument},
	OutOfMemory:     {Kind: OutOfMemory},
	Unknown:         {Kind: Unknown},
}

// Sentinel returns a comparison target for errors.Is. It returns nil for Ok.
func Sentinel(k Kind) error {
	if k == Ok {
		return nil
	}
	if s, ok := sentinels[FromCode(int32(k))]; ok {
		return s
	}
	return sentinels[Unknown]
}

// KindOf classifies err. nil is Ok; errors that carry no Kind are Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
