package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic indicates the datagram does not start with Magic.
	ErrBadMagic = errors.New("bad magic")

	// ErrLengthMismatch indicates the declared total length differs from the
	// datagram size.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrTruncated indicates the datagram is shorter than the fixed header.
	ErrTruncated = errors.New("truncated header")
)

// FramingError reports a datagram that could not be decoded. Such datagrams
// are dropped by the receiving endpoint and never reach application code.
type FramingError struct {
	Kind   error
	Detail string
}

func newFramingError(kind error, format string, args ...interface{}) *FramingError {
	return &FramingError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %v: %s", e.Kind, e.Detail)
}

// Unwrap lets errors.Is match the sentinel kind.
func (e *FramingError) Unwrap() error {
	return e.Kind
}
