package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxWireLength is the largest total length the u16 header field can carry.
	MaxWireLength = 0xFFFF

	// DefaultMaxDatagram is the default per-datagram byte budget.
	DefaultMaxDatagram = 1400

	// MinDatagram is the lowest datagram budget accepted by configuration.
	MinDatagram = 64

	// ReadBufferSize is the receive buffer used by transports. It is large
	// enough for any wire message so oversized datagrams are detected by the
	// framing layer instead of being silently truncated.
	ReadBufferSize = MaxWireLength + 1
)

var (
	// ErrMessageEmpty indicates an empty datagram was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateDatagram validates an encoded datagram against a datagram budget.
// A budget of zero or one above MaxWireLength is clamped to MaxWireLength.
func ValidateDatagram(data []byte, maxDatagram int) error {
	if maxDatagram <= 0 || maxDatagram > MaxWireLength {
		maxDatagram = MaxWireLength
	}
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > maxDatagram {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrMessageTooLarge, len(data), maxDatagram)
	}
	return nil
}

// ValidatePayload checks that a payload fits in one wire message once a
// header of headerSize bytes is prepended. Empty payloads are valid.
func ValidatePayload(payload []byte, headerSize, maxDatagram int) error {
	if maxDatagram <= 0 || maxDatagram > MaxWireLength {
		maxDatagram = MaxWireLength
	}
	if total := headerSize + len(payload); total > maxDatagram {
		return fmt.Errorf("%w: payload size %d plus header %d exceeds limit %d",
			ErrMessageTooLarge, len(payload), headerSize, maxDatagram)
	}
	return nil
}
