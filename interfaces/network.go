package interfaces

import (
	"errors"
	"net"
	"time"

	"github.com/opd-ai/simsync/wire"
)

var (
	// ErrTimeout is returned by ReadFrom when the deadline passed without a
	// datagram.
	ErrTimeout = errors.New("network read timeout")

	// ErrThrottled is returned by Send when bandwidth shaping deferred the
	// datagram.
	ErrThrottled = errors.New("network send throttled")

	// ErrClosed is returned after the interface was closed.
	ErrClosed = errors.New("network interface closed")
)

// NetworkInterface moves whole datagrams to and from peers.
type NetworkInterface interface {
	// Send transmits one datagram to addr.
	Send(data []byte, addr net.Addr) error

	// ReadFrom waits until deadline for one datagram. The returned slice is
	// owned by the caller. A deadline at or before now polls for a datagram
	// that is already queued.
	ReadFrom(deadline time.Time) ([]byte, net.Addr, error)

	// LocalAddr returns the address peers reach this interface at.
	LocalAddr() net.Addr

	// Close releases the interface.
	Close() error
}

// Outbound is a message waiting to be transmitted.
type Outbound struct {
	Message  *wire.Message
	Dest     net.Addr
	Enqueued time.Time
}

// MessageQueue buffers outbound messages between pump calls.
type MessageQueue interface {
	// Push appends out to the tail.
	Push(out Outbound) error

	// PushFront returns out to the head, ahead of everything queued.
	PushFront(out Outbound)

	// Pop removes the head of the queue.
	Pop() (Outbound, bool)

	// Len returns the number of queued messages.
	Len() int

	// Clear drops every queued message.
	Clear()

	// Remove drops the messages for which match returns true and reports how
	// many were dropped.
	Remove(match func(Outbound) bool) int
}
