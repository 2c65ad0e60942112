package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/opd-ai/simsync/limits"
)

// Magic identifies a simsync datagram. It is checked on every decode.
const Magic uint16 = 0xFCCF

const (
	// BaseHeaderSize covers magic, total length and message type.
	BaseHeaderSize = 6
	// ExtendedHeaderSize covers routing type, flags and confirmation id.
	ExtendedHeaderSize = 6
	// HeaderSize is the full fixed header length.
	HeaderSize = BaseHeaderSize + ExtendedHeaderSize

	// MaxPayload is the largest payload a single message can carry.
	MaxPayload = limits.MaxWireLength - HeaderSize

	// ObjectIDSize is the length of the object id prefix of object messages.
	ObjectIDSize = 4
)

// MessageType identifies the kind of a message within its routing type.
type MessageType uint16

// RoutingType is the 8-bit tag used for first-stage dispatch.
type RoutingType uint8

// Flags carries per-message delivery options.
type Flags uint8

const (
	// FlagReliable marks a message that must be confirmed by the receiver.
	FlagReliable Flags = 1 << iota
)

const (
	// RouteSystem carries the connection control protocol.
	RouteSystem RoutingType = 0
	// RouteObject carries object messages dispatched to registered targets.
	RouteObject RoutingType = 1
	// RouteUserBase is the first tag free for application subsystems.
	RouteUserBase RoutingType = 16
)

// Control message types, valid on RouteSystem.
const (
	TypeConnectionRequest MessageType = iota + 1
	TypeConnectionResponse
	TypeAcknowledge
	TypeDisconnect
	TypeConfirm
	TypeHeartbeat
)

// String returns a readable name for control message types.
func (t MessageType) String() string {
	switch t {
	case TypeConnectionRequest:
		return "ConnectionRequest"
	case TypeConnectionResponse:
		return "ConnectionResponse"
	case TypeAcknowledge:
		return "Acknowledge"
	case TypeDisconnect:
		return "Disconnect"
	case TypeConfirm:
		return "Confirm"
	case TypeHeartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

// Message is a decoded simsync message.
type Message struct {
	Type      MessageType
	Routing   RoutingType
	Flags     Flags
	ConfirmID uint32
	Payload   []byte

	// Source is the sender address, set by the receiving endpoint. It is
	// never encoded.
	Source net.Addr
}

// Reliable reports whether the message requires confirmation.
func (m *Message) Reliable() bool {
	return m.Flags&FlagReliable != 0
}

// Len returns the encoded length of the message.
func (m *Message) Len() int {
	return HeaderSize + len(m.Payload)
}

// Encode serializes the message including the extended header.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload size %d exceeds limit %d",
			limits.ErrMessageTooLarge, len(m.Payload), MaxPayload)
	}

	total := HeaderSize + len(m.Payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], uint16(m.Type))
	buf[6] = byte(m.Routing)
	buf[7] = byte(m.Flags)
	binary.BigEndian.PutUint32(buf[8:12], m.ConfirmID)
	copy(buf[HeaderSize:], m.Payload)

	return buf, nil
}

// Encode serializes a system-routed, unreliable message of the given type.
func Encode(msgType MessageType, payload []byte) ([]byte, error) {
	m := Message{Type: msgType, Payload: payload}
	return m.Encode()
}

// Decode parses a datagram into a Message. On failure it returns a
// *FramingError and a nil message. The payload is copied, so the caller may
// reuse data after the call.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, newFramingError(ErrTruncated, "datagram of %d bytes shorter than header %d", len(data), HeaderSize)
	}

	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != Magic {
		return nil, newFramingError(ErrBadMagic, "got 0x%04X, want 0x%04X", magic, Magic)
	}

	total := int(binary.BigEndian.Uint16(data[2:4]))
	if total != len(data) {
		return nil, newFramingError(ErrLengthMismatch, "declared %d, received %d", total, len(data))
	}

	msg := &Message{
		Type:      MessageType(binary.BigEndian.Uint16(data[4:6])),
		Routing:   RoutingType(data[6]),
		Flags:     Flags(data[7]),
		ConfirmID: binary.BigEndian.Uint32(data[8:12]),
		Payload:   make([]byte, total-HeaderSize),
	}
	copy(msg.Payload, data[HeaderSize:])

	return msg, nil
}

// NewObjectMessage builds a message addressed to a remote object. The object
// id is prepended to body.
func NewObjectMessage(msgType MessageType, objectID uint32, body []byte) *Message {
	payload := make([]byte, ObjectIDSize+len(body))
	binary.BigEndian.PutUint32(payload[:ObjectIDSize], objectID)
	copy(payload[ObjectIDSize:], body)

	return &Message{
		Type:    msgType,
		Routing: RouteObject,
		Payload: payload,
	}
}

// ObjectID returns the object id prefix of an object message.
func (m *Message) ObjectID() (uint32, bool) {
	if len(m.Payload) < ObjectIDSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload[:ObjectIDSize]), true
}

// ObjectBody returns the payload following the object id prefix.
func (m *Message) ObjectBody() []byte {
	if len(m.Payload) < ObjectIDSize {
		return nil
	}
	return m.Payload[ObjectIDSize:]
}
