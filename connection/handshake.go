package connection

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// TokenSize is the length of the session token issued by servers.
const TokenSize = 16

// RejectReason explains why a server refused a connection.
type RejectReason uint8

const (
	// Accepted marks a successful ConnectionResponse.
	Accepted RejectReason = iota
	// RejectVersion: protocol version mismatch.
	RejectVersion
	// RejectFull: the server reached MaxPeers.
	RejectFull
	// RejectRefused: the server's accept policy declined the client.
	RejectRefused
)

// String returns a readable reason.
func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectVersion:
		return "protocol version mismatch"
	case RejectFull:
		return "server full"
	case RejectRefused:
		return "refused"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

const (
	requestSize  = 2 + 16
	responseSize = 1 + 16 + TokenSize
)

type connectionRequest struct {
	Version uint16
	NodeID  uuid.UUID
}

func (r connectionRequest) encode() []byte {
	buf := make([]byte, requestSize)
	binary.BigEndian.PutUint16(buf[0:2], r.Version)
	copy(buf[2:], r.NodeID[:])
	return buf
}

func decodeConnectionRequest(payload []byte) (connectionRequest, error) {
	var r connectionRequest
	if len(payload) < requestSize {
		return r, fmt.Errorf("connection request of %d bytes, want %d", len(payload), requestSize)
	}
	r.Version = binary.BigEndian.Uint16(payload[0:2])
	copy(r.NodeID[:], payload[2:requestSize])
	return r, nil
}

type connectionResponse struct {
	Status RejectReason
	NodeID uuid.UUID
	Token  []byte
}

func (r connectionResponse) encode() []byte {
	buf := make([]byte, responseSize)
	buf[0] = byte(r.Status)
	copy(buf[1:17], r.NodeID[:])
	copy(buf[17:], r.Token)
	return buf
}

func decodeConnectionResponse(payload []byte) (connectionResponse, error) {
	var r connectionResponse
	if len(payload) < responseSize {
		return r, fmt.Errorf("connection response of %d bytes, want %d", len(payload), responseSize)
	}
	r.Status = RejectReason(payload[0])
	copy(r.NodeID[:], payload[1:17])
	r.Token = append([]byte(nil), payload[17:responseSize]...)
	return r, nil
}

// sessionToken derives the token a server hands out for (nodeID, addr).
func sessionToken(secret []byte, nodeID uuid.UUID, addr net.Addr) ([]byte, error) {
	h, err := blake2b.New256(secret)
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	h.Write(nodeID[:])
	h.Write([]byte(addr.String()))
	return h.Sum(nil)[:TokenSize], nil
}

func tokensEqual(a, b []byte) bool {
	return len(a) == TokenSize && subtle.ConstantTimeCompare(a, b) == 1
}

func encodeConfirm(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

func decodeConfirm(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[:4]), true
}
