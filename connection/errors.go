package connection

import "errors"

var (
	// ErrNotConnected is returned when sending to a peer that has not
	// completed the handshake or is shutting down.
	ErrNotConnected = errors.New("peer not connected")

	// ErrUnknownPeer is returned when no peer has the given node id.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrAlreadyConnected is returned by Client.Connect while a session or
	// connect attempt is active.
	ErrAlreadyConnected = errors.New("client already connected")
)
