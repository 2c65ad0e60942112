// Package limits provides centralized size constants and validation functions
// for simsync datagrams. Every component that builds or accepts a wire message
// checks sizes here so the framing layer, the outbound queue and the transports
// agree on what fits into a single datagram.
//
// # Size Hierarchy
//
//   - MaxWireLength (65535 bytes): the largest value the 16-bit total_length
//     header field can express. No encoded message may exceed it.
//
//   - DefaultMaxDatagram (1400 bytes): the default datagram budget. It stays
//     below the common 1500 byte Ethernet MTU after IP/UDP headers, so
//     messages are not fragmented on typical links.
//
//   - MinDatagram (64 bytes): the smallest datagram budget a configuration may
//     request. Anything lower cannot carry a handshake.
//
// # Validation Functions
//
//	err := limits.ValidateDatagram(data, cfg.Network.MaxDatagram)
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // drop or split
//	}
//
// Payloads may be empty (a Heartbeat carries none), so only the datagram level
// validators reject empty input.
package limits
