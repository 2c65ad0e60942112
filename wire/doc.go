// Package wire implements the simsync datagram framing.
//
// Every datagram carries exactly one message. The header is fixed for a
// protocol version so any peer can locate the routing tag and confirmation id
// without knowing the message class:
//
//	offset 0  magic          u16  0xFCCF
//	offset 2  total_length   u16  HeaderSize + len(payload)
//	offset 4  message_type   u16
//	offset 6  routing_type   u8
//	offset 7  flags          u8   bit 0: reliable
//	offset 8  confirm_id     u32
//	offset 12 payload
//
// The first six bytes are the base header; routing type, flags and
// confirmation id form the extended header. All integers are big endian.
//
// Example:
//
//	data, err := wire.Encode(wire.TypeHeartbeat, nil)
//	if err != nil {
//	    return err
//	}
//
//	msg, err := wire.Decode(data)
//	if err != nil {
//	    var fe *wire.FramingError
//	    if errors.As(err, &fe) {
//	        // drop the datagram
//	    }
//	}
package wire
