// Package transport provides NetworkInterface implementations for simsync.
//
// # UDP
//
// UDP wraps a net.PacketConn. Reads honour the deadline passed by the pump,
// writes carry a per-datagram write timeout, and an optional token bucket
// (golang.org/x/time/rate) shapes outbound bandwidth. A datagram the bucket
// cannot admit yet is refused with interfaces.ErrThrottled and stays in the
// caller's queue:
//
//	nif, err := transport.NewUDP(transport.UDPConfig{
//	    ListenAddr:     ":27015",
//	    BandwidthBytes: 256 * 1024,
//	})
//
// # Memory
//
// MemoryNetwork is an in-process datagram fabric for tests and local
// simulations. It can drop and duplicate datagrams at configurable rates to
// exercise the reliable delivery path deterministically:
//
//	network := transport.NewMemoryNetwork()
//	network.SetLoss(0.3)
//	server, _ := network.Listen("server")
//	client, _ := network.Listen("client")
package transport
