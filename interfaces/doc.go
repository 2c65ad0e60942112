// Package interfaces defines the collaborator contracts consumed by the
// simsync core.
//
// The core never touches sockets or owns queue storage itself. It drives a
// [NetworkInterface] for datagram I/O and a [MessageQueue] for outbound
// messages, which keeps the pump loop testable with in-memory
// implementations and lets deployments swap UDP for any other datagram
// carrier.
//
// # NetworkInterface
//
// Implementations deliver whole datagrams. ReadFrom blocks no later than the
// supplied deadline and reports [ErrTimeout] when nothing arrived, so the
// pump can interleave network work with the host's frame loop:
//
//	data, from, err := nif.ReadFrom(time.Now().Add(5 * time.Millisecond))
//	if errors.Is(err, interfaces.ErrTimeout) {
//	    return
//	}
//
// Bandwidth shaping is the implementation's concern; a shaped interface
// reports [ErrThrottled] from Send and the caller retries on a later pump.
//
// # MessageQueue
//
// The queue holds outbound messages between the moment application code sends
// them and the next ProcessOutgoing call. PushFront returns a message that
// could not be transmitted yet to the head of the queue.
package interfaces
