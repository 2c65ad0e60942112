// Package messaging implements the outbound message queue of a simsync
// endpoint.
//
// Application handlers and the connection layer push messages while the
// pump is processing input; ProcessOutgoing drains the queue in FIFO order,
// encodes each message and hands it to the network interface. Messages the
// network could not take yet are returned to the head with PushFront, so
// ordering between messages to the same peer is preserved.
//
// Example:
//
//	q := messaging.NewQueue(4096)
//	if err := q.Push(interfaces.Outbound{Message: msg, Dest: addr}); err != nil {
//	    // queue full, drop or back off
//	}
package messaging
