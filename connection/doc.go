// Package connection implements the simsync connection lifecycle on top of a
// datagram NetworkInterface.
//
// An Endpoint owns everything a session needs: the routing table, the
// dispatch manager and its target registry, the outbound queue and one Peer
// per remote address with its reliable tracker and duplicate window. Client
// and Server wrap an Endpoint and install the role-specific handshake
// transitions:
//
//	Disconnected --ConnectionRequest--> Connecting --ConnectionResponse/Acknowledge--> Connected
//	Connected --Disconnect--> Disconnecting --> Disconnected
//
// Nothing runs in the background. The host application drives the session
// from its own update loop through the Process* calls, each bounded by the
// timeouts it is given:
//
//	srv := connection.NewServer(nif, connection.DefaultConfig())
//	for running {
//	    if _, err := srv.ProcessAndWait(5*time.Millisecond, 5*time.Millisecond, 10*time.Millisecond); err != nil {
//	        break
//	    }
//	    simulate()
//	}
//
// Reliable messages are confirmed by the receiver with a Confirm control
// message and retransmitted by the sender with linear, capped backoff until
// confirmed. An Endpoint is not safe for concurrent use; only Snapshot may
// be called from another goroutine.
package connection
