// Package simsync implements the multiplayer synchronization layer of a
// simulator: a server and its clients exchange game-state messages over an
// unreliable datagram network, with guaranteed delivery for the messages
// that need it and cached dispatch to in-process handlers.
//
// This package is the facade that builds a UDP-backed Client or Server from
// a config.Config. The layers underneath can be used directly:
//
//   - [github.com/opd-ai/simsync/wire]: message framing (magic 0xFCCF)
//   - [github.com/opd-ai/simsync/reliable]: retransmission tracker
//   - [github.com/opd-ai/simsync/routing]: 256-slot routing table
//   - [github.com/opd-ai/simsync/dispatch]: cached target dispatch
//   - [github.com/opd-ai/simsync/connection]: handshake and session pump
//   - [github.com/opd-ai/simsync/transport]: UDP and in-memory networks
//
// # Getting Started
//
// Run a server and register per-client targets when clients connect:
//
//	cfg, err := config.Load("simsync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := simsync.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//
//	srv.OnPeerConnected(func(p *connection.Peer) {
//	    avatar := dispatch.NewHandlerSet(1)
//	    avatar.Handle(MsgMove, applyMove)
//	    p.Targets().Add(avatar)
//	})
//
//	// drive the session from the simulation loop
//	for running {
//	    srv.ProcessAndWait(time.Millisecond, time.Millisecond, frame)
//	    step()
//	}
//
// Connect a client:
//
//	cli, err := simsync.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !cli.ConnectToServer(serverAddr, 5*time.Second) {
//	    log.Fatal("server unreachable")
//	}
//	cli.SendObject(1, MsgMove, body, true)
//
// # Reliability
//
// Messages sent with reliable set are confirmed by the receiver and resent
// after 1s, then with delays growing by 1s per attempt up to 8s, until
// confirmed. config.RetryConfig bounds the attempts and can drop peers whose
// messages are abandoned.
//
// # Concurrency
//
// Sessions are single-threaded: all work happens inside the Process* calls
// made by the host loop. Pump runs that loop on the calling goroutine until
// its context ends.
package simsync
