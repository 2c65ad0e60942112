package connection

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/routing"
	"github.com/opd-ai/simsync/transport"
	"github.com/opd-ai/simsync/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")

	var serverSaw, clientSaw *Peer
	srv.OnPeerConnected(func(p *Peer) { serverSaw = p })
	cli.OnConnected(func(p *Peer) { clientSaw = p })

	require.NoError(t, cli.Connect(srv.LocalAddr()))
	assert.Equal(t, Connecting, cli.Phase())
	assert.Nil(t, cli.Server(), "pending attempt must not be exposed")

	pump(t, 3, srv, cli)

	assert.Equal(t, Connected, cli.Phase())
	require.NotNil(t, cli.Server())
	assert.Equal(t, srv.NodeID(), cli.Server().NodeID())
	assert.Zero(t, cli.Server().Pending(), "acknowledge must be confirmed")

	require.NotNil(t, serverSaw)
	assert.Equal(t, cli.NodeID(), serverSaw.NodeID())
	assert.Equal(t, RoleServer, serverSaw.Role())
	require.NotNil(t, clientSaw)
	assert.Equal(t, RoleClient, clientSaw.Role())

	peers := srv.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "client", peers[0].Addr().String())

	snap := srv.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "connected", snap[0].Phase)
	assert.Equal(t, cli.NodeID().String(), snap[0].NodeID)
}

func TestHandshakeSurvivesLostResponse(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeInterval = 100 * time.Millisecond
	h := newHarness(cfg)
	srv := h.server(t)
	cli := h.client(t, "client")

	require.NoError(t, cli.Connect(srv.LocalAddr()))
	// server answers, but the response never reaches the client
	h.network.SetLoss(1)
	pump(t, 1, srv)
	h.network.SetLoss(0)
	pump(t, 1, cli)
	require.Equal(t, Connecting, cli.Phase())

	h.clock.Advance(cfg.HandshakeInterval)
	pump(t, 3, cli, srv)

	assert.Equal(t, Connected, cli.Phase())
	assert.Len(t, srv.Peers(), 1, "repeated request must not create a second peer")
}

func TestConnectToServerUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeInterval = 50 * time.Millisecond
	network := transport.NewMemoryNetwork()
	nif, err := network.Listen("client")
	require.NoError(t, err)

	obs := &recordingObserver{}
	cli := NewClient(nif, cfg, WithObserver(obs))

	const timeout = 300 * time.Millisecond
	start := time.Now()
	ok := cli.ConnectToServer(transport.MemoryAddr("nowhere"), timeout)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
	assert.Equal(t, Disconnected, cli.Phase())
	assert.Nil(t, cli.Server())
	assert.Empty(t, cli.peers)
	assert.Equal(t, 1, obs.count(&obs.handshakeTimeouts))

	// the client can try again afterwards
	assert.False(t, cli.ConnectToServer(transport.MemoryAddr("nowhere"), 10*time.Millisecond))
}

func TestConnectToServer(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeInterval = 20 * time.Millisecond
	network := transport.NewMemoryNetwork()
	srvNif, err := network.Listen("server")
	require.NoError(t, err)
	cliNif, err := network.Listen("client")
	require.NoError(t, err)

	srv := NewServer(srvNif, cfg)
	cli := NewClient(cliNif, cfg)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := srv.ProcessAndWait(time.Millisecond, time.Millisecond, 5*time.Millisecond); err != nil {
				return
			}
		}
	}()

	ok := cli.ConnectToServer(srvNif.LocalAddr(), 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, Connected, cli.Phase())

	require.Eventually(t, func() bool {
		if _, err := cli.ProcessTraffic(time.Millisecond, 0); err != nil {
			return false
		}
		snap := srv.Snapshot()
		return len(snap) == 1 && snap[0].Phase == "connected"
	}, 2*time.Second, 5*time.Millisecond)

	close(stop)
	<-done
}

func TestServerRejections(t *testing.T) {
	t.Run("protocol version", func(t *testing.T) {
		h := newHarness(testConfig())
		srv := h.server(t)
		cfg := testConfig()
		cfg.ProtocolVersion = 99
		nif := h.listen(t, "client")
		cli := NewClient(nif, cfg, WithTimeProvider(h.clock))

		require.NoError(t, cli.Connect(srv.LocalAddr()))
		pump(t, 2, srv, cli)

		assert.Equal(t, Disconnected, cli.Phase())
		assert.Equal(t, RejectVersion, cli.LastReject())
		assert.Empty(t, srv.Peers())
	})

	t.Run("server full", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxPeers = 1
		h := newHarness(cfg)
		srv := h.server(t)
		first := h.client(t, "first")
		second := h.client(t, "second")

		connect(t, srv, first)
		require.NoError(t, second.Connect(srv.LocalAddr()))
		pump(t, 2, srv, second)

		assert.Equal(t, Disconnected, second.Phase())
		assert.Equal(t, RejectFull, second.LastReject())
		assert.Len(t, srv.Peers(), 1)
	})

	t.Run("accept policy", func(t *testing.T) {
		h := newHarness(testConfig())
		srv := h.server(t)
		cli := h.client(t, "client")
		var asked uuid.UUID
		srv.SetAcceptFunc(func(_ net.Addr, id uuid.UUID) bool {
			asked = id
			return false
		})

		assert.False(t, cli.ConnectToServer(srv.LocalAddr(), 0))
		require.NoError(t, cli.Connect(srv.LocalAddr()))
		pump(t, 2, srv, cli)

		assert.Equal(t, cli.NodeID(), asked)
		assert.Equal(t, RejectRefused, cli.LastReject())
		assert.Equal(t, Disconnected, cli.Phase())
	})
}

func TestConnectWhileConnected(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	assert.ErrorIs(t, cli.Connect(srv.LocalAddr()), ErrAlreadyConnected)
}

func TestSendErrors(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")

	assert.ErrorIs(t, cli.Send(wire.RouteUserBase, 1, nil, false), ErrNotConnected)
	assert.ErrorIs(t, srv.SendTo(uuid.New(), wire.RouteUserBase, 1, nil, false), ErrUnknownPeer)
	assert.ErrorIs(t, srv.DisconnectPeer(uuid.New(), true), ErrUnknownPeer)

	require.NoError(t, cli.Connect(srv.LocalAddr()))
	assert.ErrorIs(t, cli.Send(wire.RouteUserBase, 1, nil, false), ErrNotConnected)

	pump(t, 3, srv, cli)
	big := make([]byte, h.cfg.MaxDatagram)
	assert.Error(t, cli.Send(wire.RouteUserBase, 1, big, false))
}

func TestReliableDeliveryOverLossyNetwork(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	received := make(map[byte]int)
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(msg *wire.Message) {
		received[msg.Payload[0]]++
	}))

	h.network.Seed(7)
	h.network.SetLoss(0.3)
	h.network.SetDuplication(0.1)

	const count = 50
	for i := 0; i < count; i++ {
		require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte{byte(i)}, true))
	}

	for i := 0; i < 300; i++ {
		pump(t, 1, cli, srv)
		if len(received) == count && cli.Server().Pending() == 0 {
			break
		}
		h.clock.Advance(time.Second)
	}

	require.Len(t, received, count)
	for id, n := range received {
		assert.Equal(t, 1, n, "message %d delivered more than once", id)
	}
	assert.Zero(t, cli.Server().Pending())
}

func TestRetransmissionSchedule(t *testing.T) {
	h := newHarness(testConfig())
	obs := &recordingObserver{}
	srv := h.server(t)
	cli := h.client(t, "client", WithObserver(obs))
	connect(t, srv, cli)

	h.network.SetLoss(1)
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("x"), true))
	pump(t, 1, cli)
	require.Equal(t, 1, cli.Server().Pending())

	// retries fire 1s after sending, then 1s, 2s, 3s later
	for _, wait := range []time.Duration{time.Second, time.Second, 2 * time.Second, 3 * time.Second} {
		before := obs.count(&obs.retransmits)
		h.clock.Advance(wait - time.Millisecond)
		pump(t, 1, cli)
		assert.Equal(t, before, obs.count(&obs.retransmits), "retry fired early")
		h.clock.Advance(time.Millisecond)
		pump(t, 1, cli)
		assert.Equal(t, before+1, obs.count(&obs.retransmits), "retry missing")
	}
}

func TestAbandonDropsPeer(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2
	cfg.DropPeerOnAbandon = true
	h := newHarness(cfg)
	obs := &recordingObserver{}
	srv := h.server(t)
	cli := h.client(t, "client", WithObserver(obs))
	connect(t, srv, cli)

	var reason string
	cli.OnDisconnected(func(_ *Peer, r string) { reason = r })

	h.network.SetLoss(1)
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("lost"), true))
	pump(t, 1, cli)

	for i := 0; i < 10 && cli.Phase() == Connected; i++ {
		h.clock.Advance(2 * time.Second)
		pump(t, 1, cli)
	}

	assert.Equal(t, Disconnected, cli.Phase())
	assert.Equal(t, "abandoned", reason)
	assert.Equal(t, 1, obs.count(&obs.abandoned))
	assert.Equal(t, 2, obs.count(&obs.retransmits))
}

func TestAbandonKeepsPeerByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	h := newHarness(cfg)
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	h.network.SetLoss(1)
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("lost"), true))
	pump(t, 1, cli)
	for i := 0; i < 5; i++ {
		h.clock.Advance(2 * time.Second)
		pump(t, 1, cli)
	}

	assert.Equal(t, Connected, cli.Phase())
	assert.Zero(t, cli.Server().Pending())
}

func TestDuplicateSuppression(t *testing.T) {
	h := newHarness(testConfig())
	obs := &recordingObserver{}
	srv := h.server(t, WithObserver(obs))
	cli := h.client(t, "client")
	connect(t, srv, cli)

	delivered := 0
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
		delivered++
	}))

	h.network.SetDuplication(1)
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("once"), true))
	pump(t, 3, cli, srv)

	assert.Equal(t, 1, delivered)
	assert.GreaterOrEqual(t, obs.count(&obs.duplicates), 1)
}

func TestUnreliableDuplicatesAreDelivered(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	delivered := 0
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
		delivered++
	}))

	h.network.SetDuplication(1)
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("state"), false))
	pump(t, 2, cli, srv)

	assert.Equal(t, 2, delivered)
}

func TestObjectDispatchAndDisconnect(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")

	var bodies []string
	var target *dispatch.HandlerSet
	srv.OnPeerConnected(func(p *Peer) {
		target = dispatch.NewHandlerSet(7)
		target.Handle(100, func(msg *wire.Message) {
			bodies = append(bodies, string(msg.ObjectBody()))
		})
		require.NoError(t, p.Targets().Add(target))
	})
	var serverReason, clientReason string
	srv.OnPeerDisconnected(func(_ *Peer, r string) { serverReason = r })
	cli.OnDisconnected(func(_ *Peer, r string) { clientReason = r })

	connect(t, srv, cli)

	require.NoError(t, cli.SendObject(7, 100, []byte("first"), true))
	pump(t, 2, cli, srv)
	require.NoError(t, cli.SendObject(7, 100, []byte("second"), false))
	pump(t, 2, cli, srv)

	assert.Equal(t, []string{"first", "second"}, bodies)
	assert.Equal(t, 1, srv.Dispatcher().Len())
	stats := srv.Dispatcher().Stats()
	assert.Equal(t, uint64(1), stats.Discoveries)
	assert.Equal(t, uint64(1), stats.Hits)

	cli.DisconnectFromServer(false)
	assert.Equal(t, Disconnecting, cli.Phase())
	pump(t, 3, cli, srv)

	assert.Equal(t, Disconnected, cli.Phase())
	assert.Empty(t, srv.Peers())
	assert.Zero(t, srv.Dispatcher().Len(), "bindings must be invalidated on teardown")
	assert.True(t, target.Retired())
	assert.Equal(t, "remote disconnect", serverReason)
	assert.Equal(t, "disconnected", clientReason)
}

func TestObjectMessageWithoutTargetIsUnhandled(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	require.NoError(t, cli.SendObject(42, 1, nil, false))
	pump(t, 2, cli, srv)

	assert.Equal(t, uint64(1), srv.Dispatcher().Stats().Unhandled)
}

func TestEndpointTargetsServeAllPeers(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	a := h.client(t, "a")
	b := h.client(t, "b")

	calls := 0
	world := dispatch.NewHandlerSet(1)
	world.Handle(5, func(*wire.Message) { calls++ })
	require.NoError(t, srv.Targets().Add(world))

	connect(t, srv, a)
	connect(t, srv, b)
	require.NoError(t, a.SendObject(1, 5, nil, false))
	require.NoError(t, b.SendObject(1, 5, nil, false))
	pump(t, 2, a, b, srv)

	assert.Equal(t, 2, calls)
}

func TestImmediateDisconnect(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	var reason string
	srv.OnPeerDisconnected(func(_ *Peer, r string) { reason = r })

	cli.DisconnectFromServer(true)
	assert.Equal(t, Disconnected, cli.Phase())

	pump(t, 1, srv)
	assert.Empty(t, srv.Peers())
	assert.Equal(t, "remote disconnect", reason)
}

func TestServerDisconnectPeer(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	var reason string
	cli.OnDisconnected(func(_ *Peer, r string) { reason = r })

	require.NoError(t, srv.DisconnectPeer(cli.NodeID(), false))
	peer, ok := srv.Peer(cli.NodeID())
	require.True(t, ok)
	assert.Equal(t, Disconnecting, peer.Phase())
	assert.ErrorIs(t, srv.SendTo(cli.NodeID(), wire.RouteUserBase, 1, nil, false), ErrNotConnected)

	pump(t, 3, srv, cli)

	assert.Equal(t, Disconnected, cli.Phase())
	assert.Equal(t, "remote disconnect", reason)
	assert.Empty(t, srv.Peers())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	received := 0
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
		received++
	}))
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, nil, true))
	pump(t, 2, cli, srv)

	cli.DisconnectFromServer(true)
	connect(t, srv, cli)

	// confirmation ids restart with the new session and must not be
	// mistaken for duplicates
	require.NoError(t, cli.Send(wire.RouteUserBase, 1, nil, true))
	pump(t, 2, cli, srv)
	assert.Equal(t, 2, received)
}

func TestClientRestartReplacesSession(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)
	oldID := cli.NodeID()

	// the old process vanishes without a Disconnect; a new one binds the
	// same address with a new identity
	require.NoError(t, cli.nif.Close())
	restarted := h.client(t, "client")
	connect(t, srv, restarted)

	_, ok := srv.Peer(oldID)
	assert.False(t, ok)
	assert.Len(t, srv.Peers(), 1)
}

func TestStaleConnectionRequestKeepsSession(t *testing.T) {
	h := newHarness(testConfig())
	obs := &recordingObserver{}
	srv := h.server(t, WithObserver(obs))
	cli := h.client(t, "client")
	connect(t, srv, cli)

	delivered := 0
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
		delivered++
	}))

	// a copy of the client's request arrives after the handshake completed
	cli.sendRequest(cli.server)
	pump(t, 2, srv, cli)

	peer, ok := srv.Peer(cli.NodeID())
	require.True(t, ok)
	assert.Equal(t, Connected, peer.Phase())
	assert.Equal(t, Connected, cli.Phase())
	assert.Empty(t, obs.disconnects)

	require.NoError(t, cli.Send(wire.RouteUserBase, 1, []byte("after"), true))
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		pump(t, 1, cli, srv)
	}

	assert.Equal(t, 1, delivered)
	assert.Zero(t, cli.Server().Pending())
}

func TestBroadcast(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	a := h.client(t, "a")
	b := h.client(t, "b")
	connect(t, srv, a)
	connect(t, srv, b)

	got := make(map[string]int)
	for name, c := range map[string]*Client{"a": a, "b": b} {
		name := name
		c.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
			got[name]++
		}))
	}

	n, err := srv.Broadcast(wire.RouteUserBase, 3, []byte("tick"), true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pump(t, 2, srv, a, b)

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, got)
}

func TestKeepAliveAndPeerTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAlive = time.Second
	cfg.PeerTimeout = 3 * time.Second
	h := newHarness(cfg)
	obs := &recordingObserver{}
	srv := h.server(t, WithObserver(obs))
	cli := h.client(t, "client")
	connect(t, srv, cli)

	h.clock.Advance(time.Second)
	sent, err := cli.ProcessOutgoing(0)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "idle client sends a heartbeat")

	_, err = srv.ProcessIncoming(0)
	require.NoError(t, err)
	peer, ok := srv.Peer(cli.NodeID())
	require.True(t, ok)
	assert.Equal(t, h.clock.Now(), peer.LastHeard())

	// the client goes silent
	h.clock.Advance(3*time.Second + time.Millisecond)
	pump(t, 1, srv)

	assert.Empty(t, srv.Peers())
	assert.Equal(t, []string{"timeout"}, obs.disconnects)
}

func TestThrottledSendsStayQueued(t *testing.T) {
	h := newHarness(testConfig())
	nif := &throttlingInterface{NetworkInterface: h.listen(t, "server")}
	obs := &recordingObserver{}
	srv := NewServer(nif, h.cfg, WithTimeProvider(h.clock), WithObserver(obs))
	cli := h.client(t, "client")
	connect(t, srv, cli)

	for i := 0; i < 3; i++ {
		require.NoError(t, srv.SendTo(cli.NodeID(), wire.RouteUserBase, 1, []byte{byte(i)}, true))
	}

	nif.throttle = true
	sent, err := srv.ProcessOutgoing(0)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 3, srv.QueueLen())
	assert.Equal(t, 1, obs.count(&obs.throttled))

	nif.throttle = false
	sent, err = srv.ProcessOutgoing(0)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Zero(t, srv.QueueLen())
}

func TestMalformedAndForeignDatagrams(t *testing.T) {
	h := newHarness(testConfig())
	obs := &recordingObserver{}
	srvNif := h.listen(t, "server")
	srv := NewServer(srvNif, h.cfg, WithTimeProvider(h.clock), WithObserver(obs))

	delivered := 0
	srv.Routes().SetHandler(wire.RouteUserBase, routing.HandlerFunc(func(*wire.Message) {
		delivered++
	}))

	srvNif.Inject([]byte{0x01, 0x02, 0x03}, transport.MemoryAddr("stranger"))
	msg := &wire.Message{Type: 1, Routing: wire.RouteUserBase, Payload: []byte("hi")}
	data, err := msg.Encode()
	require.NoError(t, err)
	srvNif.Inject(data, transport.MemoryAddr("stranger"))

	n, err := srv.ProcessIncoming(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, obs.count(&obs.framingErrors))
	assert.Zero(t, delivered, "traffic from outside a session is dropped")
}

func TestUnroutableCounted(t *testing.T) {
	h := newHarness(testConfig())
	obs := &recordingObserver{}
	srv := h.server(t, WithObserver(obs))
	cli := h.client(t, "client")
	connect(t, srv, cli)

	require.NoError(t, cli.Send(wire.RouteUserBase+1, 1, nil, false))
	pump(t, 2, cli, srv)

	assert.Equal(t, 1, obs.count(&obs.unroutable))
	assert.Equal(t, uint64(1), srv.Routes().Unroutable())
}

func TestCloseNotifiesPeers(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)
	cli := h.client(t, "client")
	connect(t, srv, cli)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	pump(t, 1, cli)
	assert.Equal(t, Disconnected, cli.Phase())

	_, err := srv.ProcessIncoming(0)
	assert.Error(t, err)
	_, err = srv.ProcessOutgoing(0)
	assert.Error(t, err)
}

func TestProcessAndWaitIdles(t *testing.T) {
	h := newHarness(testConfig())
	srv := h.server(t)

	start := time.Now()
	n, err := srv.ProcessAndWait(0, 0, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
