package connection

import (
	"net"
	"time"

	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

// Client is the connecting side of a session. It holds at most one server
// peer.
type Client struct {
	*Endpoint

	server     *Peer
	lastReject RejectReason

	onConnected    func(*Peer)
	onDisconnected func(*Peer, string)
}

// NewClient creates a client on nif.
func NewClient(nif interfaces.NetworkInterface, cfg Config, opts ...Option) *Client {
	c := &Client{Endpoint: newEndpoint(RoleClient, nif, cfg, opts...)}
	c.hooks = roleHooks{
		connectionResponse: c.onConnectionResponse,
		peerDown:           c.onPeerDown,
		tick:               c.tick,
	}
	return c
}

// OnConnected registers a callback invoked when the handshake completes.
func (c *Client) OnConnected(fn func(server *Peer)) {
	c.onConnected = fn
}

// OnDisconnected registers a callback invoked when an established session
// ends, with the reason.
func (c *Client) OnDisconnected(fn func(server *Peer, reason string)) {
	c.onDisconnected = fn
}

// Phase returns the session phase.
func (c *Client) Phase() Phase {
	if c.server == nil {
		return Disconnected
	}
	return c.server.phase
}

// Server returns the server peer once the session is established, nil
// otherwise. A pending connect attempt is not exposed.
func (c *Client) Server() *Peer {
	if c.server == nil || !c.server.established {
		return nil
	}
	return c.server
}

// LastReject returns the reason of the most recent rejection.
func (c *Client) LastReject() RejectReason {
	return c.lastReject
}

// Connect sends a ConnectionRequest to addr and enters Connecting. The
// request is re-sent every HandshakeInterval by ProcessOutgoing until the
// server answers; the caller pumps the endpoint to complete the handshake.
func (c *Client) Connect(addr net.Addr) error {
	if c.closed {
		return interfaces.ErrClosed
	}
	if c.server != nil {
		return ErrAlreadyConnected
	}

	c.lastReject = Accepted
	peer := newPeer(RoleClient, addr, c.cfg, c.dispatcher, c.clock.Now())
	c.server = peer
	c.addPeer(peer)
	c.sendRequest(peer)

	logrus.WithFields(logrus.Fields{
		"function": "Client.Connect",
		"server":   addr.String(),
		"node_id":  c.nodeID.String(),
	}).Info("Connecting to server")
	return nil
}

// ConnectToServer connects to addr and pumps the endpoint until the session
// is established, the server rejects the client, or timeout elapses on the
// endpoint's clock. On failure no session state remains.
func (c *Client) ConnectToServer(addr net.Addr, timeout time.Duration) bool {
	if err := c.Connect(addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.ConnectToServer",
			"server":   addrString(addr),
			"error":    err.Error(),
		}).Warn("Connect failed")
		return false
	}

	deadline := c.clock.Now().Add(timeout)
	for {
		switch c.Phase() {
		case Connected:
			return true
		case Disconnected:
			return false
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			break
		}
		if _, err := c.ProcessTraffic(min(remaining, c.cfg.HandshakeInterval), 0); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.ConnectToServer",
				"server":   addr.String(),
				"error":    err.Error(),
			}).Warn("Pump failed during handshake")
			c.abortConnect("error")
			return false
		}
	}

	c.observer.HandshakeTimeout()
	logrus.WithFields(logrus.Fields{
		"function": "Client.ConnectToServer",
		"server":   addr.String(),
		"timeout":  timeout,
	}).Warn("Connection attempt timed out")
	c.abortConnect("connect timeout")
	return false
}

// DisconnectFromServer ends the session. The Disconnect is delivered
// reliably and the session closes once it is confirmed, unless immediate is
// set, in which case it is sent once and the session closes at once.
func (c *Client) DisconnectFromServer(immediate bool) {
	if c.server == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Client.DisconnectFromServer",
		"server":    c.server.key(),
		"immediate": immediate,
	}).Info("Disconnecting from server")
	c.beginDisconnect(c.server, immediate)
}

// Send queues a message to the server.
func (c *Client) Send(route wire.RoutingType, msgType wire.MessageType, payload []byte, reliable bool) error {
	if c.server == nil {
		return ErrNotConnected
	}
	return c.send(c.server, route, msgType, payload, reliable)
}

// SendObject queues an object message for the server-side target objectID.
func (c *Client) SendObject(objectID uint32, msgType wire.MessageType, body []byte, reliable bool) error {
	msg := wire.NewObjectMessage(msgType, objectID, body)
	return c.Send(msg.Routing, msg.Type, msg.Payload, reliable)
}

func (c *Client) sendRequest(peer *Peer) {
	req := connectionRequest{Version: c.cfg.ProtocolVersion, NodeID: c.nodeID}
	c.transmit(peer, &wire.Message{Type: wire.TypeConnectionRequest, Payload: req.encode()})
}

func (c *Client) abortConnect(reason string) {
	if c.server != nil && c.server.phase == Connecting {
		c.teardown(c.server, reason)
	}
}

func (c *Client) tick(now time.Time) int {
	peer := c.server
	if peer == nil || peer.phase != Connecting {
		return 0
	}
	if now.Sub(peer.lastSent) < c.cfg.HandshakeInterval {
		return 0
	}
	c.sendRequest(peer)
	return 1
}

func (c *Client) onConnectionResponse(msg *wire.Message, peer *Peer) {
	if peer != c.server || peer.phase != Connecting {
		return
	}

	resp, err := decodeConnectionResponse(msg.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.onConnectionResponse",
			"error":    err.Error(),
		}).Debug("Dropping malformed connection response")
		return
	}

	if resp.Status != Accepted {
		c.lastReject = resp.Status
		logrus.WithFields(logrus.Fields{
			"function": "Client.onConnectionResponse",
			"server":   peer.key(),
			"reason":   resp.Status.String(),
		}).Warn("Server rejected connection")
		c.teardown(peer, "rejected")
		return
	}

	c.bindNodeID(peer, resp.NodeID)
	peer.token = resp.Token
	ack := &wire.Message{Type: wire.TypeAcknowledge, Flags: wire.FlagReliable, Payload: resp.Token}
	if err := c.enqueue(peer, ack); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.onConnectionResponse",
			"error":    err.Error(),
		}).Warn("Failed to queue acknowledge")
		return
	}
	c.markConnected(peer)

	logrus.WithFields(logrus.Fields{
		"function":       "Client.onConnectionResponse",
		"server":         peer.key(),
		"server_node_id": resp.NodeID.String(),
	}).Info("Connected to server")

	if c.onConnected != nil {
		c.onConnected(peer)
	}
}

func (c *Client) onPeerDown(peer *Peer, reason string) {
	if peer != c.server {
		return
	}
	c.server = nil
	if peer.established && c.onDisconnected != nil {
		c.onDisconnected(peer, reason)
	}
}
