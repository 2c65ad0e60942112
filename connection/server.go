package connection

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

// AcceptFunc decides whether a connection request is admitted.
type AcceptFunc func(addr net.Addr, nodeID uuid.UUID) bool

// Server is the accepting side of sessions, holding one peer per client.
type Server struct {
	*Endpoint

	accept             AcceptFunc
	onPeerConnected    func(*Peer)
	onPeerDisconnected func(*Peer, string)
}

// NewServer creates a server on nif.
func NewServer(nif interfaces.NetworkInterface, cfg Config, opts ...Option) *Server {
	s := &Server{Endpoint: newEndpoint(RoleServer, nif, cfg, opts...)}
	s.hooks = roleHooks{
		connectionRequest: s.onConnectionRequest,
		acknowledge:       s.onAcknowledge,
		peerDown:          s.onPeerDown,
	}
	return s
}

// SetAcceptFunc installs an admission policy applied after the version and
// capacity checks. Nil accepts everyone.
func (s *Server) SetAcceptFunc(fn AcceptFunc) {
	s.accept = fn
}

// OnPeerConnected registers a callback invoked when a client completes the
// handshake. Targets registered on peer.Targets() receive the client's
// object messages.
func (s *Server) OnPeerConnected(fn func(peer *Peer)) {
	s.onPeerConnected = fn
}

// OnPeerDisconnected registers a callback invoked when an established
// session ends.
func (s *Server) OnPeerDisconnected(fn func(peer *Peer, reason string)) {
	s.onPeerDisconnected = fn
}

// Peers returns every known peer ordered by address.
func (s *Server) Peers() []*Peer {
	return s.sortedPeers()
}

// Peer returns the peer with nodeID.
func (s *Server) Peer(nodeID uuid.UUID) (*Peer, bool) {
	p, ok := s.byNode[nodeID]
	return p, ok
}

// SendTo queues a message to the peer with nodeID.
func (s *Server) SendTo(nodeID uuid.UUID, route wire.RoutingType, msgType wire.MessageType, payload []byte, reliable bool) error {
	peer, ok := s.byNode[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, nodeID)
	}
	return s.send(peer, route, msgType, payload, reliable)
}

// SendObjectTo queues an object message for the client-side target objectID.
func (s *Server) SendObjectTo(nodeID uuid.UUID, objectID uint32, msgType wire.MessageType, body []byte, reliable bool) error {
	msg := wire.NewObjectMessage(msgType, objectID, body)
	return s.SendTo(nodeID, msg.Routing, msg.Type, msg.Payload, reliable)
}

// Broadcast queues a message to every connected peer and returns how many
// accepted it. The first queueing error is returned.
func (s *Server) Broadcast(route wire.RoutingType, msgType wire.MessageType, payload []byte, reliable bool) (int, error) {
	var firstErr error
	queued := 0
	for _, peer := range s.sortedPeers() {
		if peer.phase != Connected {
			continue
		}
		if err := s.send(peer, route, msgType, payload, reliable); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}
	return queued, firstErr
}

// DisconnectPeer ends the session with nodeID, reliably unless immediate.
func (s *Server) DisconnectPeer(nodeID uuid.UUID, immediate bool) error {
	peer, ok := s.byNode[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, nodeID)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Server.DisconnectPeer",
		"peer":      peer.key(),
		"node_id":   nodeID.String(),
		"immediate": immediate,
	}).Info("Disconnecting peer")
	s.beginDisconnect(peer, immediate)
	return nil
}

func (s *Server) onConnectionRequest(msg *wire.Message, peer *Peer) {
	req, err := decodeConnectionRequest(msg.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.onConnectionRequest",
			"from":     msg.Source.String(),
			"error":    err.Error(),
		}).Debug("Dropping malformed connection request")
		return
	}

	if peer != nil {
		if peer.nodeID == req.NodeID {
			if peer.phase == Connecting {
				s.respond(peer)
				return
			}
			// A late or duplicated copy of a request that was already
			// answered. The session stands.
			logrus.WithFields(logrus.Fields{
				"function": "Server.onConnectionRequest",
				"peer":     peer.key(),
				"phase":    peer.phase.String(),
			}).Debug("Ignoring stale connection request")
			return
		}
		// A new identity at the same address: the client restarted and the
		// old session is dead.
		s.teardown(peer, "replaced")
	}

	if reason := s.admit(msg.Source, req); reason != Accepted {
		logrus.WithFields(logrus.Fields{
			"function": "Server.onConnectionRequest",
			"from":     msg.Source.String(),
			"node_id":  req.NodeID.String(),
			"reason":   reason.String(),
		}).Info("Rejecting connection")
		resp := connectionResponse{Status: reason, NodeID: s.nodeID}
		s.transmitTo(msg.Source, &wire.Message{Type: wire.TypeConnectionResponse, Payload: resp.encode()})
		return
	}

	token, err := sessionToken(s.secret, req.NodeID, msg.Source)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.onConnectionRequest",
			"error":    err.Error(),
		}).Error("Failed to derive session token")
		return
	}

	peer = newPeer(RoleServer, msg.Source, s.cfg, s.dispatcher, s.clock.Now())
	peer.token = token
	peer.nodeID = req.NodeID
	s.addPeer(peer)
	s.respond(peer)

	logrus.WithFields(logrus.Fields{
		"function": "Server.onConnectionRequest",
		"from":     msg.Source.String(),
		"node_id":  req.NodeID.String(),
	}).Info("Accepted connection request")
}

func (s *Server) admit(addr net.Addr, req connectionRequest) RejectReason {
	if req.Version != s.cfg.ProtocolVersion {
		return RejectVersion
	}
	if len(s.peers) >= s.cfg.MaxPeers {
		return RejectFull
	}
	if s.accept != nil && !s.accept(addr, req.NodeID) {
		return RejectRefused
	}
	return Accepted
}

func (s *Server) respond(peer *Peer) {
	resp := connectionResponse{Status: Accepted, NodeID: s.nodeID, Token: peer.token}
	if err := s.enqueue(peer, &wire.Message{Type: wire.TypeConnectionResponse, Payload: resp.encode()}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.respond",
			"peer":     peer.key(),
			"error":    err.Error(),
		}).Warn("Failed to queue connection response")
	}
}

func (s *Server) onAcknowledge(msg *wire.Message, peer *Peer) {
	if peer.phase != Connecting {
		return
	}
	if !tokensEqual(msg.Payload, peer.token) {
		logrus.WithFields(logrus.Fields{
			"function": "Server.onAcknowledge",
			"peer":     peer.key(),
		}).Warn("Acknowledge with wrong session token")
		return
	}

	s.markConnected(peer)
	logrus.WithFields(logrus.Fields{
		"function": "Server.onAcknowledge",
		"peer":     peer.key(),
		"node_id":  peer.nodeID.String(),
	}).Info("Peer connected")

	if s.onPeerConnected != nil {
		s.onPeerConnected(peer)
	}
}

func (s *Server) onPeerDown(peer *Peer, reason string) {
	if peer.established && s.onPeerDisconnected != nil {
		s.onPeerDisconnected(peer, reason)
	}
}
