package connection

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/limits"
	"github.com/opd-ai/simsync/messaging"
	"github.com/opd-ai/simsync/routing"
	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

// roleHooks are the transitions a role installs on the shared Endpoint.
// Unset hooks ignore the event.
type roleHooks struct {
	connectionRequest  func(msg *wire.Message, peer *Peer)
	connectionResponse func(msg *wire.Message, peer *Peer)
	acknowledge        func(msg *wire.Message, peer *Peer)
	peerDown           func(peer *Peer, reason string)
	// tick runs at the start of every ProcessOutgoing and returns the
	// number of datagrams it sent.
	tick func(now time.Time) int
}

// Endpoint is the session core shared by Client and Server.
type Endpoint struct {
	cfg      Config
	role     Role
	nif      interfaces.NetworkInterface
	clock    TimeProvider
	observer Observer
	nodeID   uuid.UUID
	secret   []byte

	routes     *routing.Table
	dispatcher *dispatch.Manager
	targets    *dispatch.Registry
	queue      interfaces.MessageQueue

	peers  map[string]*Peer
	byNode map[uuid.UUID]*Peer
	hooks  roleHooks
	closed bool

	snapMu   sync.Mutex
	snapshot []PeerInfo
}

func newEndpoint(role Role, nif interfaces.NetworkInterface, cfg Config, opts ...Option) *Endpoint {
	cfg = cfg.normalized()
	e := &Endpoint{
		cfg:      cfg,
		role:     role,
		nif:      nif,
		clock:    RealTimeProvider{},
		observer: nopObserver{},
		nodeID:   uuid.New(),
		routes:   routing.NewTable(),
		queue:    messaging.NewQueue(cfg.QueueCapacity),
		peers:    make(map[string]*Peer),
		byNode:   make(map[uuid.UUID]*Peer),
	}
	e.dispatcher = dispatch.NewManager(cfg.CacheCapacity)
	e.targets = dispatch.NewRegistry(e.dispatcher)

	for _, opt := range opts {
		opt(e)
	}

	if len(e.secret) == 0 {
		e.secret = make([]byte, 32)
		if _, err := rand.Read(e.secret); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "newEndpoint",
				"error":    err.Error(),
			}).Error("Failed to generate session secret")
		}
	}
	if do, ok := e.observer.(dispatch.Observer); ok {
		e.dispatcher.SetObserver(do)
	}

	e.routes.SetHandler(wire.RouteSystem, routing.HandlerFunc(e.handleControl))
	e.routes.SetHandler(wire.RouteObject, dispatch.RouteTo(e.dispatcher, e.resolveObject))
	e.routes.OnUnroutable(func(*wire.Message) {
		e.observer.Unroutable()
	})

	logrus.WithFields(logrus.Fields{
		"function": "newEndpoint",
		"role":     role.String(),
		"node_id":  e.nodeID.String(),
		"local":    addrString(nif.LocalAddr()),
	}).Info("Endpoint created")

	return e
}

// NodeID returns the local node identity.
func (e *Endpoint) NodeID() uuid.UUID { return e.nodeID }

// LocalAddr returns the address of the network interface.
func (e *Endpoint) LocalAddr() net.Addr { return e.nif.LocalAddr() }

// Config returns the effective configuration.
func (e *Endpoint) Config() Config { return e.cfg }

// Routes returns the routing table. RouteSystem and RouteObject are
// installed by the endpoint; tags from wire.RouteUserBase are free.
func (e *Endpoint) Routes() *routing.Table { return e.routes }

// Dispatcher returns the dispatch manager serving RouteObject.
func (e *Endpoint) Dispatcher() *dispatch.Manager { return e.dispatcher }

// Targets returns the endpoint-wide target registry. Object messages are
// resolved against the sending peer's registry first, then this one.
func (e *Endpoint) Targets() *dispatch.Registry { return e.targets }

// InvalidateCache drops every dispatch binding.
func (e *Endpoint) InvalidateCache() { e.dispatcher.InvalidateCache() }

// QueueLen returns the number of queued outbound messages.
func (e *Endpoint) QueueLen() int { return e.queue.Len() }

// Snapshot returns the peer state published by the last pump call. It is
// safe to call from any goroutine.
func (e *Endpoint) Snapshot() []PeerInfo {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	out := make([]PeerInfo, len(e.snapshot))
	copy(out, e.snapshot)
	return out
}

// ProcessIncoming waits up to timeout for a datagram, then handles it and
// everything already queued behind it, up to Config.ReadBatch datagrams. It
// returns the number of datagrams handled.
func (e *Endpoint) ProcessIncoming(timeout time.Duration) (int, error) {
	if e.closed {
		return 0, interfaces.ErrClosed
	}
	defer e.publish()

	deadline := time.Now().Add(timeout)
	handled := 0
	for handled < e.cfg.ReadBatch {
		data, addr, err := e.nif.ReadFrom(deadline)
		if errors.Is(err, interfaces.ErrTimeout) {
			return handled, nil
		}
		if err != nil {
			return handled, fmt.Errorf("read datagram: %w", err)
		}
		e.handleDatagram(data, addr)
		handled++
		// Drain without waiting once something arrived.
		deadline = time.Time{}
	}
	return handled, nil
}

// ProcessOutgoing transmits queued messages, retransmits due reliable
// messages, sends heartbeats and expires silent peers. It stops draining
// the queue once timeout elapses or the network throttles; a non-positive
// timeout drains everything. It returns the number of datagrams sent.
func (e *Endpoint) ProcessOutgoing(timeout time.Duration) (int, error) {
	if e.closed {
		return 0, interfaces.ErrClosed
	}
	defer e.publish()

	now := e.clock.Now()
	sent := 0
	if e.hooks.tick != nil {
		sent += e.hooks.tick(now)
	}

	n, throttled, err := e.drainQueue(now, timeout)
	sent += n
	if err != nil {
		return sent, err
	}
	if !throttled {
		n, err = e.retransmit(now)
		sent += n
		if err != nil {
			return sent, err
		}
	}

	sent += e.maintainPeers(now)
	return sent, nil
}

// ProcessTraffic runs ProcessIncoming then ProcessOutgoing.
func (e *Endpoint) ProcessTraffic(readTimeout, writeTimeout time.Duration) (int, error) {
	in, err := e.ProcessIncoming(readTimeout)
	if err != nil {
		return in, err
	}
	out, err := e.ProcessOutgoing(writeTimeout)
	return in + out, err
}

// ProcessAndWait runs ProcessTraffic and, when it found nothing to do, waits
// up to idleTimeout for inbound traffic and flushes whatever that produced.
func (e *Endpoint) ProcessAndWait(readTimeout, writeTimeout, idleTimeout time.Duration) (int, error) {
	n, err := e.ProcessTraffic(readTimeout, writeTimeout)
	if err != nil || n > 0 || idleTimeout <= 0 {
		return n, err
	}
	in, err := e.ProcessIncoming(idleTimeout)
	if err != nil || in == 0 {
		return in, err
	}
	out, err := e.ProcessOutgoing(writeTimeout)
	return in + out, err
}

// Close tears down every peer, sending a best-effort Disconnect to those
// still in session, and closes the network interface.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	for _, p := range e.sortedPeers() {
		if p.phase == Connected || p.phase == Disconnecting {
			e.transmit(p, &wire.Message{Type: wire.TypeDisconnect})
		}
		e.teardown(p, "closed")
	}
	e.queue.Clear()
	e.targets.Clear()
	e.closed = true
	e.publish()

	logrus.WithFields(logrus.Fields{
		"function": "Endpoint.Close",
		"role":     e.role.String(),
	}).Info("Endpoint closed")
	return e.nif.Close()
}

func (e *Endpoint) handleDatagram(data []byte, addr net.Addr) {
	msg, err := wire.Decode(data)
	if err != nil {
		e.observer.FramingError()
		logrus.WithFields(logrus.Fields{
			"function": "Endpoint.handleDatagram",
			"from":     addrString(addr),
			"error":    err.Error(),
		}).Debug("Dropping malformed datagram")
		return
	}
	msg.Source = addr
	e.observer.MessageReceived(msg.Routing, len(data))

	peer := e.peers[addr.String()]
	if peer != nil {
		peer.lastHeard = e.clock.Now()
	}

	if !admissible(msg, peer) {
		logrus.WithFields(logrus.Fields{
			"function":     "Endpoint.handleDatagram",
			"from":         addr.String(),
			"routing_type": msg.Routing,
			"message_type": msg.Type,
		}).Debug("Dropping message from peer outside session")
		return
	}

	if msg.Reliable() {
		e.transmit(peer, &wire.Message{Type: wire.TypeConfirm, Payload: encodeConfirm(msg.ConfirmID)})
		if peer.dedup.Observe(msg.ConfirmID) {
			e.observer.Duplicate()
			return
		}
	}

	e.routes.Route(msg)
}

// admissible reports whether msg may be delivered given the sender's peer
// state. Only handshake openers are accepted from unknown addresses.
func admissible(msg *wire.Message, peer *Peer) bool {
	if peer == nil {
		return msg.Routing == wire.RouteSystem &&
			msg.Type == wire.TypeConnectionRequest &&
			!msg.Reliable()
	}
	if msg.Routing == wire.RouteSystem {
		return true
	}
	return peer.phase == Connected || peer.phase == Disconnecting
}

func (e *Endpoint) handleControl(msg *wire.Message) {
	peer := e.peers[msg.Source.String()]

	switch msg.Type {
	case wire.TypeConnectionRequest:
		if e.hooks.connectionRequest != nil {
			e.hooks.connectionRequest(msg, peer)
		}
	case wire.TypeConnectionResponse:
		if e.hooks.connectionResponse != nil && peer != nil {
			e.hooks.connectionResponse(msg, peer)
		}
	case wire.TypeAcknowledge:
		if e.hooks.acknowledge != nil && peer != nil {
			e.hooks.acknowledge(msg, peer)
		}
	case wire.TypeDisconnect:
		if peer != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Endpoint.handleControl",
				"peer":     peer.key(),
				"node_id":  peer.nodeID.String(),
			}).Info("Peer disconnected")
			e.teardown(peer, "remote disconnect")
		}
	case wire.TypeConfirm:
		if peer != nil {
			e.handleConfirm(msg, peer)
		}
	case wire.TypeHeartbeat:
		// lastHeard already refreshed
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "Endpoint.handleControl",
			"message_type": msg.Type,
		}).Debug("Ignoring unknown control message")
	}
}

func (e *Endpoint) handleConfirm(msg *wire.Message, peer *Peer) {
	id, ok := decodeConfirm(msg.Payload)
	if !ok {
		return
	}
	peer.tracker.Confirm(id)
	if peer.phase == Disconnecting && peer.disconnectSent && peer.tracker.Len() == 0 {
		e.teardown(peer, "disconnected")
	}
}

func (e *Endpoint) resolveObject(msg *wire.Message) (dispatch.Target, bool) {
	var peerTargets *dispatch.Registry
	if msg.Source != nil {
		if p := e.peers[msg.Source.String()]; p != nil {
			peerTargets = p.targets
		}
	}
	return dispatch.ObjectResolver(peerTargets, e.targets)(msg)
}

// enqueue validates msg and queues it for peer.
func (e *Endpoint) enqueue(peer *Peer, msg *wire.Message) error {
	if err := limits.ValidatePayload(msg.Payload, wire.HeaderSize, e.cfg.MaxDatagram); err != nil {
		return err
	}
	return e.queue.Push(interfaces.Outbound{
		Message:  msg,
		Dest:     peer.addr,
		Enqueued: e.clock.Now(),
	})
}

// send queues an application message to a session peer.
func (e *Endpoint) send(peer *Peer, route wire.RoutingType, msgType wire.MessageType, payload []byte, reliable bool) error {
	if peer.phase != Connected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, peer.key(), peer.phase)
	}
	msg := &wire.Message{Type: msgType, Routing: route, Payload: payload}
	if reliable {
		msg.Flags |= wire.FlagReliable
	}
	return e.enqueue(peer, msg)
}

func (e *Endpoint) drainQueue(now time.Time, timeout time.Duration) (sent int, throttled bool, err error) {
	var stop time.Time
	if timeout > 0 {
		stop = time.Now().Add(timeout)
	}

	for {
		if !stop.IsZero() && sent > 0 && time.Now().After(stop) {
			return sent, false, nil
		}
		out, ok := e.queue.Pop()
		if !ok {
			return sent, false, nil
		}

		peer := e.peers[out.Dest.String()]
		if peer == nil {
			continue
		}
		msg := out.Message
		if msg.Reliable() && msg.ConfirmID == 0 {
			msg.ConfirmID = peer.nextID()
		}

		data, encErr := msg.Encode()
		if encErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Endpoint.drainQueue",
				"peer":     peer.key(),
				"error":    encErr.Error(),
			}).Warn("Dropping unencodable message")
			continue
		}

		sendErr := e.nif.Send(data, peer.addr)
		if errors.Is(sendErr, interfaces.ErrThrottled) {
			e.observer.Throttled()
			e.queue.PushFront(out)
			return sent, true, nil
		}
		if sendErr != nil {
			return sent, false, fmt.Errorf("send to %s: %w", peer.key(), sendErr)
		}

		sent++
		peer.lastSent = now
		e.observer.MessageSent(len(data))
		if msg.Reliable() {
			peer.tracker.Track(msg.ConfirmID, data, now)
		}
		if msg.Routing == wire.RouteSystem && msg.Type == wire.TypeDisconnect {
			peer.disconnectSent = true
		}
	}
}

func (e *Endpoint) retransmit(now time.Time) (int, error) {
	sent := 0
	for _, peer := range e.sortedPeers() {
		for _, rec := range peer.tracker.DueForRetry(now) {
			err := e.nif.Send(rec.Data, peer.addr)
			if errors.Is(err, interfaces.ErrThrottled) {
				e.observer.Throttled()
				return sent, nil
			}
			if err != nil {
				return sent, fmt.Errorf("retransmit to %s: %w", peer.key(), err)
			}
			peer.tracker.OnRetryAttempted(rec, now)
			peer.lastSent = now
			e.observer.Retransmitted()
			e.observer.MessageSent(len(rec.Data))
			sent++
		}
	}
	return sent, nil
}

// maintainPeers handles abandonment, peer timeouts and heartbeats.
func (e *Endpoint) maintainPeers(now time.Time) int {
	sent := 0
	for _, peer := range e.sortedPeers() {
		if peer.abandoned {
			peer.abandoned = false
			e.observer.Abandoned()
			if e.cfg.DropPeerOnAbandon {
				logrus.WithFields(logrus.Fields{
					"function": "Endpoint.maintainPeers",
					"peer":     peer.key(),
				}).Warn("Dropping peer after abandoned reliable message")
				e.teardown(peer, "abandoned")
				continue
			}
		}

		if peer.phase == Disconnecting && peer.disconnectSent && peer.tracker.Len() == 0 {
			e.teardown(peer, "disconnected")
			continue
		}

		if e.cfg.PeerTimeout > 0 && e.subjectToTimeout(peer) && now.Sub(peer.lastHeard) > e.cfg.PeerTimeout {
			logrus.WithFields(logrus.Fields{
				"function":   "Endpoint.maintainPeers",
				"peer":       peer.key(),
				"last_heard": peer.lastHeard,
			}).Info("Peer timed out")
			e.teardown(peer, "timeout")
			continue
		}

		if e.cfg.KeepAlive > 0 && peer.phase == Connected && now.Sub(peer.lastSent) >= e.cfg.KeepAlive {
			if e.transmit(peer, &wire.Message{Type: wire.TypeHeartbeat}) {
				sent++
			}
		}
	}
	return sent
}

// subjectToTimeout excludes a client's pending connect, which is bounded by
// the connect timeout instead.
func (e *Endpoint) subjectToTimeout(peer *Peer) bool {
	return !(peer.role == RoleClient && peer.phase == Connecting)
}

// transmit sends an unreliable control message to peer immediately,
// bypassing the queue. Failures are logged and reported as false.
func (e *Endpoint) transmit(peer *Peer, msg *wire.Message) bool {
	if !e.transmitTo(peer.addr, msg) {
		return false
	}
	peer.lastSent = e.clock.Now()
	return true
}

func (e *Endpoint) transmitTo(addr net.Addr, msg *wire.Message) bool {
	data, err := msg.Encode()
	if err == nil {
		err = e.nif.Send(data, addr)
	}
	if err != nil {
		if errors.Is(err, interfaces.ErrThrottled) {
			e.observer.Throttled()
		}
		logrus.WithFields(logrus.Fields{
			"function":     "Endpoint.transmit",
			"to":           addrString(addr),
			"message_type": msg.Type,
			"error":        err.Error(),
		}).Debug("Control message not sent")
		return false
	}
	e.observer.MessageSent(len(data))
	return true
}

func (e *Endpoint) addPeer(peer *Peer) {
	e.peers[peer.key()] = peer
	if peer.nodeID != uuid.Nil {
		e.byNode[peer.nodeID] = peer
	}
	e.observer.PeersChanged(len(e.peers))
}

func (e *Endpoint) bindNodeID(peer *Peer, id uuid.UUID) {
	if peer.nodeID != uuid.Nil {
		delete(e.byNode, peer.nodeID)
	}
	peer.nodeID = id
	if id != uuid.Nil {
		e.byNode[id] = peer
	}
}

// markConnected moves peer into session and drops bindings that may have
// been derived before its targets existed.
func (e *Endpoint) markConnected(peer *Peer) {
	peer.phase = Connected
	peer.established = true
	e.dispatcher.InvalidateCache()
	e.observer.PeerConnected()
}

// teardown removes every trace of peer: pending retransmissions, queued
// messages, its targets and their dispatch bindings.
func (e *Endpoint) teardown(peer *Peer, reason string) {
	if cur, ok := e.peers[peer.key()]; !ok || cur != peer {
		return
	}
	peer.phase = Disconnected
	peer.tracker.Clear()
	peer.targets.Clear()
	e.dispatcher.InvalidateCache()
	key := peer.key()
	e.queue.Remove(func(out interfaces.Outbound) bool {
		return out.Dest.String() == key
	})

	delete(e.peers, key)
	if peer.nodeID != uuid.Nil && e.byNode[peer.nodeID] == peer {
		delete(e.byNode, peer.nodeID)
	}

	if peer.established {
		e.observer.PeerDisconnected(reason)
	}
	e.observer.PeersChanged(len(e.peers))

	logrus.WithFields(logrus.Fields{
		"function": "Endpoint.teardown",
		"peer":     key,
		"node_id":  peer.nodeID.String(),
		"reason":   reason,
	}).Debug("Peer torn down")

	if e.hooks.peerDown != nil {
		e.hooks.peerDown(peer, reason)
	}
}

// beginDisconnect queues a Disconnect to peer, or sends it and tears the
// peer down at once when immediate.
func (e *Endpoint) beginDisconnect(peer *Peer, immediate bool) {
	if immediate || peer.phase != Connected {
		if peer.phase == Connected || peer.phase == Disconnecting {
			e.transmit(peer, &wire.Message{Type: wire.TypeDisconnect})
		}
		e.teardown(peer, "local disconnect")
		return
	}

	msg := &wire.Message{Type: wire.TypeDisconnect, Flags: wire.FlagReliable}
	if err := e.queue.Push(interfaces.Outbound{Message: msg, Dest: peer.addr, Enqueued: e.clock.Now()}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Endpoint.beginDisconnect",
			"peer":     peer.key(),
			"error":    err.Error(),
		}).Warn("Disconnect not queued, disconnecting immediately")
		e.transmit(peer, &wire.Message{Type: wire.TypeDisconnect})
		e.teardown(peer, "local disconnect")
		return
	}
	peer.phase = Disconnecting
}

func (e *Endpoint) sortedPeers() []*Peer {
	peers := make([]*Peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].key() < peers[j].key() })
	return peers
}

func (e *Endpoint) publish() {
	infos := make([]PeerInfo, 0, len(e.peers))
	for _, p := range e.sortedPeers() {
		infos = append(infos, p.info())
	}
	e.snapMu.Lock()
	e.snapshot = infos
	e.snapMu.Unlock()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
