package connection

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/reliable"
)

// Phase is the lifecycle state of a peer.
type Phase uint8

const (
	// Disconnected: no session. Torn-down peers end here.
	Disconnected Phase = iota
	// Connecting: handshake in progress.
	Connecting
	// Connected: session established, application traffic flows.
	Connected
	// Disconnecting: a reliable Disconnect is in flight.
	Disconnecting
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Role is the local endpoint's side of a session.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Peer is the local bookkeeping for one remote endpoint.
type Peer struct {
	role      Role
	nodeID    uuid.UUID
	addr      net.Addr
	phase     Phase
	token     []byte
	createdAt time.Time
	lastHeard time.Time
	lastSent  time.Time

	tracker *reliable.Tracker
	dedup   *dedupWindow
	targets *dispatch.Registry

	nextConfirmID  uint32
	established    bool
	disconnectSent bool
	abandoned      bool
}

func newPeer(role Role, addr net.Addr, cfg Config, manager *dispatch.Manager, now time.Time) *Peer {
	p := &Peer{
		role:      role,
		addr:      addr,
		phase:     Connecting,
		createdAt: now,
		lastHeard: now,
		lastSent:  now,
		tracker:   reliable.NewTracker(cfg.Retry),
		dedup:     newDedupWindow(cfg.DedupWindow),
		targets:   dispatch.NewRegistry(manager),
	}
	p.tracker.OnAbandon(func(*reliable.Record) {
		p.abandoned = true
	})
	return p
}

// NodeID returns the remote node identity, uuid.Nil until the handshake
// reveals it.
func (p *Peer) NodeID() uuid.UUID { return p.nodeID }

// Addr returns the remote address.
func (p *Peer) Addr() net.Addr { return p.addr }

// Phase returns the current lifecycle phase.
func (p *Peer) Phase() Phase { return p.phase }

// Role returns the local endpoint's role in the session.
func (p *Peer) Role() Role { return p.role }

// Targets returns the registry of dispatch targets bound to this peer. It
// is cleared, retiring every target, when the peer is torn down.
func (p *Peer) Targets() *dispatch.Registry { return p.targets }

// Pending returns the number of unconfirmed reliable messages.
func (p *Peer) Pending() int { return p.tracker.Len() }

// LastHeard returns the time the last datagram arrived from the peer.
func (p *Peer) LastHeard() time.Time { return p.lastHeard }

func (p *Peer) key() string { return p.addr.String() }

func (p *Peer) nextID() uint32 {
	p.nextConfirmID++
	if p.nextConfirmID == 0 {
		p.nextConfirmID = 1
	}
	return p.nextConfirmID
}

func (p *Peer) info() PeerInfo {
	return PeerInfo{
		NodeID:    p.nodeID.String(),
		Addr:      p.addr.String(),
		Role:      p.role.String(),
		Phase:     p.phase.String(),
		Pending:   p.tracker.Len(),
		Targets:   p.targets.Len(),
		LastHeard: p.lastHeard,
		LastSent:  p.lastSent,
	}
}

// dedupWindow remembers the most recent confirmation ids received from a
// peer. A size of zero disables suppression.
type dedupWindow struct {
	ring []uint32
	pos  int
	full bool
	seen map[uint32]struct{}
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		return &dedupWindow{}
	}
	return &dedupWindow{
		ring: make([]uint32, size),
		seen: make(map[uint32]struct{}, size),
	}
}

// Observe records id and reports whether it was already in the window.
func (w *dedupWindow) Observe(id uint32) bool {
	if len(w.ring) == 0 {
		return false
	}
	if _, ok := w.seen[id]; ok {
		return true
	}
	if w.full {
		delete(w.seen, w.ring[w.pos])
	}
	w.ring[w.pos] = id
	w.seen[id] = struct{}{}
	w.pos++
	if w.pos == len(w.ring) {
		w.pos = 0
		w.full = true
	}
	return false
}
