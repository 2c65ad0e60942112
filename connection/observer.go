package connection

import (
	"time"

	"github.com/opd-ai/simsync/wire"
)

// Observer receives session events, e.g. to feed metrics. Calls happen on
// the pump goroutine.
type Observer interface {
	FramingError()
	Unroutable()
	MessageReceived(route wire.RoutingType, bytes int)
	MessageSent(bytes int)
	Retransmitted()
	Abandoned()
	Duplicate()
	Throttled()
	HandshakeTimeout()
	PeerConnected()
	PeerDisconnected(reason string)
	PeersChanged(count int)
}

type nopObserver struct{}

func (nopObserver) FramingError() {}
func (nopObserver) Unroutable() {}
func (nopObserver) MessageReceived(wire.RoutingType, int) {}
func (nopObserver) MessageSent(int) {}
func (nopObserver) Retransmitted() {}
func (nopObserver) Abandoned() {}
func (nopObserver) Duplicate() {}
func (nopObserver) Throttled() {}
func (nopObserver) HandshakeTimeout() {}
func (nopObserver) PeerConnected() {}
func (nopObserver) PeerDisconnected(string) {}
func (nopObserver) PeersChanged(int) {}

// PeerInfo is a point-in-time description of a peer, safe to hand to other
// goroutines.
type PeerInfo struct {
	NodeID    string    `json:"node_id"`
	Addr      string    `json:"addr"`
	Role      string    `json:"role"`
	Phase     string    `json:"phase"`
	Pending   int       `json:"pending_reliable"`
	Targets   int       `json:"targets"`
	LastHeard time.Time `json:"last_heard"`
	LastSent  time.Time `json:"last_sent"`
}
