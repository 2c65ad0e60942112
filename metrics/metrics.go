// Package metrics exports simsync session and dispatch counters to
// Prometheus and serves them, with a peer listing, over a small admin HTTP
// server.
package metrics

import (
	"github.com/opd-ai/simsync/connection"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "simsync"

// Metrics implements connection.Observer and dispatch.Observer on top of
// Prometheus collectors.
type Metrics struct {
	framingErrors     prometheus.Counter
	unroutable        prometheus.Counter
	unhandled         prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	messagesSent      prometheus.Counter
	bytesSent         prometheus.Counter
	retransmissions   prometheus.Counter
	abandoned         prometheus.Counter
	duplicates        prometheus.Counter
	throttled         prometheus.Counter
	handshakeTimeouts prometheus.Counter
	peerConnects      prometheus.Counter
	peerDisconnects   *prometheus.CounterVec
	peers             prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	cacheEvictions    prometheus.Counter
}

var (
	_ connection.Observer = (*Metrics)(nil)
	_ dispatch.Observer   = (*Metrics)(nil)
)

// New registers the simsync collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		framingErrors: counter("framing_errors_total", "Datagrams dropped for bad magic, length or truncation."),
		unroutable:    counter("unroutable_messages_total", "Messages dropped because no routing handler matched."),
		unhandled:     counter("unhandled_messages_total", "Messages no dispatch target could handle."),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded messages by routing type.",
		}, []string{"route"}),
		bytesReceived:     counter("received_bytes_total", "Bytes of decoded datagrams."),
		messagesSent:      counter("messages_sent_total", "Datagrams transmitted, retransmissions included."),
		bytesSent:         counter("sent_bytes_total", "Bytes transmitted."),
		retransmissions:   counter("retransmissions_total", "Reliable messages retransmitted."),
		abandoned:         counter("abandoned_messages_total", "Reliable messages abandoned after exhausting retries."),
		duplicates:        counter("duplicate_messages_total", "Reliable messages suppressed as duplicates."),
		throttled:         counter("throttled_sends_total", "Sends deferred by bandwidth shaping."),
		handshakeTimeouts: counter("handshake_timeouts_total", "Connection attempts that timed out."),
		peerConnects:      counter("peer_connects_total", "Sessions established."),
		peerDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Established sessions ended, by reason.",
		}, []string{"reason"}),
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Known peers in any phase.",
		}),
		cacheHits:      counter("dispatch_cache_hits_total", "Dispatches served from the binding cache."),
		cacheMisses:    counter("dispatch_cache_misses_total", "Dispatches that had to discover a handler."),
		cacheEvictions: counter("dispatch_cache_evictions_total", "Bindings evicted from a full cache."),
	}
}

func (m *Metrics) FramingError() { m.framingErrors.Inc() }

func (m *Metrics) Unroutable() { m.unroutable.Inc() }

func (m *Metrics) MessageReceived(route wire.RoutingType, bytes int) {
	m.messagesReceived.WithLabelValues(routeLabel(route)).Inc()
	m.bytesReceived.Add(float64(bytes))
}

func (m *Metrics) MessageSent(bytes int) {
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) Retransmitted() { m.retransmissions.Inc() }

func (m *Metrics) Abandoned() { m.abandoned.Inc() }

func (m *Metrics) Duplicate() { m.duplicates.Inc() }

func (m *Metrics) Throttled() { m.throttled.Inc() }

func (m *Metrics) HandshakeTimeout() { m.handshakeTimeouts.Inc() }

func (m *Metrics) PeerConnected() { m.peerConnects.Inc() }

func (m *Metrics) PeerDisconnected(reason string) {
	m.peerDisconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) PeersChanged(count int) { m.peers.Set(float64(count)) }

func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

func (m *Metrics) CacheEvicted() { m.cacheEvictions.Inc() }

// Unhandled implements dispatch.Observer.
func (m *Metrics) Unhandled() { m.unhandled.Inc() }

// routeLabel keeps label cardinality bounded: application tags share one
// label.
func routeLabel(route wire.RoutingType) string {
	switch {
	case route == wire.RouteSystem:
		return "system"
	case route == wire.RouteObject:
		return "object"
	case route >= wire.RouteUserBase:
		return "user"
	default:
		return "reserved"
	}
}
