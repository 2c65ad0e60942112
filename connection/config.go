package connection

import (
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/limits"
	"github.com/opd-ai/simsync/reliable"
)

// Config tunes an Endpoint. Zero values fall back to DefaultConfig where a
// zero would be meaningless.
type Config struct {
	// ProtocolVersion is sent in ConnectionRequest; servers reject
	// mismatches.
	ProtocolVersion uint16
	// HandshakeInterval is the ConnectionRequest resend period.
	HandshakeInterval time.Duration

	// Retry schedules retransmission of reliable messages.
	Retry reliable.Policy
	// DropPeerOnAbandon tears a peer down when one of its reliable messages
	// is abandoned.
	DropPeerOnAbandon bool

	// KeepAlive is the idle period after which a Heartbeat is sent. Zero
	// disables heartbeats.
	KeepAlive time.Duration
	// PeerTimeout is the silence after which a peer is torn down. Zero
	// disables the check.
	PeerTimeout time.Duration

	// MaxPeers bounds the number of peers a server accepts.
	MaxPeers int
	// DedupWindow is the number of recent confirmation ids remembered per
	// peer for duplicate suppression.
	DedupWindow int
	// QueueCapacity bounds the outbound queue. Zero means unbounded.
	QueueCapacity int
	// ReadBatch bounds the datagrams handled by one ProcessIncoming call.
	ReadBatch int
	// CacheCapacity bounds the dispatch cache.
	CacheCapacity int
	// MaxDatagram is the largest datagram the endpoint will build.
	MaxDatagram int
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:   1,
		HandshakeInterval: 500 * time.Millisecond,
		Retry:             reliable.DefaultPolicy(),
		KeepAlive:         2 * time.Second,
		PeerTimeout:       15 * time.Second,
		MaxPeers:          64,
		DedupWindow:       1024,
		QueueCapacity:     8192,
		ReadBatch:         256,
		CacheCapacity:     1024,
		MaxDatagram:       limits.DefaultMaxDatagram,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = def.ProtocolVersion
	}
	if c.HandshakeInterval <= 0 {
		c.HandshakeInterval = def.HandshakeInterval
	}
	if c.Retry.Validate() != nil {
		c.Retry = def.Retry
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = def.MaxPeers
	}
	if c.ReadBatch <= 0 {
		c.ReadBatch = def.ReadBatch
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = def.CacheCapacity
	}
	if c.MaxDatagram <= 0 || c.MaxDatagram > limits.MaxWireLength {
		c.MaxDatagram = def.MaxDatagram
	}
	return c
}

// Option customizes an Endpoint.
type Option func(*Endpoint)

// WithTimeProvider replaces the system clock used for scheduling.
func WithTimeProvider(tp TimeProvider) Option {
	return func(e *Endpoint) {
		e.clock = getTimeProvider(tp)
	}
}

// WithNodeID sets the local node identity instead of a random one.
func WithNodeID(id uuid.UUID) Option {
	return func(e *Endpoint) {
		e.nodeID = id
	}
}

// WithObserver reports session events to o. If o also implements
// dispatch.Observer it receives dispatch cache events too.
func WithObserver(o Observer) Option {
	return func(e *Endpoint) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithQueue replaces the outbound queue.
func WithQueue(q interfaces.MessageQueue) Option {
	return func(e *Endpoint) {
		if q != nil {
			e.queue = q
		}
	}
}

// WithSecret sets the key servers derive session tokens from. A random key
// is generated otherwise.
func WithSecret(key []byte) Option {
	return func(e *Endpoint) {
		if len(key) > 0 {
			e.secret = append([]byte(nil), key...)
		}
	}
}
