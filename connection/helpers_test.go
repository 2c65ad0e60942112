package connection

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/transport"
	"github.com/stretchr/testify/require"
)

// MockTimeProvider allows tests to control time deterministically.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTime() *MockTimeProvider {
	return &MockTimeProvider{currentTime: time.Unix(1_700_000_000, 0)}
}

// Now returns the mock time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Advance moves the mock time forward by the given duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// recordingObserver counts the session events tests assert on.
type recordingObserver struct {
	nopObserver
	mu                sync.Mutex
	framingErrors     int
	unroutable        int
	duplicates        int
	abandoned         int
	retransmits       int
	throttled         int
	handshakeTimeouts int
	disconnects       []string
}

func (o *recordingObserver) FramingError() { o.inc(&o.framingErrors) }
func (o *recordingObserver) Unroutable() { o.inc(&o.unroutable) }
func (o *recordingObserver) Duplicate() { o.inc(&o.duplicates) }
func (o *recordingObserver) Abandoned() { o.inc(&o.abandoned) }
func (o *recordingObserver) Retransmitted() { o.inc(&o.retransmits) }
func (o *recordingObserver) Throttled() { o.inc(&o.throttled) }
func (o *recordingObserver) HandshakeTimeout() { o.inc(&o.handshakeTimeouts) }

func (o *recordingObserver) inc(n *int) {
	o.mu.Lock()
	*n++
	o.mu.Unlock()
}

func (o *recordingObserver) count(n *int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *n
}

func (o *recordingObserver) PeerDisconnected(reason string) {
	o.mu.Lock()
	o.disconnects = append(o.disconnects, reason)
	o.mu.Unlock()
}

// throttlingInterface defers every send while throttle is set.
type throttlingInterface struct {
	interfaces.NetworkInterface
	throttle bool
}

func (t *throttlingInterface) Send(data []byte, addr net.Addr) error {
	if t.throttle {
		return interfaces.ErrThrottled
	}
	return t.NetworkInterface.Send(data, addr)
}

// testConfig is a quiet configuration: no heartbeats or timeouts unless a
// test enables them.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeepAlive = 0
	cfg.PeerTimeout = 0
	return cfg
}

type harness struct {
	network *transport.MemoryNetwork
	clock   *MockTimeProvider
	cfg     Config
}

func newHarness(cfg Config) *harness {
	return &harness{
		network: transport.NewMemoryNetwork(),
		clock:   newMockTime(),
		cfg:     cfg,
	}
}

func (h *harness) listen(t *testing.T, name string) *transport.MemoryInterface {
	t.Helper()
	nif, err := h.network.Listen(name)
	require.NoError(t, err)
	return nif
}

func (h *harness) server(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithTimeProvider(h.clock)}, opts...)
	return NewServer(h.listen(t, "server"), h.cfg, opts...)
}

func (h *harness) client(t *testing.T, name string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTimeProvider(h.clock)}, opts...)
	return NewClient(h.listen(t, name), h.cfg, opts...)
}

type pumpable interface {
	ProcessTraffic(readTimeout, writeTimeout time.Duration) (int, error)
}

// pump runs rounds of non-blocking traffic processing over the endpoints.
func pump(t *testing.T, rounds int, endpoints ...pumpable) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		for _, e := range endpoints {
			_, err := e.ProcessTraffic(0, 0)
			require.NoError(t, err)
		}
	}
}

// connect completes the handshake between c and s without blocking.
func connect(t *testing.T, s *Server, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(s.LocalAddr()))
	pump(t, 3, s, c)
	require.Equal(t, Connected, c.Phase())
	peer, ok := s.Peer(c.NodeID())
	require.True(t, ok)
	require.Equal(t, Connected, peer.Phase())
}
