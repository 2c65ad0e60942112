package transport

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/simsync/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrAddressInUse is returned by Listen for a taken name.
var ErrAddressInUse = errors.New("address already in use")

// InboxSize is the per-interface datagram buffer of the memory network.
const InboxSize = 1024

// MemoryAddr addresses an interface on a MemoryNetwork.
type MemoryAddr string

// Network implements net.Addr.
func (a MemoryAddr) Network() string { return "memory" }

// String implements net.Addr.
func (a MemoryAddr) String() string { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
}

// MemoryNetwork connects MemoryInterfaces inside one process.
type MemoryNetwork struct {
	mu         sync.Mutex
	interfaces map[MemoryAddr]*MemoryInterface
	lossRate   float64
	dupRate    float64
	rng        *rand.Rand
	delivered  uint64
	dropped    uint64
}

// NewMemoryNetwork creates a lossless network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		interfaces: make(map[MemoryAddr]*MemoryInterface),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// SetLoss sets the probability in [0,1] that a datagram is dropped.
func (n *MemoryNetwork) SetLoss(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lossRate = rate
}

// SetDuplication sets the probability in [0,1] that a datagram is delivered
// twice.
func (n *MemoryNetwork) SetDuplication(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dupRate = rate
}

// Seed reseeds the loss and duplication generator.
func (n *MemoryNetwork) Seed(seed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rng = rand.New(rand.NewSource(seed))
}

// Listen attaches a new interface under name.
func (n *MemoryNetwork) Listen(name string) (*MemoryInterface, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := MemoryAddr(name)
	if _, ok := n.interfaces[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, name)
	}

	mi := &MemoryInterface{
		network: n,
		addr:    addr,
		inbox:   make(chan datagram, InboxSize),
		closed:  make(chan struct{}),
	}
	n.interfaces[addr] = mi
	return mi, nil
}

// Stats returns the number of delivered and dropped datagrams.
func (n *MemoryNetwork) Stats() (delivered, dropped uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.dropped
}

func (n *MemoryNetwork) deliver(from MemoryAddr, to net.Addr, data []byte) {
	n.mu.Lock()
	dest, ok := n.interfaces[MemoryAddr(to.String())]
	copies := 1
	if !ok || n.rng.Float64() < n.lossRate {
		copies = 0
	} else if n.rng.Float64() < n.dupRate {
		copies = 2
	}
	n.mu.Unlock()

	if copies == 0 {
		n.countDrop()
		return
	}

	for i := 0; i < copies; i++ {
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case dest.inbox <- datagram{data: buf, from: from}:
			n.mu.Lock()
			n.delivered++
			n.mu.Unlock()
		default:
			n.countDrop()
		}
	}
}

func (n *MemoryNetwork) countDrop() {
	n.mu.Lock()
	n.dropped++
	n.mu.Unlock()
}

func (n *MemoryNetwork) detach(addr MemoryAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.interfaces, addr)
}

// MemoryInterface implements interfaces.NetworkInterface on a MemoryNetwork.
type MemoryInterface struct {
	network   *MemoryNetwork
	addr      MemoryAddr
	inbox     chan datagram
	closed    chan struct{}
	closeOnce sync.Once
}

var _ interfaces.NetworkInterface = (*MemoryInterface)(nil)

// Send delivers data to addr. Unknown destinations swallow the datagram, as
// an unreachable UDP host would.
func (m *MemoryInterface) Send(data []byte, addr net.Addr) error {
	select {
	case <-m.closed:
		return interfaces.ErrClosed
	default:
	}
	m.network.deliver(m.addr, addr, data)
	return nil
}

// ReadFrom waits until deadline for one datagram.
func (m *MemoryInterface) ReadFrom(deadline time.Time) ([]byte, net.Addr, error) {
	wait := time.Until(deadline)
	if wait <= 0 {
		select {
		case dg := <-m.inbox:
			return dg.data, dg.from, nil
		case <-m.closed:
			return nil, nil, interfaces.ErrClosed
		default:
			return nil, nil, interfaces.ErrTimeout
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case dg := <-m.inbox:
		return dg.data, dg.from, nil
	case <-m.closed:
		return nil, nil, interfaces.ErrClosed
	case <-timer.C:
		return nil, nil, interfaces.ErrTimeout
	}
}

// Inject places a raw datagram in the inbox as if from sent it.
func (m *MemoryInterface) Inject(data []byte, from net.Addr) {
	m.inbox <- datagram{data: data, from: from}
}

// LocalAddr returns the interface address.
func (m *MemoryInterface) LocalAddr() net.Addr {
	return m.addr
}

// Close detaches the interface from its network.
func (m *MemoryInterface) Close() error {
	m.closeOnce.Do(func() {
		m.network.detach(m.addr)
		close(m.closed)
		logrus.WithFields(logrus.Fields{
			"function": "MemoryInterface.Close",
			"addr":     m.addr,
		}).Debug("Memory interface closed")
	})
	return nil
}
