package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/simsync/interfaces"
	"github.com/opd-ai/simsync/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// pollWindow bounds a read whose deadline already passed.
const pollWindow = time.Millisecond

// UDPConfig configures a UDP network interface.
type UDPConfig struct {
	// ListenAddr is the local address, e.g. ":27015" or "127.0.0.1:0".
	ListenAddr string
	// MaxDatagram bounds outbound datagrams; zero uses limits.DefaultMaxDatagram.
	MaxDatagram int
	// BandwidthBytes is the sustained outbound rate in bytes per second.
	// Zero disables shaping.
	BandwidthBytes int
	// Burst is the token bucket depth in bytes. It is raised to MaxDatagram
	// when smaller.
	Burst int
	// WriteTimeout bounds a single datagram write.
	WriteTimeout time.Duration
}

// UDP implements interfaces.NetworkInterface over a datagram socket.
type UDP struct {
	conn         net.PacketConn
	limiter      *rate.Limiter
	maxDatagram  int
	writeTimeout time.Duration
	buffer       []byte
	closed       atomic.Bool
}

var _ interfaces.NetworkInterface = (*UDP)(nil)

// NewUDP binds a UDP socket on cfg.ListenAddr.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.ListenAddr, err)
	}
	return newUDPFromConn(conn, cfg), nil
}

func newUDPFromConn(conn net.PacketConn, cfg UDPConfig) *UDP {
	maxDatagram := cfg.MaxDatagram
	if maxDatagram <= 0 {
		maxDatagram = limits.DefaultMaxDatagram
	}

	u := &UDP{
		conn:         conn,
		maxDatagram:  maxDatagram,
		writeTimeout: cfg.WriteTimeout,
		buffer:       make([]byte, limits.ReadBufferSize),
	}

	if cfg.BandwidthBytes > 0 {
		burst := cfg.Burst
		if burst < maxDatagram {
			burst = maxDatagram
		}
		u.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthBytes), burst)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewUDP",
		"local_addr":   conn.LocalAddr().String(),
		"max_datagram": maxDatagram,
		"bandwidth":    cfg.BandwidthBytes,
	}).Info("UDP network interface ready")

	return u
}

// Send writes one datagram to addr. It returns interfaces.ErrThrottled when
// bandwidth shaping has no budget for the datagram right now.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	if u.closed.Load() {
		return interfaces.ErrClosed
	}
	if err := limits.ValidateDatagram(data, u.maxDatagram); err != nil {
		return err
	}
	if u.limiter != nil && !u.limiter.AllowN(time.Now(), len(data)) {
		return interfaces.ErrThrottled
	}

	if u.writeTimeout > 0 {
		_ = u.conn.SetWriteDeadline(time.Now().Add(u.writeTimeout))
	}
	if _, err := u.conn.WriteTo(data, addr); err != nil {
		return u.mapError(err)
	}
	return nil
}

// ReadFrom waits until deadline for one datagram. A deadline that already
// passed still picks up a datagram the kernel has queued.
func (u *UDP) ReadFrom(deadline time.Time) ([]byte, net.Addr, error) {
	if u.closed.Load() {
		return nil, nil, interfaces.ErrClosed
	}
	if now := time.Now(); !deadline.After(now) {
		deadline = now.Add(pollWindow)
	}
	_ = u.conn.SetReadDeadline(deadline)

	n, addr, err := u.conn.ReadFrom(u.buffer)
	if err != nil {
		return nil, nil, u.mapError(err)
	}

	data := make([]byte, n)
	copy(data, u.buffer[:n])
	return data, addr, nil
}

// mapError translates socket errors into the interfaces sentinels.
func (u *UDP) mapError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return interfaces.ErrTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return interfaces.ErrClosed
	}
	return err
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close shuts the socket down.
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	return u.conn.Close()
}
