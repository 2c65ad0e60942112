package simsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/simsync/config"
	"github.com/opd-ai/simsync/connection"
	"github.com/opd-ai/simsync/transport"
	"github.com/sirupsen/logrus"
)

// ClientListenAddr is the local address clients bind; the port is chosen
// by the system.
const ClientListenAddr = ":0"

// SessionConfig maps the configuration file sections onto session settings.
func SessionConfig(cfg *config.Config) connection.Config {
	return connection.Config{
		ProtocolVersion:   cfg.Handshake.ProtocolVersion,
		HandshakeInterval: cfg.Handshake.Interval,
		Retry:             cfg.RetryPolicy(),
		DropPeerOnAbandon: cfg.Retry.DropPeerOnAbandon,
		KeepAlive:         cfg.Session.KeepAlive,
		PeerTimeout:       cfg.Session.PeerTimeout,
		MaxPeers:          cfg.Session.MaxPeers,
		DedupWindow:       cfg.Session.DedupWindow,
		QueueCapacity:     cfg.Session.QueueCapacity,
		ReadBatch:         cfg.Session.ReadBatch,
		CacheCapacity:     cfg.Dispatch.CacheCapacity,
		MaxDatagram:       cfg.Network.MaxDatagram,
	}
}

// UDPConfig maps the network section onto a UDP interface bound to listen.
func UDPConfig(cfg *config.Config, listen string) transport.UDPConfig {
	return transport.UDPConfig{
		ListenAddr:     listen,
		MaxDatagram:    cfg.Network.MaxDatagram,
		BandwidthBytes: cfg.Network.BandwidthBytes,
		Burst:          cfg.Network.Burst,
		WriteTimeout:   cfg.Network.WriteTimeout,
	}
}

// NewServer binds cfg.Network.Listen and returns a server on it.
func NewServer(cfg *config.Config, opts ...connection.Option) (*connection.Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	nif, err := transport.NewUDP(UDPConfig(cfg, cfg.Network.Listen))
	if err != nil {
		return nil, err
	}
	return connection.NewServer(nif, SessionConfig(cfg), opts...), nil
}

// NewClient binds an ephemeral port and returns a client on it.
func NewClient(cfg *config.Config, opts ...connection.Option) (*connection.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	nif, err := transport.NewUDP(UDPConfig(cfg, ClientListenAddr))
	if err != nil {
		return nil, err
	}
	return connection.NewClient(nif, SessionConfig(cfg), opts...), nil
}

// Pumper is the session loop surface shared by Client and Server.
type Pumper interface {
	ProcessAndWait(readTimeout, writeTimeout, idleTimeout time.Duration) (int, error)
}

// Pump drives p until ctx ends, waiting up to frame for traffic when idle.
// Between iterations it calls each of the optional step functions, which
// is where a host runs its simulation.
func Pump(ctx context.Context, p Pumper, frame time.Duration, steps ...func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := p.ProcessAndWait(0, frame, frame); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Pump",
				"error":    err.Error(),
			}).Error("Session pump failed")
			return err
		}
		for _, step := range steps {
			step()
		}
	}
}
