package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/simsync"
	"github.com/opd-ai/simsync/connection"
	"github.com/opd-ai/simsync/metrics"
)

var frameInterval time.Duration

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a server that echoes object messages",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().DurationVar(&frameInterval, "frame", 10*time.Millisecond, "Idle wait per pump iteration")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var opts []connection.Option
	var stats *metrics.Metrics
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		stats = metrics.New(reg)
		opts = append(opts, connection.WithObserver(stats))
	}

	srv, err := simsync.NewServer(cfg, opts...)
	if err != nil {
		return err
	}
	defer srv.Close()

	srv.OnPeerConnected(func(p *connection.Peer) {
		if err := p.Targets().Add(newEchoTarget(srv, p)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runServer",
				"peer":     p.Addr().String(),
				"error":    err.Error(),
			}).Error("Failed to register echo target")
		}
	})

	if stats != nil {
		admin := metrics.NewServer(reg, srv.Snapshot, cfg.Metrics.Path)
		if err := admin.Start(cfg.Metrics.Listen); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "runServer",
		"listen":   srv.LocalAddr().String(),
		"node_id":  srv.NodeID().String(),
	}).Info("Server running")

	return simsync.Pump(ctx, srv, frameInterval)
}
