package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/simsync"
	"github.com/opd-ai/simsync/connection"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/wire"
)

var (
	serverAddr     string
	pingCount      int
	pingInterval   time.Duration
	connectTimeout time.Duration
	pingReliable   bool
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a server and exchange echo pings",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().StringVar(&serverAddr, "server", "", "Server address (overrides network.server)")
	clientCmd.Flags().IntVar(&pingCount, "count", 10, "Number of pings to send")
	clientCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
	clientCmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "Connect timeout (overrides handshake.timeout)")
	clientCmd.Flags().BoolVar(&pingReliable, "reliable", true, "Send pings reliably")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	target := cfg.Network.Server
	if serverAddr != "" {
		target = serverAddr
	}
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return fmt.Errorf("resolve server %s: %w", target, err)
	}
	timeout := cfg.Handshake.Timeout
	if connectTimeout > 0 {
		timeout = connectTimeout
	}

	cli, err := simsync.NewClient(cfg)
	if err != nil {
		return err
	}
	defer cli.Close()

	echoes := 0
	sink := dispatch.NewHandlerSet(echoObject)
	sink.Handle(msgPing, func(msg *wire.Message) {
		echoes++
		logrus.WithFields(logrus.Fields{
			"function": "runClient",
			"body":     string(msg.ObjectBody()),
		}).Debug("Echo received")
	})
	if err := cli.Targets().Add(sink); err != nil {
		return err
	}

	if !cli.ConnectToServer(addr, timeout) {
		return fmt.Errorf("could not connect to %s within %v (last reject: %s)", addr, timeout, cli.LastReject())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sent := 0
	next := time.Now()
	step := func() {
		if sent >= pingCount || time.Now().Before(next) {
			return
		}
		body := []byte(fmt.Sprintf("ping %d", sent))
		if err := cli.SendObject(echoObject, msgPing, body, pingReliable); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runClient",
				"error":    err.Error(),
			}).Warn("Ping not sent")
			return
		}
		sent++
		next = time.Now().Add(pingInterval)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := func() {
		if echoes >= pingCount || cli.Phase() != connection.Connected {
			cancel()
		}
	}
	if err := simsync.Pump(runCtx, cli, 5*time.Millisecond, step, done); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %d pings, received %d echoes\n", sent, echoes)

	cli.DisconnectFromServer(false)
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	for cli.Phase() != connection.Disconnected && flushCtx.Err() == nil {
		if _, err := cli.ProcessAndWait(0, time.Millisecond, 10*time.Millisecond); err != nil {
			break
		}
	}
	return nil
}
