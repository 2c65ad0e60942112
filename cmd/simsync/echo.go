package main

import (
	"github.com/opd-ai/simsync/connection"
	"github.com/opd-ai/simsync/dispatch"
	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

const (
	// echoObject is the object id both sides register the echo target under.
	echoObject = 1
	// msgPing is echoed back verbatim by the server.
	msgPing wire.MessageType = 1
)

// newEchoTarget returns a per-peer target that sends every ping back to its
// sender.
func newEchoTarget(srv *connection.Server, peer *connection.Peer) *dispatch.HandlerSet {
	echo := dispatch.NewHandlerSet(echoObject)
	echo.Handle(msgPing, func(msg *wire.Message) {
		if err := srv.SendObjectTo(peer.NodeID(), echoObject, msgPing, msg.ObjectBody(), msg.Reliable()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "echo",
				"peer":     peer.Addr().String(),
				"error":    err.Error(),
			}).Warn("Echo not sent")
		}
	})
	return echo
}
