// Package routing implements first-stage message dispatch.
//
// A Table maps the 8-bit routing tag of every inbound message to one of 256
// subsystem handlers held in a dense array, with an optional default handler
// for tags that have no explicit entry. Messages with neither are dropped and
// counted as unroutable.
package routing

import (
	"sync/atomic"

	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

// Slots is the number of routing tags.
const Slots = 256

// Handler processes messages routed to a subsystem.
type Handler interface {
	HandleMessage(msg *wire.Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg *wire.Message)

// HandleMessage calls f(msg).
func (f HandlerFunc) HandleMessage(msg *wire.Message) {
	f(msg)
}

// Table is the 256-slot routing table. Entries are set and cleared only by
// the owning endpoint; lookups are a single array index.
type Table struct {
	handlers     [Slots]Handler
	defaultRoute Handler
	unroutable   atomic.Uint64
	onUnroutable func(msg *wire.Message)
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{}
}

// SetHandler installs h for tag and returns the previous handler. A nil h
// clears the slot.
func (t *Table) SetHandler(tag wire.RoutingType, h Handler) Handler {
	prev := t.handlers[tag]
	t.handlers[tag] = h
	return prev
}

// SetDefaultHandler installs the fallback handler and returns the previous
// one.
func (t *Table) SetDefaultHandler(h Handler) Handler {
	prev := t.defaultRoute
	t.defaultRoute = h
	return prev
}

// GetHandler returns the explicit handler for tag. The default handler is
// not consulted.
func (t *Table) GetHandler(tag wire.RoutingType) (Handler, bool) {
	h := t.handlers[tag]
	return h, h != nil
}

// DefaultHandler returns the fallback handler, if any.
func (t *Table) DefaultHandler() (Handler, bool) {
	return t.defaultRoute, t.defaultRoute != nil
}

// Route forwards msg to the handler for its routing tag, or to the default
// handler. It reports whether a handler received the message.
func (t *Table) Route(msg *wire.Message) bool {
	if h := t.handlers[msg.Routing]; h != nil {
		h.HandleMessage(msg)
		return true
	}
	if t.defaultRoute != nil {
		t.defaultRoute.HandleMessage(msg)
		return true
	}

	t.unroutable.Add(1)
	logrus.WithFields(logrus.Fields{
		"function":     "Table.Route",
		"routing_type": msg.Routing,
		"message_type": msg.Type,
	}).Debug("Dropping unroutable message")
	if t.onUnroutable != nil {
		t.onUnroutable(msg)
	}
	return false
}

// RemoveAll clears every explicit entry. The default handler is kept.
func (t *Table) RemoveAll() {
	t.handlers = [Slots]Handler{}
}

// Unroutable returns the number of messages dropped for lack of a handler.
func (t *Table) Unroutable() uint64 {
	return t.unroutable.Load()
}

// OnUnroutable registers a hook invoked for each dropped message.
func (t *Table) OnUnroutable(fn func(msg *wire.Message)) {
	t.onUnroutable = fn
}
