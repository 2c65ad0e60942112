package dispatch

import (
	"sync/atomic"

	"github.com/opd-ai/simsync/wire"
)

// TargetID identifies a dispatch target, typically a replicated object.
type TargetID uint64

// HandlerFunc handles a message bound to a target.
type HandlerFunc func(msg *wire.Message)

// Target is an object that can discover its handler for a message type.
type Target interface {
	// TargetID returns the identity used as cache key.
	TargetID() TargetID
	// Generation changes whenever the handler mapping may have changed.
	Generation() uint64
	// LookupHandler returns the handler for msgType, if the target has one.
	LookupHandler(msgType wire.MessageType) (HandlerFunc, bool)
}

// Retirer is implemented by targets that can be permanently disabled when
// removed from a Registry.
type Retirer interface {
	Retire()
}

var generations atomic.Uint64

// NextGeneration returns a process-wide unique generation value.
func NextGeneration() uint64 {
	return generations.Add(1)
}

// HandlerSet is an embeddable Target backed by a map of handlers.
type HandlerSet struct {
	id       TargetID
	gen      uint64
	handlers map[wire.MessageType]HandlerFunc
	retired  bool
}

// NewHandlerSet creates an empty handler set for id.
func NewHandlerSet(id TargetID) *HandlerSet {
	return &HandlerSet{
		id:       id,
		gen:      NextGeneration(),
		handlers: make(map[wire.MessageType]HandlerFunc),
	}
}

// TargetID implements Target.
func (s *HandlerSet) TargetID() TargetID {
	return s.id
}

// Generation implements Target.
func (s *HandlerSet) Generation() uint64 {
	return s.gen
}

// Handle registers fn for msgType, replacing any previous handler.
func (s *HandlerSet) Handle(msgType wire.MessageType, fn HandlerFunc) {
	if s.handlers == nil {
		s.handlers = make(map[wire.MessageType]HandlerFunc)
	}
	s.handlers[msgType] = fn
	s.gen = NextGeneration()
}

// Remove unregisters the handler for msgType.
func (s *HandlerSet) Remove(msgType wire.MessageType) {
	if _, ok := s.handlers[msgType]; !ok {
		return
	}
	delete(s.handlers, msgType)
	s.gen = NextGeneration()
}

// Retire drops all handlers. A retired set never handles another message.
func (s *HandlerSet) Retire() {
	s.handlers = nil
	s.retired = true
	s.gen = NextGeneration()
}

// Retired reports whether Retire was called.
func (s *HandlerSet) Retired() bool {
	return s.retired
}

// LookupHandler implements Target.
func (s *HandlerSet) LookupHandler(msgType wire.MessageType) (HandlerFunc, bool) {
	if s.retired {
		return nil, false
	}
	fn, ok := s.handlers[msgType]
	return fn, ok
}
