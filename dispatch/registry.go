package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opd-ai/simsync/routing"
	"github.com/opd-ai/simsync/wire"
)

// ErrDuplicateTarget is returned when adding a target whose id is taken.
var ErrDuplicateTarget = errors.New("duplicate target")

// Registry stores the targets addressable by id. Additions and removals
// invalidate the affected cache bindings.
type Registry struct {
	manager *Manager
	targets map[TargetID]Target
}

// NewRegistry creates a registry bound to manager.
func NewRegistry(manager *Manager) *Registry {
	return &Registry{
		manager: manager,
		targets: make(map[TargetID]Target),
	}
}

// Add registers target under its id.
func (r *Registry) Add(target Target) error {
	id := target.TargetID()
	if _, ok := r.targets[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTarget, id)
	}
	r.targets[id] = target
	if r.manager != nil {
		r.manager.InvalidateTarget(id)
	}
	return nil
}

// Remove unregisters and retires the target with id.
func (r *Registry) Remove(id TargetID) bool {
	target, ok := r.targets[id]
	if !ok {
		return false
	}
	delete(r.targets, id)
	if rt, ok := target.(Retirer); ok {
		rt.Retire()
	}
	if r.manager != nil {
		r.manager.InvalidateTarget(id)
	}
	return true
}

// Lookup returns the target registered under id.
func (r *Registry) Lookup(id TargetID) (Target, bool) {
	t, ok := r.targets[id]
	return t, ok
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []TargetID {
	ids := make([]TargetID, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear removes and retires every target.
func (r *Registry) Clear() {
	for id := range r.targets {
		r.Remove(id)
	}
}

// ObjectResolver resolves object messages by their object id prefix,
// consulting the registries in order.
func ObjectResolver(registries ...*Registry) func(*wire.Message) (Target, bool) {
	return func(msg *wire.Message) (Target, bool) {
		id, ok := msg.ObjectID()
		if !ok {
			return nil, false
		}
		for _, reg := range registries {
			if reg == nil {
				continue
			}
			if t, ok := reg.Lookup(TargetID(id)); ok {
				return t, true
			}
		}
		return nil, false
	}
}

// RouteTo bridges the routing table to the manager: the returned handler
// resolves each message to a target and dispatches it. Messages that resolve
// to no target count as unhandled.
func RouteTo(m *Manager, resolve func(*wire.Message) (Target, bool)) routing.Handler {
	return routing.HandlerFunc(func(msg *wire.Message) {
		target, ok := resolve(msg)
		if !ok {
			m.noteUnhandled()
			return
		}
		m.Dispatch(target, msg)
	})
}
