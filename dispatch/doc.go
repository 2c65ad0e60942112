// Package dispatch implements second-stage message dispatch.
//
// After the routing table has picked a subsystem, a Manager binds each
// message to a concrete (target, handler) pair. Finding the handler means
// asking the target through Target.LookupHandler; the Manager memoizes the
// answer per (target id, message type) in a bounded LRU cache so a stream of
// state updates for one long-lived object skips the lookup.
//
// # Cache Correctness
//
// Every Target reports a generation. Generations come from one process-wide
// counter, so a target never reports a value another target or an earlier
// incarnation of the same id has used. A cache entry remembers the
// generation it was created under; when the target's current generation
// differs, the entry is stale and the handler is looked up again.
// HandlerSet bumps its generation whenever its handlers change or it is
// retired, so most applications never need to invalidate manually.
// InvalidateCache and InvalidateTarget remain available for Target
// implementations that do not track generations precisely.
//
// # Example
//
//	m := dispatch.NewManager(1024)
//	reg := dispatch.NewRegistry(m)
//
//	plane := dispatch.NewHandlerSet(42)
//	plane.Handle(MsgPosition, func(msg *wire.Message) { ... })
//	reg.Add(plane)
//
//	table.SetHandler(wire.RouteObject, dispatch.RouteTo(m, dispatch.ObjectResolver(reg)))
package dispatch
