// Package routing defines the contracts of the meshrouter message router.
//
// This package holds the abstractions shared between the router core and its collaborators:
//   - MessageRouter: the operations the router exposes (route, next-hop registration,
//     multicast receivers, parent attachment, shutdown)
//   - TransportFactory / Transport: byte-level delivery to an address
//   - PersistentStore: remembers participant addresses across restarts
//   - MessageQueue: holds messages for participants that are not yet known
//   - RoutingProxy: the parent router, reached over the network
//   - MulticastAddressCalculator and SkeletonRegistry: multicast plumbing
//
// The router follows Go idioms:
//   - context.Context on every call that may reach a store, the parent, or a transport
//   - Completion handles for registrations that may be deferred until the parent attaches
//   - A closed set of error kinds (ErrorKind) matched with errors.Is or KindOf
//
// Example usage:
//
//	// Register a provider reachable over websocket
//	err := r.AddNextHop(ctx, "provider-1", address.WebSocketClientAddress{ID: "leaf-7"}, true).Wait(ctx)
//	if err != nil {
//		return err
//	}
//
//	// Route a request; Route never fails, it reports what happened
//	outcome := r.Route(ctx, msg)
//
//	// Attach the parent router once the link is up
//	if err := r.SetRoutingProxy(ctx, proxy); err != nil {
//		return err
//	}
//
// Router states:
//   - Detached: no parent configured, this node is the root of the topology
//   - Unattached: a parent is configured but not connected; forwarding is queued
//   - Attached: forwarding and remote resolution go to the parent immediately
//   - ShutDown: terminal, every operation is rejected
package routing
