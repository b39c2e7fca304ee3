// Package agent holds the registry of workers and the load balancer that
// chooses between them.
//
// # Overview
//
// Every registered agent has three pieces of state, all owned by the
// Registry and guarded by one lock:
//
//   - a record: ID, capability handle, config, registration and health check times
//   - a Status: active, executing, unhealthy, error or inactive
//   - Metrics: execution counters and average latency
//
// Callers only ever see Snapshot copies.
//
// # Registration
//
//	reg := agent.NewRegistry(logger)
//	res, err := reg.Register("researcher-1", worker, map[string]any{"type": "research"})
//
// Registering an existing ID is an update: RegisteredAt and Metrics are
// kept, the handle and config are replaced and the status returns to active.
//
// # Capability Dispatch
//
// A handle may expose any of several entry points (Execute,
// ExecuteDevelopment, ExecuteResearch, ...). Adapt checks them in a fixed
// priority order once, at registration, and stores the winner as a Worker.
// A handle with none of them can still be registered; dispatching to it fails
// with ErrNoRecognizedEntryPoint.
//
// # Execution Bookkeeping
//
// BeginExecution and EndExecution bracket a dispatch:
//
//	active --BeginExecution--> executing --EndExecution(ok)--> active
//	                                     --EndExecution(fail)-> error
//
// EndExecution updates metrics and status in the same critical section.
//
// # Load Balancing
//
// Balancer.SelectBest filters to active agents whose config "type" matches
// and scores them:
//
//	score = 100 * successRate * max(0, 1 - avg/5m)
//	preferFast:     score *= 1 + 1000/avgMs
//	preferReliable: score *= 1 + successRate
//
// Agents without history skip the latency factors. Ties keep registration
// order.
//
// # Thread Safety
//
// Registry and Balancer are safe for concurrent use. Transition hooks run
// after the lock is released.
package agent
