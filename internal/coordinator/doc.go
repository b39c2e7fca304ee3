// Package coordinator is the in-process API for running agents.
//
// A Coordinator owns one agent.Registry together with the execution guard,
// the retry controller, the load balancer, the health monitor and a
// best-effort outbox for fact log writes. New starts the health monitor;
// Shutdown stops it, deactivates every agent and drains the outbox.
//
// # Running Agents
//
//	c := coordinator.New(coordinator.DefaultConfig(), coordinator.WithLogger(logger))
//	c.RegisterAgent("researcher-1", worker, map[string]any{"type": "research"})
//
//	res, err := c.CoordinateAgents(ctx, coordinator.Request{
//		AgentIDs: []string{"researcher-1", "planner-1"},
//		Mode:     coordinator.ModeParallel,
//		Input:    "quarterly report",
//	})
//
// err is only set for invalid requests (ErrNoAgents, ErrUnknownMode). Agent
// failures are reported per agent in res.Results, and res.Status summarizes
// them as completed, partial_failure or failed.
//
// In parallel mode every agent runs and results keep request order. In
// sequential mode the run stops after the first failed agent.
//
// # Facts
//
// With WithFactRecorder, registrations, executions, coordinations and
// shutdown deactivations are written through the outbox. A slow or failing
// recorder never delays or fails a dispatch.
package coordinator
