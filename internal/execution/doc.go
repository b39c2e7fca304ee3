// Package execution runs workers on behalf of the registry.
//
// Guard.Dispatch performs exactly one attempt: it moves the agent to
// executing, invokes its worker under a timeout, records metrics and moves the
// agent to active or error. Retrier.DispatchWithRetry repeats Dispatch with a
// linear backoff (delay, 2*delay, ...) for timeouts and worker errors only.
// Lookup failures (unknown agent, agent not active, no entry point) are never
// retried.
package execution
