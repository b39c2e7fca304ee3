// Package health sweeps the agent registry on a fixed interval.
//
// Each sweep runs a Check against every agent. A failing agent that is
// active, executing or already unhealthy becomes unhealthy; an unhealthy
// agent that passes becomes active again. A panicking check moves the agent
// to error. Agents in error or inactive are only stamped with the check time.
//
// The first warning for an agent is logged at warn level; repeats within the
// suppression window drop to debug until the agent recovers.
package health
