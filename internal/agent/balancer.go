// ABOUTME: Load balancer that scores active agents of a type by reliability and latency.
// ABOUTME: Selection is deterministic: the strictly highest score wins, ties keep registration order.

package agent

import (
	"errors"
	"math"
	"time"
)

// ErrNoAgentsAvailable indicates no active agent of the requested type exists.
var ErrNoAgentsAvailable = errors.New("no agents available")

// scoreHorizon is the average execution time at which the time factor reaches zero.
const scoreHorizon = 5 * time.Minute

// Workload bounds used by Rebalance.
const (
	OverloadedAbove  = 0.8
	UnderloadedBelow = 0.3
)

// Criteria adjusts scoring toward fast, reliable or lightly loaded agents.
type Criteria struct {
	PreferFast     bool `json:"preferFast" yaml:"prefer_fast"`
	PreferReliable bool `json:"preferReliable" yaml:"prefer_reliable"`
	// PreferIdle scales the score by 1 - workload/2 using the last heartbeat.
	PreferIdle bool `json:"preferIdle" yaml:"prefer_idle"`
}

// Candidate is one scored agent.
type Candidate struct {
	AgentID string  `json:"agentId"`
	Score   float64 `json:"score"`
}

// Score computes the selection score for one agent's metrics.
func Score(m Metrics, c Criteria) float64 {
	rate := m.SuccessRate()
	score := 100 * rate

	avgMs := float64(m.AverageExecutionTime) / float64(time.Millisecond)
	if avgMs > 0 {
		score *= math.Max(0, 1-float64(m.AverageExecutionTime)/float64(scoreHorizon))
		if c.PreferFast {
			score *= 1 + 1000/avgMs
		}
	}
	if c.PreferReliable {
		score *= 1 + rate
	}
	return score
}

// Balancer picks the best agent of a type from a Registry.
type Balancer struct {
	registry *Registry
}

// NewBalancer creates a Balancer over registry.
func NewBalancer(registry *Registry) *Balancer {
	return &Balancer{registry: registry}
}

// Candidates scores every active agent whose config type matches agentType,
// in registration order.
func (b *Balancer) Candidates(agentType string, c Criteria) []Candidate {
	var out []Candidate
	for _, snap := range b.registry.List() {
		if snap.Type != agentType || snap.Status != StatusActive {
			continue
		}
		score := Score(snap.Metrics, c)
		if c.PreferIdle {
			score *= 1 - snap.Workload/2
		}
		out = append(out, Candidate{AgentID: snap.ID, Score: score})
	}
	return out
}

// SelectBest returns the ID of the highest scoring candidate.
// Returns ErrNoAgentsAvailable if there are no candidates.
func (b *Balancer) SelectBest(agentType string, c Criteria) (string, error) {
	candidates := b.Candidates(agentType, c)
	if len(candidates) == 0 {
		return "", ErrNoAgentsAvailable
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Score > best.Score {
			best = cand
		}
	}
	return best.AgentID, nil
}

// RebalancePlan lists agents to shed load from and agents with spare capacity.
type RebalancePlan struct {
	MigrateFrom []string `json:"migrateFrom"`
	MigrateTo   []string `json:"migrateTo"`
}

// Rebalance classifies agents that have reported a heartbeat by workload.
// Inactive agents and agents that never reported are left out.
func (b *Balancer) Rebalance() RebalancePlan {
	plan := RebalancePlan{MigrateFrom: []string{}, MigrateTo: []string{}}
	for _, snap := range b.registry.List() {
		if snap.LastHeartbeat.IsZero() || snap.Status == StatusInactive {
			continue
		}
		switch {
		case snap.Workload > OverloadedAbove:
			plan.MigrateFrom = append(plan.MigrateFrom, snap.ID)
		case snap.Workload < UnderloadedBelow:
			plan.MigrateTo = append(plan.MigrateTo, snap.ID)
		}
	}
	return plan
}
