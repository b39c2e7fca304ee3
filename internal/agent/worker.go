// ABOUTME: Worker capability interfaces and the adapter that picks one entry point per handle.
// ABOUTME: The entry point is resolved once at registration, never looked up again on dispatch.

package agent

import (
	"context"
	"errors"
)

// ErrNoRecognizedEntryPoint indicates a handle exposes none of the accepted entry points.
var ErrNoRecognizedEntryPoint = errors.New("no recognized entry point")

// Worker is the single invocation surface the execution layer calls.
// Implementations should return promptly once ctx is cancelled.
type Worker interface {
	Execute(ctx context.Context, input any) (any, error)
}

// WorkerFunc adapts a plain function to Worker.
type WorkerFunc func(ctx context.Context, input any) (any, error)

// Execute calls f(ctx, input).
func (f WorkerFunc) Execute(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// Domain specific entry points. A handle may implement any number of them;
// the first one in entryPoints order is used.
type (
	DevelopmentExecutor interface {
		ExecuteDevelopment(ctx context.Context, input any) (any, error)
	}
	ResearchExecutor interface {
		ExecuteResearch(ctx context.Context, input any) (any, error)
	}
	PlanningExecutor interface {
		ExecutePlanning(ctx context.Context, input any) (any, error)
	}
	AnalysisExecutor interface {
		ExecuteAnalysis(ctx context.Context, input any) (any, error)
	}
	CreativeExecutor interface {
		ExecuteCreative(ctx context.Context, input any) (any, error)
	}
	CommunicationExecutor interface {
		ExecuteCommunication(ctx context.Context, input any) (any, error)
	}
	QualityAssuranceExecutor interface {
		ExecuteQualityAssurance(ctx context.Context, input any) (any, error)
	}
	MonitoringExecutor interface {
		ExecuteMonitoring(ctx context.Context, input any) (any, error)
	}
	OrchestrationExecutor interface {
		ExecuteOrchestration(ctx context.Context, input any) (any, error)
	}
	KnowledgeManagementExecutor interface {
		ExecuteKnowledgeManagement(ctx context.Context, input any) (any, error)
	}
)

type entryPoint struct {
	name string
	bind func(handle any) (WorkerFunc, bool)
}

// entryPoints is the fixed dispatch priority. Order matters for handles that
// implement more than one entry point.
var entryPoints = []entryPoint{
	{"Execute", func(h any) (WorkerFunc, bool) {
		w, ok := h.(Worker)
		if !ok {
			return nil, false
		}
		return w.Execute, true
	}},
	{"ExecuteDevelopment", func(h any) (WorkerFunc, bool) {
		w, ok := h.(DevelopmentExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteDevelopment, true
	}},
	{"ExecuteResearch", func(h any) (WorkerFunc, bool) {
		w, ok := h.(ResearchExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteResearch, true
	}},
	{"ExecutePlanning", func(h any) (WorkerFunc, bool) {
		w, ok := h.(PlanningExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecutePlanning, true
	}},
	{"ExecuteAnalysis", func(h any) (WorkerFunc, bool) {
		w, ok := h.(AnalysisExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteAnalysis, true
	}},
	{"ExecuteCreative", func(h any) (WorkerFunc, bool) {
		w, ok := h.(CreativeExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteCreative, true
	}},
	{"ExecuteCommunication", func(h any) (WorkerFunc, bool) {
		w, ok := h.(CommunicationExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteCommunication, true
	}},
	{"ExecuteQualityAssurance", func(h any) (WorkerFunc, bool) {
		w, ok := h.(QualityAssuranceExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteQualityAssurance, true
	}},
	{"ExecuteMonitoring", func(h any) (WorkerFunc, bool) {
		w, ok := h.(MonitoringExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteMonitoring, true
	}},
	{"ExecuteOrchestration", func(h any) (WorkerFunc, bool) {
		w, ok := h.(OrchestrationExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteOrchestration, true
	}},
	{"ExecuteKnowledgeManagement", func(h any) (WorkerFunc, bool) {
		w, ok := h.(KnowledgeManagementExecutor)
		if !ok {
			return nil, false
		}
		return w.ExecuteKnowledgeManagement, true
	}},
}

// EntryPoints returns the accepted entry point names in dispatch priority order.
func EntryPoints() []string {
	names := make([]string, len(entryPoints))
	for i, ep := range entryPoints {
		names[i] = ep.name
	}
	return names
}

// Adapt resolves the first entry point exposed by handle.
// Returns ErrNoRecognizedEntryPoint if handle is nil or exposes none.
func Adapt(handle any) (Worker, string, error) {
	if handle == nil {
		return nil, "", ErrNoRecognizedEntryPoint
	}
	for _, ep := range entryPoints {
		if fn, ok := ep.bind(handle); ok {
			return fn, ep.name, nil
		}
	}
	return nil, "", ErrNoRecognizedEntryPoint
}
