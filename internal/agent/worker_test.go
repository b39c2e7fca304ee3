// ABOUTME: Tests for capability dispatch: entry point priority and unrecognized handles.

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type researcher struct{}

func (researcher) ExecuteResearch(_ context.Context, _ any) (any, error) { return "research", nil }

type planner struct{}

func (planner) ExecutePlanning(_ context.Context, _ any) (any, error) { return "planning", nil }

// multi implements several entry points; the generic one must win.
type multi struct{}

func (multi) Execute(_ context.Context, _ any) (any, error)            { return "generic", nil }
func (multi) ExecuteDevelopment(_ context.Context, _ any) (any, error) { return "development", nil }
func (multi) ExecuteResearch(_ context.Context, _ any) (any, error)    { return "research", nil }

type devAndPlan struct{}

func (devAndPlan) ExecutePlanning(_ context.Context, _ any) (any, error)    { return "planning", nil }
func (devAndPlan) ExecuteDevelopment(_ context.Context, _ any) (any, error) { return "development", nil }

func TestAdapt(t *testing.T) {
	tests := []struct {
		name       string
		handle     any
		entryPoint string
		output     any
	}{
		{"generic func", WorkerFunc(func(_ context.Context, in any) (any, error) { return in, nil }), "Execute", "in"},
		{"research only", researcher{}, "ExecuteResearch", "research"},
		{"planning only", planner{}, "ExecutePlanning", "planning"},
		{"generic beats named", multi{}, "Execute", "generic"},
		{"development beats planning", devAndPlan{}, "ExecuteDevelopment", "development"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ep, err := Adapt(tt.handle)
			require.NoError(t, err)
			assert.Equal(t, tt.entryPoint, ep)

			out, err := w.Execute(context.Background(), "in")
			require.NoError(t, err)
			assert.Equal(t, tt.output, out)
		})
	}

	t.Run("nil handle", func(t *testing.T) {
		_, _, err := Adapt(nil)
		assert.ErrorIs(t, err, ErrNoRecognizedEntryPoint)
	})

	t.Run("no entry point", func(t *testing.T) {
		_, _, err := Adapt("just a string")
		assert.ErrorIs(t, err, ErrNoRecognizedEntryPoint)
	})
}

func TestEntryPointsOrder(t *testing.T) {
	eps := EntryPoints()
	require.NotEmpty(t, eps)
	assert.Equal(t, "Execute", eps[0])
	assert.Equal(t, []string{"ExecuteDevelopment", "ExecuteResearch", "ExecutePlanning"}, eps[1:4])
}
