// ABOUTME: Detailed history view for one recorded coordination and its executions.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-coordinator/internal/store"
)

func printCoordinationHistory(ctx context.Context, w io.Writer, facts store.FactStore, id string) error {
	rec, err := facts.GetCoordination(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("coordination %s: %w", id, err)
	}
	if err != nil {
		return err
	}
	execs, err := facts.ListCoordinationExecutions(ctx, id)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "Coordination %s\n", rec.ID)
	fmt.Fprintf(w, "  mode:     %s\n", rec.Mode)
	fmt.Fprintf(w, "  status:   %s\n", statusColor(rec.Status))
	fmt.Fprintf(w, "  started:  %s\n", rec.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  duration: %s\n", rec.Duration)
	fmt.Fprintf(w, "  agents:   %d requested, %d/%d ok\n", len(rec.AgentIDs), rec.Successful, rec.Total)

	fmt.Fprintln(w)
	for _, e := range execs {
		fmt.Fprintf(w, "  %-20s %-10s attempts=%d %s", e.AgentID, statusColor(e.Status), e.Attempts, e.Duration)
		if e.Error != "" {
			fmt.Fprintf(w, "  %s", e.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}
