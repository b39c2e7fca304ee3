// ABOUTME: Entry point for coven-coordinator
// ABOUTME: Runs agent coordinations from job files and reports on agents and history

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-coordinator/internal/agent"
	"github.com/2389/coven-coordinator/internal/config"
	"github.com/2389/coven-coordinator/internal/coordinator"
	"github.com/2389/coven-coordinator/internal/execution"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                         _ _             _
  ___ _____   _____ _ __         ___ ___   ___  _ __ __| (_)_ __   __ _| |_ ___  _ __
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \ / _ \| '__/ _' | | '_ \ / _' | __/ _ \| '__|
| (_| (_) \ V /  __/ | | |_____| (_| (_) | (_) | | | (_| | | | | | (_| | || (_) | |
 \___\___/ \_/ \___|_| |_|      \___\___/ \___/|_|  \__,_|_|_| |_|\__,_|\__\___/|_|
`

func usage() {
	fmt.Println("Usage: coven-coordinator <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <job.yaml>     Register configured workers and run a coordination")
	fmt.Println("  select <type>      Show the best agent of a type and every candidate's score")
	fmt.Println("  status             Run one health sweep and print the system status")
	fmt.Println("  history            Show recorded coordinations and executions (-id for one)")
	fmt.Println("  init               Write a default config file")
	fmt.Println()
	fmt.Println("Every command accepts -config <path>.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "run":
		err = runJob(ctx, args)
	case "select":
		err = runSelect(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "init":
		err = runInit(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runJob(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: coven-coordinator run [-config path] [-json] <job.yaml>")
	}
	req, err := loadJob(fs.Arg(0))
	if err != nil {
		return err
	}

	if !*asJSON {
		color.New(color.FgCyan).Print(banner)
		color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	}

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coord.CoordinateAgents(ctx, req)
	if err != nil {
		return fmt.Errorf("coordinating: %w", err)
	}

	if *asJSON {
		return printJSON(res)
	}
	printCoordination(res)
	if res.Status == coordinator.StatusFailed {
		return errors.New("every agent failed")
	}
	return nil
}

func runSelect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fast := fs.Bool("fast", false, "prefer low average latency")
	reliable := fs.Bool("reliable", false, "prefer high success rate")
	idle := fs.Bool("idle", false, "prefer agents reporting a low workload")
	warmup := fs.Int("warmup", 0, "dispatch each candidate this many times before scoring")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: coven-coordinator select [-fast] [-reliable] [-idle] [-warmup n] <type>")
	}
	agentType := fs.Arg(0)
	criteria := agent.Criteria{PreferFast: *fast, PreferReliable: *reliable, PreferIdle: *idle}

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	for range *warmup {
		for _, c := range a.coord.ScoreAgents(agentType, criteria) {
			a.coord.ExecuteAgentWithRetry(ctx, c.AgentID, "warmup", nil)
		}
	}

	best, err := a.coord.GetOptimalAgent(agentType, criteria)
	if err != nil {
		return fmt.Errorf("selecting %q agent: %w", agentType, err)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for _, c := range a.coord.ScoreAgents(agentType, criteria) {
		marker := "  "
		if c.AgentID == best {
			marker = green.Sprint("▶ ")
		}
		m, _ := a.coord.GetAgentMetrics(c.AgentID)
		fmt.Printf("  %s%-20s %8.2f", marker, c.AgentID, c.Score)
		gray.Printf("  runs=%d ok=%d avg=%s\n", m.TotalExecutions, m.SuccessfulExecutions, m.AverageExecutionTime.Round(time.Millisecond))
	}
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	_ = fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.coord.SweepHealth(ctx)
	return printJSON(map[string]any{
		"sweep":  report,
		"status": a.coord.GetSystemStatus(),
		"agents": a.coord.ListAgents(),
	})
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	limit := fs.Int("limit", 20, "maximum rows per table")
	agentID := fs.String("agent", "", "only show executions for this agent")
	coordinationID := fs.String("id", "", "show one coordination with its executions")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	facts, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	if facts == nil {
		return errors.New("database.path is not set; no history is recorded")
	}
	defer facts.Close()

	if *coordinationID != "" {
		return printCoordinationHistory(ctx, os.Stdout, facts, *coordinationID)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	coords, err := facts.ListCoordinations(ctx, *limit)
	if err != nil {
		return err
	}
	cyan.Println("Coordinations")
	for _, c := range coords {
		fmt.Printf("  %s  %-10s %-16s %d/%d ok", c.StartedAt.Local().Format(time.DateTime), c.Mode, statusColor(c.Status), c.Successful, c.Total)
		gray.Printf("  %s %v\n", c.ID, c.AgentIDs)
	}

	execs, err := facts.ListExecutions(ctx, *agentID, *limit)
	if err != nil {
		return err
	}
	fmt.Println()
	cyan.Println("Executions")
	for _, e := range execs {
		fmt.Printf("  %s  %-20s %-10s attempts=%d %s", e.RecordedAt.Local().Format(time.DateTime), e.AgentID, statusColor(e.Status), e.Attempts, e.Duration)
		if e.Error != "" {
			gray.Printf("  %s", e.Error)
		}
		fmt.Println()
	}
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", config.DefaultPath(), "where to write the config")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}
	if err := os.MkdirAll(filepath.Dir(*path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*path, []byte(config.DefaultYAML), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", *path)
	fmt.Println("\nTo run a job:")
	fmt.Println("  coven-coordinator run job.yaml")
	return nil
}

func printCoordination(res *coordinator.Result) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Printf("    %s  %s  %s\n\n", res.CoordinationID, res.Mode, statusColor(string(res.Status)))
	for _, r := range res.Results {
		if r.Status == execution.StatusCompleted {
			green.Print("    ✓ ")
			fmt.Printf("%-20s %v", r.AgentID, r.Output)
		} else {
			red.Print("    ✗ ")
			fmt.Printf("%-20s %s", r.AgentID, r.Error)
		}
		gray.Printf("  (%s, %d attempt(s))\n", r.ExecutionTime.Round(time.Millisecond), r.Attempts)
	}
	fmt.Println()
	fmt.Printf("    %d/%d succeeded in %s\n", res.Summary.Successful, res.Summary.Total, res.Duration.Round(time.Millisecond))
}

func statusColor(status string) string {
	switch status {
	case string(coordinator.StatusCompleted):
		return color.GreenString(status)
	case string(coordinator.StatusPartialFailure):
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
