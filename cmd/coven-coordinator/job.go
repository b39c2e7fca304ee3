// ABOUTME: Job files for the run command: which agents, which mode, what input.
// ABOUTME: Same duration and env-expansion conventions as the main config.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-coordinator/internal/coordinator"
	"github.com/2389/coven-coordinator/internal/execution"
)

// jobFile is the on-disk form of a coordination request.
type jobFile struct {
	Mode    string    `yaml:"mode"`
	Agents  []string  `yaml:"agents"`
	Input   any       `yaml:"input"`
	Timeout string    `yaml:"timeout"`
	Retry   *jobRetry `yaml:"retry"`
}

type jobRetry struct {
	MaxRetries int    `yaml:"max_retries"`
	Delay      string `yaml:"delay"`
}

func loadJob(path string) (coordinator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return coordinator.Request{}, fmt.Errorf("reading job file: %w", err)
	}
	return parseJob(data)
}

func parseJob(data []byte) (coordinator.Request, error) {
	var job jobFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &job); err != nil {
		return coordinator.Request{}, fmt.Errorf("parsing job file: %w", err)
	}

	req := coordinator.Request{
		AgentIDs: job.Agents,
		Mode:     coordinator.Mode(job.Mode),
		Input:    job.Input,
	}
	if req.Mode == "" {
		req.Mode = coordinator.ModeParallel
	}

	if job.Timeout != "" {
		d, err := time.ParseDuration(job.Timeout)
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("parsing timeout %q: %w", job.Timeout, err)
		}
		req.Timeout = d
	}

	if job.Retry != nil {
		p := execution.RetryPolicy{MaxRetries: job.Retry.MaxRetries}
		if job.Retry.Delay != "" {
			d, err := time.ParseDuration(job.Retry.Delay)
			if err != nil {
				return coordinator.Request{}, fmt.Errorf("parsing retry delay %q: %w", job.Retry.Delay, err)
			}
			p.Delay = d
		}
		req.Retry = &p
	}

	if err := req.Validate(); err != nil {
		return coordinator.Request{}, err
	}
	return req, nil
}
