// Package config handles configuration loading for coven-coordinator.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Values not present in the file keep the defaults from Default.
//
// # Configuration File
//
// ResolvePath checks, in order:
//
//  1. The path given on the command line
//  2. Path from COVEN_COORDINATOR_CONFIG environment variable
//  3. ./coordinator.yaml, then ./coordinator.toml
//  4. ~/.config/coven/coordinator.yaml
//
// A .toml extension selects TOML; anything else is read as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${HOME}/.local/share/coven/coordinator.db"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	coordination:
//	  default_timeout: "5m"
//	  retry_delay: "1s"
//	health:
//	  interval: "30s"
//	  stale_after: "10m"
//
// # Sections
//
//   - coordination: dispatch timeout, retry policy, parallel bound
//   - health: sweep interval, staleness threshold, alert suppression window
//   - outbox: side-channel queue size, workers, per-write timeout
//   - database: fact log driver (sqlite or sqlite3) and path; empty path disables it
//   - telemetry: OTLP HTTP endpoint; empty endpoint disables export
//   - logging: level (debug, info, warn, error) and format (text, json)
//   - workers: built-in workers to register (echo, delay, flaky, planner)
package config
