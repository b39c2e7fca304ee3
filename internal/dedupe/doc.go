// Package dedupe suppresses repeated alerts within a time window.
package dedupe
