// Package config loads the forklift controller configuration.
//
// Values start from Baseline, are overlaid by an optional YAML, JSON or TOML
// file, then by FCC_* environment variables, and are validated last.
// Durations are written as Go duration strings ("1ms", "5s").
package config
