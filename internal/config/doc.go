// Package config manages benchmark engine configuration. Values load from
// YAML files, environment variables and command-line flags, with precedence
// defaults < YAML file < environment < flags. It also carries the per-run
// client options that coordinators resolve and ship to workers.
package config
