// Package types defines the core data structures shared across the benchmark engine.
//
// This package contains the fundamental types used throughout the engine,
// including:
//   - Benchmark execution state and lifecycle
//   - Sample and task result records
//   - Worker registration and status types
//   - Coordinator/worker control protocol messages
//   - The benchmark error taxonomy
package types
