// Package version carries the engine version reported by the CLI and the
// control surface.
package version

// Version is the engine version. Release builds override it with -ldflags.
var Version = "0.1.0"
