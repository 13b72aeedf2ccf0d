// Package buildinfo holds the build identity stamped in with -ldflags.
package buildinfo

import (
	"fmt"

	"keel/keelos/abi"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"
	// Commit is set at build time via -ldflags.
	Commit = "unknown"
	// Date is set at build time via -ldflags.
	Date = "unknown"
)

// Short returns a compact build identifier for window titles and status
// lines.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" && len(Commit) > 7 {
		return Commit[:7]
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// String describes the build and the kernel ABI it implements.
func String() string {
	return fmt.Sprintf("keel %s (commit %s, built %s, kernel abi %s)", Version, Commit, Date, abi.Version)
}
