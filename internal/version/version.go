// Package version holds build metadata injected via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X pricefeed/internal/version.Version=v1.2.3 \
//	  -X pricefeed/internal/version.Commit=abc1234 \
//	  -X pricefeed/internal/version.Date=2026-08-31"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a one-line human-readable version string.
func Info() string {
	return fmt.Sprintf("pricefeed %s (commit %s, built %s)", Version, Commit, Date)
}
