// Package gelfrelay implements a reliable GELF-over-TCP shipping transport.
// It delivers NUL-terminated GELF payloads to a remote collector over a
// persistent TCP connection, reconnecting on failure and on a rotation
// schedule, and can run as a standalone relay daemon.
package gelfrelay

import (
	"fmt"
)

var (
	version string
	build   string
)

// AppName is the canonical name of the application binary.
const AppName = "gelfrelay"

// Version returns the application version and build information.
// The version and build values are injected at compile time via ldflags.
func Version() string {
	return fmt.Sprintf("%s (%s)", version, build)
}
