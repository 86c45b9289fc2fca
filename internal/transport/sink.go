package transport

import (
	"log/slog"
)

// ErrorSink receives best-effort delivery failure reports. Implementations
// must not block the sender materially and must not panic. The transport
// never surfaces these errors to the log-emitting caller; the sink's log
// trail is the only escalation channel.
type ErrorSink interface {
	Report(msg string, err error)
}

// SlogSink reports failures through the default slog logger.
type SlogSink struct{}

// Report logs the failure at error level.
func (SlogSink) Report(msg string, err error) {
	slog.Error(msg, "error", err)
}
