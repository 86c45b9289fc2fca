package metrics

import (
	"expvar"
	"time"
)

var (
	// Collector connection metrics
	DialAttempts     = expvar.NewInt("dial_attempts_total")
	DialFailures     = expvar.NewInt("dial_failures_total")
	Reconnects       = expvar.NewInt("reconnects_total")
	ForcedReconnects = expvar.NewInt("forced_reconnects_total")

	// Delivery metrics
	MessagesSent    = expvar.NewInt("messages_sent_total")
	MessagesDropped = expvar.NewInt("messages_dropped_total")
	SendRetries     = expvar.NewInt("send_retries_total")
	BytesSent       = expvar.NewInt("bytes_sent_total")

	// Ingress metrics
	ConnectionsAccepted = expvar.NewInt("connections_accepted")
	ConnectionsRejected = expvar.NewInt("connections_rejected")
	FramesReceived      = expvar.NewInt("frames_received_total")

	// Dead letter queue metrics
	DeadLettered = expvar.NewInt("dead_lettered_total")

	// System metrics
	StartTime = expvar.NewInt("start_time_seconds")
	Version   = expvar.NewString("version_info")
)

// Init initialises system metrics that should be set once at startup.
func Init(versionString string) {
	StartTime.Set(time.Now().Unix())
	Version.Set(versionString)
}
