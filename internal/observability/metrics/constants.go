// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command enqueue status label values.
const (
	CommandStatusOK           = "ok"
	CommandStatusQueueFull    = "queue_full"
	CommandStatusDisconnected = "disconnected"
)

// Connect attempt result label values.
const (
	ConnectResultConnected = "connected"
	ConnectResultAbsent    = "absent"
	ConnectResultMismatch  = "mismatch"
	ConnectResultError     = "error"
)

// ShutdownTimeout bounds the metrics HTTP server shutdown.
const ShutdownTimeout = 5 * time.Second
