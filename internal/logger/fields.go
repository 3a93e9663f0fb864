package logger

import "log/slog"

// Standard field keys for structured logging across the manager, disk, and
// user-client roles. Use these keys consistently so log lines can be
// aggregated and queried regardless of which role emitted them.
const (
	// Correlation
	KeyReqID = "req_id" // correlation ID carried on the wire envelope
	KeyCmd   = "cmd"    // wire command name: "write-block", "copy-prepare", ...

	// Topology
	KeyDSS        = "dss"  // DSS name
	KeyDisk       = "disk" // disk name
	KeyUser       = "user" // user name
	KeyOwner      = "owner"
	KeyClientIP   = "client_ip"
	KeyClientPort = "client_port"

	// Striping
	KeyFile      = "file"
	KeyStripeIdx = "stripe_idx"
	KeyDiskIndex = "disk_index"
	KeyN         = "n"
	KeyB         = "striping_unit"
	KeySize      = "size"
	KeyChecksum  = "checksum"
	KeyRetry     = "retry"

	// Manager state machine
	KeyOp     = "op"
	KeyStatus = "status"

	// Errors
	KeyError = "error"
)

// Err builds a slog attribute for an error, or a zero-value (empty-key)
// attribute when err is nil so it can be appended unconditionally.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
