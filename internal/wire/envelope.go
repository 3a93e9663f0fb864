// Package wire defines the UTF-8 JSON-over-UDP envelope shared by all three
// roles and the typed argument/reply variants for every command in the
// protocol. Each command gets its own Go type -- this is the "tagged
// variants, not an untyped map" codec called for by the design notes: every
// command/reply has a fixed schema, so it is modeled as one, not parsed ad
// hoc from a map[string]any at each call site.
package wire

import "encoding/json"

// Request is the envelope for every outbound command: {"cmd": ..., "args": {...}}.
// ReqID is a correlation ID threaded through for log correlation only -- it
// is not interpreted by the protocol state machine.
type Request struct {
	Cmd   string          `json:"cmd"`
	ReqID string          `json:"req_id,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// NewRequest marshals args into a Request envelope.
func NewRequest(cmd, reqID string, args any) (Request, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, err
	}
	return Request{Cmd: cmd, ReqID: reqID, Args: raw}, nil
}

// Status values used on the wire.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Status is embedded in every reply type: {"status": "SUCCESS"|"FAILURE", "error": "..."}.
type Status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK builds a successful Status.
func OK() Status { return Status{Status: StatusSuccess} }

// Fail builds a failed Status carrying a descriptive error string.
func Fail(err string) Status { return Status{Status: StatusFailure, Error: err} }

// Failed reports whether this status represents a failure.
func (s Status) Failed() bool { return s.Status != StatusSuccess }

// RawReply is used when a caller only needs to inspect {status, error}
// without decoding the command-specific fields.
type RawReply struct {
	Status
}
