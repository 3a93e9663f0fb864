package manager

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by State methods. Dispatch handlers in manager.go
// translate these into the wire's FAILURE{error} shape.
var (
	ErrDuplicateName  = errors.New("duplicate name")
	ErrNotFound       = errors.New("not found")
	ErrDiskNotFree    = errors.New("disk is InDSS; cannot deregister")
	ErrNotEnoughFree  = errors.New("fewer than n disks Free")
	ErrInvalidN       = errors.New("n must be >= 3")
	ErrInvalidUnit    = errors.New("striping_unit must be a power of two in [128, 1048576]")
	ErrUnitTooLarge   = errors.New("striping_unit too large: base64 block would not fit in one datagram")
	ErrFileNotFound   = errors.New("file not found")
	ErrNotOwner       = errors.New("NOT_OWNER")
	ErrNoSuchOp       = errors.New("no matching operation in progress")
)

// busyErrorText mirrors the error string spec.md S4.2/S7 requires verbatim:
// `busy: <op> in progress`.
func busyErrorText(op string) string {
	return fmt.Sprintf("busy: %s in progress", op)
}

// StateError wraps a sentinel error with the command and dss/user context it
// was raised for, following the contextual-wrapper pattern the disk and
// content-serving layers of the teacher use (Unwrap keeps errors.Is working).
type StateError struct {
	Cmd     string
	DSSName string
	Err     error
}

func (e *StateError) Error() string {
	if e.DSSName == "" {
		return fmt.Sprintf("%s: %s", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %s (dss=%s)", e.Cmd, e.Err, e.DSSName)
}

func (e *StateError) Unwrap() error { return e.Err }

func newStateError(cmd, dssName string, err error) *StateError {
	return &StateError{Cmd: cmd, DSSName: dssName, Err: err}
}
