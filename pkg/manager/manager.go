package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/metrics"
	promrecorders "github.com/rgranger/stripefs/pkg/metrics/prometheus"
)

// completionOpFor maps a completion command to the busy op it clears.
var completionOpFor = map[string]string{
	wire.CmdCopyComplete:         wire.OpCopy,
	wire.CmdReadComplete:         wire.OpRead,
	wire.CmdDecommissionComplete: wire.OpDecommission,
	wire.CmdRecoveryComplete:     wire.OpRecovery,
}

// Manager is the running Manager role: registry State plus the UDP server
// dispatching the full command table, guarded by the single busy flag.
type Manager struct {
	State   *State
	srv     *udprpc.Server
	metrics metrics.ManagerMetrics
}

// New creates a Manager with an empty registry and every command handler
// registered behind the busy guard.
func New() *Manager {
	m := &Manager{
		State:   NewState(),
		srv:     udprpc.NewServer("manager"),
		metrics: promrecorders.NewManagerMetrics(),
	}

	m.srv.Handle(wire.CmdRegisterUser, m.guarded(m.handleRegisterUser))
	m.srv.Handle(wire.CmdRegisterDisk, m.guarded(m.handleRegisterDisk))
	m.srv.Handle(wire.CmdDeregisterUser, m.guarded(m.handleDeregisterUser))
	m.srv.Handle(wire.CmdDeregisterDisk, m.guarded(m.handleDeregisterDisk))
	m.srv.Handle(wire.CmdConfigureDSS, m.guarded(m.handleConfigureDSS))
	m.srv.Handle(wire.CmdLs, m.guarded(m.handleLs))
	m.srv.Handle(wire.CmdCopyPrepare, m.guarded(m.handleCopyPrepare))
	m.srv.Handle(wire.CmdCopyComplete, m.guarded(m.handleCopyComplete))
	m.srv.Handle(wire.CmdReadPrepare, m.guarded(m.handleReadPrepare))
	m.srv.Handle(wire.CmdReadComplete, m.guarded(m.handleReadComplete))
	m.srv.Handle(wire.CmdDecommissionDSS, m.guarded(m.handleDecommissionDSS))
	m.srv.Handle(wire.CmdDecommissionComplete, m.guarded(m.handleDecommissionComplete))
	m.srv.Handle(wire.CmdDiskFailure, m.guarded(m.handleDiskFailure))
	m.srv.Handle(wire.CmdRecoveryComplete, m.guarded(m.handleRecoveryComplete))
	return m
}

// Serve runs the manager's UDP server until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context, port int) error {
	return m.srv.Serve(ctx, port)
}

// Stop shuts the server down.
func (m *Manager) Stop() { m.srv.Stop() }

// LocalAddr exposes the bound address, for tests and for disk/user CLIs
// that need to log where the manager ended up listening.
func (m *Manager) LocalAddr() net.Addr { return m.srv.LocalAddr() }

// guarded wraps a command handler with the busy-flag dispatch guard
// described in spec.md S4.2: the check happens before any per-command
// logic, and only the matching completion command may pass through while
// busy.
func (m *Manager) guarded(h udprpc.Handler) udprpc.Handler {
	return func(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
		busy := m.State.BusySnapshot()
		if busy.Op != wire.OpNone {
			if op, isCompletion := completionOpFor[req.Cmd]; !isCompletion || op != busy.Op {
				m.recordBusyRejection(busy.Op)
				logger.WarnCtx(ctx, "manager rejecting request: busy", logger.KeyCmd, req.Cmd, logger.KeyOp, busy.Op)
				return wire.RawReply{Status: wire.Fail(busyErrorText(busy.Op))}
			}
		}
		result := h(ctx, req, addr)
		status := wire.StatusSuccess
		if s, ok := result.(interface{ Failed() bool }); ok && s.Failed() {
			status = wire.StatusFailure
		}
		logger.DebugCtx(ctx, "manager dispatched", logger.KeyStatus, status)
		m.recordCommand(req.Cmd, result)
		return result
	}
}

func (m *Manager) recordCommand(cmd string, result any) {
	if m.metrics == nil {
		return
	}
	status := wire.StatusSuccess
	if s, ok := result.(interface{ Failed() bool }); ok && s.Failed() {
		status = wire.StatusFailure
	}
	m.metrics.RecordCommand(cmd, status)
	m.metrics.SetBusy(m.State.BusySnapshot().Op != wire.OpNone)
}

func (m *Manager) recordBusyRejection(op string) {
	if m.metrics != nil {
		m.metrics.RecordBusyRejection(op)
	}
}

func decodeArgs(req wire.Request, out any) error {
	if req.Args == nil {
		return nil
	}
	return json.Unmarshal(req.Args, out)
}

func failFromErr(err error) wire.Status {
	var se *StateError
	if errors.As(err, &se) {
		return wire.Fail(se.Err.Error())
	}
	return wire.Fail(err.Error())
}

// --- registration -----------------------------------------------------------

func (m *Manager) handleRegisterUser(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.RegisterUserArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if err := m.State.RegisterUser(args.UserName, args.IP, args.MPort, args.CPort); err != nil {
		logger.WarnCtx(ctx, "register-user failed", logger.KeyUser, args.UserName, logger.Err(err))
		return wire.RawReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "user registered", logger.KeyUser, args.UserName, logger.KeyClientIP, args.IP)
	return wire.RawReply{Status: wire.OK()}
}

func (m *Manager) handleRegisterDisk(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.RegisterDiskArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if err := m.State.RegisterDisk(args.DiskName, args.IP, args.MPort, args.CPort); err != nil {
		logger.WarnCtx(ctx, "register-disk failed", logger.KeyDisk, args.DiskName, logger.Err(err))
		return wire.RawReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "disk registered", logger.KeyDisk, args.DiskName, logger.KeyClientIP, args.IP)
	return wire.RawReply{Status: wire.OK()}
}

func (m *Manager) handleDeregisterUser(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.DeregisterUserArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if err := m.State.DeregisterUser(args.UserName); err != nil {
		return wire.RawReply{Status: failFromErr(err)}
	}
	return wire.RawReply{Status: wire.OK()}
}

func (m *Manager) handleDeregisterDisk(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.DeregisterDiskArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if err := m.State.DeregisterDisk(args.DiskName); err != nil {
		return wire.RawReply{Status: failFromErr(err)}
	}
	return wire.RawReply{Status: wire.OK()}
}

// --- DSS lifecycle -----------------------------------------------------------

func (m *Manager) handleConfigureDSS(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.ConfigureDSSArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.ConfigureDSSReply{Status: wire.Fail(err.Error())}
	}
	disks, err := m.State.ConfigureDSS(args.DSSName, args.N, args.StripingUnit)
	if err != nil {
		logger.WarnCtx(ctx, "configure-dss failed", logger.KeyDSS, args.DSSName, logger.Err(err))
		return wire.ConfigureDSSReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "dss configured", logger.KeyDSS, args.DSSName, logger.KeyN, args.N, logger.KeyB, args.StripingUnit)
	return wire.ConfigureDSSReply{Status: wire.OK(), Disks: disks}
}

func (m *Manager) handleLs(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	snap := m.State.Snapshot()

	reply := wire.LsReply{Status: wire.OK(), FreeDisks: snap.FreeDisks}
	reply.Users = make([]wire.UserSnapshot, len(snap.Users))
	for i, u := range snap.Users {
		reply.Users[i] = wire.UserSnapshot{UserName: u.Name, IP: u.IP, MPort: u.MPort, CPort: u.CPort}
	}
	reply.Disks = make([]wire.DiskSnapshot, len(snap.Disks))
	for i, d := range snap.Disks {
		reply.Disks[i] = wire.DiskSnapshot{DiskName: d.Name, IP: d.IP, MPort: d.MPort, CPort: d.CPort, State: d.State}
	}
	reply.DSSes = make([]wire.DSSSnapshot, len(snap.DSSes))
	for i, dss := range snap.DSSes {
		files := make(map[string]wire.FileMeta, len(dss.Files))
		for name, fm := range dss.Files {
			files[name] = wire.FileMeta{Owner: fm.Owner, Size: fm.Size, Checksum: fm.Checksum}
		}
		reply.DSSes[i] = wire.DSSSnapshot{
			DSSName: dss.Name, N: dss.N, StripingUnit: dss.StripingUnit,
			Disks: dss.Disks, Files: files,
		}
	}
	return reply
}

// --- copy ---------------------------------------------------------------

func (m *Manager) handleCopyPrepare(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.CopyPrepareArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.CopyPrepareReply{Status: wire.Fail(err.Error())}
	}
	n, b, disks, err := m.State.CopyPrepare(args.DSSName)
	if err != nil {
		return wire.CopyPrepareReply{Status: failFromErr(err)}
	}
	m.State.SetBusy(wire.OpCopy, args.DSSName, args.Owner)
	if m.metrics != nil {
		m.metrics.SetBusy(true)
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithDSS(args.DSSName))
	logger.DebugCtx(ctx, "copy-prepare", logger.KeyFile, args.FileName, logger.KeyOwner, args.Owner)
	return wire.CopyPrepareReply{Status: wire.OK(), N: n, StripingUnit: b, Disks: disks}
}

func (m *Manager) handleCopyComplete(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.CopyCompleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if !m.matchesBusy(wire.OpCopy, args.DSSName) {
		return wire.RawReply{Status: wire.Fail(ErrNoSuchOp.Error())}
	}
	defer m.clearBusy()
	if err := m.State.CopyComplete(args.DSSName, args.FileName, args.Owner, args.Size, args.Checksum); err != nil {
		logger.ErrorCtx(ctx, "copy-complete failed", logger.KeyDSS, args.DSSName, logger.KeyFile, args.FileName, logger.Err(err))
		return wire.RawReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "copy complete", logger.KeyDSS, args.DSSName, logger.KeyFile, args.FileName, logger.KeySize, args.Size, logger.KeyChecksum, args.Checksum)
	return wire.RawReply{Status: wire.OK()}
}

// --- read ---------------------------------------------------------------

func (m *Manager) handleReadPrepare(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.ReadPrepareArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.ReadPrepareReply{Status: wire.Fail(err.Error())}
	}
	n, b, disks, meta, err := m.State.ReadPrepare(args.DSSName, args.FileName, args.UserName)
	if err != nil {
		return wire.ReadPrepareReply{Status: failFromErr(err)}
	}
	m.State.SetBusy(wire.OpRead, args.DSSName, args.UserName)
	if m.metrics != nil {
		m.metrics.SetBusy(true)
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithDSS(args.DSSName))
	logger.DebugCtx(ctx, "read-prepare", logger.KeyUser, args.UserName, logger.KeyFile, args.FileName)
	return wire.ReadPrepareReply{
		Status: wire.OK(), N: n, StripingUnit: b, Disks: disks,
		Size: meta.Size, Owner: meta.Owner, Checksum: meta.Checksum,
	}
}

func (m *Manager) handleReadComplete(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.ReadCompleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if !m.matchesBusy(wire.OpRead, args.DSSName) {
		return wire.RawReply{Status: wire.Fail(ErrNoSuchOp.Error())}
	}
	m.clearBusy()
	return wire.RawReply{Status: wire.OK()}
}

// --- decommission -----------------------------------------------------------

func (m *Manager) handleDecommissionDSS(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.DecommissionDSSArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.DecommissionDSSReply{Status: wire.Fail(err.Error())}
	}
	disks, err := m.State.DecommissionDSS(args.DSSName)
	if err != nil {
		return wire.DecommissionDSSReply{Status: failFromErr(err)}
	}
	m.State.SetBusy(wire.OpDecommission, args.DSSName, args.UserName)
	if m.metrics != nil {
		m.metrics.SetBusy(true)
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithDSS(args.DSSName))
	logger.DebugCtx(ctx, "decommission-dss", logger.KeyUser, args.UserName)
	return wire.DecommissionDSSReply{Status: wire.OK(), Disks: disks}
}

func (m *Manager) handleDecommissionComplete(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.DecommissionCompleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if !m.matchesBusy(wire.OpDecommission, args.DSSName) {
		return wire.RawReply{Status: wire.Fail(ErrNoSuchOp.Error())}
	}
	defer m.clearBusy()
	if err := m.State.DecommissionComplete(args.DSSName); err != nil {
		logger.ErrorCtx(ctx, "decommission-complete failed", logger.KeyDSS, args.DSSName, logger.Err(err))
		return wire.RawReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "dss decommissioned", logger.KeyDSS, args.DSSName)
	return wire.RawReply{Status: wire.OK()}
}

// --- disk failure / recovery ------------------------------------------------

func (m *Manager) handleDiskFailure(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.DiskFailureArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.DiskFailureReply{Status: wire.Fail(err.Error())}
	}
	n, b, disks, files, err := m.State.DiskFailure(args.DSSName)
	if err != nil {
		return wire.DiskFailureReply{Status: failFromErr(err)}
	}
	m.State.SetBusy(wire.OpRecovery, args.DSSName, args.UserName)
	if m.metrics != nil {
		m.metrics.SetBusy(true)
	}

	wireFiles := make(map[string]wire.FileMeta, len(files))
	for name, fm := range files {
		wireFiles[name] = wire.FileMeta{Owner: fm.Owner, Size: fm.Size, Checksum: fm.Checksum}
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithDSS(args.DSSName))
	logger.WarnCtx(ctx, "disk failure drill started", logger.KeyUser, args.UserName)
	return wire.DiskFailureReply{Status: wire.OK(), N: n, StripingUnit: b, Disks: disks, Files: wireFiles}
}

func (m *Manager) handleRecoveryComplete(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.RecoveryCompleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return wire.RawReply{Status: wire.Fail(err.Error())}
	}
	if !m.matchesBusy(wire.OpRecovery, args.DSSName) {
		return wire.RawReply{Status: wire.Fail(ErrNoSuchOp.Error())}
	}
	defer m.clearBusy()
	if err := m.State.RecoveryComplete(args.DSSName); err != nil {
		logger.ErrorCtx(ctx, "recovery-complete failed", logger.KeyDSS, args.DSSName, logger.Err(err))
		return wire.RawReply{Status: failFromErr(err)}
	}
	logger.InfoCtx(ctx, "recovery complete", logger.KeyDSS, args.DSSName)
	return wire.RawReply{Status: wire.OK()}
}

// --- busy helpers -------------------------------------------------------

func (m *Manager) matchesBusy(op, dssName string) bool {
	busy := m.State.BusySnapshot()
	return busy.Op == op && busy.DSSName == dssName
}

func (m *Manager) clearBusy() {
	m.State.ClearBusy()
	if m.metrics != nil {
		m.metrics.SetBusy(false)
	}
}
