// Package diskstore implements the disk role: an in-memory, volatile block
// store addressed by (file_name, stripe_idx, disk_index), served over the
// content port, plus the one-shot register-disk handshake against the
// manager's management port. Modeled on the teacher's content-serving
// services (pkg/content), generalized from byte-range file content to
// fixed-size striped blocks.
package diskstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/metrics"
	promrecorders "github.com/rgranger/stripefs/pkg/metrics/prometheus"
)

func decodeArgs(req wire.Request, out any) error {
	if req.Args == nil {
		return nil
	}
	return json.Unmarshal(req.Args, out)
}

// Disk is one running disk node: a block store, a failure-mode flag, and the
// UDP server answering content-port requests.
type Disk struct {
	Name  string
	IP    string
	MPort int
	CPort int

	store   *Store
	failing atomic.Bool

	managerAddr *net.UDPAddr
	srv         *udprpc.Server
	client      *udprpc.Client
	metrics     metrics.DiskMetrics
}

// New creates a Disk bound to the given identity/endpoint, ready to Register
// and Serve. managerAddr is the manager's management-port address.
func New(name, ip string, mPort, cPort int, managerAddr *net.UDPAddr, timeout time.Duration) *Disk {
	d := &Disk{
		Name:        name,
		IP:          ip,
		MPort:       mPort,
		CPort:       cPort,
		store:       NewStore(),
		managerAddr: managerAddr,
		srv:         udprpc.NewServer("disk:" + name),
		client:      udprpc.NewClient(timeout),
		metrics:     promrecorders.NewDiskMetrics(),
	}
	d.srv.Handle(wire.CmdWriteBlock, d.handleWriteBlock)
	d.srv.Handle(wire.CmdReadBlock, d.handleReadBlock)
	d.srv.Handle(wire.CmdFail, d.handleFail)
	d.srv.Handle(wire.CmdWipe, d.handleWipe)
	d.srv.Handle(wire.CmdSetMode, d.handleSetMode)
	return d
}

// Register sends register-disk to the manager from the disk's own m_port,
// per spec.md S4.1/S6 ("sent from disk to manager at startup"). It blocks
// until the manager replies, the RPC timeout expires, or the context's
// deadline elapses, whichever comes first.
func (d *Disk) Register(ctx context.Context) error {
	args := wire.RegisterDiskArgs{DiskName: d.Name, IP: d.IP, MPort: d.MPort, CPort: d.CPort}
	var reply wire.RawReply
	err := udprpc.CallFromPort(ctx, d.MPort, d.managerAddr, d.client.Timeout, wire.CmdRegisterDisk, args, &reply)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRegisterFailed, err)
	}
	if reply.Failed() {
		return fmt.Errorf("%w: %s", ErrRegisterFailed, reply.Error)
	}
	logger.Info("disk registered", logger.KeyDisk, d.Name, logger.KeyClientIP, d.IP, "m_port", d.MPort, "c_port", d.CPort)
	return nil
}

// Serve runs the content-port server until ctx is cancelled.
func (d *Disk) Serve(ctx context.Context) error {
	return d.srv.Serve(ctx, d.CPort)
}

// Stop shuts the content-port server down.
func (d *Disk) Stop() { d.srv.Stop() }

// LocalAddr returns the content port's bound address, for tests and for
// logging where an ephemeral-port disk ended up listening.
func (d *Disk) LocalAddr() net.Addr { return d.srv.LocalAddr() }

func (d *Disk) recordMode() {
	if d.metrics != nil {
		d.metrics.SetMode(d.failing.Load())
	}
}

func (d *Disk) record(cmd, status string) {
	if d.metrics != nil {
		d.metrics.RecordRequest(cmd, status)
	}
}

func (d *Disk) handleWriteBlock(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.WriteBlockArgs
	if err := decodeArgs(req, &args); err != nil {
		d.record(wire.CmdWriteBlock, wire.StatusFailure)
		return wire.WriteBlockReply{Status: wire.Fail(err.Error())}
	}
	if args.FileName == "" {
		d.record(wire.CmdWriteBlock, wire.StatusFailure)
		return wire.WriteBlockReply{Status: wire.Fail("file_name: missing")}
	}
	stripeIdx, err := wire.ParseIntField("stripe_idx", args.StripeIdx)
	if err != nil {
		d.record(wire.CmdWriteBlock, wire.StatusFailure)
		return wire.WriteBlockReply{Status: wire.Fail(err.Error())}
	}
	diskIndex, err := wire.ParseIntField("disk_index", args.DiskIndex)
	if err != nil {
		d.record(wire.CmdWriteBlock, wire.StatusFailure)
		return wire.WriteBlockReply{Status: wire.Fail(err.Error())}
	}
	block, err := base64.StdEncoding.DecodeString(args.BlockB64)
	if err != nil {
		d.record(wire.CmdWriteBlock, wire.StatusFailure)
		return wire.WriteBlockReply{Status: wire.Fail(ErrBadBlockB64.Error())}
	}

	// write-block is accepted in fail mode too: this is how the user's
	// recovery drill repopulates a failed disk's store (spec.md S4.1).
	d.store.Write(args.FileName, stripeIdx, diskIndex, block)
	d.record(wire.CmdWriteBlock, wire.StatusSuccess)
	logger.DebugCtx(ctx, "write-block", logger.KeyFile, args.FileName, logger.KeyStripeIdx, stripeIdx, logger.KeyDiskIndex, diskIndex)
	return wire.WriteBlockReply{Status: wire.OK()}
}

func (d *Disk) handleReadBlock(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	if d.failing.Load() {
		d.record(wire.CmdReadBlock, wire.StatusFailure)
		return wire.ReadBlockReply{Status: wire.Fail(ErrSimulatedFail.Error())}
	}

	var args wire.ReadBlockArgs
	if err := decodeArgs(req, &args); err != nil {
		d.record(wire.CmdReadBlock, wire.StatusFailure)
		return wire.ReadBlockReply{Status: wire.Fail(err.Error())}
	}
	stripeIdx, err := wire.ParseIntField("stripe_idx", args.StripeIdx)
	if err != nil {
		d.record(wire.CmdReadBlock, wire.StatusFailure)
		return wire.ReadBlockReply{Status: wire.Fail(err.Error())}
	}
	diskIndex, err := wire.ParseIntField("disk_index", args.DiskIndex)
	if err != nil {
		d.record(wire.CmdReadBlock, wire.StatusFailure)
		return wire.ReadBlockReply{Status: wire.Fail(err.Error())}
	}

	block, ok := d.store.Read(args.FileName, stripeIdx, diskIndex)
	if !ok {
		d.record(wire.CmdReadBlock, wire.StatusFailure)
		logger.WarnCtx(ctx, "read-block: not found", logger.KeyFile, args.FileName, logger.KeyStripeIdx, stripeIdx, logger.KeyDiskIndex, diskIndex)
		return wire.ReadBlockReply{Status: wire.Fail(ErrBlockNotFound.Error())}
	}
	d.record(wire.CmdReadBlock, wire.StatusSuccess)
	logger.DebugCtx(ctx, "read-block", logger.KeyFile, args.FileName, logger.KeyStripeIdx, stripeIdx, logger.KeyDiskIndex, diskIndex)
	return wire.ReadBlockReply{Status: wire.OK(), BlockB64: base64.StdEncoding.EncodeToString(block)}
}

func (d *Disk) handleFail(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	d.store.Clear()
	d.failing.Store(true)
	d.recordMode()
	d.record(wire.CmdFail, wire.StatusSuccess)
	logger.WarnCtx(ctx, "disk entering fail mode", logger.KeyDisk, d.Name)
	return wire.FailReply{Status: wire.OK(), Event: "fail-complete"}
}

func (d *Disk) handleWipe(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	d.store.Clear()
	d.record(wire.CmdWipe, wire.StatusSuccess)
	return wire.WipeReply{Status: wire.OK()}
}

func (d *Disk) handleSetMode(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
	var args wire.SetModeArgs
	if err := decodeArgs(req, &args); err != nil {
		d.record(wire.CmdSetMode, wire.StatusFailure)
		return wire.SetModeReply{Status: wire.Fail(err.Error())}
	}
	switch args.State {
	case wire.ModeNormal:
		d.failing.Store(false)
	case wire.ModeFail:
		d.failing.Store(true)
	default:
		d.record(wire.CmdSetMode, wire.StatusFailure)
		logger.ErrorCtx(ctx, "set-mode: unknown mode", "mode", args.State)
		return wire.SetModeReply{Status: wire.Fail(fmt.Sprintf("%s: %q", ErrUnknownMode, args.State))}
	}
	d.recordMode()
	d.record(wire.CmdSetMode, wire.StatusSuccess)
	return wire.SetModeReply{Status: wire.OK(), Mode: args.State}
}
