// Package userclient implements the user role's stripe engine: registration
// with the manager, the parity-striped write path, the reconstructing read
// path, and the failure-injection/recovery drill. Parallel per-stripe block
// dispatch uses golang.org/x/sync/errgroup, matching the teacher's use of
// errgroup for bounded fan-out/join elsewhere in its transfer pipeline
// (pkg/transfer), generalized here from byte-range chunk transfer to
// fixed-size striped blocks.
package userclient

import (
	"context"
	"net"
	"time"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/metrics"
	promrecorders "github.com/rgranger/stripefs/pkg/metrics/prometheus"
)

// MaxRetries is the reference stripe-read retry budget (spec.md S4.3).
const MaxRetries = 5

// Client is one running user identity: its own endpoint triple, the
// manager's address, and the RPC client used both for manager calls and for
// per-stripe block calls.
type Client struct {
	Name  string
	IP    string
	MPort int
	CPort int

	managerAddr *net.UDPAddr
	rpc         *udprpc.Client
	metrics     metrics.UserMetrics

	// MaxRetries overrides MaxRetries for tests that want fast failure.
	MaxRetries int
}

// New creates a Client bound to the given identity, ready to Register.
func New(name, ip string, mPort, cPort int, managerAddr *net.UDPAddr, timeout time.Duration) *Client {
	return &Client{
		Name: name, IP: ip, MPort: mPort, CPort: cPort,
		managerAddr: managerAddr,
		rpc:         udprpc.NewClient(timeout),
		metrics:     promrecorders.NewUserMetrics(),
		MaxRetries:  MaxRetries,
	}
}

// call issues one RPC to the manager from the client's own m_port -- the
// user, like the disk, makes its manager calls from its advertised port
// (spec.md S6's CLI positional m_port), not an ephemeral one.
func (c *Client) call(ctx context.Context, cmd string, args, reply any) error {
	return udprpc.CallFromPort(ctx, c.MPort, c.managerAddr, c.rpc.Timeout, cmd, args, reply)
}

// Register sends register-user to the manager.
func (c *Client) Register(ctx context.Context) error {
	args := wire.RegisterUserArgs{UserName: c.Name, IP: c.IP, MPort: c.MPort, CPort: c.CPort}
	var reply wire.RawReply
	if err := c.call(ctx, wire.CmdRegisterUser, args, &reply); err != nil {
		return newClientError(wire.CmdRegisterUser, "", "", err)
	}
	if reply.Failed() {
		return newClientError(wire.CmdRegisterUser, "", "", errf(reply.Error))
	}
	logger.Info("user registered", logger.KeyUser, c.Name)
	return nil
}

// Deregister sends deregister-user to the manager.
func (c *Client) Deregister(ctx context.Context) error {
	var reply wire.RawReply
	if err := c.call(ctx, wire.CmdDeregisterUser, wire.DeregisterUserArgs{UserName: c.Name}, &reply); err != nil {
		return err
	}
	if reply.Failed() {
		return errf(reply.Error)
	}
	return nil
}

// Ls returns the manager's registry snapshot.
func (c *Client) Ls(ctx context.Context) (wire.LsReply, error) {
	var reply wire.LsReply
	if err := c.call(ctx, wire.CmdLs, struct{}{}, &reply); err != nil {
		return wire.LsReply{}, err
	}
	if reply.Failed() {
		return wire.LsReply{}, errf(reply.Error)
	}
	return reply, nil
}

// Configure creates a new DSS and returns its chosen disk names in slot
// order.
func (c *Client) Configure(ctx context.Context, dssName string, n, stripingUnit int) ([]string, error) {
	var reply wire.ConfigureDSSReply
	err := c.call(ctx, wire.CmdConfigureDSS, wire.ConfigureDSSArgs{
		DSSName: dssName, N: n, StripingUnit: stripingUnit,
	}, &reply)
	if err != nil {
		return nil, newClientError(wire.CmdConfigureDSS, dssName, "", err)
	}
	if reply.Failed() {
		return nil, newClientError(wire.CmdConfigureDSS, dssName, "", errf(reply.Error))
	}
	return reply.Disks, nil
}

type errString string

func (e errString) Error() string { return string(e) }

func errf(s string) error { return errString(s) }
