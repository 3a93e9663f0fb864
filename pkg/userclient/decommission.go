package userclient

import (
	"context"
	"net"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/wire"
)

// Decommission retires dssName: the manager returns the endpoint bundle
// (without yet freeing the disks), the user wipes every member disk's
// store, then decommission-complete flips the disks back to Free and
// deletes the DSS record (spec.md S4.2).
func (c *Client) Decommission(ctx context.Context, dssName string) error {
	var reply wire.DecommissionDSSReply
	err := c.call(ctx, wire.CmdDecommissionDSS, wire.DecommissionDSSArgs{
		DSSName: dssName, UserName: c.Name,
	}, &reply)
	if err != nil {
		return newClientError(wire.CmdDecommissionDSS, dssName, "", err)
	}
	if reply.Failed() {
		return newClientError(wire.CmdDecommissionDSS, dssName, "", errf(reply.Error))
	}

	for _, disk := range reply.Disks {
		addr := &net.UDPAddr{IP: net.ParseIP(disk.IP), Port: disk.CPort}
		var wipeReply wire.WipeReply
		if err := c.rpc.Call(ctx, addr, wire.CmdWipe, struct{}{}, &wipeReply); err != nil {
			return newClientError(wire.CmdWipe, dssName, "", err)
		}
		if wipeReply.Failed() {
			return newClientError(wire.CmdWipe, dssName, "", errf(wipeReply.Error))
		}
	}

	var complete wire.RawReply
	if err := c.call(ctx, wire.CmdDecommissionComplete, wire.DecommissionCompleteArgs{DSSName: dssName}, &complete); err != nil {
		return newClientError(wire.CmdDecommissionComplete, dssName, "", err)
	}
	if complete.Failed() {
		return newClientError(wire.CmdDecommissionComplete, dssName, "", errf(complete.Error))
	}
	logger.Info("dss decommissioned", logger.KeyDSS, dssName)
	return nil
}
