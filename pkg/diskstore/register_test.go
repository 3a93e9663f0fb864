package diskstore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
)

func startFakeManager(t *testing.T, accept bool) *net.UDPAddr {
	t.Helper()
	srv := udprpc.NewServer("fake-manager")
	srv.Handle(wire.CmdRegisterDisk, func(ctx context.Context, req wire.Request, addr *net.UDPAddr) any {
		if !accept {
			return wire.RawReply{Status: wire.Fail("duplicate name")}
		}
		return wire.RawReply{Status: wire.OK()}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, 0) }()
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	for i := 0; i < 200 && srv.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, srv.LocalAddr())
	return srv.LocalAddr().(*net.UDPAddr)
}

func TestDiskRegisterSucceeds(t *testing.T) {
	managerAddr := startFakeManager(t, true)
	d := New("disk-a", "127.0.0.1", 0, 0, managerAddr, time.Second)
	err := d.Register(context.Background())
	require.NoError(t, err)
}

func TestDiskRegisterFailsOnDuplicateName(t *testing.T) {
	managerAddr := startFakeManager(t, false)
	d := New("disk-a", "127.0.0.1", 0, 0, managerAddr, time.Second)
	err := d.Register(context.Background())
	assert.Error(t, err)
}
