package manager

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
)

func startTestManager(t *testing.T) (*Manager, *net.UDPAddr) {
	t.Helper()
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Serve(ctx, 0) }()
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	for i := 0; i < 200 && m.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, m.LocalAddr())
	return m, m.LocalAddr().(*net.UDPAddr)
}

func registerNDisks(t *testing.T, client *udprpc.Client, addr *net.UDPAddr, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		var reply wire.RawReply
		err := client.Call(context.Background(), addr, wire.CmdRegisterDisk, wire.RegisterDiskArgs{
			DiskName: fmt.Sprintf("disk-%d", i), IP: "127.0.0.1", MPort: 9000 + i, CPort: 9100 + i,
		}, &reply)
		require.NoError(t, err)
		require.False(t, reply.Failed())
	}
}

func TestRegisterAndLsRoundTrip(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 3)

	var ls wire.LsReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdLs, struct{}{}, &ls))
	assert.False(t, ls.Failed())
	assert.Len(t, ls.FreeDisks, 3)
}

// Scenario 1 (spec.md S8): n=3, b=128 copy then read round trip via the
// manager's prepare/complete handshake (no actual block RPCs here -- that
// is covered end-to-end in pkg/userclient).
func TestCopyReadRoundTripMetadata(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 3)

	var cfg wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss1", N: 3, StripingUnit: 128}, &cfg))
	require.False(t, cfg.Failed())

	var prep wire.CopyPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyPrepare,
		wire.CopyPrepareArgs{DSSName: "dss1", FileName: "f1", Owner: "alice"}, &prep))
	require.False(t, prep.Failed())
	assert.Equal(t, 3, prep.N)
	assert.Equal(t, 128, prep.StripingUnit)

	var complete wire.RawReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyComplete,
		wire.CopyCompleteArgs{DSSName: "dss1", FileName: "f1", Owner: "alice", Size: 200}, &complete))
	require.False(t, complete.Failed())

	var ls wire.LsReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdLs, struct{}{}, &ls))
	require.Len(t, ls.DSSes, 1)
	fm, ok := ls.DSSes[0].Files["f1"]
	require.True(t, ok)
	assert.Equal(t, int64(200), fm.Size)

	var read wire.ReadPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadPrepare,
		wire.ReadPrepareArgs{DSSName: "dss1", FileName: "f1", UserName: "alice"}, &read))
	require.False(t, read.Failed())
	assert.Equal(t, int64(200), read.Size)

	var readComplete wire.RawReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadComplete,
		wire.ReadCompleteArgs{DSSName: "dss1"}, &readComplete))
	assert.False(t, readComplete.Failed())
}

// Scenario 3 (spec.md S8): read by a non-owner fails NOT_OWNER; the owner's
// read succeeds.
func TestReadPrepareNotOwner(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 3)

	var cfg wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss1", N: 3, StripingUnit: 128}, &cfg))

	var prep wire.CopyPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyPrepare,
		wire.CopyPrepareArgs{DSSName: "dss1", FileName: "f1", Owner: "alice"}, &prep))
	var complete wire.RawReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyComplete,
		wire.CopyCompleteArgs{DSSName: "dss1", FileName: "f1", Owner: "alice", Size: 100}, &complete))

	var readBad wire.ReadPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadPrepare,
		wire.ReadPrepareArgs{DSSName: "dss1", FileName: "f1", UserName: "mallory"}, &readBad))
	assert.True(t, readBad.Failed())
	assert.Equal(t, "NOT_OWNER", readBad.Error)

	var readOK wire.ReadPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadPrepare,
		wire.ReadPrepareArgs{DSSName: "dss1", FileName: "f1", UserName: "alice"}, &readOK))
	assert.False(t, readOK.Failed())
	assert.Equal(t, int64(100), readOK.Size)
}

// Scenario 4 (spec.md S8): configuring a second DSS with only 2 Free disks
// remaining fails with the "fewer than n disks Free" message.
func TestConfigureDSSFailsWithTooFewFreeDisks(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 5)

	var cfg1 wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss1", N: 3, StripingUnit: 128}, &cfg1))
	require.False(t, cfg1.Failed())

	var cfg2 wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss2", N: 3, StripingUnit: 128}, &cfg2))
	assert.True(t, cfg2.Failed())
	assert.Contains(t, cfg2.Error, "Free")
}

// Scenario 5 (spec.md S8): decommission while copy is in-flight is rejected
// with the busy error; after copy-complete, decommission proceeds.
func TestBusyExclusionCopyThenDecommission(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 3)

	var cfg wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss1", N: 3, StripingUnit: 128}, &cfg))

	var prep wire.CopyPrepareReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyPrepare,
		wire.CopyPrepareArgs{DSSName: "dss1", FileName: "f1", Owner: "alice"}, &prep))
	require.False(t, prep.Failed())

	var decomm wire.DecommissionDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdDecommissionDSS,
		wire.DecommissionDSSArgs{DSSName: "dss1", UserName: "alice"}, &decomm))
	assert.True(t, decomm.Failed())
	assert.Contains(t, decomm.Error, "busy: copy in progress")

	var complete wire.RawReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyComplete,
		wire.CopyCompleteArgs{DSSName: "dss1", FileName: "f1", Owner: "alice", Size: 1}, &complete))
	require.False(t, complete.Failed())

	var decomm2 wire.DecommissionDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdDecommissionDSS,
		wire.DecommissionDSSArgs{DSSName: "dss1", UserName: "alice"}, &decomm2))
	assert.False(t, decomm2.Failed())
}

// Scenario 6 (spec.md S8): striping_unit=100 (not a power of two, below
// 128) fails; striping_unit=256 with n=2 fails for n<3.
func TestConfigureDSSValidationScenario6(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 5)

	var r1 wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dssA", N: 3, StripingUnit: 100}, &r1))
	assert.True(t, r1.Failed())

	var r2 wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dssB", N: 2, StripingUnit: 256}, &r2))
	assert.True(t, r2.Failed())
}

func TestCompletionWithoutMatchingBusyStateFails(t *testing.T) {
	_, addr := startTestManager(t)
	client := udprpc.NewClient(time.Second)
	registerNDisks(t, client, addr, 3)
	var cfg wire.ConfigureDSSReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdConfigureDSS,
		wire.ConfigureDSSArgs{DSSName: "dss1", N: 3, StripingUnit: 128}, &cfg))

	var complete wire.RawReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdCopyComplete,
		wire.CopyCompleteArgs{DSSName: "dss1", FileName: "f1", Owner: "alice", Size: 1}, &complete))
	assert.True(t, complete.Failed())
}
