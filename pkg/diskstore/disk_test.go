package diskstore

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgranger/stripefs/internal/udprpc"
	"github.com/rgranger/stripefs/internal/wire"
)

func startTestDisk(t *testing.T) *Disk {
	t.Helper()
	d := New("disk-a", "127.0.0.1", 0, 0, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		d.Stop()
		<-done
	})
	return d
}

func dialDisk(t *testing.T, d *Disk) *net.UDPAddr {
	t.Helper()
	for i := 0; i < 200 && d.srv.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, d.srv.LocalAddr())
	return d.srv.LocalAddr().(*net.UDPAddr)
}

func TestWriteThenReadBlockRoundTrip(t *testing.T) {
	d := startTestDisk(t)
	addr := dialDisk(t, d)
	client := udprpc.NewClient(time.Second)

	block := []byte("hello-block-content-0123456789")
	var writeReply wire.WriteBlockReply
	err := client.Call(context.Background(), addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 1, BlockB64: base64.StdEncoding.EncodeToString(block),
	}, &writeReply)
	require.NoError(t, err)
	assert.False(t, writeReply.Failed())

	var readReply wire.ReadBlockReply
	err = client.Call(context.Background(), addr, wire.CmdReadBlock, wire.ReadBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 1,
	}, &readReply)
	require.NoError(t, err)
	assert.False(t, readReply.Failed())
	got, err := base64.StdEncoding.DecodeString(readReply.BlockB64)
	require.NoError(t, err)
	assert.Equal(t, block, got)
}

func TestReadMissingBlockFails(t *testing.T) {
	d := startTestDisk(t)
	addr := dialDisk(t, d)
	client := udprpc.NewClient(time.Second)

	var reply wire.ReadBlockReply
	err := client.Call(context.Background(), addr, wire.CmdReadBlock, wire.ReadBlockArgs{
		FileName: "nope", StripeIdx: 0, DiskIndex: 0,
	}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Failed())
}

func TestFailModeRejectsReadsButAcceptsWrites(t *testing.T) {
	d := startTestDisk(t)
	addr := dialDisk(t, d)
	client := udprpc.NewClient(time.Second)

	block := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	var wr wire.WriteBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 0, BlockB64: block,
	}, &wr))
	require.False(t, wr.Failed())

	var failReply wire.FailReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdFail, struct{}{}, &failReply))
	assert.False(t, failReply.Failed())
	assert.Equal(t, "fail-complete", failReply.Event)
	assert.Equal(t, 0, d.store.Len())

	var readReply wire.ReadBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadBlock, wire.ReadBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 0,
	}, &readReply))
	assert.True(t, readReply.Failed())
	assert.Equal(t, ErrSimulatedFail.Error(), readReply.Error)

	var wr2 wire.WriteBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 0, BlockB64: block,
	}, &wr2))
	assert.False(t, wr2.Failed(), "write-block must still succeed in fail mode")

	var modeReply wire.SetModeReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdSetMode, wire.SetModeArgs{State: wire.ModeNormal}, &modeReply))
	assert.False(t, modeReply.Failed())

	var readReply2 wire.ReadBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdReadBlock, wire.ReadBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 0,
	}, &readReply2))
	assert.False(t, readReply2.Failed())
}

func TestWipeClearsStoreWithoutChangingMode(t *testing.T) {
	d := startTestDisk(t)
	addr := dialDisk(t, d)
	client := udprpc.NewClient(time.Second)

	block := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	var wr wire.WriteBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: "f1", StripeIdx: 0, DiskIndex: 0, BlockB64: block,
	}, &wr))

	var wipeReply wire.WipeReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdWipe, struct{}{}, &wipeReply))
	assert.False(t, wipeReply.Failed())
	assert.Equal(t, 0, d.store.Len())
	assert.False(t, d.failing.Load())
}

func TestWriteBlockRejectsBadFields(t *testing.T) {
	d := startTestDisk(t)
	addr := dialDisk(t, d)
	client := udprpc.NewClient(time.Second)

	var reply wire.WriteBlockReply
	require.NoError(t, client.Call(context.Background(), addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: "f1", StripeIdx: "abc", DiskIndex: 0, BlockB64: "not-base64!!",
	}, &reply))
	assert.True(t, reply.Failed())
}
