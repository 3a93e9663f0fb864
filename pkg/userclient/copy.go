package userclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/stripe"
)

// Copy stripes data across dssName's disks and records it under fileName,
// owned by this client, following the write path of spec.md S4.3: per
// stripe, build n-1 b-byte data chunks (the last stripe zero-padded), XOR
// them for parity, and dispatch all n write-block RPCs in parallel. Any
// single write failure aborts the whole copy without calling copy-complete
// (the Open Question in spec.md S9 resolved as (a): never report a
// partially-written file as complete).
func (c *Client) Copy(ctx context.Context, dssName, fileName string, data []byte) error {
	var prep wire.CopyPrepareReply
	err := c.call(ctx, wire.CmdCopyPrepare, wire.CopyPrepareArgs{
		DSSName: dssName, FileName: fileName, Owner: c.Name,
	}, &prep)
	if err != nil {
		return newClientError(wire.CmdCopyPrepare, dssName, fileName, err)
	}
	if prep.Failed() {
		return newClientError(wire.CmdCopyPrepare, dssName, fileName, errf(prep.Error))
	}
	if len(prep.Disks) == 0 {
		return newClientError(wire.CmdCopyPrepare, dssName, fileName, ErrNoDisksReturned)
	}

	n, b := prep.N, prep.StripingUnit
	total := stripe.TotalStripes(int64(len(data)), n, b)

	for s := 0; s < total; s++ {
		if err := c.writeStripe(ctx, fileName, s, n, b, data, prep.Disks); err != nil {
			logger.Warn("copy aborted: stripe write failed", logger.KeyDSS, dssName, logger.KeyFile, fileName, logger.KeyStripeIdx, s, logger.Err(err))
			return newClientError(wire.CmdWriteBlock, dssName, fileName, fmt.Errorf("%w: %s", ErrStripeWriteFailed, err))
		}
	}

	sum := sha256.Sum256(data)
	var complete wire.RawReply
	err = c.call(ctx, wire.CmdCopyComplete, wire.CopyCompleteArgs{
		DSSName: dssName, FileName: fileName, Owner: c.Name,
		Size: int64(len(data)), Checksum: hex.EncodeToString(sum[:]),
	}, &complete)
	if err != nil {
		return newClientError(wire.CmdCopyComplete, dssName, fileName, err)
	}
	if complete.Failed() {
		return newClientError(wire.CmdCopyComplete, dssName, fileName, errf(complete.Error))
	}
	logger.Info("copy complete", logger.KeyDSS, dssName, logger.KeyFile, fileName, logger.KeySize, len(data), "stripes", total)
	return nil
}

// writeStripe builds stripe s's n blocks (n-1 data chunks plus parity) and
// dispatches all n write-block RPCs concurrently, joining via errgroup --
// any single failure cancels the rest and is returned, since the write path
// requires all-or-nothing per stripe.
func (c *Client) writeStripe(ctx context.Context, fileName string, s, n, b int, data []byte, disks []wire.DiskEndpoint) error {
	chunks := stripeChunks(data, s, n, b)
	parity := stripe.XOR(chunks...)
	dataSlots := stripe.DataSlots(n, s)
	paritySlot := stripe.ParitySlot(n, s)

	blocks := make([][]byte, n)
	for i, slot := range dataSlots {
		blocks[slot] = chunks[i]
	}
	blocks[paritySlot] = parity

	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < n; slot++ {
		slot, block := slot, blocks[slot]
		g.Go(func() error {
			return c.sendWriteBlock(gctx, disks[slot], fileName, s, slot, block)
		})
	}
	return g.Wait()
}

func (c *Client) sendWriteBlock(ctx context.Context, disk wire.DiskEndpoint, fileName string, stripeIdx, diskIndex int, block []byte) error {
	addr := &net.UDPAddr{IP: net.ParseIP(disk.IP), Port: disk.CPort}
	var reply wire.WriteBlockReply
	err := c.rpc.Call(ctx, addr, wire.CmdWriteBlock, wire.WriteBlockArgs{
		FileName: fileName, StripeIdx: stripeIdx, DiskIndex: diskIndex,
		BlockB64: base64.StdEncoding.EncodeToString(block),
	}, &reply)
	if err != nil {
		return fmt.Errorf("%s: %w", disk.DiskName, err)
	}
	if reply.Failed() {
		return fmt.Errorf("%s: %s", disk.DiskName, reply.Error)
	}
	return nil
}

// stripeChunks slices the n-1 data chunks for stripe s out of data,
// zero-padding the final stripe to whole b-byte blocks.
func stripeChunks(data []byte, s, n, b int) [][]byte {
	perStripe := stripe.BlocksPerStripe(n)
	start := s * perStripe * b
	chunks := make([][]byte, perStripe)
	for i := 0; i < perStripe; i++ {
		chunk := make([]byte, b)
		lo := start + i*b
		hi := lo + b
		if lo < len(data) {
			end := hi
			if end > len(data) {
				end = len(data)
			}
			copy(chunk, data[lo:end])
		}
		chunks[i] = chunk
	}
	return chunks
}
