package userclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/stripe"
)

// Read reconstructs fileName from dssName and returns its bytes, following
// the read path of spec.md S4.3. faultPercent is the optional fault
// injection knob p in [0,100]: for each stripe attempt, with probability
// p/100, one received block has a random bit flipped before reconstruction
// is attempted, exercising the parity-mismatch retry branch.
func (c *Client) Read(ctx context.Context, dssName, fileName string, faultPercent int) ([]byte, error) {
	var prep wire.ReadPrepareReply
	err := c.call(ctx, wire.CmdReadPrepare, wire.ReadPrepareArgs{
		DSSName: dssName, FileName: fileName, UserName: c.Name,
	}, &prep)
	if err != nil {
		return nil, newClientError(wire.CmdReadPrepare, dssName, fileName, err)
	}
	if prep.Failed() {
		return nil, newClientError(wire.CmdReadPrepare, dssName, fileName, errf(prep.Error))
	}
	if len(prep.Disks) == 0 {
		return nil, newClientError(wire.CmdReadPrepare, dssName, fileName, ErrNoDisksReturned)
	}

	n, b := prep.N, prep.StripingUnit
	total := stripe.TotalStripes(prep.Size, n, b)

	out := make([]byte, 0, total*stripe.BlocksPerStripe(n)*b)
	for s := 0; s < total; s++ {
		dataChunks, err := c.readStripe(ctx, fileName, s, n, b, prep.Disks, faultPercent)
		if err != nil {
			return nil, newClientError(wire.CmdReadBlock, dssName, fileName, err)
		}
		for _, chunk := range dataChunks {
			out = append(out, chunk...)
		}
	}
	if int64(len(out)) > prep.Size {
		out = out[:prep.Size]
	}

	if prep.Checksum != "" {
		sum := sha256.Sum256(out)
		if hex.EncodeToString(sum[:]) != prep.Checksum {
			if c.metrics != nil {
				c.metrics.RecordParityMismatch()
			}
			return nil, newClientError(wire.CmdReadComplete, dssName, fileName, ErrChecksumMismatch)
		}
	}

	var complete wire.RawReply
	if err := c.call(ctx, wire.CmdReadComplete, wire.ReadCompleteArgs{DSSName: dssName}, &complete); err != nil {
		return nil, newClientError(wire.CmdReadComplete, dssName, fileName, err)
	}
	if complete.Failed() {
		return nil, newClientError(wire.CmdReadComplete, dssName, fileName, errf(complete.Error))
	}
	logger.Info("read complete", logger.KeyDSS, dssName, logger.KeyFile, fileName, logger.KeySize, len(out), "stripes", total)
	return out, nil
}

// readStripe reads all n blocks of stripe s in parallel and applies the
// reconstruction table of spec.md S4.3, making up to c.MaxRetries attempts
// in total on corruption or multi-block loss.
func (c *Client) readStripe(ctx context.Context, fileName string, s, n, b int, disks []wire.DiskEndpoint, faultPercent int) ([][]byte, error) {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		blocks, missing := c.fetchStripeBlocks(ctx, fileName, s, n, disks)
		injectFault(blocks, faultPercent)

		switch len(missing) {
		case 0:
			if stripe.AllZero(stripe.XOR(blocks...)) {
				return dataChunksOf(blocks, n, s), nil
			}
			lastErr = fmt.Errorf("stripe %d: parity mismatch on attempt %d", s, attempt+1)
			if c.metrics != nil {
				c.metrics.RecordParityMismatch()
			}
		case 1:
			slot := missing[0]
			present := make([][]byte, 0, n-1)
			for i, blk := range blocks {
				if i != slot {
					present = append(present, blk)
				}
			}
			blocks[slot] = stripe.XOR(present...)
			if c.metrics != nil {
				c.metrics.RecordReconstruction()
			}
			return dataChunksOf(blocks, n, s), nil
		default:
			lastErr = fmt.Errorf("stripe %d: %d blocks missing on attempt %d", s, len(missing), attempt+1)
		}
	}
	logger.WarnCtx(ctx, "stripe unreadable after retries", logger.KeyFile, fileName, logger.KeyStripeIdx, s, logger.KeyRetry, maxRetries, logger.Err(lastErr))
	return nil, fmt.Errorf("%w: %s", ErrStripeUnreadable, lastErr)
}

// fetchStripeBlocks reads all n slots of stripe s concurrently, joined via
// errgroup. Individual failures are expected outcomes here (a missing block
// is normal input to the reconstruction table), so the per-worker function
// never returns an error to errgroup -- it always records into blocks/missing
// and returns nil, using errgroup purely for the fan-out/join discipline
// spec.md S5 requires, not for error-based cancellation.
func (c *Client) fetchStripeBlocks(ctx context.Context, fileName string, s, n int, disks []wire.DiskEndpoint) (blocks [][]byte, missing []int) {
	blocks = make([][]byte, n)
	missingFlags := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < n; slot++ {
		slot := slot
		g.Go(func() error {
			block, err := c.sendReadBlock(gctx, disks[slot], fileName, s, slot)
			if err != nil {
				missingFlags[slot] = true
				return nil
			}
			blocks[slot] = block
			return nil
		})
	}
	_ = g.Wait()

	blockLen := 0
	for _, blk := range blocks {
		if len(blk) > blockLen {
			blockLen = len(blk)
		}
	}
	for i, missingFlag := range missingFlags {
		if missingFlag {
			missing = append(missing, i)
			blocks[i] = make([]byte, blockLen)
		}
	}
	return blocks, missing
}

func (c *Client) sendReadBlock(ctx context.Context, disk wire.DiskEndpoint, fileName string, stripeIdx, diskIndex int) ([]byte, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(disk.IP), Port: disk.CPort}
	var reply wire.ReadBlockReply
	err := c.rpc.Call(ctx, addr, wire.CmdReadBlock, wire.ReadBlockArgs{
		FileName: fileName, StripeIdx: stripeIdx, DiskIndex: diskIndex,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Failed() {
		return nil, errf(reply.Error)
	}
	return base64.StdEncoding.DecodeString(reply.BlockB64)
}

// dataChunksOf returns the data-slot blocks of a reconstructed stripe in
// ascending slot order -- the order the write path placed file chunks in.
func dataChunksOf(blocks [][]byte, n, s int) [][]byte {
	slots := stripe.DataSlots(n, s)
	out := make([][]byte, len(slots))
	for i, slot := range slots {
		out[i] = blocks[slot]
	}
	return out
}

// injectFault flips one random bit in one randomly chosen non-empty block
// (which may be the zero-filled placeholder of a missing slot) with
// probability faultPercent/100, per the fault-injection knob of
// spec.md S4.3.
func injectFault(blocks [][]byte, faultPercent int) {
	if faultPercent <= 0 {
		return
	}
	if rand.Intn(100) >= faultPercent {
		return
	}
	nonEmpty := make([]int, 0, len(blocks))
	for i, b := range blocks {
		if len(b) > 0 {
			nonEmpty = append(nonEmpty, i)
		}
	}
	if len(nonEmpty) == 0 {
		return
	}
	slot := nonEmpty[rand.Intn(len(nonEmpty))]
	byteIdx := rand.Intn(len(blocks[slot]))
	bitIdx := rand.Intn(8)
	blocks[slot][byteIdx] ^= 1 << uint(bitIdx)
}
