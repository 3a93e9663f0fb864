package userclient

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgranger/stripefs/internal/wire"
	"github.com/rgranger/stripefs/pkg/diskstore"
	"github.com/rgranger/stripefs/pkg/manager"
	"github.com/rgranger/stripefs/pkg/stripe"
)

// harness wires an in-process manager and n in-process disks over real
// loopback UDP sockets, mirroring the teacher's integration-test style of
// standing up a full server stack in-process rather than mocking it.
type harness struct {
	t           *testing.T
	managerAddr *net.UDPAddr
	disks       []*diskstore.Disk
}

func newHarness(t *testing.T, nDisks int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	m := manager.New()
	go func() { _ = m.Serve(ctx, 0) }()
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	for i := 0; i < 200 && m.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, m.LocalAddr())
	managerAddr := m.LocalAddr().(*net.UDPAddr)

	h := &harness{t: t, managerAddr: managerAddr}
	for i := 0; i < nDisks; i++ {
		d := diskstore.New(fmt.Sprintf("disk-%d", i), "127.0.0.1", 0, 0, managerAddr, time.Second)
		dctx, dcancel := context.WithCancel(context.Background())
		go func() { _ = d.Serve(dctx) }()
		t.Cleanup(func() {
			dcancel()
			d.Stop()
		})
		waitForDiskListening(t, d)
		h.disks = append(h.disks, d)
	}

	// Content ports were bound ephemerally (port 0); fix up each disk's
	// advertised c_port to the one it actually got before registering.
	for _, d := range h.disks {
		d.CPort = d.LocalAddr().(*net.UDPAddr).Port
		require.NoError(t, d.Register(context.Background()))
	}
	return h
}

func waitForDiskListening(t *testing.T, d *diskstore.Disk) {
	t.Helper()
	for i := 0; i < 200 && d.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, d.LocalAddr())
}

func newTestClient(t *testing.T, h *harness, name string) *Client {
	t.Helper()
	c := New(name, "127.0.0.1", 0, 0, h.managerAddr, time.Second)
	require.NoError(t, c.Register(context.Background()))
	return c
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// Scenario 1 (spec.md S8): n=3, b=128, 200 random bytes copy/read round
// trip is bit-identical; ls shows one file of size 200.
func TestCopyReadRoundTripScenario1(t *testing.T) {
	h := newHarness(t, 3)
	c := newTestClient(t, h, "alice")

	_, err := c.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	data := randomBytes(200)
	require.NoError(t, c.Copy(context.Background(), "dss1", "f1", data))

	ls, err := c.Ls(context.Background())
	require.NoError(t, err)
	require.Len(t, ls.DSSes, 1)
	fm, ok := ls.DSSes[0].Files["f1"]
	require.True(t, ok)
	assert.Equal(t, int64(200), fm.Size)

	got, err := c.Read(context.Background(), "dss1", "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// Scenario 2 (spec.md S8): n=4, b=256, 1024 bytes; inject fail on one slot
// (DiskFailure picks it at random); recovery; read succeeds and matches.
func TestDiskFailureRecoveryScenario2(t *testing.T) {
	h := newHarness(t, 4)
	c := newTestClient(t, h, "alice")

	_, err := c.Configure(context.Background(), "dss1", 4, 256)
	require.NoError(t, err)

	data := randomBytes(1024)
	require.NoError(t, c.Copy(context.Background(), "dss1", "f1", data))

	report, err := c.DiskFailure(context.Background(), "dss1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesRebuilt)

	got, err := c.Read(context.Background(), "dss1", "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// Scenario 3 (spec.md S8): read by a different user than the owner fails
// NOT_OWNER; the original owner's read succeeds.
func TestReadByNonOwnerFailsScenario3(t *testing.T) {
	h := newHarness(t, 3)
	owner := newTestClient(t, h, "alice")
	other := newTestClient(t, h, "mallory")

	_, err := owner.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	data := randomBytes(100)
	require.NoError(t, owner.Copy(context.Background(), "dss1", "f1", data))

	_, err = other.Read(context.Background(), "dss1", "f1", 0)
	assert.Error(t, err)
	assert.ErrorContains(t, err, "NOT_OWNER")

	got, err := owner.Read(context.Background(), "dss1", "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// Invariant 1: parity holds for every stored stripe.
func TestParityHoldsAfterCopy(t *testing.T) {
	h := newHarness(t, 3)
	c := newTestClient(t, h, "alice")
	_, err := c.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	data := randomBytes(300)
	require.NoError(t, c.Copy(context.Background(), "dss1", "f1", data))

	ls, err := c.Ls(context.Background())
	require.NoError(t, err)
	require.Len(t, ls.DSSes, 1)
	disks := ls.DSSes[0].Disks
	require.Len(t, disks, 3)
	byName := make(map[string]wire.DiskEndpoint, len(ls.Disks))
	for _, d := range ls.Disks {
		byName[d.DiskName] = wire.DiskEndpoint{DiskName: d.DiskName, IP: d.IP, CPort: d.CPort}
	}

	total := stripe.TotalStripes(300, 3, 128)
	require.Greater(t, total, 0)
	for s := 0; s < total; s++ {
		blocks := make([][]byte, len(disks))
		for slot, d := range disks {
			blocks[slot], err = c.sendReadBlock(context.Background(), byName[d], "f1", s, slot)
			require.NoError(t, err)
		}
		assert.True(t, stripe.AllZero(stripe.XOR(blocks...)), "stripe %d XOR across all disks must be zero", s)
	}
}

// Invariant 6: read of a file copied with size S writes exactly S bytes;
// checksum matches (covered implicitly by TestCopyReadRoundTripScenario1's
// byte-identical assertion, repeated here for an odd, non-block-aligned
// size to exercise the tail-padding path).
func TestSizeRoundTripOddSize(t *testing.T) {
	h := newHarness(t, 3)
	c := newTestClient(t, h, "alice")
	_, err := c.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	data := randomBytes(257)
	require.NoError(t, c.Copy(context.Background(), "dss1", "f1", data))

	got, err := c.Read(context.Background(), "dss1", "f1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 257)
	assert.Equal(t, data, got)
}

func TestDecommissionRoundTrip(t *testing.T) {
	h := newHarness(t, 3)
	c := newTestClient(t, h, "alice")
	_, err := c.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	require.NoError(t, c.Decommission(context.Background(), "dss1"))

	ls, err := c.Ls(context.Background())
	require.NoError(t, err)
	assert.Len(t, ls.DSSes, 0)
	assert.Len(t, ls.FreeDisks, 3)
}

func TestZeroSizeFileYieldsZeroStripes(t *testing.T) {
	h := newHarness(t, 3)
	c := newTestClient(t, h, "alice")
	_, err := c.Configure(context.Background(), "dss1", 3, 128)
	require.NoError(t, err)

	require.NoError(t, c.Copy(context.Background(), "dss1", "empty", []byte{}))
	got, err := c.Read(context.Background(), "dss1", "empty", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
