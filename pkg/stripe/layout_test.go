package stripe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParitySlot(t *testing.T) {
	cases := []struct {
		n, s, want int
	}{
		{3, 0, 2},
		{3, 1, 1},
		{3, 2, 0},
		{3, 3, 2}, // wraps
		{4, 0, 3},
		{4, 5, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParitySlot(c.n, c.s), "n=%d s=%d", c.n, c.s)
	}
}

func TestBlocksPerStripe(t *testing.T) {
	assert.Equal(t, 2, BlocksPerStripe(3))
	assert.Equal(t, 3, BlocksPerStripe(4))
}

func TestTotalStripes(t *testing.T) {
	assert.Equal(t, 0, TotalStripes(0, 3, 128))
	assert.Equal(t, 1, TotalStripes(1, 3, 128))
	assert.Equal(t, 1, TotalStripes(256, 3, 128)) // exactly one stripe
	assert.Equal(t, 2, TotalStripes(257, 3, 128))
	assert.Equal(t, 2, TotalStripes(1024, 4, 256)) // n=4,b=256: 768 bytes/stripe -> ceil(1024/768)=2
}

func TestDataSlotsExcludesParityAndIsAscending(t *testing.T) {
	for n := 3; n <= 6; n++ {
		for s := 0; s < 2*n; s++ {
			slots := DataSlots(n, s)
			parity := ParitySlot(n, s)
			assert.Len(t, slots, n-1)
			prev := -1
			for _, slot := range slots {
				assert.NotEqual(t, parity, slot)
				assert.Greater(t, slot, prev)
				prev = slot
			}
		}
	}
}

func TestXORIsSelfInverse(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	b := []byte{0xFF, 0x00, 0x0F}
	parity := XOR(a, b)
	reconstructed := XOR(parity, b)
	assert.Equal(t, a, reconstructed)
}

func TestAllZero(t *testing.T) {
	assert.True(t, AllZero([]byte{0, 0, 0}))
	assert.False(t, AllZero([]byte{0, 1, 0}))
	assert.True(t, AllZero(nil))
}

func TestXORParityInvariant(t *testing.T) {
	n := 4
	blocks := [][]byte{
		{0x01, 0x02},
		{0x03, 0x04},
		{0x05, 0x06},
	}
	parity := XOR(blocks...)
	all := append(append([][]byte{}, blocks...), parity)
	combined := XOR(all...)
	assert.True(t, AllZero(combined))
	_ = n
}
