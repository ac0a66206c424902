package selector

import (
	"math/big"
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/decoystation/internal/core"
)

func seedOf(v uint64) [16]byte {
	var s [16]byte
	big.NewInt(0).SetUint64(v).FillBytes(s[:])
	return s
}

func TestSelectDefaultRange(t *testing.T) {
	sel, err := New(DefaultRanges)
	require.NoError(t, err)
	assert.Equal(t, int64(256), sel.Size().Int64())

	prefix := netip.MustParsePrefix("192.122.190.0/24")
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		var seed [16]byte
		rng.Read(seed[:])

		a, err := sel.Select(seed)
		require.NoError(t, err)
		assert.True(t, prefix.Contains(a), a.String())
		assert.True(t, a.Is4())

		again, err := sel.Select(seed)
		require.NoError(t, err)
		assert.Equal(t, a, again)
	}
}

func TestSelectOffsets(t *testing.T) {
	sel, err := New([]string{"192.122.190.0/24"})
	require.NoError(t, err)

	tests := []struct {
		seed uint64
		want string
	}{
		{0, "192.122.190.0"},
		{1, "192.122.190.1"},
		{255, "192.122.190.255"},
		{256, "192.122.190.0"},
		{513, "192.122.190.1"},
	}
	for _, tt := range tests {
		a, err := sel.Select(seedOf(tt.seed))
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.String(), "seed %d", tt.seed)
	}
}

func TestSelectWalksRangesInOrder(t *testing.T) {
	sel, err := New([]string{"10.0.0.8/30", "10.0.0.0/30"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/30,10.0.0.8/30", sel.String())

	a, err := sel.Select(seedOf(3))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", a.String())

	a, err = sel.Select(seedOf(4))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8", a.String())
}

func TestSelectOverlapCountedOnce(t *testing.T) {
	sel, err := New([]string{"10.0.0.0/24", "10.0.0.128/25"})
	require.NoError(t, err)
	assert.Equal(t, int64(256), sel.Size().Int64())
}

func TestSelectIPv6(t *testing.T) {
	sel, err := New([]string{"2001:db8::/64"})
	require.NoError(t, err)

	var seed [16]byte
	for i := range seed {
		seed[i] = 0xff
	}
	a, err := sel.Select(seed)
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::ffff:ffff:ffff:ffff", a.String())
	assert.True(t, sel.Contains(a))
}

func TestNewErrors(t *testing.T) {
	_, err := New([]string{"not-a-prefix"})
	assert.Error(t, err)

	_, err = New(nil)
	assert.ErrorIs(t, err, core.ErrNoAddress)

	_, err = New([]string{" ", ""})
	assert.ErrorIs(t, err, core.ErrNoAddress)
}

func TestSelectNil(t *testing.T) {
	var sel *Selector
	_, err := sel.Select(seedOf(1))
	assert.ErrorIs(t, err, core.ErrNoAddress)
}
