package units

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNative(t *testing.T) {
	wei, err := ParseNative("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", wei.String())

	wei, err = ParseNative(" 2 ")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", wei.String())

	_, err = ParseNative("-1")
	assert.Error(t, err)

	_, err = ParseNative("0.0000000000000000001")
	assert.Error(t, err)

	_, err = ParseNative("abc")
	assert.Error(t, err)
}

func TestFormatNative(t *testing.T) {
	assert.Equal(t, "0.5", FormatNative(big.NewInt(500000000000000000)))
	assert.Equal(t, "0", FormatNative(nil))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())

	_, err = ParseAmount("-5")
	assert.Error(t, err)

	_, err = ParseAmount("1.5")
	assert.Error(t, err)
}

func TestParseAmountBounds(t *testing.T) {
	v, err := ParseAmount(MaxUint256.String())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(MaxUint256))

	over := new(big.Int).Add(MaxUint256, big.NewInt(1))
	_, err = ParseAmount(over.String())
	assert.ErrorContains(t, err, "uint256")

	_, err = ParseAmount(strings.Repeat("9", 200))
	assert.Error(t, err)
}

func TestParseNativeBounds(t *testing.T) {
	// MaxUint256 wei is just under 1.16e59 native units
	v, err := ParseNative("1e59")
	require.NoError(t, err)
	assert.Equal(t, 78, len(v.String()))

	cases := []string{"1e60", "2e59", "1e20000000", "1e-20000000", "0.1e-18"}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			start := time.Now()
			_, err := ParseNative(in)
			assert.Error(t, err)
			assert.Less(t, time.Since(start), time.Second)
		})
	}

	v, err = ParseNative("0e20000000")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	v, err = ParseNative("1e-18")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(big.NewInt(0)))
	assert.True(t, InRange(MaxUint256))
	assert.False(t, InRange(new(big.Int).Lsh(big.NewInt(1), 256)))
	assert.False(t, InRange(big.NewInt(-1)))
	assert.False(t, InRange(nil))
}
