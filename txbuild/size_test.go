package txbuild

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTxID(t *testing.T, b byte) chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHash(bytes.Repeat([]byte{b}, TxIDLen))
	require.NoError(t, err)
	return *h
}

// testP2PKHScript returns a 25-byte P2PKH locking script.
func testP2PKHScript(t *testing.T) []byte {
	t.Helper()
	s, err := hex.DecodeString("76a914" + "00112233445566778899aabbccddeeff00112233" + "88ac")
	require.NoError(t, err)
	require.Len(t, s, 25)
	return s
}

func testInput(t *testing.T, b byte, value int64) *Input {
	t.Helper()
	return &Input{
		TxID:   testTxID(t, b),
		Vout:   0,
		Script: testP2PKHScript(t),
		Value:  value,
	}
}

// --- VarIntSize tests ---

func TestVarIntSize_Boundaries(t *testing.T) {
	tests := []struct {
		n    uint64
		want int
	}{
		{0, 1},
		{1, 1},
		{252, 1},
		{253, 3},
		{65535, 3},
		{65536, 5},
		{1 << 32, 9},
		{(1 << 32) - 1, 5},
		{1<<64 - 1, 9},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, VarIntSize(tc.n), "VarIntSize(%d)", tc.n)
	}
}

// --- Input/output size tests ---

func TestEstimateInputSize_DefaultPlaceholder(t *testing.T) {
	in := testInput(t, 0x01, 1000)

	size, err := EstimateInputSize(in)
	require.NoError(t, err)

	// outpoint(36) + sequence(4) + varint(107) + placeholder(107)
	assert.Equal(t, 40+1+DefaultUnlockerSize, size)
}

func TestEstimateInputSize_UnlockerOverride(t *testing.T) {
	in := testInput(t, 0x01, 1000)
	in.UnlockerSize = 300 // e.g. multisig unlocking script

	size, err := EstimateInputSize(in)
	require.NoError(t, err)

	// varint(300) takes 3 bytes.
	assert.Equal(t, 40+3+300, size)
}

func TestEstimateInputSize_NegativeValue(t *testing.T) {
	in := testInput(t, 0x01, -1)
	_, err := EstimateInputSize(in)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestEstimateOutputSize_P2PKH(t *testing.T) {
	out := &Output{Script: testP2PKHScript(t), Value: 1000}

	size, err := EstimateOutputSize(out)
	require.NoError(t, err)

	// value(8) + varint(25) + script(25)
	assert.Equal(t, 34, size)
}

// A 25-byte script is 50 hex characters; a correct estimator counts bytes.
func TestEstimateOutputSize_CountsBytesNotHexChars(t *testing.T) {
	script := testP2PKHScript(t)
	require.Len(t, hex.EncodeToString(script), 50)

	size, err := EstimateOutputSize(&Output{Script: script})
	require.NoError(t, err)
	assert.Equal(t, 8+1+25, size)
}

func TestEstimateOutputSize_NegativeValue(t *testing.T) {
	_, err := EstimateOutputSize(&Output{Script: testP2PKHScript(t), Value: -500})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// --- Transaction size tests ---

func TestEstimateTxSize_Additive(t *testing.T) {
	inputs := []*Input{testInput(t, 0x01, 1000), testInput(t, 0x02, 2000)}
	outputs := []*Output{
		{Script: testP2PKHScript(t), Value: 500},
		{Script: testP2PKHScript(t), Value: 600},
		{Script: testP2PKHScript(t), Value: 700},
	}

	total, err := EstimateTxSize(inputs, outputs)
	require.NoError(t, err)

	want := txOverhead + VarIntSize(2) + VarIntSize(3)
	for _, in := range inputs {
		n, sErr := EstimateInputSize(in)
		require.NoError(t, sErr)
		want += n
	}
	for _, out := range outputs {
		n, sErr := EstimateOutputSize(out)
		require.NoError(t, sErr)
		want += n
	}
	assert.Equal(t, want, total)
}

func TestEstimateTxSize_Empty(t *testing.T) {
	size, err := EstimateTxSize(nil, nil)
	require.NoError(t, err)

	// version + locktime + two one-byte zero counts.
	assert.Equal(t, 10, size)
}

func TestEstimateTxSize_PropagatesInvalidAmount(t *testing.T) {
	inputs := []*Input{testInput(t, 0x01, -1)}
	_, err := EstimateTxSize(inputs, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// --- Dust threshold tests ---

func TestDustThreshold_TracksFeeRate(t *testing.T) {
	script := testP2PKHScript(t)

	at1 := DustThreshold(script, 1)
	at5 := DustThreshold(script, 5)

	assert.Equal(t, int64(34*DustFeeMultiplier), at1)
	assert.Equal(t, 5*at1, at5)
}

func TestDustThreshold_ZeroRate(t *testing.T) {
	assert.Equal(t, int64(0), DustThreshold(testP2PKHScript(t), 0))
}

func BenchmarkEstimateTxSize(b *testing.B) {
	in := &Input{Script: make([]byte, 25), Value: 1000}
	out := &Output{Script: make([]byte, 25), Value: 500}
	inputs := []*Input{in, in, in}
	outputs := []*Output{out, out}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = EstimateTxSize(inputs, outputs)
	}
}
