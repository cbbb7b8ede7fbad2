package txbuild

import "fmt"

// Serialized transaction layout constants.
const (
	// txOverhead is the fixed per-transaction overhead:
	// version (4) + locktime (4).
	txOverhead = 8

	// inputOverhead is the fixed per-input overhead:
	// previous outpoint (32 txid + 4 index) + sequence (4).
	inputOverhead = 40

	// outputOverhead is the fixed per-output overhead: value (8).
	outputOverhead = 8
)

// VarIntSize returns the serialized length of a compact variable-length
// integer: 1 byte below 253, 3 bytes up to 65535, 5 bytes up to 2^32-1,
// 9 bytes above.
func VarIntSize(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// EstimateInputSize returns the serialized byte length of one input.
//
// The unlocking script is not known before signing, so its length is taken
// from in.UnlockerSize when set, or DefaultUnlockerSize otherwise. Script
// lengths are byte counts, never hex character counts.
func EstimateInputSize(in *Input) (int, error) {
	if in == nil {
		return 0, fmt.Errorf("%w: input", ErrNilParam)
	}
	if in.Value < 0 {
		return 0, fmt.Errorf("%w: input %s has value %d", ErrInvalidAmount, in.Outpoint(), in.Value)
	}
	scriptLen := in.UnlockerSize
	if scriptLen == 0 {
		scriptLen = DefaultUnlockerSize
	}
	return inputOverhead + VarIntSize(uint64(scriptLen)) + scriptLen, nil
}

// EstimateOutputSize returns the serialized byte length of one output.
func EstimateOutputSize(out *Output) (int, error) {
	if out == nil {
		return 0, fmt.Errorf("%w: output", ErrNilParam)
	}
	if out.Value < 0 {
		return 0, fmt.Errorf("%w: output has value %d", ErrInvalidAmount, out.Value)
	}
	scriptLen := len(out.Script)
	return outputOverhead + VarIntSize(uint64(scriptLen)) + scriptLen, nil
}

// EstimateTxSize returns the exact serialized byte length of a transaction
// with the given inputs and outputs, including the compact count prefixes.
//
// The estimate is strictly additive: fixed overhead, count prefix and sum of
// input sizes, count prefix and sum of output sizes.
func EstimateTxSize(inputs []*Input, outputs []*Output) (int, error) {
	size := txOverhead

	size += VarIntSize(uint64(len(inputs)))
	for _, in := range inputs {
		n, err := EstimateInputSize(in)
		if err != nil {
			return 0, err
		}
		size += n
	}

	size += VarIntSize(uint64(len(outputs)))
	for _, out := range outputs {
		n, err := EstimateOutputSize(out)
		if err != nil {
			return 0, err
		}
		size += n
	}

	return size, nil
}

// DustThreshold returns the value below which an output locked by the given
// script is uneconomical: its byte cost at the given fee rate, scaled by
// DustFeeMultiplier. Derived from the same size estimator used for fee
// accounting, so it tracks the active fee rate.
func DustThreshold(changeScript []byte, feeRate uint64) int64 {
	size, err := EstimateOutputSize(&Output{Script: changeScript})
	if err != nil {
		// Only reachable with a negative value, which a zero-value probe
		// output cannot carry.
		return 0
	}
	return int64(feeRate) * int64(size) * DustFeeMultiplier
}
