package txbuild

import (
	"fmt"
)

// SelectCoins chooses which of the available inputs fund the given outputs
// at the given fee rate.
//
// Required outpoints are always included verbatim (they typically carry
// non-fungible value that cannot be substituted). The remaining inputs are
// accumulated one at a time in the order supplied by the caller -- no
// re-sorting, the caller controls prioritization -- until the running input
// value covers the running output value plus fee. The fee is recomputed from
// the full candidate transaction after every addition, so the size used
// during accumulation always matches a final re-estimate.
//
// If the leftover exceeds the dust threshold for changeScript, a change
// output is appended and its own byte cost is charged to the fee; otherwise
// the leftover is folded into the fee. An empty changeScript always folds.
//
// SelectCoins is pure: it never mutates its arguments and is safely
// retryable and callable concurrently.
func SelectCoins(available []*Input, outputs []*Output, required []Outpoint, feeRate uint64, changeScript []byte) (*Selection, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: outputs", ErrNilParam)
	}

	var outputTotal int64
	for _, out := range outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: output", ErrNilParam)
		}
		if out.Value < 0 {
			return nil, fmt.Errorf("%w: output has value %d", ErrInvalidAmount, out.Value)
		}
		outputTotal += out.Value
	}
	for _, in := range available {
		if in == nil {
			return nil, fmt.Errorf("%w: input", ErrNilParam)
		}
		if in.Value < 0 {
			return nil, fmt.Errorf("%w: input %s has value %d", ErrInvalidAmount, in.Outpoint(), in.Value)
		}
	}

	// Partition available into required and remainder, preserving order.
	wanted := make(map[Outpoint]bool, len(required))
	for _, op := range required {
		wanted[op] = true
	}
	var selected []*Input
	var remainder []*Input
	var inputTotal int64
	for _, in := range available {
		if wanted[in.Outpoint()] {
			selected = append(selected, in)
			inputTotal += in.Value
			delete(wanted, in.Outpoint())
		} else {
			remainder = append(remainder, in)
		}
	}
	for op := range wanted {
		return nil, fmt.Errorf("%w: %s", ErrRequiredMissing, op)
	}

	fee, err := feeFor(selected, outputs, feeRate)
	if err != nil {
		return nil, err
	}

	// Accumulate until fully funded.
	for _, in := range remainder {
		if inputTotal >= outputTotal+fee {
			break
		}
		selected = append(selected, in)
		inputTotal += in.Value
		fee, err = feeFor(selected, outputs, feeRate)
		if err != nil {
			return nil, err
		}
	}
	if inputTotal < outputTotal+fee {
		return nil, fmt.Errorf("%w: need %d sat, have %d sat",
			ErrInsufficientFunds, outputTotal+fee, inputTotal)
	}

	sel := &Selection{
		Inputs:  selected,
		Outputs: outputs,
		Fee:     inputTotal - outputTotal,
	}

	// Decide whether the leftover is worth a change output. The change
	// output's own bytes are paid by the sender, so the comparison uses
	// the fee of the transaction including it.
	if len(changeScript) > 0 {
		change := &Output{Script: changeScript}
		withChange := make([]*Output, 0, len(outputs)+1)
		withChange = append(withChange, outputs...)
		withChange = append(withChange, change)

		feeWithChange, err := feeFor(selected, withChange, feeRate)
		if err != nil {
			return nil, err
		}
		leftover := inputTotal - outputTotal - feeWithChange
		if leftover > DustThreshold(changeScript, feeRate) {
			change.Value = leftover
			sel.Outputs = withChange
			sel.Fee = feeWithChange
			sel.Change = leftover
		}
	}

	if sel.Fee > MaxFeeSats {
		return nil, fmt.Errorf("%w: %d sat exceeds ceiling %d sat",
			ErrFeeTooLarge, sel.Fee, MaxFeeSats)
	}

	return sel, nil
}

// feeFor returns the fee for a transaction with the given inputs and outputs
// at the given rate.
func feeFor(inputs []*Input, outputs []*Output, feeRate uint64) (int64, error) {
	size, err := EstimateTxSize(inputs, outputs)
	if err != nil {
		return 0, err
	}
	return int64(feeRate) * int64(size), nil
}
