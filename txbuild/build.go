package txbuild

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// BuildUnsigned assembles the unsigned transaction for a completed
// selection. Inputs carry empty unlocking scripts; the caller signs the
// result through its own signing capability before broadcast.
func BuildUnsigned(sel *Selection) ([]byte, error) {
	if sel == nil {
		return nil, fmt.Errorf("%w: selection", ErrNilParam)
	}
	if len(sel.Inputs) == 0 {
		return nil, fmt.Errorf("%w: selection has no inputs", ErrNilParam)
	}
	if len(sel.Outputs) == 0 {
		return nil, fmt.Errorf("%w: selection has no outputs", ErrNilParam)
	}

	sdkTx := transaction.NewTransaction()

	for _, in := range sel.Inputs {
		txid := in.TxID
		sdkTx.AddInput(&transaction.TransactionInput{
			SourceTXID:       &txid,
			SourceTxOutIndex: in.Vout,
			SequenceNumber:   transaction.DefaultSequenceNumber,
		})
	}

	for _, out := range sel.Outputs {
		if out.Value < 0 {
			return nil, fmt.Errorf("%w: output has value %d", ErrInvalidAmount, out.Value)
		}
		sdkTx.Outputs = append(sdkTx.Outputs, &transaction.TransactionOutput{
			Satoshis:      uint64(out.Value),
			LockingScript: script.NewFromBytes(out.Script),
		})
	}

	return sdkTx.Bytes(), nil
}
