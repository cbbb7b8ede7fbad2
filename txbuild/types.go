/*
This file contains the candidate input/output structures consumed by the
size estimator and the coin selector.
  - Input: a spendable output offered for selection.
  - Output: a not-yet-bound transaction output supplied by the caller.
*/
package txbuild

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

const (
	// TxIDLen is the length of a transaction ID.
	TxIDLen = 32

	// DefaultUnlockerSize is the placeholder byte length for a default
	// signature script (P2PKH sig + compressed pubkey) used when the
	// actual unlocking script is not yet known.
	DefaultUnlockerSize = 107

	// DefaultFeeRate is the default fee rate in satoshis per byte.
	DefaultFeeRate = uint64(1)

	// DustFeeMultiplier scales the change output's byte cost when
	// deciding whether leftover value is worth a change output.
	DustFeeMultiplier = 3

	// MaxFeeSats is the emergency fee ceiling: ten times the fee of a
	// 100 kB transaction at the default rate. A computed fee above this
	// is treated as a bug, never broadcast.
	MaxFeeSats = int64(10 * 100_000 * DefaultFeeRate)
)

// Outpoint identifies a specific output of a specific transaction.
type Outpoint struct {
	TxID chainhash.Hash
	Vout uint32
}

// String returns "txid:vout" with the txid in display hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

// Input is a spendable output offered to the coin selector.
type Input struct {
	TxID   chainhash.Hash
	Vout   uint32
	Script []byte // locking script of the output being spent
	Value  int64  // satoshis

	// UnlockerSize overrides DefaultUnlockerSize for scripts whose
	// unlocking script length varies by signer (e.g. multisig).
	// Zero means use the default placeholder.
	UnlockerSize int
}

// Outpoint returns the input's outpoint.
func (in *Input) Outpoint() Outpoint {
	return Outpoint{TxID: in.TxID, Vout: in.Vout}
}

// Output is a candidate transaction output: a locking script and a value.
type Output struct {
	Script []byte // locking script
	Value  int64  // satoshis
}

// Selection is the result of a successful coin selection.
type Selection struct {
	Inputs  []*Input  // selected inputs, required first, then caller order
	Outputs []*Output // mandatory outputs plus appended change, if any
	Fee     int64     // total fee paid, satoshis
	Change  int64     // value of the change output, 0 if none was added
}
