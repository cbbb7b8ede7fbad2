/*
This file contains the records held in the wallet's local chain cache.
  - Outpoint: immutable identity of a spendable output.
  - TrackedOutput: one cached UTXO with its lifecycle flags.
  - ScriptStatus: per-script subscription state.
*/
package utxostore

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// HashSize is the length of a transaction ID.
const HashSize = 32

// HeightUnconfirmed is the sentinel confirmation height for an output that
// has been observed but not yet mined.
const HeightUnconfirmed = int32(0)

// Outpoint identifies a specific output of a specific transaction. It is
// never reused across different outputs.
type Outpoint struct {
	TxID chainhash.Hash `json:"txid"`
	Vout uint32         `json:"vout"`
}

// String returns "txid:vout" with the txid in display hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

// TrackedOutput is one cached unspent transaction output.
//
// A record is created when the sync engine first observes the outpoint in a
// server-reported unspent set. Height changes on reconfirmation; Spent is
// set (the record is never deleted) once the outpoint disappears from a
// later report, and cleared again should a reorg bring the output back.
type TrackedOutput struct {
	Outpoint Outpoint `json:"outpoint"`
	ScriptID string   `json:"script_id"` // identifier of the tracked locking script
	Script   []byte   `json:"script"`    // locking script bytes
	Value    int64    `json:"value"`     // satoshis
	Token    []byte   `json:"token,omitempty"` // contract/category tag, nil for plain value
	Height   int32    `json:"height"`    // confirmation height, HeightUnconfirmed in mempool
	Spent    bool     `json:"spent"`
	SelfSend bool     `json:"self_send"` // funding tx was broadcast by this wallet
}

// ScriptStatus is the subscription state for one tracked script.
type ScriptStatus struct {
	ScriptID   string `json:"script_id"`
	LastStatus string `json:"last_status"` // server-defined digest of the script's history
	Syncing    bool   `json:"syncing"`
	Synced     int    `json:"synced"` // outputs applied by the last completed refresh
	Total      int    `json:"total"`  // outputs reported by the server for that refresh
}

// Diff is one atomic batch of cache mutations produced by a sync refresh.
// Spent-marking and reconfirmations are applied together with the additions
// so a reader never observes an output as gone without also seeing what
// replaced it.
type Diff struct {
	Added       []*TrackedOutput
	Reconfirmed []*TrackedOutput // height/spent mutations of existing records
	Spent       []Outpoint
}

// Empty reports whether the diff carries no mutations.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Reconfirmed) == 0 && len(d.Spent) == 0
}
