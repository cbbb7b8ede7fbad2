package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Remote procedure names understood by chain servers.
const (
	methodVersion     = "server.version"
	methodSubscribe   = "blockchain.scripthash.subscribe"
	methodListUnspent = "blockchain.scripthash.listunspent"
	methodGetTx       = "blockchain.transaction.get"
	methodBroadcast   = "blockchain.transaction.broadcast"
)

// protocolVersion is the protocol revision announced during the identity
// handshake.
const protocolVersion = "1.4"

// ChainService is the primary interface for talking to a chain server.
// The sync engine and the transaction layer consume it; Manager implements
// it over whichever server connection is currently live.
type ChainService interface {
	// ListUnspent returns the authoritative unspent set for a script
	// identifier (scripthash).
	ListUnspent(ctx context.Context, scriptID string) ([]*UnspentRef, error)

	// SubscribeScript registers for push status events on a script and
	// returns the current status token.
	SubscribeScript(ctx context.Context, scriptID string) (string, error)

	// GetRawTx returns the raw transaction hex for the given txid.
	GetRawTx(ctx context.Context, txid string) (string, error)

	// Broadcast submits a raw transaction hex and returns the txid.
	Broadcast(ctx context.Context, rawTxHex string) (string, error)

	// Notifications delivers server-pushed script status events.
	Notifications() <-chan Notification
}

// UnspentRef is one entry of a server-reported unspent set.
type UnspentRef struct {
	TxID   string `json:"tx_hash"`
	Vout   uint32 `json:"tx_pos"`
	Height int32  `json:"height"` // 0 while unconfirmed
	Value  int64  `json:"value"`
	Token  string `json:"token_category,omitempty"` // hex tag, empty for plain value
}

// Notification is a pushed (scriptID, statusToken) event.
type Notification struct {
	ScriptID string
	Status   string
}

// ScriptHash derives the identifier servers index scripts by: the sha256
// digest of the locking script bytes, reversed, in hex.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:])
}
