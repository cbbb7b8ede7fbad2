package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libchainclient-go/network"
	"github.com/bitfsorg/libchainclient-go/txbuild"
	"github.com/bitfsorg/libchainclient-go/utxostore"
)

// fakeSession answers remote calls from canned handlers so a full session
// can run without a server.
type fakeSession struct {
	mu      sync.Mutex
	calls   []string
	unspent []*network.UnspentRef
	token   string

	notifs chan network.Notification
	done   chan struct{}
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		notifs: make(chan network.Notification, 8),
		done:   make(chan struct{}),
		token:  "tok-1",
	}
}

func (s *fakeSession) setUnspent(refs []*network.UnspentRef, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unspent = refs
	s.token = token
}

func (s *fakeSession) Call(ctx context.Context, method string, params, result interface{}) error {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	var v interface{}
	switch method {
	case "server.version":
		v = []string{"fakeserver/1.0", "1.4"}
	case "blockchain.scripthash.subscribe":
		v = s.token
	case "blockchain.scripthash.listunspent":
		v = s.unspent
	case "blockchain.transaction.broadcast":
		v = strings.Repeat("ee", 32)
	default:
		s.mu.Unlock()
		return fmt.Errorf("unexpected method %s", method)
	}
	s.mu.Unlock()

	if result == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func (s *fakeSession) Notifications() <-chan network.Notification { return s.notifs }
func (s *fakeSession) Done() <-chan struct{}                      { return s.done }
func (s *fakeSession) Err() error                                 { return nil }
func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func newTestClient(t *testing.T) (*Client, *fakeSession) {
	t.Helper()

	sess := newFakeSession()
	c, err := New(Config{
		Servers: []string{"ws://server-1"},
		Dial: func(ctx context.Context, url string, log zerolog.Logger) (network.Session, error) {
			return sess, nil
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, sess
}

func txidHex(b byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", b), 32)
}

func TestNewRequiresServersOrSeed(t *testing.T) {
	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, ErrNoServers)
}

func TestNewRejectsBadServerURL(t *testing.T) {
	_, err := New(Config{Servers: []string{"http://nope"}}, nil)
	require.ErrorIs(t, err, network.ErrInvalidEndpoint)
}

func TestConnectWaitsForConnection(t *testing.T) {
	c, _ := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))
	require.Equal(t, network.StateConnected, c.State())
}

func TestTrackRunsInitialSync(t *testing.T) {
	c, sess := newTestClient(t)
	sess.setUnspent([]*network.UnspentRef{
		{TxID: txidHex(0x01), Vout: 0, Height: 100, Value: 100_000},
	}, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))

	res, err := c.Track(ctx, "script-a")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Added, 1)

	inputs, err := c.Spendable("script-a")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, int64(100_000), inputs[0].Value)
}

func TestTrackScriptDerivesIdentifier(t *testing.T) {
	c, sess := newTestClient(t)
	sess.setUnspent([]*network.UnspentRef{
		{TxID: txidHex(0x05), Vout: 0, Height: 10, Value: 9000},
	}, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))

	script := []byte{0x76, 0xa9, 0x14}
	res, err := c.TrackScript(ctx, script)
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	require.Equal(t, network.ScriptHash(script), res.ScriptID)

	// Outputs discovered for the tracked script carry the locking script,
	// so the spendable inputs are ready for the transaction builder.
	inputs, err := c.Spendable(network.ScriptHash(script))
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, script, inputs[0].Script)
}

func TestSpendableExcludesTokenOutputs(t *testing.T) {
	c, sess := newTestClient(t)
	sess.setUnspent([]*network.UnspentRef{
		{TxID: txidHex(0x01), Vout: 0, Height: 100, Value: 1000},
		{TxID: txidHex(0x02), Vout: 0, Height: 100, Value: 2000, Token: "deadbeef"},
	}, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))

	_, err := c.Track(ctx, "script-a")
	require.NoError(t, err)

	inputs, err := c.Spendable("script-a")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, int64(1000), inputs[0].Value)
}

func TestSelectCoinsUsesConfiguredRate(t *testing.T) {
	c, _ := newTestClient(t)

	h, err := chainhash.NewHashFromHex(txidHex(0x01))
	require.NoError(t, err)
	available := []*txbuild.Input{{TxID: *h, Vout: 0, Value: 100_000}}
	outputs := []*txbuild.Output{{Script: make([]byte, 25), Value: 50_000}}

	sel, err := c.SelectCoins(available, outputs, nil, make([]byte, 25))
	require.NoError(t, err)
	require.Len(t, sel.Inputs, 1)
	require.Positive(t, sel.Fee)
	require.NotNil(t, sel.Change)
}

func TestBroadcastMarksSelfSend(t *testing.T) {
	c, sess := newTestClient(t)
	sess.setUnspent(nil, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))

	_, err := c.Track(ctx, "script-a")
	require.NoError(t, err)

	txid, err := c.Broadcast(ctx, "0100")
	require.NoError(t, err)
	require.Equal(t, txidHex(0xee), txid)

	// The broadcast tx shows up in the next unspent report; its output
	// must carry the self-send flag.
	sess.setUnspent([]*network.UnspentRef{
		{TxID: txid, Vout: 0, Height: 0, Value: 7000},
	}, "tok-2")
	res, err := c.Refresh(ctx, "script-a", "tok-2")
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	require.True(t, res.Added[0].SelfSend)
}

func TestResultsDeliveredFromPushEvents(t *testing.T) {
	c, sess := newTestClient(t)
	sess.setUnspent([]*network.UnspentRef{
		{TxID: txidHex(0x03), Vout: 1, Height: 0, Value: 4000},
	}, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, "wallet-1"))

	sess.notifs <- network.Notification{ScriptID: "script-a", Status: "tok-1"}

	select {
	case res := <-c.Results():
		require.Equal(t, "script-a", res.ScriptID)
		require.Len(t, res.Added, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for refresh result")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	sess := newFakeSession()
	c, err := New(Config{
		Servers: []string{"ws://server-1"},
		Dial: func(ctx context.Context, url string, log zerolog.Logger) (network.Session, error) {
			return sess, nil
		},
	}, utxostore.NewMemStore())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Close(), ErrClosed)
}
