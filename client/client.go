/*
Package client is the top-level session object tying the pieces together:
the connection manager, the sync engine and the UTXO cache. Applications
create one Client per wallet session; there is no package-level state.
*/
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitfsorg/libchainclient-go/chainsync"
	"github.com/bitfsorg/libchainclient-go/network"
	"github.com/bitfsorg/libchainclient-go/txbuild"
	"github.com/bitfsorg/libchainclient-go/utxostore"
)

// connectPollInterval paces the wait loop in Connect.
const connectPollInterval = 20 * time.Millisecond

// Config configures a Client session.
type Config struct {
	// Servers is the ordered endpoint list. When empty, Seed is resolved
	// through DNS to obtain one.
	Servers []string

	// Seed is a DNS name carrying SRV records for chain servers.
	Seed string

	// FeeRate in satoshis per byte for coin selection. Defaults to
	// txbuild.DefaultFeeRate.
	FeeRate uint64

	// ConnectTimeout and PauseDuration tune the connection manager;
	// zero values take the manager defaults.
	ConnectTimeout time.Duration
	PauseDuration  time.Duration

	Logger zerolog.Logger

	// Resolver overrides the DNS seed resolver, tests mostly.
	Resolver *network.SeedResolver

	// Dial overrides the server dialer, tests mostly.
	Dial network.DialFunc
}

// Client is one wallet session against a set of chain servers.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	manager *network.Manager
	engine  *chainsync.Engine
	store   utxostore.Store

	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New creates a Client. A nil store gets an in-memory cache, suitable for
// throwaway sessions; pass a bolt-backed store for persistence.
func New(cfg Config, store utxostore.Store) (*Client, error) {
	if store == nil {
		store = utxostore.NewMemStore()
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = txbuild.DefaultFeeRate
	}

	endpoints, err := resolveEndpoints(cfg)
	if err != nil {
		return nil, err
	}

	manager, err := network.NewManager(network.ManagerConfig{
		Endpoints:      endpoints,
		ConnectTimeout: cfg.ConnectTimeout,
		PauseDuration:  cfg.PauseDuration,
		Logger:         cfg.Logger,
		Dial:           cfg.Dial,
	})
	if err != nil {
		return nil, err
	}

	engine, err := chainsync.New(chainsync.Config{
		Service: manager,
		Store:   store,
		Logger:  cfg.Logger,
	})
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		manager: manager,
		engine:  engine,
		store:   store,
		cancel:  cancel,
	}
	go func() { _ = engine.Run(ctx) }()
	return c, nil
}

// resolveEndpoints turns the configuration into an endpoint list, falling
// back to DNS seed discovery when no servers are named.
func resolveEndpoints(cfg Config) ([]network.ServerEndpoint, error) {
	if len(cfg.Servers) > 0 {
		return network.ParseEndpoints(cfg.Servers)
	}
	if cfg.Seed == "" {
		return nil, ErrNoServers
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = network.NewSeedResolver("")
	}
	endpoints, err := resolver.ResolveSeed(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("seed discovery: %w", err)
	}
	return endpoints, nil
}

// Connect brings the session online under the given wallet identity and
// waits until a server connection is established or ctx expires. The
// manager keeps retrying in the background either way.
func (c *Client) Connect(ctx context.Context, identity string) error {
	if err := c.manager.Connect(identity); err != nil {
		return err
	}
	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()
	for {
		if c.manager.State() == network.StateConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect takes the session offline. No reconnect is scheduled.
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// State returns the connection state.
func (c *Client) State() network.State {
	return c.manager.State()
}

// Track subscribes to a script and runs the initial cache refresh. The
// returned result may be nil when the cache was already current.
func (c *Client) Track(ctx context.Context, scriptID string) (*chainsync.Result, error) {
	token, err := c.manager.SubscribeScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	return c.engine.HandleStatus(ctx, scriptID, token)
}

// TrackScript derives the script identifier from a locking script,
// registers the script bytes with the sync engine and tracks it. Outputs
// found for the script then carry the locking script, so Spendable can
// hand them straight to the transaction builder.
func (c *Client) TrackScript(ctx context.Context, lockingScript []byte) (*chainsync.Result, error) {
	scriptID := network.ScriptHash(lockingScript)
	c.engine.RegisterScript(scriptID, lockingScript)
	return c.Track(ctx, scriptID)
}

// Refresh forces a cache refresh for a script outside the push path.
func (c *Client) Refresh(ctx context.Context, scriptID, token string) (*chainsync.Result, error) {
	return c.engine.HandleStatus(ctx, scriptID, token)
}

// Broadcast submits a raw transaction and records its txid so that outputs
// it funds are flagged as self-sends when they appear in the cache.
func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	txid, err := c.manager.Broadcast(ctx, rawTxHex)
	if err != nil {
		return "", err
	}
	c.engine.MarkSelfOriginated(txid)
	return txid, nil
}

// GetRawTx fetches a raw transaction by txid from the connected server.
func (c *Client) GetRawTx(ctx context.Context, txid string) (string, error) {
	return c.manager.GetRawTx(ctx, txid)
}

// Spendable returns the cached unspent outputs of a script as selection
// candidates. Token-bearing outputs are excluded; plain value only.
func (c *Client) Spendable(scriptID string) ([]*txbuild.Input, error) {
	outs, err := c.store.ListUnspent(scriptID)
	if err != nil {
		return nil, err
	}
	var inputs []*txbuild.Input
	for _, out := range outs {
		if len(out.Token) > 0 {
			continue
		}
		inputs = append(inputs, &txbuild.Input{
			TxID:   out.Outpoint.TxID,
			Vout:   out.Outpoint.Vout,
			Script: out.Script,
			Value:  out.Value,
		})
	}
	return inputs, nil
}

// SelectCoins runs coin selection over the given candidates at the
// session's configured fee rate.
func (c *Client) SelectCoins(available []*txbuild.Input, outputs []*txbuild.Output, required []txbuild.Outpoint, changeScript []byte) (*txbuild.Selection, error) {
	return txbuild.SelectCoins(available, outputs, required, c.cfg.FeeRate, changeScript)
}

// Store exposes the underlying UTXO cache.
func (c *Client) Store() utxostore.Store { return c.store }

// Results delivers sync refresh outcomes.
func (c *Client) Results() <-chan *chainsync.Result { return c.engine.Results() }

// Events delivers connection lifecycle events.
func (c *Client) Events() <-chan network.Event { return c.manager.Events() }

// Close shuts the session down and releases the cache.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.manager.Close()
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	return err
}
