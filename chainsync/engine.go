/*
Package chainsync keeps the local UTXO cache converged with the chain.

The engine consumes pushed script status events, fetches the authoritative
unspent set for the script, diffs it against the cache and applies the
result as one atomic batch. Each tracked script is an independent little
state machine; refreshes for different scripts run concurrently while
refreshes for the same script are serialized.
*/
package chainsync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/libchainclient-go/network"
	"github.com/bitfsorg/libchainclient-go/utxostore"
)

// resultBuffer is the default capacity of the Results channel.
const resultBuffer = 16

// Result is the outcome of one cache refresh for a script.
type Result struct {
	ScriptID     string
	Added        []*utxostore.TrackedOutput
	Reconfirmed  []*utxostore.TrackedOutput
	Spent        []utxostore.Outpoint
	TotalUnspent int // size of the server-reported unspent set
}

// Empty reports whether the refresh changed nothing.
func (r *Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Reconfirmed) == 0 && len(r.Spent) == 0
}

// Config carries the collaborators of an Engine.
type Config struct {
	Service network.ChainService
	Store   utxostore.Store

	// Logger receives engine events. Defaults to a no-op logger.
	Logger zerolog.Logger

	// ResultBuffer overrides the Results channel capacity when positive.
	ResultBuffer int
}

// Engine drives cache refreshes from pushed status events.
type Engine struct {
	svc   network.ChainService
	store utxostore.Store
	log   zerolog.Logger

	mu        sync.Mutex
	scripts   map[string]*sync.Mutex // per-script refresh serialization
	self      map[string]struct{}    // txids broadcast through this wallet
	scriptSrc map[string][]byte      // scriptID -> locking script bytes
	results   chan *Result
}

// New creates an Engine. Service and Store are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("%w: service", ErrNilParam)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilParam)
	}
	buf := cfg.ResultBuffer
	if buf <= 0 {
		buf = resultBuffer
	}
	return &Engine{
		svc:       cfg.Service,
		store:     cfg.Store,
		log:       cfg.Logger,
		scripts:   make(map[string]*sync.Mutex),
		self:      make(map[string]struct{}),
		scriptSrc: make(map[string][]byte),
		results:   make(chan *Result, buf),
	}, nil
}

// Results delivers non-empty refresh outcomes. Slow consumers drop events;
// the cache itself is always authoritative.
func (e *Engine) Results() <-chan *Result {
	return e.results
}

// MarkSelfOriginated records a txid broadcast by this wallet so that
// outputs funded by it are flagged as self-sends when they appear.
func (e *Engine) MarkSelfOriginated(txid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self[txid] = struct{}{}
}

func (e *Engine) isSelfOriginated(txid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.self[txid]
	return ok
}

// RegisterScript records the locking script behind a script identifier so
// that newly observed outputs carry the bytes needed to spend them later.
func (e *Engine) RegisterScript(scriptID string, script []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scriptSrc[scriptID] = script
}

func (e *Engine) scriptFor(scriptID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scriptSrc[scriptID]
}

// scriptLock returns the serialization mutex for a script.
func (e *Engine) scriptLock(scriptID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.scripts[scriptID]
	if !ok {
		l = &sync.Mutex{}
		e.scripts[scriptID] = l
	}
	return l
}

// Run consumes pushed status events until ctx is cancelled or the
// notification channel closes. Each event is handled on its own goroutine;
// the per-script lock keeps refreshes of one script in order.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-e.svc.Notifications():
			if !ok {
				return nil
			}
			go func(n network.Notification) {
				res, err := e.HandleStatus(ctx, n.ScriptID, n.Status)
				if err != nil {
					e.log.Warn().Err(err).Str("script", n.ScriptID).Msg("refresh failed")
					return
				}
				if res == nil || res.Empty() {
					return
				}
				select {
				case e.results <- res:
				default:
					e.log.Warn().Str("script", n.ScriptID).Msg("result dropped, consumer too slow")
				}
			}(n)
		}
	}
}

// HandleStatus refreshes the cache for one script in response to a status
// token. A token equal to the last successfully applied one is a no-op and
// causes no network traffic. Returns nil, nil when nothing needed doing.
//
// On a fetch failure the stored status is left untouched, so the next event
// retries the refresh even if it repeats the same token.
func (e *Engine) HandleStatus(ctx context.Context, scriptID, token string) (*Result, error) {
	if scriptID == "" {
		return nil, ErrEmptyScriptID
	}

	lock := e.scriptLock(scriptID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := e.store.GetStatus(scriptID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	// Skip only when the last completed refresh applied this exact token.
	// Syncing=true means the previous attempt never finished, so the same
	// token must still trigger a full refresh.
	if prev != nil && !prev.Syncing && prev.LastStatus == token {
		e.log.Debug().Str("script", scriptID).Msg("status unchanged, skipping refresh")
		return nil, nil
	}

	lastGood := ""
	if prev != nil {
		lastGood = prev.LastStatus
	}
	if err := e.store.PutStatus(&utxostore.ScriptStatus{
		ScriptID:   scriptID,
		LastStatus: lastGood,
		Syncing:    true,
	}); err != nil {
		return nil, err
	}

	refs, err := e.svc.ListUnspent(ctx, scriptID)
	if err != nil {
		// The syncing marker stays in place and LastStatus keeps its old
		// value, so the next event retries even with a repeated token.
		return nil, fmt.Errorf("%w: %s: %v", ErrSyncFetchFailed, scriptID, err)
	}

	// Record how many outputs this refresh covers. ApplyDiff completes the
	// counters when it stamps the new token.
	if err := e.store.PutStatus(&utxostore.ScriptStatus{
		ScriptID:   scriptID,
		LastStatus: lastGood,
		Syncing:    true,
		Total:      len(refs),
	}); err != nil {
		return nil, err
	}

	diff, res, err := e.buildDiff(scriptID, refs)
	if err != nil {
		return nil, err
	}
	if err := e.store.ApplyDiff(scriptID, diff, token); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("script", scriptID).
		Int("added", len(res.Added)).
		Int("reconfirmed", len(res.Reconfirmed)).
		Int("spent", len(res.Spent)).
		Int("unspent", res.TotalUnspent).
		Msg("cache refreshed")
	return res, nil
}

// buildDiff compares a server-reported unspent set against the cache.
//
// Membership is decided by full outpoint, never by txid alone: a
// transaction can fund several tracked outputs and spend only some of them
// later. An unreported cached output is marked spent in place so its record
// survives for history.
func (e *Engine) buildDiff(scriptID string, refs []*network.UnspentRef) (*utxostore.Diff, *Result, error) {
	cached, err := e.store.ListByScript(scriptID)
	if err != nil {
		return nil, nil, err
	}
	byOutpoint := make(map[utxostore.Outpoint]*utxostore.TrackedOutput, len(cached))
	for _, out := range cached {
		byOutpoint[out.Outpoint] = out
	}

	diff := &utxostore.Diff{}
	reported := make(map[utxostore.Outpoint]struct{}, len(refs))
	for _, ref := range refs {
		h, err := chainhash.NewHashFromHex(ref.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad txid %q: %v", network.ErrInvalidResponse, ref.TxID, err)
		}
		op := utxostore.Outpoint{TxID: *h, Vout: ref.Vout}
		reported[op] = struct{}{}

		existing, known := byOutpoint[op]
		switch {
		case !known:
			diff.Added = append(diff.Added, &utxostore.TrackedOutput{
				Outpoint: op,
				ScriptID: scriptID,
				Script:   e.scriptFor(scriptID),
				Value:    ref.Value,
				Token:    decodeToken(ref.Token),
				Height:   ref.Height,
				SelfSend: e.isSelfOriginated(ref.TxID),
			})
		case existing.Spent:
			// A previously spent outpoint reappearing means the chain
			// reorganized under us. Resurrect the record so the cache
			// converges to what the server reports.
			e.log.Warn().Str("outpoint", op.String()).Msg("spent output reported unspent again, resurrecting")
			cp := *existing
			cp.Spent = false
			cp.Height = ref.Height
			diff.Reconfirmed = append(diff.Reconfirmed, &cp)
		case existing.Height != ref.Height:
			cp := *existing
			cp.Height = ref.Height
			diff.Reconfirmed = append(diff.Reconfirmed, &cp)
		}
	}

	for _, out := range cached {
		if out.Spent {
			continue
		}
		if _, ok := reported[out.Outpoint]; !ok {
			diff.Spent = append(diff.Spent, out.Outpoint)
		}
	}

	return diff, &Result{
		ScriptID:     scriptID,
		Added:        diff.Added,
		Reconfirmed:  diff.Reconfirmed,
		Spent:        diff.Spent,
		TotalUnspent: len(refs),
	}, nil
}

// decodeToken converts a hex token tag to bytes, nil when absent or bad.
func decodeToken(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func isNotFound(err error) bool {
	return errors.Is(err, utxostore.ErrNotFound)
}
