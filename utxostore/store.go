package utxostore

import (
	"fmt"
	"sync"
)

// Store persists the wallet's UTXO cache and per-script subscription state.
//
// ApplyDiff is the only mutation path used during sync and must be atomic:
// either every spend, reconfirmation and addition in the batch lands
// together with the status stamp, or none of them do.
type Store interface {
	// Get retrieves a cached output by outpoint.
	Get(op Outpoint) (*TrackedOutput, error)

	// Put inserts a single output. Used outside sync (e.g. recording the
	// wallet's own change ahead of confirmation).
	Put(out *TrackedOutput) error

	// ListByScript returns all cached outputs for a script, spent or not.
	ListByScript(scriptID string) ([]*TrackedOutput, error)

	// ListUnspent returns the cached unspent outputs for a script.
	ListUnspent(scriptID string) ([]*TrackedOutput, error)

	// ApplyDiff atomically applies a sync batch for a script and stamps
	// the script's status record with lastStatus, syncing=false.
	ApplyDiff(scriptID string, diff *Diff, lastStatus string) error

	// GetStatus returns the subscription status for a script, or
	// ErrNotFound if the script has never been synced.
	GetStatus(scriptID string) (*ScriptStatus, error)

	// PutStatus stores a subscription status record.
	PutStatus(status *ScriptStatus) error

	// Close releases the underlying resources.
	Close() error
}

// MemStore is an in-memory Store used in tests and throwaway sessions.
type MemStore struct {
	mu       sync.RWMutex
	outputs  map[Outpoint]*TrackedOutput
	byScript map[string][]Outpoint
	status   map[string]*ScriptStatus
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		outputs:  make(map[Outpoint]*TrackedOutput),
		byScript: make(map[string][]Outpoint),
		status:   make(map[string]*ScriptStatus),
	}
}

// Get retrieves a cached output by outpoint.
func (s *MemStore) Get(op Outpoint) (*TrackedOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.outputs[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	cp := *out
	return &cp, nil
}

// Put inserts a single output.
func (s *MemStore) Put(out *TrackedOutput) error {
	if out == nil {
		return fmt.Errorf("%w: output", ErrNilParam)
	}
	if out.ScriptID == "" {
		return ErrEmptyScriptID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outputs[out.Outpoint]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOutput, out.Outpoint)
	}
	s.putLocked(out)
	return nil
}

// putLocked inserts or replaces a record. Caller holds s.mu.
func (s *MemStore) putLocked(out *TrackedOutput) {
	cp := *out
	if _, exists := s.outputs[cp.Outpoint]; !exists {
		s.byScript[cp.ScriptID] = append(s.byScript[cp.ScriptID], cp.Outpoint)
	}
	s.outputs[cp.Outpoint] = &cp
}

// ListByScript returns all cached outputs for a script.
func (s *MemStore) ListByScript(scriptID string) ([]*TrackedOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*TrackedOutput
	for _, op := range s.byScript[scriptID] {
		cp := *s.outputs[op]
		result = append(result, &cp)
	}
	return result, nil
}

// ListUnspent returns the cached unspent outputs for a script.
func (s *MemStore) ListUnspent(scriptID string) ([]*TrackedOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*TrackedOutput
	for _, op := range s.byScript[scriptID] {
		if out := s.outputs[op]; !out.Spent {
			cp := *out
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ApplyDiff atomically applies a sync batch for a script.
func (s *MemStore) ApplyDiff(scriptID string, diff *Diff, lastStatus string) error {
	if diff == nil {
		return fmt.Errorf("%w: diff", ErrNilParam)
	}
	if scriptID == "" {
		return ErrEmptyScriptID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating anything, so a bad entry
	// cannot leave a partial application behind.
	for _, op := range diff.Spent {
		if _, ok := s.outputs[op]; !ok {
			return fmt.Errorf("%w: spend of %s", ErrNotFound, op)
		}
	}
	for _, out := range diff.Reconfirmed {
		if _, ok := s.outputs[out.Outpoint]; !ok {
			return fmt.Errorf("%w: reconfirmation of %s", ErrNotFound, out.Outpoint)
		}
	}

	// Spends and reconfirmations first, then additions.
	for _, op := range diff.Spent {
		s.outputs[op].Spent = true
	}
	for _, out := range diff.Reconfirmed {
		s.outputs[out.Outpoint].Height = out.Height
		// A reorg can report a spent outpoint as unspent again; the
		// reconfirmation record carries the authoritative flag.
		s.outputs[out.Outpoint].Spent = out.Spent
	}
	for _, out := range diff.Added {
		s.putLocked(out)
	}

	// Stamp the new token and complete the sync counters. Total was
	// recorded by the engine before the diff was built.
	total := 0
	if prev, ok := s.status[scriptID]; ok {
		total = prev.Total
	}
	s.status[scriptID] = &ScriptStatus{
		ScriptID:   scriptID,
		LastStatus: lastStatus,
		Synced:     total,
		Total:      total,
	}
	return nil
}

// GetStatus returns the subscription status for a script.
func (s *MemStore) GetStatus(scriptID string) (*ScriptStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.status[scriptID]
	if !ok {
		return nil, fmt.Errorf("%w: status for script %q", ErrNotFound, scriptID)
	}
	cp := *st
	return &cp, nil
}

// PutStatus stores a subscription status record.
func (s *MemStore) PutStatus(status *ScriptStatus) error {
	if status == nil {
		return fmt.Errorf("%w: status", ErrNilParam)
	}
	if status.ScriptID == "" {
		return ErrEmptyScriptID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *status
	s.status[cp.ScriptID] = &cp
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
