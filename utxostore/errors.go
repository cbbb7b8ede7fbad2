package utxostore

import "errors"

var (
	// ErrNotFound indicates no record exists for the requested key.
	ErrNotFound = errors.New("utxostore: record not found")

	// ErrDuplicateOutput indicates an outpoint is already cached.
	ErrDuplicateOutput = errors.New("utxostore: output already cached")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("utxostore: required parameter is nil")

	// ErrEmptyScriptID indicates a script identifier is empty.
	ErrEmptyScriptID = errors.New("utxostore: script id must not be empty")
)
