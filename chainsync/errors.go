package chainsync

import "errors"

var (
	// ErrSyncFetchFailed indicates a refresh could not fetch the unspent
	// set from the remote peer. Transient; the next status event for the
	// script retries, even one repeating the same token.
	ErrSyncFetchFailed = errors.New("chainsync: unspent set fetch failed")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("chainsync: required parameter is nil")

	// ErrEmptyScriptID indicates a script identifier is empty.
	ErrEmptyScriptID = errors.New("chainsync: script id must not be empty")
)
