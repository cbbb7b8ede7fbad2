package client

import "errors"

var (
	// ErrNoServers indicates the configuration names neither servers nor
	// a DNS seed to discover them from.
	ErrNoServers = errors.New("client: no servers configured")

	// ErrClosed indicates the client session has been closed.
	ErrClosed = errors.New("client: session closed")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("client: required parameter is nil")
)
