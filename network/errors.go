package network

import "errors"

var (
	// ErrNotConnected indicates a request was attempted with no live
	// server connection. The caller may retry after reconnection.
	ErrNotConnected = errors.New("network: not connected")

	// ErrConnectionFailed indicates the client could not reach or keep a
	// connection to a server.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrInvalidResponse indicates the server returned a malformed or
	// unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrBroadcastRejected indicates the server rejected the broadcast
	// transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrNoEndpoints indicates the manager was configured with an empty
	// server list.
	ErrNoEndpoints = errors.New("network: no server endpoints configured")

	// ErrInvalidEndpoint indicates a server URL could not be parsed.
	ErrInvalidEndpoint = errors.New("network: invalid server endpoint")

	// ErrManagerClosed indicates the connection manager has been shut
	// down for good.
	ErrManagerClosed = errors.New("network: manager closed")

	// ErrDNSLookupFailed indicates seed discovery could not resolve any
	// server records.
	ErrDNSLookupFailed = errors.New("network: dns lookup failed")

	// ErrDNSSECValidationFailed indicates the resolver response was not
	// DNSSEC-authenticated.
	ErrDNSSECValidationFailed = errors.New("network: dnssec validation failed")
)

// errTruncateLen caps server diagnostic text embedded in errors.
const errTruncateLen = 120

// truncateErrText shortens long server diagnostics before they reach
// user-visible errors. Internal error codes stay parseable at the front.
func truncateErrText(s string) string {
	if len(s) <= errTruncateLen {
		return s
	}
	return s[:errTruncateLen] + "..."
}
