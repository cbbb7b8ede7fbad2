package network

import (
	"fmt"
	"strings"
)

// ServerEndpoint is one candidate server. Endpoints form an ordered list
// with no identity beyond position; the manager walks the list on failover.
type ServerEndpoint struct {
	URL string
}

// ParseEndpoints validates a list of server URLs. Only WebSocket schemes
// are accepted; a bare host:port defaults to wss.
func ParseEndpoints(urls []string) ([]ServerEndpoint, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	endpoints := make([]ServerEndpoint, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
			// ok
		case strings.Contains(raw, "://"):
			return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidEndpoint, raw)
		default:
			raw = "wss://" + raw
		}
		endpoints = append(endpoints, ServerEndpoint{URL: raw})
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return endpoints, nil
}
