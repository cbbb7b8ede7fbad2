package network

import (
	"fmt"
	"sort"
	"time"

	"github.com/miekg/dns"
)

const (
	// defaultUpstream is the default recursive resolver for seed queries.
	defaultUpstream = "8.8.8.8:53"

	// seedService is the SRV service label under which chain servers
	// publish themselves: _chainrpc._tcp.<seed>.
	seedService = "chainrpc"

	// seedQueryTimeout is the timeout for seed queries.
	seedQueryTimeout = 10 * time.Second

	// edns0BufSize is the EDNS0 UDP buffer size.
	edns0BufSize = 4096
)

// SeedResolver discovers server endpoints from a DNS seed via SRV records.
// It relies on the upstream recursive resolver to perform DNSSEC validation
// and checks the AD (Authenticated Data) flag in responses.
type SeedResolver struct {
	// Upstream is the recursive resolver address (e.g. "8.8.8.8:53").
	Upstream string

	// exchange is the query transport, injectable in tests.
	exchange func(msg *dns.Msg, upstream string) (*dns.Msg, error)
}

// NewSeedResolver creates a SeedResolver.
// If upstream is empty, it defaults to "8.8.8.8:53".
func NewSeedResolver(upstream string) *SeedResolver {
	if upstream == "" {
		upstream = defaultUpstream
	}
	return &SeedResolver{
		Upstream: upstream,
		exchange: func(msg *dns.Msg, upstream string) (*dns.Msg, error) {
			client := &dns.Client{Timeout: seedQueryTimeout}
			resp, _, err := client.Exchange(msg, upstream)
			return resp, err
		},
	}
}

// query sends a DNS query with the DNSSEC OK flag set and requires the AD
// flag on the response.
func (r *SeedResolver) query(name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, true) // DO (DNSSEC OK) flag

	resp, err := r.exchange(msg, r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s %s: %w",
			ErrDNSLookupFailed, name, dns.TypeToString[qtype], err)
	}

	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("%w: query %s %s: rcode %s",
			ErrDNSLookupFailed, name, dns.TypeToString[qtype],
			dns.RcodeToString[resp.Rcode])
	}

	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: AD flag not set for %s %s",
			ErrDNSSECValidationFailed, name, dns.TypeToString[qtype])
	}

	return resp, nil
}

// ResolveSeed expands a DNS seed into an ordered endpoint list: SRV records
// under _chainrpc._tcp.<seed>, sorted by priority then descending weight.
func (r *SeedResolver) ResolveSeed(seed string) ([]ServerEndpoint, error) {
	qname := fmt.Sprintf("_%s._tcp.%s", seedService, seed)

	resp, err := r.query(qname, dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	var srvs []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			srvs = append(srvs, srv)
		}
	}
	if len(srvs) == 0 {
		return nil, fmt.Errorf("%w: no SRV records for %s", ErrDNSLookupFailed, qname)
	}

	sort.SliceStable(srvs, func(i, j int) bool {
		if srvs[i].Priority != srvs[j].Priority {
			return srvs[i].Priority < srvs[j].Priority
		}
		return srvs[i].Weight > srvs[j].Weight
	})

	endpoints := make([]ServerEndpoint, 0, len(srvs))
	for _, srv := range srvs {
		host := dns.Fqdn(srv.Target)
		host = host[:len(host)-1] // trim trailing dot
		endpoints = append(endpoints, ServerEndpoint{
			URL: fmt.Sprintf("wss://%s:%d", host, srv.Port),
		})
	}
	return endpoints, nil
}
