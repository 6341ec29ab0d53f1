//go:generate go run golang.org/x/tools/cmd/stringer -type=LoadBalancingPolicy

package network

import (
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
)

// DefaultUpstream is the resolver used when none is configured.
const DefaultUpstream = "8.8.8.8:53"

// LoadBalancingPolicy formalizes how a forwarded query picks its upstream resolver when several
// are configured.
type LoadBalancingPolicy int

const (
	// RoundRobin statefully iterates through each upstream on every forwarded query.
	RoundRobin LoadBalancingPolicy = iota
	// Random selects an upstream at random for every forwarded query.
	Random
)

// UpstreamPool selects the resolver address a query is forwarded to. Responses are correlated by
// transaction ID alone, so queries from one client may be spread across resolvers.
type UpstreamPool interface {
	// Next returns the address to forward the next query to.
	Next() net.Addr

	// Addrs returns every address in the pool.
	Addrs() []net.Addr
}

// RoundRobinUpstreamPool shards queries among upstreams fairly in round-robin order.
type RoundRobinUpstreamPool struct {
	addrs []net.Addr
	rrIdx atomic.Uint64
}

// RandomUpstreamPool shards queries among upstreams randomly.
type RandomUpstreamPool struct {
	addrs []net.Addr
}

// NewUpstreamPool resolves every upstream address and creates a pool governed by the load
// balancing policy. It returns an error if no address is given or any address fails to resolve.
func NewUpstreamPool(addrs []string, lbPolicy LoadBalancingPolicy) (UpstreamPool, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("upstream: no upstream servers specified")
	}

	resolved := make([]net.Addr, 0, len(addrs))
	for _, addr := range addrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("upstream: error resolving upstream address: addr=%s err=%w", addr, err)
		}

		resolved = append(resolved, udpAddr)
	}

	switch lbPolicy {
	case RoundRobin:
		return &RoundRobinUpstreamPool{addrs: resolved}, nil
	case Random:
		return &RandomUpstreamPool{addrs: resolved}, nil
	default:
		return nil, fmt.Errorf("upstream: no pool for load balancing policy: policy=%s", lbPolicy)
	}
}

// Next returns the upstream at the current round robin index and advances the index.
func (p *RoundRobinUpstreamPool) Next() net.Addr {
	idx := p.rrIdx.Add(1) - 1
	return p.addrs[idx%uint64(len(p.addrs))]
}

// Addrs returns every address in the pool.
func (p *RoundRobinUpstreamPool) Addrs() []net.Addr {
	return append([]net.Addr{}, p.addrs...)
}

// Next selects an upstream at random.
func (p *RandomUpstreamPool) Next() net.Addr {
	return p.addrs[rand.Intn(len(p.addrs))]
}

// Addrs returns every address in the pool.
func (p *RandomUpstreamPool) Addrs() []net.Addr {
	return append([]net.Addr{}, p.addrs...)
}

// ParseLoadBalancingPolicy parses a LoadBalancingPolicy constant from its stringified
// representation in a case-insensitive manner. Underscores are ignored, so "round_robin" parses as
// RoundRobin.
func ParseLoadBalancingPolicy(lbPolicy string) (LoadBalancingPolicy, bool) {
	knownLbPolicies := []LoadBalancingPolicy{
		RoundRobin,
		Random,
	}

	normalized := strings.ReplaceAll(lbPolicy, "_", "")

	for _, knownLbPolicy := range knownLbPolicies {
		if strings.EqualFold(normalized, knownLbPolicy.String()) {
			return knownLbPolicy, true
		}
	}

	return RoundRobin, false
}
