package network

import (
	"testing"
)

func TestRoundRobinUpstreamPoolCycles(t *testing.T) {
	pool, err := NewUpstreamPool([]string{"127.0.0.1:5301", "127.0.0.1:5302", "127.0.0.1:5303"}, RoundRobin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{
		"127.0.0.1:5301", "127.0.0.1:5302", "127.0.0.1:5303",
		"127.0.0.1:5301", "127.0.0.1:5302",
	}

	for i, want := range expected {
		if got := pool.Next().String(); got != want {
			t.Errorf("step %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestRandomUpstreamPoolStaysInPool(t *testing.T) {
	addrs := []string{"127.0.0.1:5301", "127.0.0.1:5302"}

	pool, err := NewUpstreamPool(addrs, Random)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 50; i++ {
		got := pool.Next().String()
		if got != addrs[0] && got != addrs[1] {
			t.Fatalf("address outside the pool: %s", got)
		}
	}

	if len(pool.Addrs()) != 2 {
		t.Errorf("expected 2 addresses, got %d", len(pool.Addrs()))
	}
}

func TestNewUpstreamPoolErrors(t *testing.T) {
	if _, err := NewUpstreamPool(nil, RoundRobin); err == nil {
		t.Error("expected an error for an empty pool")
	}

	if _, err := NewUpstreamPool([]string{"not-an-address"}, RoundRobin); err == nil {
		t.Error("expected an error for an unresolvable address")
	}

	if _, err := NewUpstreamPool([]string{"127.0.0.1:53"}, LoadBalancingPolicy(42)); err == nil {
		t.Error("expected an error for an unknown policy")
	}
}

func TestParseLoadBalancingPolicy(t *testing.T) {
	cases := []struct {
		input  string
		policy LoadBalancingPolicy
		ok     bool
	}{
		{"RoundRobin", RoundRobin, true},
		{"round_robin", RoundRobin, true},
		{"random", Random, true},
		{"failover", RoundRobin, false},
	}

	for _, c := range cases {
		policy, ok := ParseLoadBalancingPolicy(c.input)
		if policy != c.policy || ok != c.ok {
			t.Errorf("ParseLoadBalancingPolicy(%q) = (%v, %v); want (%v, %v)", c.input, policy, ok, c.policy, c.ok)
		}
	}
}
