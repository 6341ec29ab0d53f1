package intercept

import (
	"fmt"
	"net/netip"

	"dnshack/internal/dns"
)

// AddressHack forces a domain to resolve to operator-chosen addresses. At least one address must
// be set. The other may be left invalid (the zero netip.Addr), in which case records of that
// family for the domain are removed from answers instead of rewritten.
type AddressHack struct {
	Domain string
	IPv4   netip.Addr
	IPv6   netip.Addr
}

// String implements the Stringer interface for human-consumable representation.
func (h AddressHack) String() string {
	return fmt.Sprintf("AddressHack{domain: %s, ipv4: %v, ipv6: %v}", h.Domain, h.IPv4, h.IPv6)
}

// AddressRule rewrites every A and AAAA answer record whose name matches one of its hacks.
type AddressRule struct {
	hacks []AddressHack
}

// NewAddressRule creates a rule from one or more hacks, applied in the given order. It returns an
// error if a hack has no domain, has no substitute address, or carries an address of the wrong
// family.
func NewAddressRule(hacks ...AddressHack) (*AddressRule, error) {
	rule := &AddressRule{}

	for idx, hack := range hacks {
		if hack.Domain == "" {
			return nil, fmt.Errorf("address_rule: missing domain: idx=%d", idx)
		}

		if !hack.IPv4.IsValid() && !hack.IPv6.IsValid() {
			return nil, fmt.Errorf("address_rule: no substitute address: domain=%s", hack.Domain)
		}

		if hack.IPv4.IsValid() && !hack.IPv4.Is4() {
			return nil, fmt.Errorf("address_rule: not an IPv4 address: domain=%s addr=%v", hack.Domain, hack.IPv4)
		}

		if hack.IPv6.IsValid() && (!hack.IPv6.Is6() || hack.IPv6.Is4In6()) {
			return nil, fmt.Errorf("address_rule: not an IPv6 address: domain=%s addr=%v", hack.Domain, hack.IPv6)
		}

		hack.Domain = dns.CanonicalName(hack.Domain)
		rule.hacks = append(rule.hacks, hack)
	}

	return rule, nil
}

// Hacks returns a copy of the rule's hacks.
func (r *AddressRule) Hacks() []AddressHack {
	return append([]AddressHack{}, r.hacks...)
}

// Matches reports whether any answer record is named after a hacked domain.
func (r *AddressRule) Matches(answer dns.Message) bool {
	for _, rr := range answer.Answers() {
		for _, hack := range r.hacks {
			if dns.EqualNames(rr.Name, hack.Domain) {
				return true
			}
		}
	}

	return false
}

// Apply rewrites the answer section once per hack. For every record named after the hack's
// domain, an A record takes the IPv4 substitute and an AAAA record takes the IPv6 substitute; a
// record whose family has no substitute is removed. Other records pass through unchanged. The
// answer count is kept equal to the length of the answer section.
func (r *AddressRule) Apply(answer dns.Message) dns.Message {
	for _, hack := range r.hacks {
		answer = hack.apply(answer)
	}

	return answer
}

// apply rewrites the answer section for a single hack, returning the original message untouched
// when no record was rewritten.
func (h AddressHack) apply(answer dns.Message) dns.Message {
	records := answer.Answers()
	rewritten := make([]dns.ResourceRecord, 0, len(records))
	changed := false

	for _, rr := range records {
		if !dns.EqualNames(rr.Name, h.Domain) {
			rewritten = append(rewritten, rr)
			continue
		}

		var substitute netip.Addr
		switch rr.Type {
		case dns.TypeA:
			substitute = h.IPv4
		case dns.TypeAAAA:
			substitute = h.IPv6
		default:
			rewritten = append(rewritten, rr)
			continue
		}

		changed = true

		if substitute.IsValid() {
			rewritten = append(rewritten, rr.WithData(substitute.AsSlice()))
		}
	}

	if !changed {
		return answer
	}

	return answer.WithAnswers(rewritten)
}
