package intercept

import (
	"bytes"
	"net/netip"
	"testing"

	"dnshack/internal/dns"
)

var (
	upstreamV4 = []byte{93, 184, 216, 34}
	upstreamV6 = netip.MustParseAddr("2606:2800:220:1::1").AsSlice()
)

func answer(records ...dns.ResourceRecord) dns.Message {
	return dns.NewMessage(
		dns.Header{ID: 0x1234, Flags: dns.FlagQR | dns.FlagRD | dns.FlagRA},
		[]dns.Question{{Name: "hacked.example.", Type: dns.TypeA, Class: dns.ClassINET}},
		records,
		nil,
		nil,
	)
}

func record(name string, rrType dns.Type, data []byte) dns.ResourceRecord {
	return dns.NewResourceRecord(name, rrType, dns.ClassINET, 300, data)
}

func mustRule(t *testing.T, hacks ...AddressHack) *AddressRule {
	t.Helper()

	rule, err := NewAddressRule(hacks...)
	if err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	return rule
}

func TestAddressRuleSubstitutesIPv4(t *testing.T) {
	rule := mustRule(t, AddressHack{Domain: "hacked.example", IPv4: netip.MustParseAddr("10.0.0.7")})

	msg := answer(
		record("hacked.example.", dns.TypeA, upstreamV4),
		record("other.example.", dns.TypeA, upstreamV4),
		record("hacked.example.", dns.TypeTXT, []byte("\x02hi")),
	)

	if !rule.Matches(msg) {
		t.Fatal("expected rule to match")
	}

	out := rule.Apply(msg)
	answers := out.Answers()

	if len(answers) != 3 || out.Header().ANCount != 3 {
		t.Fatalf("unexpected answer section: %v %v", out.Header(), answers)
	}

	if !bytes.Equal(answers[0].Data(), []byte{10, 0, 0, 7}) {
		t.Errorf("A record not substituted: %v", answers[0])
	}

	if answers[0].Name != "hacked.example." || answers[0].TTL != 300 || answers[0].Class != dns.ClassINET {
		t.Errorf("substitution changed more than the data: %v", answers[0])
	}

	if !bytes.Equal(answers[1].Data(), upstreamV4) {
		t.Errorf("unrelated name was rewritten: %v", answers[1])
	}

	if !bytes.Equal(answers[2].Data(), []byte("\x02hi")) {
		t.Errorf("unrelated type was rewritten: %v", answers[2])
	}

	if !bytes.Equal(msg.Answers()[0].Data(), upstreamV4) {
		t.Error("input message was mutated")
	}
}

func TestAddressRuleRemovesFamilyWithoutSubstitute(t *testing.T) {
	rule := mustRule(t, AddressHack{Domain: "hacked.example", IPv4: netip.MustParseAddr("10.0.0.7")})

	msg := answer(
		record("hacked.example.", dns.TypeA, upstreamV4),
		record("hacked.example.", dns.TypeAAAA, upstreamV6),
	)

	out := rule.Apply(msg)

	if out.Header().ANCount != msg.Header().ANCount-1 {
		t.Errorf("expected answer count %d, got %d", msg.Header().ANCount-1, out.Header().ANCount)
	}

	answers := out.Answers()
	if len(answers) != 1 || answers[0].Type != dns.TypeA {
		t.Errorf("expected only the A record to remain: %v", answers)
	}
}

func TestAddressRuleSubstitutesBothFamilies(t *testing.T) {
	rule := mustRule(t, AddressHack{
		Domain: "Hacked.Example.",
		IPv4:   netip.MustParseAddr("10.0.0.7"),
		IPv6:   netip.MustParseAddr("fd00::7"),
	})

	out := rule.Apply(answer(
		record("hacked.example.", dns.TypeAAAA, upstreamV6),
		record("HACKED.example.", dns.TypeA, upstreamV4),
	))

	answers := out.Answers()
	if len(answers) != 2 {
		t.Fatalf("unexpected answers: %v", answers)
	}

	if !bytes.Equal(answers[0].Data(), netip.MustParseAddr("fd00::7").AsSlice()) {
		t.Errorf("AAAA record not substituted: %v", answers[0])
	}

	if !bytes.Equal(answers[1].Data(), []byte{10, 0, 0, 7}) {
		t.Errorf("A record not substituted: %v", answers[1])
	}
}

func TestAddressRuleRemovesConsecutiveRecords(t *testing.T) {
	rule := mustRule(t, AddressHack{Domain: "hacked.example", IPv4: netip.MustParseAddr("10.0.0.7")})

	out := rule.Apply(answer(
		record("hacked.example.", dns.TypeAAAA, upstreamV6),
		record("hacked.example.", dns.TypeAAAA, upstreamV6),
		record("hacked.example.", dns.TypeA, upstreamV4),
	))

	answers := out.Answers()
	if len(answers) != 1 || out.Header().ANCount != 1 || answers[0].Type != dns.TypeA {
		t.Errorf("expected both AAAA records removed: %v %v", out.Header(), answers)
	}
}

func TestAddressRuleDoesNotMatchUnrelatedAnswer(t *testing.T) {
	rule := mustRule(t, AddressHack{Domain: "hacked.example", IPv4: netip.MustParseAddr("10.0.0.7")})

	msg := answer(record("www.hacked.example.", dns.TypeA, upstreamV4))

	if rule.Matches(msg) {
		t.Error("a subdomain must not match")
	}
}

func TestAddressRuleAppliesHacksInOrder(t *testing.T) {
	rule := mustRule(t,
		AddressHack{Domain: "a.example", IPv4: netip.MustParseAddr("10.0.0.1")},
		AddressHack{Domain: "b.example", IPv6: netip.MustParseAddr("fd00::2")},
	)

	msg := answer(
		record("a.example.", dns.TypeA, upstreamV4),
		record("b.example.", dns.TypeA, upstreamV4),
	)

	if !rule.Matches(msg) {
		t.Fatal("expected rule to match")
	}

	answers := rule.Apply(msg).Answers()
	if len(answers) != 1 || answers[0].Name != "a.example." || !bytes.Equal(answers[0].Data(), []byte{10, 0, 0, 1}) {
		t.Errorf("unexpected answers: %v", answers)
	}
}

func TestNewAddressRuleValidatesHacks(t *testing.T) {
	cases := []struct {
		name string
		hack AddressHack
	}{
		{"missing domain", AddressHack{IPv4: netip.MustParseAddr("10.0.0.1")}},
		{"no substitute", AddressHack{Domain: "x.example"}},
		{"v6 as v4", AddressHack{Domain: "x.example", IPv4: netip.MustParseAddr("fd00::1")}},
		{"v4 as v6", AddressHack{Domain: "x.example", IPv6: netip.MustParseAddr("10.0.0.1")}},
		{"mapped v4 as v6", AddressHack{Domain: "x.example", IPv6: netip.MustParseAddr("::ffff:10.0.0.1")}},
	}

	for _, c := range cases {
		if _, err := NewAddressRule(c.hack); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}
