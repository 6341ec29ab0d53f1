package dns

import (
	mdns "github.com/miekg/dns"
)

// Type is a resource record type code.
type Type uint16

// Class is a resource record class code.
type Class uint16

const (
	// TypeA is an IPv4 address record.
	TypeA = Type(mdns.TypeA)
	// TypeAAAA is an IPv6 address record.
	TypeAAAA = Type(mdns.TypeAAAA)
	// TypeCNAME is a canonical name record.
	TypeCNAME = Type(mdns.TypeCNAME)
	// TypeTXT is a text record.
	TypeTXT = Type(mdns.TypeTXT)
	// TypeOPT is the EDNS(0) pseudo-record.
	TypeOPT = Type(mdns.TypeOPT)

	// ClassINET is the Internet class.
	ClassINET = Class(mdns.ClassINET)
)

// Header flag bits (RFC 1035 section 4.1.1, RFC 4035 section 3.2).
const (
	FlagQR uint16 = 1 << 15
	FlagAA uint16 = 1 << 10
	FlagTC uint16 = 1 << 9
	FlagRD uint16 = 1 << 8
	FlagRA uint16 = 1 << 7
	FlagZ  uint16 = 1 << 6
	FlagAD uint16 = 1 << 5
	FlagCD uint16 = 1 << 4

	opcodeShift        = 11
	opcodeMask  uint16 = 0xF << opcodeShift
	rcodeMask   uint16 = 0xF
)

// String returns the mnemonic of the type, or TYPEnnn when it has none.
func (t Type) String() string {
	return mdns.Type(t).String()
}

// String returns the mnemonic of the class, or CLASSnnn when it has none.
func (c Class) String() string {
	return mdns.Class(c).String()
}

// CanonicalName lowercases a domain name and makes it fully qualified, so that two spellings of
// the same name compare equal.
func CanonicalName(name string) string {
	return mdns.CanonicalName(name)
}

// EqualNames reports whether two domain names are the same name, ignoring case and a trailing
// root label.
func EqualNames(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}
