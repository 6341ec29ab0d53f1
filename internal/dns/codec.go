package dns

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	mdns "github.com/miekg/dns"
)

// headerSize is the size of the fixed-width message header on the wire.
const headerSize = 12

// Codec converts between wire-format datagrams and Messages. Record data is held in its
// uncompressed form, so records can be freely removed or reordered without invalidating name
// compression pointers; compression is recomputed for the whole message on encode.
type Codec struct {
	// Compress enables name compression when encoding, including names inside the data of the
	// record types that allow it.
	Compress bool
}

// NewCodec creates a codec that compresses names on encode.
func NewCodec() *Codec {
	return &Codec{Compress: true}
}

// Decode parses a datagram into a Message. It fails with an error wrapping ErrFormat when the
// datagram is malformed, including when a header count claims more entries than the datagram
// holds. A message with the TC bit set is allowed to be short; its counts are taken from what was
// actually present.
func (c *Codec) Decode(data []byte) (Message, error) {
	if len(data) < headerSize {
		return Message{}, fmt.Errorf("%w: short header: bytes=%d", ErrFormat, len(data))
	}

	if len(data) > mdns.MaxMsgSize {
		return Message{}, fmt.Errorf("%w: oversized datagram: bytes=%d", ErrFormat, len(data))
	}

	var msg mdns.Msg
	if err := msg.Unpack(data); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	header := Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}

	// The unpacker stops quietly at the end of the data rather than failing on a count that
	// overstates its section.
	if header.Flags&FlagTC == 0 {
		if int(header.QDCount) != len(msg.Question) ||
			int(header.ANCount) != len(msg.Answer) ||
			int(header.NSCount) != len(msg.Ns) ||
			int(header.ARCount) != len(msg.Extra) {
			return Message{}, fmt.Errorf(
				"%w: truncated sections: header=%v decoded=[%d %d %d %d]",
				ErrFormat,
				header,
				len(msg.Question),
				len(msg.Answer),
				len(msg.Ns),
				len(msg.Extra),
			)
		}
	}

	questions := make([]Question, 0, len(msg.Question))
	for _, q := range msg.Question {
		questions = append(questions, Question{
			Name:  q.Name,
			Type:  Type(q.Qtype),
			Class: Class(q.Qclass),
		})
	}

	answers, err := fromRRs(msg.Answer)
	if err != nil {
		return Message{}, err
	}

	authorities, err := fromRRs(msg.Ns)
	if err != nil {
		return Message{}, err
	}

	additionals, err := fromRRs(msg.Extra)
	if err != nil {
		return Message{}, err
	}

	return NewMessage(header, questions, answers, authorities, additionals), nil
}

// Encode serializes a Message to its wire format. It fails with an error wrapping
// ErrCountMismatch if any header count disagrees with the length of its section.
func (c *Codec) Encode(m Message) ([]byte, error) {
	if err := m.consistent(); err != nil {
		return nil, err
	}

	answers, err := toRRs(m.answers)
	if err != nil {
		return nil, err
	}

	authorities, err := toRRs(m.authorities)
	if err != nil {
		return nil, err
	}

	additionals, err := toRRs(m.additionals)
	if err != nil {
		return nil, err
	}

	msg := &mdns.Msg{
		MsgHdr:   toMsgHdr(m.header),
		Compress: c.Compress,
		Answer:   answers,
		Ns:       authorities,
		Extra:    additionals,
	}

	// The packer rewrites the OPT record's extended rcode bits from the header rcode, so carry
	// the full value through.
	if opt := msg.IsEdns0(); opt != nil {
		msg.Rcode |= opt.ExtendedRcode()
	}

	for _, q := range m.questions {
		msg.Question = append(msg.Question, mdns.Question{
			Name:   mdns.Fqdn(q.Name),
			Qtype:  uint16(q.Type),
			Qclass: uint16(q.Class),
		})
	}

	data, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("codec: error packing message: header=%v err=%w", m.header, err)
	}

	return data, nil
}

// fromRRs converts decoded records to ResourceRecords carrying their raw, uncompressed data.
func fromRRs(rrs []mdns.RR) ([]ResourceRecord, error) {
	if len(rrs) == 0 {
		return nil, nil
	}

	records := make([]ResourceRecord, 0, len(rrs))

	for _, rr := range rrs {
		generic := new(mdns.RFC3597)
		if err := generic.ToRFC3597(rr); err != nil {
			return nil, fmt.Errorf("%w: error reading record data: rr=%v err=%v", ErrFormat, rr.Header(), err)
		}

		data, err := hex.DecodeString(generic.Rdata)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading record data: rr=%v err=%v", ErrFormat, rr.Header(), err)
		}

		hdr := rr.Header()
		records = append(records, ResourceRecord{
			Name:  hdr.Name,
			Type:  Type(hdr.Rrtype),
			Class: Class(hdr.Class),
			TTL:   hdr.Ttl,
			data:  data,
		})
	}

	return records, nil
}

// toRRs converts ResourceRecords back to typed records, so that names inside record data are
// compressed by the packer like any other name. Types the packer does not know stay opaque.
func toRRs(records []ResourceRecord) ([]mdns.RR, error) {
	if len(records) == 0 {
		return nil, nil
	}

	rrs := make([]mdns.RR, 0, len(records))

	for _, record := range records {
		rr, err := retype(&mdns.RFC3597{
			Hdr: mdns.RR_Header{
				Name:   mdns.Fqdn(record.Name),
				Rrtype: uint16(record.Type),
				Class:  uint16(record.Class),
				Ttl:    record.TTL,
			},
			Rdata: hex.EncodeToString(record.data),
		})
		if err != nil {
			return nil, fmt.Errorf("codec: error restoring record: rr=%v err=%w", record, err)
		}

		rrs = append(rrs, rr)
	}

	return rrs, nil
}

// retype converts an opaque record to its typed form by a wire round trip.
func retype(rr mdns.RR) (mdns.RR, error) {
	buf := make([]byte, mdns.Len(rr))

	off, err := mdns.PackRR(rr, buf, 0, nil, false)
	if err != nil {
		return nil, err
	}

	typed, _, err := mdns.UnpackRR(buf[:off], 0)
	if err != nil {
		return nil, err
	}

	return typed, nil
}

// toMsgHdr spreads the raw header flags over the packer's header fields.
func toMsgHdr(h Header) mdns.MsgHdr {
	return mdns.MsgHdr{
		Id:                 h.ID,
		Response:           h.Flags&FlagQR != 0,
		Opcode:             h.Opcode(),
		Authoritative:      h.Flags&FlagAA != 0,
		Truncated:          h.Flags&FlagTC != 0,
		RecursionDesired:   h.Flags&FlagRD != 0,
		RecursionAvailable: h.Flags&FlagRA != 0,
		Zero:               h.Flags&FlagZ != 0,
		AuthenticatedData:  h.Flags&FlagAD != 0,
		CheckingDisabled:   h.Flags&FlagCD != 0,
		Rcode:              h.Rcode(),
	}
}
