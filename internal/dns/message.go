package dns

import (
	"fmt"
)

// Header is the fixed-width message header. It is a plain value; copying it detaches it from the
// message it was read from.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// WithID derives a header carrying a different transaction ID.
func (h Header) WithID(id uint16) Header {
	h.ID = id
	return h
}

// WithAnswerCount derives a header carrying a different answer count.
func (h Header) WithAnswerCount(count uint16) Header {
	h.ANCount = count
	return h
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool {
	return h.Flags&FlagQR != 0
}

// Opcode returns the 4-bit operation code.
func (h Header) Opcode() int {
	return int((h.Flags & opcodeMask) >> opcodeShift)
}

// Rcode returns the 4-bit response code carried in the header.
func (h Header) Rcode() int {
	return int(h.Flags & rcodeMask)
}

// String implements the Stringer interface for human-consumable representation.
func (h Header) String() string {
	return fmt.Sprintf(
		"Header{id: %#04x, flags: %#04x, qd: %d, an: %d, ns: %d, ar: %d}",
		h.ID, h.Flags, h.QDCount, h.ANCount, h.NSCount, h.ARCount,
	)
}

// Question is a single entry in the question section.
type Question struct {
	Name  string
	Type  Type
	Class Class
}

// ResourceRecord is a single entry in the answer, authority, or additional section. The data
// payload is held in uncompressed wire form and is only reachable through copies.
type ResourceRecord struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
	data  []byte
}

// NewResourceRecord creates a record, copying the data payload.
func NewResourceRecord(name string, rrType Type, class Class, ttl uint32, data []byte) ResourceRecord {
	return ResourceRecord{
		Name:  name,
		Type:  rrType,
		Class: class,
		TTL:   ttl,
		data:  cloneBytes(data),
	}
}

// Data returns a copy of the record's data payload.
func (rr ResourceRecord) Data() []byte {
	return cloneBytes(rr.data)
}

// DataLen returns the length of the record's data payload.
func (rr ResourceRecord) DataLen() int {
	return len(rr.data)
}

// WithData derives a record carrying a different data payload.
func (rr ResourceRecord) WithData(data []byte) ResourceRecord {
	rr.data = cloneBytes(data)
	return rr
}

// String implements the Stringer interface for human-consumable representation.
func (rr ResourceRecord) String() string {
	return fmt.Sprintf("%s\t%d\t%s\t%s\t%x", rr.Name, rr.TTL, rr.Class, rr.Type, rr.data)
}

// Message is a complete protocol message. The zero value is an empty message with a zero header.
type Message struct {
	header      Header
	questions   []Question
	answers     []ResourceRecord
	authorities []ResourceRecord
	additionals []ResourceRecord
}

// NewMessage assembles a message from its sections. The header counts are taken from the section
// lengths, so the result is always consistent regardless of the counts in the supplied header.
func NewMessage(header Header, questions []Question, answers, authorities, additionals []ResourceRecord) Message {
	header.QDCount = uint16(len(questions))
	header.ANCount = uint16(len(answers))
	header.NSCount = uint16(len(authorities))
	header.ARCount = uint16(len(additionals))

	return Message{
		header:      header,
		questions:   cloneQuestions(questions),
		answers:     cloneRecords(answers),
		authorities: cloneRecords(authorities),
		additionals: cloneRecords(additionals),
	}
}

// Header returns the message header.
func (m Message) Header() Header {
	return m.header
}

// Questions returns a copy of the question section.
func (m Message) Questions() []Question {
	return cloneQuestions(m.questions)
}

// Answers returns a copy of the answer section.
func (m Message) Answers() []ResourceRecord {
	return cloneRecords(m.answers)
}

// Authorities returns a copy of the authority section.
func (m Message) Authorities() []ResourceRecord {
	return cloneRecords(m.authorities)
}

// Additionals returns a copy of the additional section.
func (m Message) Additionals() []ResourceRecord {
	return cloneRecords(m.additionals)
}

// WithHeader derives a message carrying a different header. The caller is responsible for the
// counts in the new header; Codec.Encode rejects a message whose counts disagree with its
// sections.
func (m Message) WithHeader(header Header) Message {
	m.header = header
	return m
}

// WithAnswers derives a message carrying a different answer section, with the header's answer
// count set to match.
func (m Message) WithAnswers(answers []ResourceRecord) Message {
	m.answers = cloneRecords(answers)
	m.header = m.header.WithAnswerCount(uint16(len(answers)))
	return m
}

// consistent reports an error if any header count disagrees with its section length.
func (m Message) consistent() error {
	counts := []struct {
		section string
		count   uint16
		length  int
	}{
		{"question", m.header.QDCount, len(m.questions)},
		{"answer", m.header.ANCount, len(m.answers)},
		{"authority", m.header.NSCount, len(m.authorities)},
		{"additional", m.header.ARCount, len(m.additionals)},
	}

	for _, c := range counts {
		if int(c.count) != c.length {
			return fmt.Errorf(
				"%w: section=%s count=%d length=%d",
				ErrCountMismatch,
				c.section,
				c.count,
				c.length,
			)
		}
	}

	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte{}, b...)
}

func cloneQuestions(questions []Question) []Question {
	if questions == nil {
		return nil
	}

	return append([]Question{}, questions...)
}

// cloneRecords copies a record slice. The records' payloads are never modified in place, so a
// shallow copy of each record is enough.
func cloneRecords(records []ResourceRecord) []ResourceRecord {
	if records == nil {
		return nil
	}

	return append([]ResourceRecord{}, records...)
}
