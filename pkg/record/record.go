// Package record implements the fixed-layout binary record sent to the
// display device.
//
// The flattened items payload is
//
//	count | (offset, metadata) * count | name\0 name\0 ...
//
// where every offset is the position of the entry's name inside the name
// blob. The device copies the payload into one allocation and indexes
// names directly, so the layout must stay byte-exact.
package record

import (
	"bytes"
	"errors"
	"fmt"
)

// CollectedMask marks a list item as collected in its metadata byte.
const CollectedMask = 0x80

// Entry is one row of the offset table.
type Entry struct {
	Offset int
	Meta   byte
}

// Record is an encoded group or list, ready for delivery.
type Record struct {
	Label   string
	Entries []Entry
	Names   []byte
}

// Encode builds a record from label and children. Names and the label are
// normalized and truncated; nothing is rejected.
func Encode[T any](label string, children []T, nameOf func(T) string, metaOf func(T) byte) Record {
	rec := Record{
		Label:   Clean(label),
		Entries: make([]Entry, 0, len(children)),
	}
	var names bytes.Buffer
	for _, child := range children {
		rec.Entries = append(rec.Entries, Entry{Offset: names.Len(), Meta: metaOf(child)})
		names.WriteString(Clean(nameOf(child)))
		names.WriteByte(0)
	}
	rec.Names = names.Bytes()
	return rec
}

// Items flattens the record into the device payload.
func (r Record) Items() []byte {
	out := make([]byte, 0, 1+2*len(r.Entries)+len(r.Names))
	out = append(out, byte(len(r.Entries)))
	for _, e := range r.Entries {
		out = append(out, byte(e.Offset), e.Meta)
	}
	return append(out, r.Names...)
}

// IsZero reports whether r is the empty record.
func (r Record) IsZero() bool {
	return r.Label == "" && len(r.Entries) == 0 && len(r.Names) == 0
}

// Equal compares the delivered form of two records.
func (r Record) Equal(o Record) bool {
	return r.Label == o.Label && bytes.Equal(r.Items(), o.Items())
}

// Overflows reports whether the single-byte count or offsets wrap on the
// device.
func (r Record) Overflows() bool {
	if len(r.Entries) > 0xff {
		return true
	}
	for _, e := range r.Entries {
		if e.Offset > 0xff {
			return true
		}
	}
	return false
}

// Name returns the name of entry i without its terminator.
func (r Record) Name(i int) string {
	if i < 0 || i >= len(r.Entries) {
		return ""
	}
	start := r.Entries[i].Offset
	if start > len(r.Names) {
		return ""
	}
	end := bytes.IndexByte(r.Names[start:], 0)
	if end < 0 {
		return string(r.Names[start:])
	}
	return string(r.Names[start : start+end])
}

// Collected reports the collected bit of entry i.
func (e Entry) Collected() bool {
	return e.Meta&CollectedMask != 0
}

// Amount returns the amount bits of entry i.
func (e Entry) Amount() int {
	return int(e.Meta &^ CollectedMask)
}

var ErrMalformed = errors.New("malformed record")

// Decode parses a flattened payload the way the device does.
func Decode(label string, items []byte) (Record, error) {
	if len(items) == 0 {
		return Record{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	count := int(items[0])
	table := 1 + 2*count
	if len(items) < table {
		return Record{}, fmt.Errorf("%w: %d entries need %d bytes, got %d", ErrMalformed, count, table, len(items))
	}
	rec := Record{
		Label:   label,
		Entries: make([]Entry, 0, count),
		Names:   append([]byte(nil), items[table:]...),
	}
	prev := 0
	for i := 0; i < count; i++ {
		e := Entry{Offset: int(items[1+2*i]), Meta: items[2+2*i]}
		if e.Offset < prev || e.Offset >= len(rec.Names) {
			return Record{}, fmt.Errorf("%w: entry %d offset %d out of order", ErrMalformed, i, e.Offset)
		}
		if bytes.IndexByte(rec.Names[e.Offset:], 0) < 0 {
			return Record{}, fmt.Errorf("%w: entry %d name is not terminated", ErrMalformed, i)
		}
		prev = e.Offset
		rec.Entries = append(rec.Entries, e)
	}
	return rec, nil
}
