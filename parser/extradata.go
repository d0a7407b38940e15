package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when an ExtraData blob is shorter than its
// declared lengths.
var ErrMalformedPayload = errors.New("malformed extra data payload")

const (
	// entryWidth is tag (4) + pad (1) + timestamp (4).
	entryWidth = 9
	// packedEntryWidth is accepted when the entry area is exactly 8 bytes per
	// entry, i.e. the pad is absent.
	packedEntryWidth = 8
)

// ExtraData is the decoded form of an Event.ExtraData blob.
type ExtraData struct {
	Records    uint32
	Name       string
	PayloadTag uint32
	Entries    []ExtraDataEntry
}

// ExtraDataEntry is one timestamp record.
type ExtraDataEntry struct {
	Tag       uint32
	Pad       byte
	Timestamp uint32
}

// Times converts the entries to UTC instants, preserving order.
func (d ExtraData) Times() []time.Time {
	out := make([]time.Time, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, time.Unix(int64(e.Timestamp), 0).UTC())
	}
	return out
}

// DecodeExtraData decodes a big-endian ExtraData blob.
//
// Layout: records u32, nameLength u32, name [nameLength+1]byte,
// payloadTag u32, count u32, then count entries of {tag u32, pad, ts u32}.
func DecodeExtraData(data []byte) (ExtraData, error) {
	r := &reader{buf: data}
	var out ExtraData

	records, err := r.uint32("records")
	if err != nil {
		return ExtraData{}, err
	}
	out.Records = records

	nameLen, err := r.uint32("name length")
	if err != nil {
		return ExtraData{}, err
	}
	name, err := r.bytes("name", int64(nameLen)+1)
	if err != nil {
		return ExtraData{}, err
	}
	out.Name = strings.TrimRight(string(name), "\x00")

	if out.PayloadTag, err = r.uint32("payload tag"); err != nil {
		return ExtraData{}, err
	}

	count, err := r.uint32("timestamp count")
	if err != nil {
		return ExtraData{}, err
	}

	width, err := entryLayout(int64(r.remaining()), int64(count))
	if err != nil {
		return ExtraData{}, err
	}

	out.Entries = make([]ExtraDataEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e ExtraDataEntry
		if e.Tag, err = r.uint32("entry tag"); err != nil {
			return ExtraData{}, err
		}
		if width == entryWidth {
			pad, err := r.bytes("entry pad", 1)
			if err != nil {
				return ExtraData{}, err
			}
			e.Pad = pad[0]
		}
		if e.Timestamp, err = r.uint32("entry timestamp"); err != nil {
			return ExtraData{}, err
		}
		out.Entries = append(out.Entries, e)
	}

	return out, nil
}

// EncodeExtraData writes timestamps in the device layout (9-byte entries).
func EncodeExtraData(name string, tag uint32, timestamps []uint32) []byte {
	buf := make([]byte, 0, 4*4+len(name)+1+len(timestamps)*entryWidth)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, tag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(timestamps)))
	for _, ts := range timestamps {
		buf = binary.BigEndian.AppendUint32(buf, tag)
		buf = append(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, ts)
	}
	return buf
}

func entryLayout(remaining, count int64) (int64, error) {
	switch {
	case remaining >= count*entryWidth:
		return entryWidth, nil
	case remaining == count*packedEntryWidth:
		return packedEntryWidth, nil
	default:
		return 0, fmt.Errorf("%w: %d timestamps need %d bytes, %d left",
			ErrMalformedPayload, count, count*entryWidth, remaining)
	}
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) uint32(field string) (uint32, error) {
	b, err := r.bytes(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) bytes(field string, n int64) ([]byte, error) {
	if n < 0 || int64(r.remaining()) < n {
		return nil, fmt.Errorf("%w: %s at offset %d needs %d bytes, %d left",
			ErrMalformedPayload, field, r.off, n, r.remaining())
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}
