// Package wire frames values for stores that cannot expire entries
// individually. The envelope carries an absolute deadline next to the payload
// so readers can drop expired entries themselves.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("bulwark: corrupt entry")
	magic4     = [...]byte{'B', 'W', 'R', 'K'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1) | deadline(i64 be, unix nanos, 0 = none) | vlen(u32 be) | payload(vlen)
func EncodeEntry(deadline time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	var dl int64
	if !deadline.IsZero() {
		dl = deadline.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(dl))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry returns the deadline (zero if none) and a payload slice aliasing b.
func DecodeEntry(b []byte) (deadline time.Time, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, nil, ErrCorrupt
	}
	off := 6

	dl := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return time.Time{}, nil, ErrCorrupt
	}

	if dl != 0 {
		deadline = time.Unix(0, dl)
	}
	return deadline, b[off : off+vlen], nil
}

// Expired reports whether an entry with deadline has lapsed at now.
func Expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}
