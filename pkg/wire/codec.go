package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// encoder builds a packet payload with the same little-endian,
// length-prefixed primitives used by the outer frame. Strings are encoded
// as UTF-8, length-prefixed with a uint32 — the implementation choice §4.1
// leaves open, picked because every string buildgraph frames (paths,
// target names, tools versions) is already UTF-8 in memory.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) int32(v int32) { e.uint32(uint32(v)) }

func (e *encoder) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) int64(v int64) { e.uint64(uint64(v)) }

func (e *encoder) byte(v byte) { e.buf.WriteByte(v) }

func (e *encoder) bool(v bool) {
	if v {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func (e *encoder) string(s string) {
	e.uint32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) stringSlice(ss []string) {
	e.uint32(uint32(len(ss)))
	for _, s := range ss {
		e.string(s)
	}
}

// stringMap encodes keys in sorted order so two maps with identical
// content always produce identical bytes.
func (e *encoder) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	e.uint32(uint32(len(keys)))
	for _, k := range keys {
		e.string(k)
		e.string(m[k])
	}
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// decoder unpacks a payload produced by encoder. It tracks the first error
// encountered and turns every subsequent read into a no-op, so call sites
// can decode a whole message and check err once at the end instead of
// after every field.
type decoder struct {
	r   *bytes.Reader
	err error
}

func newDecoder(payload []byte) *decoder {
	return &decoder{r: bytes.NewReader(payload)}
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) uint32() uint32 {
	if d.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *decoder) int32() int32 { return int32(d.uint32()) }

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (d *decoder) int64() int64 { return int64(d.uint64()) }

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

func (d *decoder) bool() bool { return d.byte() != 0 }

// errShortPayload is reported when a length prefix claims more data than
// is actually left in the frame, so a corrupt or malicious count (e.g.
// 0xFFFFFFFF in a 20-byte payload) never drives a multi-gigabyte make()
// before the real io.ReadFull failure would have surfaced.
var errShortPayload = errors.New("wire: length prefix exceeds remaining payload")

func (d *decoder) string() string {
	n := d.uint32()
	if d.err != nil || n == 0 {
		return ""
	}
	if uint64(n) > uint64(d.r.Len()) {
		d.fail(errShortPayload)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(err)
		return ""
	}
	return string(b)
}

func (d *decoder) stringSlice() []string {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	// Every element contributes at least its own 4-byte length prefix, so
	// a count claiming more elements than the remaining bytes could
	// possibly hold is already malformed.
	if uint64(n) > uint64(d.r.Len())/4 {
		d.fail(errShortPayload)
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.string()
	}
	return out
}

func (d *decoder) stringMap() map[string]string {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	// Every entry contributes at least two 4-byte length prefixes (key +
	// value), bounding how large n could legitimately be.
	if uint64(n) > uint64(d.r.Len())/8 {
		d.fail(errShortPayload)
		return nil
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k := d.string()
		v := d.string()
		out[k] = v
	}
	return out
}
