package zcl

import (
	"encoding/binary"
	"fmt"
)

// Writer appends little-endian ZCL fields to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity for n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// OctetStr writes a 1-byte length prefix followed by b. Callers keep b under 255 bytes.
func (w *Writer) OctetStr(b []byte) {
	w.buf = append(w.buf, uint8(len(b)))
	w.buf = append(w.buf, b...)
}

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes little-endian ZCL fields. The first short read sets Err and
// every later read returns zero values.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("zcl: %s at offset %d: need %d bytes, have %d", field, r.pos, n, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) Uint8(field string) uint8 {
	if b := r.take(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Uint16(field string) uint16 {
	if b := r.take(2, field); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) Uint32(field string) uint32 {
	if b := r.take(4, field); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// OctetStr reads a 1-byte length-prefixed byte string and returns a copy.
func (r *Reader) OctetStr(field string) []byte {
	n := int(r.Uint8(field + " length"))
	b := r.take(n, field)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Rest returns a copy of all unread bytes.
func (r *Reader) Rest() []byte {
	if r.err != nil || r.pos >= len(r.data) {
		return nil
	}
	out := make([]byte, len(r.data)-r.pos)
	copy(out, r.data[r.pos:])
	r.pos = len(r.data)
	return out
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error { return r.err }
