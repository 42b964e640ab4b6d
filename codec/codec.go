// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec implements the canonical tag-prefixed binary encoding used
// for directory blobs, index nodes and cursors. It is a strict subset of
// MessagePack: unsigned integers always take the smallest form, strings and
// byte strings the smallest length prefix, and maps are written with their
// keys in ascending order by the caller. Content hashes depend on these
// bytes, so the writer never has a choice of representation.
package codec // import "portalfs.io/codec"

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Raw holds an encoded value exactly as it appeared in the input.
// Unknown fields are carried through serialization as Raw so that
// re-serializing a parsed object reproduces the original bytes.
type Raw []byte

// Writer accumulates a canonical encoding. Errors are sticky; callers
// check once via Result.
type Writer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	w := new(Writer)
	w.enc = msgpack.NewEncoder(&w.buf)
	return w
}

func (w *Writer) set(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Magic writes literal bytes with no tag. It is used only for the
// format magic that precedes the encoded maps.
func (w *Writer) Magic(b []byte) {
	if w.err != nil {
		return
	}
	_, err := w.buf.Write(b)
	w.set(err)
}

// Map writes a map header for n entries.
func (w *Writer) Map(n int) {
	if w.err != nil {
		return
	}
	w.set(w.enc.EncodeMapLen(n))
}

// Array writes an array header for n elements.
func (w *Writer) Array(n int) {
	if w.err != nil {
		return
	}
	w.set(w.enc.EncodeArrayLen(n))
}

// String writes a UTF-8 string.
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	w.set(w.enc.EncodeString(s))
}

// Bytes writes a byte string. A nil slice is written as an empty byte
// string, not as nil: the encoding of a value must not depend on how
// its emptiness is spelled.
func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	if b == nil {
		b = []byte{}
	}
	w.set(w.enc.EncodeBytes(b))
}

// Uint writes an unsigned integer in its smallest encoding.
func (w *Writer) Uint(v uint64) {
	if w.err != nil {
		return
	}
	w.set(w.enc.EncodeUint(v))
}

// Int64 writes a signed 64-bit integer in the fixed 9-byte form, so the
// width of signed fields does not depend on their value.
func (w *Writer) Int64(v int64) {
	if w.err != nil {
		return
	}
	w.set(w.enc.EncodeInt64(v))
}

// Raw copies an already-encoded value verbatim.
func (w *Writer) Raw(r Raw) {
	if w.err != nil {
		return
	}
	w.set(w.enc.Encode(msgpack.RawMessage(r)))
}

// Result returns the accumulated bytes, or the first error encountered.
func (w *Writer) Result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Reader decodes a canonical encoding. Like Writer, errors are sticky;
// a Reader that has failed returns zero values from every method.
type Reader struct {
	dec *msgpack.Decoder
	buf *bytes.Reader
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	r := new(Reader)
	r.buf = bytes.NewReader(b)
	r.dec = msgpack.NewDecoder(r.buf)
	return r
}

func (r *Reader) set(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Magic consumes n literal bytes and returns them.
func (r *Reader) Magic(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil {
		r.set(err)
		return nil
	}
	return b
}

// Map reads a map header and returns the entry count.
func (r *Reader) Map() int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.DecodeMapLen()
	if err != nil {
		r.set(err)
		return 0
	}
	return n
}

// Array reads an array header and returns the element count.
func (r *Reader) Array() int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		r.set(err)
		return 0
	}
	return n
}

// String reads a UTF-8 string.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	s, err := r.dec.DecodeString()
	if err != nil {
		r.set(err)
		return ""
	}
	return s
}

// Bytes reads a byte string.
func (r *Reader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.dec.DecodeBytes()
	if err != nil {
		r.set(err)
		return nil
	}
	return b
}

// Uint reads an unsigned integer of any width.
func (r *Reader) Uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeUint64()
	if err != nil {
		r.set(err)
		return 0
	}
	return v
}

// Int64 reads a signed integer of any width.
func (r *Reader) Int64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		r.set(err)
		return 0
	}
	return v
}

// Raw reads the next value, whatever its type, as encoded bytes.
func (r *Reader) Raw() Raw {
	if r.err != nil {
		return nil
	}
	raw, err := r.dec.DecodeRaw()
	if err != nil {
		r.set(err)
		return nil
	}
	return Raw(raw)
}

// IsString reports whether the next value is a string. It is used to
// distinguish integer map keys from string ones.
func (r *Reader) IsString() bool {
	if r.err != nil {
		return false
	}
	c, err := r.dec.PeekCode()
	if err != nil {
		r.set(err)
		return false
	}
	return msgpcode.IsFixedString(c) || msgpcode.IsString(c)
}

// Len returns the number of undecoded bytes. The decoder reads the
// bytes.Reader directly (it satisfies io.ByteScanner), so no bytes sit
// buffered between the two.
func (r *Reader) Len() int {
	return r.buf.Len()
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}
