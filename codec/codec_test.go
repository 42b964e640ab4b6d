// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func result(t *testing.T, w *Writer) []byte {
	t.Helper()
	b, err := w.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	return b
}

// The canonical forms are load-bearing: content hashes depend on them.
func TestCanonicalUint(t *testing.T) {
	tests := []struct {
		v    uint64
		want string
	}{
		{0, "00"},
		{1, "01"},
		{127, "7f"},
		{128, "cc80"},
		{255, "ccff"},
		{256, "cd0100"},
		{65535, "cdffff"},
		{65536, "ce00010000"},
		{1<<32 - 1, "ceffffffff"},
		{1 << 32, "cf0000000100000000"},
		{5050505050505, "cf00000497e98f3989"},
	}
	for _, test := range tests {
		w := NewWriter()
		w.Uint(test.v)
		got := result(t, w)
		if hex.EncodeToString(got) != test.want {
			t.Errorf("Uint(%d) = %x, want %s", test.v, got, test.want)
		}
		r := NewReader(got)
		if back := r.Uint(); back != test.v || r.Err() != nil {
			t.Errorf("read back Uint(%d) = %d, err %v", test.v, back, r.Err())
		}
	}
}

func TestCanonicalInt64(t *testing.T) {
	w := NewWriter()
	w.Int64(5)
	if got := hex.EncodeToString(result(t, w)); got != "d30000000000000005" {
		t.Errorf("Int64(5) = %s, want fixed 9-byte form", got)
	}
	w = NewWriter()
	w.Int64(-1)
	got := result(t, w)
	r := NewReader(got)
	if v := r.Int64(); v != -1 || r.Err() != nil {
		t.Errorf("read back Int64(-1) = %d, err %v", v, r.Err())
	}
}

func TestCanonicalContainers(t *testing.T) {
	w := NewWriter()
	w.Map(0)
	w.Map(15)
	w.Array(0)
	w.String("")
	w.String("abc")
	w.Bytes(nil)
	got := result(t, w)
	want := "808f90a0a3616263c400"
	if hex.EncodeToString(got) != want {
		t.Errorf("containers = %x, want %s", got, want)
	}

	w = NewWriter()
	w.Map(16)
	if got := hex.EncodeToString(result(t, w)); got != "de0010" {
		t.Errorf("Map(16) = %s, want de0010", got)
	}
}

func TestRawPreservesBytes(t *testing.T) {
	w := NewWriter()
	w.Map(1)
	w.Uint(7)
	w.String("value")
	orig := result(t, w)

	r := NewReader(orig)
	raw := r.Raw()
	if r.Err() != nil {
		t.Fatalf("Raw: %v", r.Err())
	}
	if !bytes.Equal(raw, orig) {
		t.Fatalf("Raw read %x, want %x", []byte(raw), orig)
	}

	w = NewWriter()
	w.Raw(raw)
	if !bytes.Equal(result(t, w), orig) {
		t.Fatal("Raw did not round-trip byte for byte")
	}
}

func TestIsString(t *testing.T) {
	w := NewWriter()
	w.String("x")
	r := NewReader(result(t, w))
	if !r.IsString() {
		t.Error("IsString = false for a string")
	}
	w = NewWriter()
	w.Uint(3)
	r = NewReader(result(t, w))
	if r.IsString() {
		t.Error("IsString = true for an integer")
	}
}

func TestMagicAndLen(t *testing.T) {
	w := NewWriter()
	w.Magic([]byte{0x5f, 0x5d})
	w.Map(0)
	got := result(t, w)
	r := NewReader(got)
	if m := r.Magic(2); !bytes.Equal(m, []byte{0x5f, 0x5d}) {
		t.Fatalf("Magic = %x", m)
	}
	if n := r.Map(); n != 0 || r.Err() != nil {
		t.Fatalf("Map = %d, err %v", n, r.Err())
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after full read, want 0", r.Len())
	}
}
