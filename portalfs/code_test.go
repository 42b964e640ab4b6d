// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package portalfs

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustHex(t *testing.T, b []byte) string {
	t.Helper()
	return hex.EncodeToString(b)
}

func repeatByte(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func testLink() Link {
	var l Link
	l[0] = KeyEd25519
	copy(l[1:], repeatByte(0x22, 32))
	return l
}

func testHash() Hash {
	var h Hash
	h[0] = HashBlake3
	copy(h[1:], repeatByte(0x33, 32))
	return h
}

// The canonical encoding of an empty directory is pinned by the wire
// format: magic, then three empty maps.
func TestEmptyDirectoryVector(t *testing.T) {
	d := NewDir()
	got, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if mustHex(t, got) != "5f5d808080" {
		t.Fatalf("empty directory = %x, want 5f5d808080", got)
	}
}

// A populated directory must serialize to the exact canonical bytes:
// names in byte order, field tags ascending, smallest integer forms,
// and the fixed nine-byte form for directory seconds.
func TestNamedDirectoryVector(t *testing.T) {
	d := NewDir()
	d.Dirs["sub"] = &DirRef{Link: testLink(), Seconds: 5}
	d.Files["file.txt"] = &FileRef{
		Hash:      testHash(),
		Size:      0,
		MediaType: "text/plain",
		Time:      5050505050505,
	}
	got, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := "5f5d" + // magic
		"80" + // empty header
		"81" + "a3737562" + // dirs: "sub"
		"8202d30000000000000005" + "03c421ed" + strings.Repeat("22", 32) + // DirRef
		"81" + "a866696c652e747874" + // files: "file.txt"
		"8402cf00000497e98f3989" + "03c4211e" + strings.Repeat("33", 32) +
		"0500" + "06aa746578742f706c61696e" // size 0, media type
	if mustHex(t, got) != want {
		t.Fatalf("directory bytes\n got %s\nwant %s", mustHex(t, got), want)
	}
}

func TestDeterministicOrdering(t *testing.T) {
	// Build the same directory twice with different insertion orders.
	build := func(names []string) []byte {
		d := NewDir()
		for _, n := range names {
			d.Files[n] = &FileRef{Hash: testHash(), Size: 1}
		}
		b, err := d.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return b
	}
	a := build([]string{"a", "z", "m", "b"})
	b := build([]string{"z", "b", "a", "m"})
	if !bytes.Equal(a, b) {
		t.Fatal("equal directories serialized differently")
	}
}

func TestRoundTrip(t *testing.T) {
	d := NewDir()
	d.Dirs["docs"] = &DirRef{Link: testLink(), Seconds: 1700000000, Nanos: 999}
	d.Dirs["empty"] = &DirRef{Link: testLink()}
	d.Files["a.bin"] = &FileRef{
		Hash:      testHash(),
		Size:      12345,
		MediaType: "application/octet-stream",
		Time:      1700000000000,
		TimeNanos: 123456789,
		Locations: []BlobLocation{
			{Kind: LocationIdentity, Data: []byte("hello")},
			{Kind: LocationHTTP, URL: "https://portal.example.org/blob"},
		},
		HashType: 0,
		Prev: &FileRef{
			Hash: testHash(),
			Size: 11111,
			Prev: &FileRef{Hash: testHash(), Size: 3},
		},
	}
	first, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back DirV1
	if err := back.Unmarshal(first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(d, &back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	second, err := back.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("serialize(deserialize(serialize(d))) differs from serialize(d)")
	}
}

// Unknown integer and string fields must survive a round trip exactly
// as read.
func TestExtraFieldsPreserved(t *testing.T) {
	d := NewDir()
	d.Files["x"] = &FileRef{
		Hash: testHash(),
		Size: 9,
		Extra: []ExtraField{
			{Num: 42, Value: []byte{0x07}},            // 42 -> 7
			{Name: "vendor", Value: []byte{0xa2, 'h', 'i'}}, // "vendor" -> "hi"
		},
	}
	first, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back DirV1
	if err := back.Unmarshal(first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	f := back.Files["x"]
	if f == nil || len(f.Extra) != 2 {
		t.Fatalf("extra fields lost: %+v", f)
	}
	second, err := back.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("extra fields did not round-trip byte for byte")
	}
}

func TestUnmarshalRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", []byte{0x00, 0x5d, 0x80, 0x80, 0x80}},
		{"truncated", []byte{0x5f, 0x5d, 0x80}},
		{"trailing bytes", []byte{0x5f, 0x5d, 0x80, 0x80, 0x80, 0x00}},
		{"empty", nil},
	}
	for _, test := range tests {
		var d DirV1
		if err := d.Unmarshal(test.data); err == nil {
			t.Errorf("%s: Unmarshal accepted bad input", test.name)
		}
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	// Hand-build a blob with the file name "x" twice.
	ref := &FileRef{Hash: testHash(), Size: 1}
	refBytes, err := ref.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	blob := []byte{0x5f, 0x5d, 0x80, 0x80, 0x82}
	for i := 0; i < 2; i++ {
		blob = append(blob, 0xa1, 'x')
		blob = append(blob, refBytes...)
	}
	var d DirV1
	if err := d.Unmarshal(blob); err != ErrDupName {
		t.Fatalf("Unmarshal = %v, want ErrDupName", err)
	}
}

func TestShardedHeader(t *testing.T) {
	d := NewDir()
	d.Header.Shard = &Shard{
		Root:         testHash(),
		HashFunction: 1,
		BitsPerLevel: 5,
		EntryCount:   1234,
	}
	d.Dirs = nil
	d.Files = nil
	blob, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back DirV1
	if err := back.Unmarshal(blob); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Sharded() {
		t.Fatal("shard lost in round trip")
	}
	if diff := cmp.Diff(d.Header.Shard, back.Header.Shard); diff != "" {
		t.Fatalf("shard mismatch (-want +got):\n%s", diff)
	}

	// Inline entries alongside a shard are invalid.
	d.Files = map[string]*FileRef{"x": {Hash: testHash()}}
	if _, err := d.Marshal(); err != ErrSharded {
		t.Fatalf("Marshal = %v, want ErrSharded", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var pk PublicKey
	pk[0] = KeyEd25519
	copy(pk[1:], repeatByte(0x44, 32))
	link := testLink()
	rec := &SignedRecord{
		PublicKey: pk,
		Revision:  77,
		Data:      link[:],
	}
	copy(rec.Signature[:], repeatByte(0x55, 64))

	wire, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back SignedRecord
	if err := back.Unmarshal(wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(rec, &back); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	// The signing payload is the big-endian revision followed by data.
	payload := rec.SigningPayload()
	if len(payload) != 8+len(rec.Data) {
		t.Fatalf("payload length %d", len(payload))
	}
	if payload[7] != 77 {
		t.Errorf("payload revision bytes = %x", payload[:8])
	}
}
