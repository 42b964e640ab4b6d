// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package factotum

import (
	"bytes"
	"testing"

	"portalfs.io/portalfs"
)

func testRoot() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestDirKeyDeterminism(t *testing.T) {
	f1, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}
	f2, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}

	paths := [][]string{
		nil,
		{"a"},
		{"a", "b"},
		{"a", "b", "c"},
		{"documents", "notes.txt"},
	}
	for _, elems := range paths {
		k1, err := f1.DirKey(elems)
		if err != nil {
			t.Fatal(err)
		}
		k2, err := f2.DirKey(elems)
		if err != nil {
			t.Fatal(err)
		}
		if k1.Public != k2.Public || !bytes.Equal(k1.Private, k2.Private) {
			t.Errorf("DirKey(%v) differs between equal factotums", elems)
		}
		if k1.Public[0] != portalfs.KeyEd25519 {
			t.Errorf("DirKey(%v) public key missing algorithm tag", elems)
		}
	}

	// Distinct paths yield distinct keys.
	ka, _ := f1.DirKey([]string{"a"})
	kb, _ := f1.DirKey([]string{"b"})
	if ka.Public == kb.Public {
		t.Error("sibling directories share a key")
	}

	// The memoized answer matches the recomputed one.
	again, _ := f1.DirKey([]string{"a", "b", "c"})
	fresh, _ := f2.DirKey([]string{"a", "b", "c"})
	if again.Public != fresh.Public {
		t.Error("memoized key differs from derived key")
	}
}

func TestDerivationChains(t *testing.T) {
	f, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}
	// seed(a/b) must equal keyed(seed(a), "b") by construction.
	var root [32]byte
	copy(root[:], testRoot())
	seedA := f.Blake3Keyed(root, []byte("a"))
	seedAB := f.Blake3Keyed(seedA, []byte("b"))
	if got := f.seedFor([]string{"a", "b"}); got != seedAB {
		t.Error("derivation chain does not match keyed-hash descent")
	}
}

func TestSignVerify(t *testing.T) {
	f, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}
	kp, err := f.DirKey([]string{"docs"})
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("revision 7 points at a new blob")
	sig, err := f.Sign(kp, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Verify(kp.Public, msg, sig) {
		t.Fatal("signature does not verify")
	}
	msg[0]++
	if f.Verify(kp.Public, msg, sig) {
		t.Fatal("signature verifies over altered message")
	}
	other, _ := f.DirKey([]string{"other"})
	msg[0]--
	if f.Verify(other.Public, msg, sig) {
		t.Fatal("signature verifies under wrong key")
	}
}

func TestSealOpen(t *testing.T) {
	f, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}
	key, err := f.SealKey([]string{"private"})
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("directory bytes")
	box, err := f.Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(box, plaintext) {
		t.Fatal("sealed box contains plaintext")
	}
	back, err := f.Open(key, box)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, plaintext) {
		t.Fatal("open did not return the plaintext")
	}

	wrong, _ := f.SealKey([]string{"other"})
	if _, err := f.Open(wrong, box); err == nil {
		t.Fatal("opened under the wrong key")
	}
	box[len(box)-1]++
	if _, err := f.Open(key, box); err == nil {
		t.Fatal("opened a tampered box")
	}
}

func TestSealKeyDistinctFromChildSeeds(t *testing.T) {
	f, err := New(testRoot())
	if err != nil {
		t.Fatal(err)
	}
	sealKey, err := f.SealKey([]string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	// No valid child name can reproduce the seal derivation input, but
	// check the obvious near-misses anyway.
	for _, name := range []string{"", "seal", "\x01"} {
		var root [32]byte
		copy(root[:], testRoot())
		child := f.Blake3Keyed(f.Blake3Keyed(root, []byte("a")), []byte(name))
		if child == sealKey {
			t.Errorf("seal key collides with child %q", name)
		}
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatal("accepted a short root key")
	}
}
