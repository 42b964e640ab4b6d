// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seal

import (
	"bytes"
	"testing"

	"portalfs.io/errors"
	"portalfs.io/factotum"
	"portalfs.io/pack"
	"portalfs.io/portalfs"
)

func TestPackUnpack(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 9
	fac, err := factotum.New(key)
	if err != nil {
		t.Fatal(err)
	}
	p := pack.Lookup(portalfs.SealPack)
	if p == nil {
		t.Fatal("seal packer not registered")
	}

	elems := []string{"private", "docs"}
	cleartext := []byte("the directory bytes")
	stored, err := p.Pack(fac, elems, cleartext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(stored, cleartext) {
		t.Fatal("packed bytes contain cleartext")
	}
	back, err := p.Unpack(fac, elems, stored)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, cleartext) {
		t.Fatal("unpack did not invert pack")
	}

	// A different directory's key must not open it.
	if _, err := p.Unpack(fac, []string{"private", "other"}, stored); !errors.Is(errors.CannotDecrypt, err) {
		t.Fatalf("Unpack under wrong directory = %v, want CannotDecrypt", err)
	}
}
