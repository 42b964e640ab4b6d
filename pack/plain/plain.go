// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plain is the no-op packer: stored bytes are the cleartext.
// Integrity still holds, since links carry the hash of the stored bytes.
package plain // import "portalfs.io/pack/plain"

import (
	"portalfs.io/pack"
	"portalfs.io/portalfs"
)

type plainPack struct{}

var _ pack.Packer = plainPack{}

func init() {
	pack.Register(plainPack{})
}

func (plainPack) Packing() portalfs.Packing {
	return portalfs.PlainPack
}

func (plainPack) String() string {
	return "plain"
}

func (plainPack) Pack(f portalfs.Factotum, elems []string, cleartext []byte) ([]byte, error) {
	return cleartext, nil
}

func (plainPack) Unpack(f portalfs.Factotum, elems []string, stored []byte) ([]byte, error) {
	return stored, nil
}
