// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seal is the encrypting packer. Bytes are sealed with
// XChaCha20-Poly1305 under a key derived from the owning directory's
// seed, so anyone holding the directory key (or an ancestor's) can read
// them and nobody else can. The blob store sees only ciphertext; links
// address the ciphertext.
package seal // import "portalfs.io/pack/seal"

import (
	"portalfs.io/errors"
	"portalfs.io/pack"
	"portalfs.io/portalfs"
)

type sealPack struct{}

var _ pack.Packer = sealPack{}

func init() {
	pack.Register(sealPack{})
}

func (sealPack) Packing() portalfs.Packing {
	return portalfs.SealPack
}

func (sealPack) String() string {
	return "seal"
}

func (sealPack) Pack(f portalfs.Factotum, elems []string, cleartext []byte) ([]byte, error) {
	const op = "pack/seal.Pack"
	key, err := f.SealKey(elems)
	if err != nil {
		return nil, errors.E(op, err)
	}
	box, err := f.Seal(key, cleartext)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return box, nil
}

func (sealPack) Unpack(f portalfs.Factotum, elems []string, stored []byte) ([]byte, error) {
	const op = "pack/seal.Unpack"
	key, err := f.SealKey(elems)
	if err != nil {
		return nil, errors.E(op, err)
	}
	cleartext, err := f.Open(key, stored)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return cleartext, nil
}
