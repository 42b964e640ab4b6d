// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pack provides the registry for packers, which transform data
// on its way to and from the blob store. Content hashes always address
// the stored (packed) bytes, so every packing preserves the network's
// integrity checks.
package pack // import "portalfs.io/pack"

import (
	"fmt"
	"sync"

	"portalfs.io/portalfs"
)

// Packer transforms payload bytes before upload and after download.
// The path elements name the directory the payload belongs to, so a
// packer may derive per-directory key material from the factotum.
type Packer interface {
	// Packing identifies the technique implemented.
	Packing() portalfs.Packing

	// String returns the name of this packer.
	String() string

	// Pack returns the bytes to store for the given cleartext.
	Pack(f portalfs.Factotum, elems []string, cleartext []byte) ([]byte, error)

	// Unpack reverses Pack.
	Unpack(f portalfs.Factotum, elems []string, stored []byte) ([]byte, error)
}

var (
	packersMu sync.RWMutex
	packers   = make(map[portalfs.Packing]Packer)
)

// Register binds a Packing code to the implementation of its algorithm.
// It must be called in the init function of a Packer implementation.
// It panics on a duplicate registration.
func Register(p Packer) {
	packersMu.Lock()
	defer packersMu.Unlock()
	if _, present := packers[p.Packing()]; present {
		panic(fmt.Sprintf("pack: Register(%v) already registered", p.Packing()))
	}
	packers[p.Packing()] = p
}

// Lookup returns the implementation of the specified Packing, or nil if
// none is registered.
func Lookup(p portalfs.Packing) Packer {
	packersMu.RLock()
	defer packersMu.RUnlock()
	return packers[p]
}

// LookupByName returns the implementation of the specified packing name,
// or nil if none is registered.
func LookupByName(name string) Packer {
	packersMu.RLock()
	defer packersMu.RUnlock()
	for _, p := range packers {
		if p.String() == name {
			return p
		}
	}
	return nil
}
