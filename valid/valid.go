// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package valid does validation of various data types.
// It checks the names and structures this client is about to write;
// data arriving from the network is checked by the unmarshaling code
// and by hash and signature verification.
package valid // import "portalfs.io/valid"

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// MaxElementLen is the longest permitted directory or file name, in bytes.
const MaxElementLen = 255

// Element verifies that the name is usable as a single directory or file
// name: non-empty, valid NFC-normalized UTF-8, no slash or NUL, and not
// one of the relative-traversal names. Names are compared byte for byte
// everywhere, so requiring NFC keeps visually identical names from
// naming distinct entries.
func Element(name string) error {
	const op = "valid.Element"
	switch {
	case name == "":
		return errors.E(op, errors.Invalid, errors.Str("empty name"))
	case name == "." || name == "..":
		return errors.E(op, errors.Invalid, errors.Errorf("illegal name %q", name))
	case len(name) > MaxElementLen:
		return errors.E(op, errors.Invalid, errors.Errorf("name longer than %d bytes", MaxElementLen))
	case strings.ContainsAny(name, "/\x00"):
		return errors.E(op, errors.Invalid, errors.Errorf("illegal character in name %q", name))
	case !utf8.ValidString(name):
		return errors.E(op, errors.Invalid, errors.Errorf("name %q is not valid UTF-8", name))
	case !norm.NFC.IsNormalString(name):
		return errors.E(op, errors.Invalid, errors.Errorf("name %q is not NFC-normalized", name))
	}
	return nil
}

// Directory verifies the structural invariants of a directory object:
// every name valid, no name in both maps, and inline entries absent when
// the directory is sharded.
func Directory(d *portalfs.DirV1) error {
	const op = "valid.Directory"
	if d.Sharded() {
		if len(d.Dirs) > 0 || len(d.Files) > 0 {
			return errors.E(op, errors.Invalid, errors.Str("sharded directory with inline entries"))
		}
		s := d.Header.Shard
		if s.Root.IsZero() {
			return errors.E(op, errors.Invalid, errors.Str("sharded directory with no index root"))
		}
		if s.HashFunction > 1 {
			return errors.E(op, errors.Invalid, errors.Errorf("unknown index hash function %d", s.HashFunction))
		}
		return nil
	}
	for name := range d.Dirs {
		if err := Element(name); err != nil {
			return errors.E(op, err)
		}
	}
	for name := range d.Files {
		if err := Element(name); err != nil {
			return errors.E(op, err)
		}
		if _, ok := d.Dirs[name]; ok {
			return errors.E(op, errors.Invalid, errors.Errorf("name %q is both file and directory", name))
		}
	}
	return nil
}

// Record verifies the surface of a registry record: key and signature
// present and a link-sized payload. It does not verify the signature;
// that needs the factotum and is done by the registry adapter.
func Record(r *portalfs.SignedRecord) error {
	const op = "valid.Record"
	if r == nil {
		return errors.E(op, errors.Invalid, errors.Str("nil record"))
	}
	if r.PublicKey[0] != portalfs.KeyEd25519 {
		return errors.E(op, errors.Invalid, errors.Str("record key is not ed25519"))
	}
	if r.Revision == 0 {
		return errors.E(op, errors.Invalid, errors.Str("record revision must be positive"))
	}
	if len(r.Data) != portalfs.LinkSize {
		return errors.E(op, errors.Invalid, errors.Errorf("record payload is %d bytes, want %d", len(r.Data), portalfs.LinkSize))
	}
	return nil
}
