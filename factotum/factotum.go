// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package factotum encapsulates crypto operations on the filesystem root
// key: hashing, the per-directory key-derivation chain, registry record
// signing, and symmetric sealing. Keys derived here are memoized in
// memory for the life of the process and never persisted.
package factotum // import "portalfs.io/factotum"

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"portalfs.io/cache"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// derivedCacheSize bounds the per-process memo of derived directory
// seeds. A miss derives the whole chain again from the root key.
const derivedCacheSize = 1000

// sealInfo is the derivation input for a directory's symmetric key.
// A single NUL byte cannot collide with a child name: names are
// validated to contain no NUL and to be non-empty.
var sealInfo = []byte{0}

// Factotum implements portalfs.Factotum for a root key held in memory.
type Factotum struct {
	root    [portalfs.DigestSize]byte
	derived *cache.LRU // path key (NUL-joined elements) -> [32]byte seed
}

var _ portalfs.Factotum = (*Factotum)(nil)

// New returns a Factotum holding the given 32-byte filesystem root key.
func New(rootKey []byte) (*Factotum, error) {
	const op = "factotum.New"
	if len(rootKey) != portalfs.DigestSize {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("root key is %d bytes, want %d", len(rootKey), portalfs.DigestSize))
	}
	f := &Factotum{derived: cache.NewLRU(derivedCacheSize)}
	copy(f.root[:], rootKey)
	return f, nil
}

// NewFromFile reads a hex-encoded root key from the named file.
func NewFromFile(name string) (*Factotum, error) {
	const op = "factotum.NewFromFile"
	b, err := os.ReadFile(name)
	if os.IsNotExist(err) {
		return nil, errors.E(op, errors.NotExist, err)
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}
	return New(key)
}

// NewRandom returns a Factotum with a freshly generated root key,
// along with the key so the caller can store it.
func NewRandom() (*Factotum, []byte, error) {
	const op = "factotum.NewRandom"
	key := make([]byte, portalfs.DigestSize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, errors.E(op, errors.IO, err)
	}
	f, err := New(key)
	if err != nil {
		return nil, nil, err
	}
	return f, key, nil
}

// seedFor walks the derivation chain from the root seed to the
// directory named by elems:
//
//	seed(root) = rootKey
//	seed(dir/name) = Blake3_keyed(key = seed(dir), data = utf8(name))
//
// so holding a directory's seed grants control of its whole subtree and
// nothing above it.
func (f *Factotum) seedFor(elems []string) [portalfs.DigestSize]byte {
	key := strings.Join(elems, "\x00")
	if v, ok := f.derived.Get(key); ok {
		return v.([portalfs.DigestSize]byte)
	}
	seed := f.root
	for _, elem := range elems {
		seed = f.Blake3Keyed(seed, []byte(elem))
	}
	f.derived.Add(key, seed)
	return seed
}

// DirKey implements portalfs.Factotum.
func (f *Factotum) DirKey(elems []string) (portalfs.KeyPair, error) {
	const op = "factotum.DirKey"
	seed := f.seedFor(elems)
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub, err := portalfs.PublicKeyOf(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return portalfs.KeyPair{}, errors.E(op, err)
	}
	return portalfs.KeyPair{Public: pub, Private: []byte(priv)}, nil
}

// Sign implements portalfs.Factotum.
func (f *Factotum) Sign(kp portalfs.KeyPair, msg []byte) (portalfs.Signature, error) {
	const op = "factotum.Sign"
	var sig portalfs.Signature
	if len(kp.Private) != ed25519.PrivateKeySize {
		return sig, errors.E(op, errors.Invalid, errors.Str("malformed private key"))
	}
	copy(sig[:], ed25519.Sign(ed25519.PrivateKey(kp.Private), msg))
	return sig, nil
}

// Verify implements portalfs.Factotum.
func (f *Factotum) Verify(pk portalfs.PublicKey, msg []byte, sig portalfs.Signature) bool {
	if pk[0] != portalfs.KeyEd25519 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk.Key()), msg, sig[:])
}

// Blake3 implements portalfs.Factotum.
func (f *Factotum) Blake3(data []byte) [portalfs.DigestSize]byte {
	return blake3.Sum256(data)
}

// Blake3Keyed implements portalfs.Factotum.
func (f *Factotum) Blake3Keyed(key [portalfs.DigestSize]byte, data []byte) [portalfs.DigestSize]byte {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed fails only on a wrong key length, which the array
		// type rules out.
		panic("factotum: " + err.Error())
	}
	h.Write(data)
	var out [portalfs.DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SealKey implements portalfs.Factotum.
func (f *Factotum) SealKey(elems []string) ([portalfs.DigestSize]byte, error) {
	seed := f.seedFor(elems)
	return f.Blake3Keyed(seed, sealInfo), nil
}

// Seal implements portalfs.Factotum. The returned box is the random
// 24-byte nonce followed by the XChaCha20-Poly1305 ciphertext.
func (f *Factotum) Seal(key [portalfs.DigestSize]byte, plaintext []byte) ([]byte, error) {
	const op = "factotum.Seal"
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.E(op, err)
	}
	box := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(box); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return aead.Seal(box, box, plaintext, nil), nil
}

// Open implements portalfs.Factotum.
func (f *Factotum) Open(key [portalfs.DigestSize]byte, box []byte) ([]byte, error) {
	const op = "factotum.Open"
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.E(op, err)
	}
	if len(box) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.E(op, errors.CannotDecrypt, errors.Str("sealed blob too short"))
	}
	nonce, ciphertext := box[:aead.NonceSize()], box[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.E(op, errors.CannotDecrypt, err)
	}
	return plaintext, nil
}
