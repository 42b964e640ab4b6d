// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package portalfs contains the structures and interfaces shared by every
// component of the portalfs client: content hashes and links, directory
// objects and their canonical wire form, registry records, and the
// interfaces to the blob store, the registry, and the key-holding factotum.
package portalfs // import "portalfs.io/portalfs"

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors" // Cannot use portalfs's errors package because it would introduce a dependency cycle.
	"fmt"
	"strings"
	"time"

	"portalfs.io/codec"
)

// A PathName is a string representing a full path name, rooted at the
// filesystem root. It is given a unique type so the API is clear.
// Example: /documents/notes.txt
type PathName string

// Time is the number of milliseconds since the Unix epoch.
// The zero value means "unset".
type Time uint64

// Now returns the current time.
func Now() Time {
	return Time(time.Now().UnixMilli())
}

// Go converts a Time to a standard time.Time.
func (t Time) Go() time.Time {
	return time.UnixMilli(int64(t))
}

// TimeFromGo converts a standard time.Time to a Time.
func TimeFromGo(t time.Time) Time {
	return Time(t.UnixMilli())
}

// Sizes and type tags of the wire forms of hashes, keys and links.
const (
	// LinkSize is the length of a tagged hash, a tagged public key,
	// and therefore of any link.
	LinkSize = 33

	// DigestSize is the length of a bare Blake3 digest.
	DigestSize = 32

	// SignatureSize is the length of an Ed25519 signature.
	SignatureSize = 64

	// HashBlake3 tags a 32-byte Blake3-256 digest.
	HashBlake3 = 0x1e

	// KeyEd25519 tags a 32-byte Ed25519 public key.
	KeyEd25519 = 0xed
)

// A Hash is the tagged content hash of a blob: a one-byte type tag
// (HashBlake3) followed by the 32-byte digest. The blob service is keyed
// by the bare digest; links embedded in directories carry the tagged form.
type Hash [LinkSize]byte

// HashOfDigest builds a tagged Hash from a bare Blake3 digest.
func HashOfDigest(digest [DigestSize]byte) Hash {
	var h Hash
	h[0] = HashBlake3
	copy(h[1:], digest[:])
	return h
}

// ParseHash validates b as a tagged hash and returns it.
func ParseHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != LinkSize {
		return h, errors.New("tagged hash must be 33 bytes")
	}
	if b[0] != HashBlake3 {
		return h, fmt.Errorf("unknown hash type %#x", b[0])
	}
	copy(h[:], b)
	return h, nil
}

// Digest returns the bare 32-byte digest.
func (h Hash) Digest() []byte {
	d := make([]byte, DigestSize)
	copy(d, h[1:])
	return d
}

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// A PublicKey is a tagged Ed25519 public key: a one-byte algorithm tag
// (KeyEd25519) followed by the 32 key bytes. It names a registry entry.
type PublicKey [LinkSize]byte

// PublicKeyOf builds a tagged PublicKey from raw Ed25519 key bytes.
func PublicKeyOf(key []byte) (PublicKey, error) {
	var pk PublicKey
	if len(key) != DigestSize {
		return pk, errors.New("ed25519 public key must be 32 bytes")
	}
	pk[0] = KeyEd25519
	copy(pk[1:], key)
	return pk, nil
}

// Key returns the bare 32-byte Ed25519 public key.
func (p PublicKey) Key() []byte {
	k := make([]byte, DigestSize)
	copy(k, p[1:])
	return k
}

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// A Signature is an Ed25519 signature.
type Signature [SignatureSize]byte

// A KeyPair is a directory's Ed25519 keypair as produced by the factotum's
// derivation chain. Private is in the standard library's 64-byte form.
type KeyPair struct {
	Public  PublicKey
	Private []byte
}

// A Link points at a directory, in one of two ways: a fixed content hash
// of a serialized directory blob, or the public key of the registry entry
// whose current value is such a hash. Both forms are 33 bytes and are
// distinguished by their first byte.
type Link [LinkSize]byte

// FixedLink returns the immutable link for h.
func FixedLink(h Hash) Link {
	return Link(h)
}

// RegistryLink returns the mutable link for the registry entry at pk.
func RegistryLink(pk PublicKey) Link {
	return Link(pk)
}

// ParseLink validates b as a link of either form.
func ParseLink(b []byte) (Link, error) {
	var l Link
	if len(b) != LinkSize {
		return l, errors.New("link must be 33 bytes")
	}
	if b[0] != HashBlake3 && b[0] != KeyEd25519 {
		return l, fmt.Errorf("unknown link type %#x", b[0])
	}
	copy(l[:], b)
	return l, nil
}

// IsFixed reports whether the link is an immutable content hash.
func (l Link) IsFixed() bool {
	return l[0] == HashBlake3
}

// IsRegistry reports whether the link names a mutable registry entry.
func (l Link) IsRegistry() bool {
	return l[0] == KeyEd25519
}

// Hash returns the link as a content hash. It reports false for a
// registry link.
func (l Link) Hash() (Hash, bool) {
	if !l.IsFixed() {
		return Hash{}, false
	}
	return Hash(l), true
}

// PublicKey returns the link as a registry key. It reports false for a
// fixed link.
func (l Link) PublicKey() (PublicKey, bool) {
	if !l.IsRegistry() {
		return PublicKey{}, false
	}
	return PublicKey(l), true
}

func (l Link) String() string {
	return hex.EncodeToString(l[:])
}

// LocationKind identifies the variants of a BlobLocation.
type LocationKind uint8

// The defined location kinds.
const (
	// LocationIdentity carries the blob's content inline.
	LocationIdentity LocationKind = 0
	// LocationHTTP names a URL the blob may be fetched from.
	LocationHTTP LocationKind = 1
)

// A BlobLocation is a hint recorded alongside a file's hash: the content
// itself when it is short enough to embed, or a URL it can be retrieved
// from without consulting the blob service.
type BlobLocation struct {
	Kind LocationKind
	// Data is the inline content, for LocationIdentity.
	Data []byte
	// URL is the retrieval address, for LocationHTTP.
	URL string
}

// An ExtraField preserves a serialized field this code does not interpret.
// Fields keyed by small integers use Num; fields keyed by strings use Name.
// The value is kept exactly as read so re-serialization is byte-faithful.
type ExtraField struct {
	Num   uint64
	Name  string // non-empty means the key is a string
	Value codec.Raw
}

// A FileRef describes one file within a directory: the hash of its stored
// bytes, its size, and optional metadata. Prev links the previous version
// of the file, forming a bounded history chain.
type FileRef struct {
	Hash      Hash
	Size      uint64
	MediaType string
	Time      Time   // Milliseconds since epoch; zero means unset.
	TimeNanos uint32 // Sub-millisecond nanoseconds; zero means unset.
	Locations []BlobLocation
	HashType  uint8 // Currently always zero; kept for schema evolution.
	Prev      *FileRef
	Extra     []ExtraField
}

// A DirRef describes one sub-directory within a directory.
// The timestamp, when present, is split into whole seconds and nanoseconds.
type DirRef struct {
	Link    Link
	Seconds int64  // Whole seconds since epoch; zero means unset.
	Nanos   uint32 // Sub-second nanoseconds; zero means unset.
	Extra   []ExtraField
}

// EntryKind distinguishes files from directories in listings and in the
// large-directory index.
type EntryKind uint8

// The kinds of directory entry.
const (
	EntryFile EntryKind = 0
	EntryDir  EntryKind = 1
)

// An Entry is one named member of a directory, as returned by listings.
// Exactly one of File and Dir is set, according to Kind.
type Entry struct {
	Name string
	Kind EntryKind
	File *FileRef
	Dir  *DirRef
}

// A Shard records that a directory's entries live in a hash-array-mapped
// trie rather than inline. It is carried in the directory header.
type Shard struct {
	// Root is the content hash of the root index node.
	Root Hash
	// HashFunction identifies the 64-bit key hash: 0 is xxHash-64,
	// 1 is Blake3-256 truncated. It never changes after creation.
	HashFunction uint8
	// BitsPerLevel is the trie fan-out exponent, currently always 5.
	BitsPerLevel uint8
	// EntryCount is the total number of entries in the trie.
	EntryCount uint64
}

// A Header is the leading map of a serialized directory. It is empty for
// ordinary directories; sharded directories carry their index root here.
// Unknown header fields are preserved in Extra.
type Header struct {
	Shard *Shard
	Extra []ExtraField
}

// A DirV1 is the unit of directory serialization: a header and two maps
// of named references. Names are unique across both maps. A directory
// whose header carries a Shard keeps its entries in the index instead,
// and both maps are empty.
type DirV1 struct {
	Header Header
	Dirs   map[string]*DirRef
	Files  map[string]*FileRef
}

// NewDir returns an empty directory.
func NewDir() *DirV1 {
	return &DirV1{
		Dirs:  make(map[string]*DirRef),
		Files: make(map[string]*FileRef),
	}
}

// Sharded reports whether the directory's entries live in the index.
func (d *DirV1) Sharded() bool {
	return d.Header.Shard != nil
}

// A SignedRecord is a registry entry: an opaque value bound to a public
// key with a revision counter and a signature over revision and data.
type SignedRecord struct {
	PublicKey PublicKey
	Revision  uint64
	Data      []byte
	Signature Signature
}

// SigningPayload returns the byte string the record's signature covers:
// the big-endian revision followed by the data.
func (r *SignedRecord) SigningPayload() []byte {
	msg := make([]byte, 8+len(r.Data))
	binary.BigEndian.PutUint64(msg, r.Revision)
	copy(msg[8:], r.Data)
	return msg
}

// StoreServer is the immutable blob service: content-addressed Put and Get.
type StoreServer interface {
	// Put stores the blob and returns its tagged content hash.
	Put(ctx context.Context, data []byte) (Hash, error)

	// Get returns the blob stored under h.
	Get(ctx context.Context, h Hash) ([]byte, error)
}

// RegistryServer is the mutable registry of signed records keyed by
// public key.
type RegistryServer interface {
	// Lookup returns the latest record published under pk, or nil if
	// the key has never been written.
	Lookup(ctx context.Context, pk PublicKey) (*SignedRecord, error)

	// Publish stores rec. The service rejects records whose revision is
	// not strictly greater than the revision it currently holds.
	Publish(ctx context.Context, rec *SignedRecord) error
}

// Factotum holds the filesystem root key and performs every key
// operation on the client's behalf. Derived keys never leave the process.
type Factotum interface {
	// DirKey returns the keypair controlling the directory at the given
	// path elements. The empty slice names the root directory.
	DirKey(elems []string) (KeyPair, error)

	// Sign signs msg with the pair's private key.
	Sign(kp KeyPair, msg []byte) (Signature, error)

	// Verify reports whether sig is pk's signature over msg.
	Verify(pk PublicKey, msg []byte, sig Signature) bool

	// Blake3 hashes data.
	Blake3(data []byte) [DigestSize]byte

	// Blake3Keyed hashes data under key.
	Blake3Keyed(key [DigestSize]byte, data []byte) [DigestSize]byte

	// SealKey returns the symmetric key for sealing blobs belonging to
	// the directory at the given path elements.
	SealKey(elems []string) ([DigestSize]byte, error)

	// Seal encrypts plaintext under key. The result carries its nonce.
	Seal(key [DigestSize]byte, plaintext []byte) ([]byte, error)

	// Open reverses Seal.
	Open(key [DigestSize]byte, box []byte) ([]byte, error)
}

// Transport identifies how the network address within an Endpoint is to
// be interpreted.
type Transport uint8

const (
	// Unassigned indicates a service that returns an error from every
	// method call. It is the zero value for Transport.
	Unassigned Transport = iota

	// InProcess indicates that contents are located in the current
	// process, typically in memory.
	InProcess

	// Remote indicates a connection to a portal node over HTTP.
	// The Endpoint's NetAddr is the portal's base URL.
	Remote
)

// A NetAddr is the network address of a service.
type NetAddr string

// An Endpoint identifies an instance of a service.
type Endpoint struct {
	Transport Transport
	NetAddr   NetAddr
}

// ParseEndpoint turns a string of the form "inprocess" or
// "remote,https://portal.example.org" into an Endpoint.
func ParseEndpoint(s string) (*Endpoint, error) {
	switch {
	case s == "inprocess":
		return &Endpoint{Transport: InProcess}, nil
	case strings.HasPrefix(s, "remote,"):
		addr := s[len("remote,"):]
		if addr == "" {
			return nil, errors.New("remote endpoint missing address")
		}
		return &Endpoint{Transport: Remote, NetAddr: NetAddr(addr)}, nil
	case s == "unassigned":
		return &Endpoint{}, nil
	}
	return nil, fmt.Errorf("unknown endpoint %q", s)
}

func (e Endpoint) String() string {
	switch e.Transport {
	case InProcess:
		return "inprocess"
	case Remote:
		return "remote," + string(e.NetAddr)
	}
	return "unassigned"
}

// A Packing identifies the transform applied to payload bytes before they
// are stored: nothing, or encryption under a derived key.
type Packing uint8

const (
	// UnassignedPack is the zero value and is never stored.
	UnassignedPack Packing = iota

	// PlainPack stores bytes unchanged.
	PlainPack

	// SealPack encrypts bytes with XChaCha20-Poly1305 under a key
	// derived from the owning directory's key.
	SealPack
)

func (p Packing) String() string {
	switch p {
	case PlainPack:
		return "plain"
	case SealPack:
		return "seal"
	}
	return "unassigned"
}
