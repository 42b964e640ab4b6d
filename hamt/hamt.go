// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hamt implements the large-directory index: a hash array-mapped
// trie over entry names. Each node is a content-addressed blob; a
// directory that outgrows its inline maps carries the root node's hash
// in its header and keeps its entries here instead.
//
// The trie consumes the 64-bit hash of a name five bits at a time, so an
// internal node has up to 32 children tracked by a bitmap. Leaves hold a
// small sorted run of entries; a leaf that outgrows its capacity splits
// into an internal node, redistributing entries by their next five bits.
// Names whose hashes fully collide share a leaf and are found by searching
// its sorted names, so the structure is correct even against adversarial
// names.
package hamt // import "portalfs.io/hamt"

import (
	"context"
	"encoding/binary"
	"math/bits"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"

	"portalfs.io/codec"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// Geometry and limits of the trie.
const (
	// BitsPerLevel is how much of the hash one level consumes.
	BitsPerLevel = 5

	// slotsPerNode is the fan-out of an internal node.
	slotsPerNode = 1 << BitsPerLevel

	// LeafCapacity is how many entries a leaf holds before it splits.
	LeafCapacity = 16
)

// HashFunc identifies the 64-bit hash over entry names. It is recorded
// in the directory header and must never change for the life of a tree:
// records produced by different functions cannot share an index.
type HashFunc uint8

// The defined hash functions.
const (
	// XXHash64 is the default, chosen for speed.
	XXHash64 HashFunc = 0

	// Blake3 is Blake3-256 truncated to its first eight bytes,
	// little-endian.
	Blake3 HashFunc = 1
)

// Node kinds on the wire.
const (
	nodeInternal = 0
	nodeLeaf     = 1
)

// Field tags of a serialized node.
const (
	nodeFieldKind    = 0
	nodeFieldPayload = 1
	nodeFieldHash    = 2
)

// Store is the node persistence a Tree runs over. The client wires this
// to the blob service with its packer and integrity checks applied, so
// the trie itself never sees the network.
type Store interface {
	// Load returns the node blob stored under h.
	Load(ctx context.Context, h portalfs.Hash) ([]byte, error)

	// Save stores a node blob and returns its hash.
	Save(ctx context.Context, data []byte) (portalfs.Hash, error)
}

// hashKey hashes an entry name with the tree's hash function.
func hashKey(fn HashFunc, name string) uint64 {
	switch fn {
	case Blake3:
		sum := blake3.Sum256([]byte(name))
		return binary.LittleEndian.Uint64(sum[:8])
	default:
		return xxhash.Sum64String(name)
	}
}

// slotIndex extracts the child slot for the given depth. Shifts of 64 or
// more yield zero, so depths past the hash's end collapse to slot 0 and
// the insert path stops splitting there.
func slotIndex(hash uint64, depth int) int {
	return int((hash >> (uint(depth) * BitsPerLevel)) & (slotsPerNode - 1))
}

// slotPos maps a slot to its position in the compact child array. The
// bitmap is explicitly 32-bit unsigned; sign extension has no way in.
func slotPos(bitmap uint32, slot int) int {
	return bits.OnesCount32(bitmap & (1<<uint(slot) - 1))
}

// canSplit reports whether a leaf at the given depth has hash bits left
// to redistribute on.
func canSplit(depth int) bool {
	return depth*BitsPerLevel < 64
}

// A child is one slot of an internal node: the hash of the serialized
// child, and the child itself once loaded or newly built.
type child struct {
	ref  portalfs.Hash
	node *node
}

// A node is one trie node held in memory. Exactly one of the internal
// and leaf shapes is populated. A dirty node differs from its stored
// form (or has none) and is rewritten by Flush.
type node struct {
	leaf bool

	// Internal shape.
	bitmap   uint32
	children []*child

	// Leaf shape: entries sorted by name.
	entries []portalfs.Entry

	dirty bool
	hash  portalfs.Hash // valid when !dirty
}

// A Tree is one directory's index. It is not safe for concurrent use;
// the path engine serializes access per directory.
type Tree struct {
	fn    HashFunc
	store Store
	root  *child // nil when the tree is empty
	count uint64
}

// New returns an empty tree using the given hash function.
func New(fn HashFunc, store Store) *Tree {
	return &Tree{fn: fn, store: store}
}

// Load returns a tree over an existing index, reading nodes lazily.
func Load(shard *portalfs.Shard, store Store) (*Tree, error) {
	const op = "hamt.Load"
	if shard.BitsPerLevel != BitsPerLevel {
		return nil, errors.E(op, errors.Corrupt, errors.Errorf("unsupported index fan-out %d", shard.BitsPerLevel))
	}
	if shard.HashFunction > uint8(Blake3) {
		return nil, errors.E(op, errors.Corrupt, errors.Errorf("unknown index hash function %d", shard.HashFunction))
	}
	t := &Tree{fn: HashFunc(shard.HashFunction), store: store, count: shard.EntryCount}
	if !shard.Root.IsZero() {
		t.root = &child{ref: shard.Root}
	}
	return t, nil
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() uint64 {
	return t.count
}

// HashFunc returns the tree's hash function.
func (t *Tree) HashFunc() HashFunc {
	return t.fn
}

func (t *Tree) load(ctx context.Context, c *child) (*node, error) {
	if c.node != nil {
		return c.node, nil
	}
	data, err := t.store.Load(ctx, c.ref)
	if err != nil {
		return nil, err
	}
	n, err := t.unmarshalNode(data)
	if err != nil {
		return nil, err
	}
	n.hash = c.ref
	c.node = n
	return n, nil
}

// Insert adds an entry, replacing any entry of the same name.
func (t *Tree) Insert(ctx context.Context, e portalfs.Entry) error {
	if t.root == nil {
		t.root = &child{node: &node{leaf: true, entries: []portalfs.Entry{e}, dirty: true}}
		t.count = 1
		return nil
	}
	n, err := t.load(ctx, t.root)
	if err != nil {
		return err
	}
	added, err := t.insert(ctx, n, hashKey(t.fn, e.Name), e, 0)
	if err != nil {
		return err
	}
	if added {
		t.count++
	}
	return nil
}

func (t *Tree) insert(ctx context.Context, n *node, h uint64, e portalfs.Entry, depth int) (added bool, err error) {
	if n.leaf {
		i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Name >= e.Name })
		if i < len(n.entries) && n.entries[i].Name == e.Name {
			n.entries[i] = e
			n.dirty = true
			return false, nil
		}
		if len(n.entries) >= LeafCapacity && canSplit(depth) {
			t.split(n, depth)
			return t.insert(ctx, n, h, e, depth)
		}
		n.entries = append(n.entries, portalfs.Entry{})
		copy(n.entries[i+1:], n.entries[i:])
		n.entries[i] = e
		n.dirty = true
		return true, nil
	}

	slot := slotIndex(h, depth)
	pos := slotPos(n.bitmap, slot)
	if n.bitmap&(1<<uint(slot)) == 0 {
		leaf := &node{leaf: true, entries: []portalfs.Entry{e}, dirty: true}
		n.children = append(n.children, nil)
		copy(n.children[pos+1:], n.children[pos:])
		n.children[pos] = &child{node: leaf}
		n.bitmap |= 1 << uint(slot)
		n.dirty = true
		return true, nil
	}
	cn, err := t.load(ctx, n.children[pos])
	if err != nil {
		return false, err
	}
	added, err = t.insert(ctx, cn, h, e, depth+1)
	if err != nil {
		return false, err
	}
	// The child changed, so this node's serialization changes too.
	n.dirty = true
	return added, nil
}

// split converts a full leaf into an internal node, redistributing its
// entries by their next five hash bits. All new nodes are in memory, so
// the recursive reinsertion performs no I/O.
func (t *Tree) split(n *node, depth int) {
	entries := n.entries
	n.leaf = false
	n.entries = nil
	n.bitmap = 0
	n.children = nil
	n.dirty = true
	for _, e := range entries {
		// Insertion into a node whose children are all in memory
		// cannot fail.
		t.insert(context.Background(), n, hashKey(t.fn, e.Name), e, depth)
	}
}

// Get returns the entry with the given name.
func (t *Tree) Get(ctx context.Context, name string) (portalfs.Entry, bool, error) {
	if t.root == nil {
		return portalfs.Entry{}, false, nil
	}
	h := hashKey(t.fn, name)
	c := t.root
	for depth := 0; ; depth++ {
		n, err := t.load(ctx, c)
		if err != nil {
			return portalfs.Entry{}, false, err
		}
		if n.leaf {
			i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Name >= name })
			if i < len(n.entries) && n.entries[i].Name == name {
				return n.entries[i], true, nil
			}
			return portalfs.Entry{}, false, nil
		}
		slot := slotIndex(h, depth)
		if n.bitmap&(1<<uint(slot)) == 0 {
			return portalfs.Entry{}, false, nil
		}
		c = n.children[slotPos(n.bitmap, slot)]
	}
}

// Delete removes the entry with the given name, reporting whether it
// was present. Emptied leaves are unlinked from their parents, and an
// internal node left with a single leaf child collapses into it.
func (t *Tree) Delete(ctx context.Context, name string) (bool, error) {
	if t.root == nil {
		return false, nil
	}
	n, err := t.load(ctx, t.root)
	if err != nil {
		return false, err
	}
	removed, empty, err := t.delete(ctx, n, hashKey(t.fn, name), name, 0)
	if err != nil {
		return false, err
	}
	if removed {
		t.count--
	}
	if empty {
		t.root = nil
	}
	return removed, nil
}

func (t *Tree) delete(ctx context.Context, n *node, h uint64, name string, depth int) (removed, empty bool, err error) {
	if n.leaf {
		i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Name >= name })
		if i >= len(n.entries) || n.entries[i].Name != name {
			return false, false, nil
		}
		n.entries = append(n.entries[:i], n.entries[i+1:]...)
		n.dirty = true
		return true, len(n.entries) == 0, nil
	}

	slot := slotIndex(h, depth)
	if n.bitmap&(1<<uint(slot)) == 0 {
		return false, false, nil
	}
	pos := slotPos(n.bitmap, slot)
	cn, err := t.load(ctx, n.children[pos])
	if err != nil {
		return false, false, err
	}
	removed, childEmpty, err := t.delete(ctx, cn, h, name, depth+1)
	if err != nil {
		return false, false, err
	}
	if !removed {
		return false, false, nil
	}
	n.dirty = true
	if childEmpty {
		n.children = append(n.children[:pos], n.children[pos+1:]...)
		n.bitmap &^= 1 << uint(slot)
	}
	if n.bitmap == 0 {
		return true, true, nil
	}
	// Tail-compaction: an internal node holding a single leaf child
	// is replaced by that leaf.
	if len(n.children) == 1 {
		only, err := t.load(ctx, n.children[0])
		if err != nil {
			return false, false, err
		}
		if only.leaf {
			n.leaf = true
			n.entries = only.entries
			n.bitmap = 0
			n.children = nil
		}
	}
	return true, false, nil
}

// Flush writes every dirty node and returns the header shard describing
// the tree. An empty tree flushes to an empty leaf, so a tree that has
// had all its entries deleted serializes identically to a fresh one.
func (t *Tree) Flush(ctx context.Context) (*portalfs.Shard, error) {
	root := t.root
	if root == nil {
		root = &child{node: &node{leaf: true, dirty: true}}
	}
	n, err := t.load(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := t.flush(ctx, n); err != nil {
		return nil, err
	}
	root.ref = n.hash
	return &portalfs.Shard{
		Root:         n.hash,
		HashFunction: uint8(t.fn),
		BitsPerLevel: BitsPerLevel,
		EntryCount:   t.count,
	}, nil
}

func (t *Tree) flush(ctx context.Context, n *node) error {
	if !n.dirty {
		return nil
	}
	if !n.leaf {
		for _, c := range n.children {
			if c.node == nil {
				continue // Never loaded, so never modified.
			}
			if err := t.flush(ctx, c.node); err != nil {
				return err
			}
			c.ref = c.node.hash
		}
	}
	data, err := t.marshalNode(n)
	if err != nil {
		return err
	}
	h, err := t.store.Save(ctx, data)
	if err != nil {
		return err
	}
	n.hash = h
	n.dirty = false
	return nil
}

func (t *Tree) marshalNode(n *node) ([]byte, error) {
	w := codec.NewWriter()
	w.Map(3)
	w.Uint(nodeFieldKind)
	if n.leaf {
		w.Uint(nodeLeaf)
		w.Uint(nodeFieldPayload)
		w.Array(len(n.entries))
		for i := range n.entries {
			e := &n.entries[i]
			var (
				ref []byte
				err error
			)
			switch e.Kind {
			case portalfs.EntryFile:
				ref, err = e.File.Marshal()
			case portalfs.EntryDir:
				ref, err = e.Dir.Marshal()
			}
			if err != nil {
				return nil, err
			}
			w.Array(2)
			w.String(e.Name)
			w.Map(2)
			w.Uint(0)
			w.Uint(uint64(e.Kind))
			w.Uint(1)
			w.Raw(codec.Raw(ref))
		}
	} else {
		w.Uint(nodeInternal)
		w.Uint(nodeFieldPayload)
		w.Array(2)
		w.Uint(uint64(n.bitmap))
		w.Array(len(n.children))
		for _, c := range n.children {
			w.Bytes(c.ref[:])
		}
	}
	w.Uint(nodeFieldHash)
	w.Uint(uint64(t.fn))
	return w.Result()
}

func (t *Tree) unmarshalNode(data []byte) (*node, error) {
	const op = "hamt.unmarshalNode"
	r := codec.NewReader(data)
	if m := r.Map(); m != 3 {
		if err := r.Err(); err != nil {
			return nil, errors.E(op, errors.Corrupt, err)
		}
		return nil, errors.E(op, errors.Corrupt, errors.Str("malformed index node"))
	}
	if k := r.Uint(); k != nodeFieldKind {
		return nil, errors.E(op, errors.Corrupt, errors.Str("malformed index node"))
	}
	kind := r.Uint()
	if k := r.Uint(); k != nodeFieldPayload {
		return nil, errors.E(op, errors.Corrupt, errors.Str("malformed index node"))
	}
	n := new(node)
	switch kind {
	case nodeLeaf:
		n.leaf = true
		count := r.Array()
		n.entries = make([]portalfs.Entry, 0, count)
		for i := 0; i < count; i++ {
			if c := r.Array(); c != 2 {
				return nil, errors.E(op, errors.Corrupt, errors.Str("malformed leaf entry"))
			}
			name := r.String()
			if c := r.Map(); c != 2 {
				return nil, errors.E(op, errors.Corrupt, errors.Str("malformed leaf entry"))
			}
			if k := r.Uint(); k != 0 {
				return nil, errors.E(op, errors.Corrupt, errors.Str("malformed leaf entry"))
			}
			entryKind := portalfs.EntryKind(r.Uint())
			if k := r.Uint(); k != 1 {
				return nil, errors.E(op, errors.Corrupt, errors.Str("malformed leaf entry"))
			}
			raw := r.Raw()
			if err := r.Err(); err != nil {
				return nil, errors.E(op, errors.Corrupt, err)
			}
			e := portalfs.Entry{Name: name, Kind: entryKind}
			switch entryKind {
			case portalfs.EntryFile:
				e.File = new(portalfs.FileRef)
				if err := e.File.Unmarshal(raw); err != nil {
					return nil, errors.E(op, errors.Corrupt, err)
				}
			case portalfs.EntryDir:
				e.Dir = new(portalfs.DirRef)
				if err := e.Dir.Unmarshal(raw); err != nil {
					return nil, errors.E(op, errors.Corrupt, err)
				}
			default:
				return nil, errors.E(op, errors.Corrupt, errors.Errorf("unknown entry kind %d", entryKind))
			}
			n.entries = append(n.entries, e)
		}
	case nodeInternal:
		if c := r.Array(); c != 2 {
			return nil, errors.E(op, errors.Corrupt, errors.Str("malformed internal node"))
		}
		n.bitmap = uint32(r.Uint())
		count := r.Array()
		if count != bits.OnesCount32(n.bitmap) {
			if err := r.Err(); err != nil {
				return nil, errors.E(op, errors.Corrupt, err)
			}
			return nil, errors.E(op, errors.Corrupt, errors.Str("bitmap does not match child count"))
		}
		n.children = make([]*child, 0, count)
		for i := 0; i < count; i++ {
			h, err := portalfs.ParseHash(r.Bytes())
			if r.Err() != nil {
				return nil, errors.E(op, errors.Corrupt, r.Err())
			}
			if err != nil {
				return nil, errors.E(op, errors.Corrupt, err)
			}
			n.children = append(n.children, &child{ref: h})
		}
	default:
		return nil, errors.E(op, errors.Corrupt, errors.Errorf("unknown node kind %d", kind))
	}
	if k := r.Uint(); k != nodeFieldHash {
		return nil, errors.E(op, errors.Corrupt, errors.Str("malformed index node"))
	}
	if fn := HashFunc(r.Uint()); fn != t.fn {
		return nil, errors.E(op, errors.Corrupt, errors.Errorf("index node hash function %d, tree uses %d", fn, t.fn))
	}
	if err := r.Err(); err != nil {
		return nil, errors.E(op, errors.Corrupt, err)
	}
	return n, nil
}
