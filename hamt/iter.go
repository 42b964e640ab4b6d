// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hamt

import (
	"context"

	"portalfs.io/codec"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// Iteration yields entries in trie order: child slots ascending at each
// internal node, names ascending within a leaf. The order is stable for
// an unchanged tree, which is what resumable pagination needs; it is not
// name order across the whole directory.
//
// A cursor is the slot path from the root to a leaf plus the offset of
// the next entry within it. It is serialized with the same codec as
// everything else and is opaque to callers.

type cursor struct {
	path   []uint8
	offset int
}

func (c *cursor) encode() ([]byte, error) {
	w := codec.NewWriter()
	w.Array(2)
	w.Array(len(c.path))
	for _, s := range c.path {
		w.Uint(uint64(s))
	}
	w.Uint(uint64(c.offset))
	return w.Result()
}

func decodeCursor(data []byte) (*cursor, error) {
	const op = "hamt.decodeCursor"
	r := codec.NewReader(data)
	if n := r.Array(); n != 2 {
		if err := r.Err(); err != nil {
			return nil, errors.E(op, errors.Invalid, err)
		}
		return nil, errors.E(op, errors.Invalid, errors.Str("malformed cursor"))
	}
	c := new(cursor)
	n := r.Array()
	for i := 0; i < n; i++ {
		s := r.Uint()
		if s >= slotsPerNode {
			return nil, errors.E(op, errors.Invalid, errors.Str("malformed cursor"))
		}
		c.path = append(c.path, uint8(s))
	}
	c.offset = int(r.Uint())
	if err := r.Err(); err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}
	if r.Len() != 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("malformed cursor"))
	}
	return c, nil
}

// List returns up to limit entries in trie order, starting after the
// position encoded by cursorBytes (nil means the beginning), and the
// cursor for the next page. A nil next cursor means the iteration is
// complete. A limit of zero or less means no limit.
func (t *Tree) List(ctx context.Context, cursorBytes []byte, limit int) ([]portalfs.Entry, []byte, error) {
	if t.root == nil {
		return nil, nil, nil
	}
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	l := &lister{t: t, ctx: ctx, limit: limit}
	var resume []uint8
	offset := 0
	if len(cursorBytes) > 0 {
		cur, err := decodeCursor(cursorBytes)
		if err != nil {
			return nil, nil, err
		}
		resume = cur.path
		offset = cur.offset
	}
	n, err := t.load(ctx, t.root)
	if err != nil {
		return nil, nil, err
	}
	if _, err := l.visit(n, resume, len(cursorBytes) > 0, offset); err != nil {
		return nil, nil, err
	}
	if l.next == nil {
		return l.out, nil, nil
	}
	next, err := l.next.encode()
	if err != nil {
		return nil, nil, err
	}
	return l.out, next, nil
}

type lister struct {
	t     *Tree
	ctx   context.Context
	out   []portalfs.Entry
	limit int
	path  []uint8
	next  *cursor
}

// visit walks the subtree at n. When resuming, the walk descends along
// the cursor's slot path, skipping everything before it; a path made
// stale by concurrent restructuring degrades to a fresh walk of the
// nearest surviving subtree.
func (l *lister) visit(n *node, resume []uint8, resuming bool, offset int) (stop bool, err error) {
	if n.leaf {
		start := 0
		if resuming && len(resume) == 0 {
			start = offset
		}
		for i := start; i < len(n.entries); i++ {
			if len(l.out) >= l.limit {
				l.next = &cursor{path: append([]uint8(nil), l.path...), offset: i}
				return true, nil
			}
			l.out = append(l.out, n.entries[i])
		}
		return false, nil
	}

	startSlot := 0
	if resuming && len(resume) > 0 {
		startSlot = int(resume[0])
	}
	for slot := startSlot; slot < slotsPerNode; slot++ {
		if n.bitmap&(1<<uint(slot)) == 0 {
			continue
		}
		cn, err := l.t.load(l.ctx, n.children[slotPos(n.bitmap, slot)])
		if err != nil {
			return false, err
		}
		l.path = append(l.path, uint8(slot))
		childResuming := resuming && len(resume) > 0 && slot == startSlot
		var childResume []uint8
		if childResuming {
			childResume = resume[1:]
		}
		stop, err := l.visit(cn, childResume, childResuming, offset)
		l.path = l.path[:len(l.path)-1]
		if err != nil || stop {
			return stop, err
		}
	}
	return false, nil
}
