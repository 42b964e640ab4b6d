// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"sort"

	"portalfs.io/errors"
	"portalfs.io/path"
	"portalfs.io/portalfs"
)

// Include selects which entry kinds a listing yields.
type Include uint8

// The include modes.
const (
	IncludeBoth Include = iota
	IncludeFiles
	IncludeDirs
)

func (inc Include) wants(k portalfs.EntryKind) bool {
	switch inc {
	case IncludeFiles:
		return k == portalfs.EntryFile
	case IncludeDirs:
		return k == portalfs.EntryDir
	}
	return true
}

// ListOptions control List.
type ListOptions struct {
	// Limit bounds the number of entries per page. Zero or less means
	// no bound.
	Limit int

	// Cursor resumes a previous listing from its NextCursor. The
	// cursor is opaque; it is only meaningful for the directory that
	// produced it.
	Cursor []byte

	// Include selects files, directories, or both.
	Include Include
}

// ListResult is one page of a listing.
type ListResult struct {
	Entries []portalfs.Entry

	// NextCursor resumes the listing after the last entry of this
	// page. It is nil when the listing is complete.
	NextCursor []byte
}

// Cursor type tags. An inline directory pages by last-yielded name; an
// indexed one by trie position. A cursor carried across a promotion or
// demotion no longer matches and is rejected.
const (
	cursorInline = 0x00
	cursorIndex  = 0x01
)

// List returns a page of the directory at name. Inline directories
// list in byte order of name; indexed directories list in their trie
// order. Entries present for the whole iteration are yielded exactly
// once; entries inserted mid-iteration may or may not appear.
func (c *Client) List(ctx context.Context, name portalfs.PathName, opts *ListOptions) (*ListResult, error) {
	const op = "client.List"
	if opts == nil {
		opts = &ListOptions{}
	}
	p, err := path.Parse(name)
	if err != nil {
		return nil, errors.E(op, name, errors.Invalid, err)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	st, err := c.resolveDir(ctx, p)
	if err != nil {
		return nil, c.wrap(op, name, err)
	}

	if st.tree != nil {
		return c.listIndexed(ctx, op, st, opts)
	}
	return c.listInline(op, st, opts)
}

func (c *Client) listInline(op string, st *dirState, opts *ListOptions) (*ListResult, error) {
	after := ""
	if len(opts.Cursor) > 0 {
		if opts.Cursor[0] != cursorInline {
			return nil, errors.E(op, st.p.Path(), errors.Invalid, errors.Str("cursor does not match directory shape"))
		}
		after = string(opts.Cursor[1:])
	}

	names := make([]string, 0, c.entryCount(st))
	for n := range st.dir.Dirs {
		names = append(names, n)
	}
	for n := range st.dir.Files {
		names = append(names, n)
	}
	sort.Strings(names)

	result := new(ListResult)
	for _, n := range names {
		if after != "" && n <= after {
			continue
		}
		var e portalfs.Entry
		if ref, ok := st.dir.Dirs[n]; ok {
			e = portalfs.Entry{Name: n, Kind: portalfs.EntryDir, Dir: ref}
		} else {
			e = portalfs.Entry{Name: n, Kind: portalfs.EntryFile, File: st.dir.Files[n]}
		}
		if !opts.Include.wants(e.Kind) {
			continue
		}
		if opts.Limit > 0 && len(result.Entries) == opts.Limit {
			cur := make([]byte, 0, 1+len(result.Entries[len(result.Entries)-1].Name))
			cur = append(cur, cursorInline)
			cur = append(cur, result.Entries[len(result.Entries)-1].Name...)
			result.NextCursor = cur
			return result, nil
		}
		result.Entries = append(result.Entries, e)
	}
	return result, nil
}

func (c *Client) listIndexed(ctx context.Context, op string, st *dirState, opts *ListOptions) (*ListResult, error) {
	var cursor []byte
	if len(opts.Cursor) > 0 {
		if opts.Cursor[0] != cursorIndex {
			return nil, errors.E(op, st.p.Path(), errors.Invalid, errors.Str("cursor does not match directory shape"))
		}
		cursor = opts.Cursor[1:]
	}
	entries, next, err := st.tree.List(ctx, cursor, opts.Limit)
	if err != nil {
		return nil, c.wrap(op, st.p.Path(), err)
	}
	result := new(ListResult)
	for _, e := range entries {
		if opts.Include.wants(e.Kind) {
			result.Entries = append(result.Entries, e)
		}
	}
	if next != nil {
		result.NextCursor = append([]byte{cursorIndex}, next...)
	}
	return result, nil
}
