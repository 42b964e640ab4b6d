// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file is the heart of the path engine: loading directories by
// derived key or by link, the entry operations that are transparent to
// whether a directory is inline or indexed, promotion and demotion, and
// the compare-and-swap publish loop every mutation runs through.

package client

import (
	"context"
	"time"

	"portalfs.io/errors"
	"portalfs.io/hamt"
	"portalfs.io/log"
	"portalfs.io/path"
	"portalfs.io/portalfs"
	"portalfs.io/valid"
)

// A dirState is the in-memory draft of one directory during an
// operation. The engine owns it exclusively for the duration; nothing
// is shared between operations.
type dirState struct {
	p    path.Parsed
	kp   portalfs.KeyPair
	dir  *portalfs.DirV1 // nil means the directory does not exist
	tree *hamt.Tree      // non-nil when the directory is indexed
	rev  uint64          // current registry revision; 0 when absent
}

// errUnchanged is returned by a mutation function to report that the
// directory needs no update; the publish step is skipped.
var errUnchanged = errors.Str("directory unchanged")

// nodeStore adapts the blob service for index nodes, applying the
// packer and the integrity check for the owning directory.
type nodeStore struct {
	c     *Client
	elems []string
}

var _ hamt.Store = nodeStore{}

func (s nodeStore) Load(ctx context.Context, h portalfs.Hash) ([]byte, error) {
	return s.c.fetchBlob(ctx, h, s.elems)
}

func (s nodeStore) Save(ctx context.Context, data []byte) (portalfs.Hash, error) {
	return s.c.putBlob(ctx, data, s.elems)
}

// packBlob packs data for the directory at elems and returns the stored
// form and the hash addressing it.
func (c *Client) packBlob(data []byte, elems []string) ([]byte, portalfs.Hash, error) {
	stored, err := c.packer.Pack(c.fac, elems, data)
	if err != nil {
		return nil, portalfs.Hash{}, err
	}
	return stored, portalfs.HashOfDigest(c.fac.Blake3(stored)), nil
}

// putBlob packs and uploads data, verifying that the service reports
// the hash computed locally.
func (c *Client) putBlob(ctx context.Context, data []byte, elems []string) (portalfs.Hash, error) {
	const op = "client.putBlob"
	stored, h, err := c.packBlob(data, elems)
	if err != nil {
		return portalfs.Hash{}, err
	}
	got, err := c.store.Put(ctx, stored)
	if err != nil {
		return portalfs.Hash{}, err
	}
	if got != h {
		return portalfs.Hash{}, errors.E(op, errors.Integrity, errors.Str("store reported a different hash than computed"))
	}
	return h, nil
}

// fetchBlob downloads the blob at h, verifies its hash against the
// link, and unpacks it. Any mismatch is fatal to the operation: it
// means the remote service is corrupt or lying.
func (c *Client) fetchBlob(ctx context.Context, h portalfs.Hash, elems []string) ([]byte, error) {
	const op = "client.fetchBlob"
	stored, err := c.store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	if portalfs.HashOfDigest(c.fac.Blake3(stored)) != h {
		return nil, errors.E(op, errors.Integrity, errors.Errorf("blob %s does not match its hash", h))
	}
	return c.packer.Unpack(c.fac, elems, stored)
}

// loadDirByKey loads the directory at p through its derived registry
// key. An absent registry entry yields a state with a nil dir, except
// at the root, which implicitly exists and is empty.
func (c *Client) loadDirByKey(ctx context.Context, p path.Parsed) (*dirState, error) {
	kp, err := c.fac.DirKey(p.Elems())
	if err != nil {
		return nil, err
	}
	st := &dirState{p: p, kp: kp}
	rec, err := c.reg.Lookup(ctx, kp.Public)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if p.IsRoot() {
			st.dir = portalfs.NewDir()
		}
		return st, nil
	}
	st.rev = rec.Revision
	if err := c.loadDirRecord(ctx, st, rec); err != nil {
		return nil, err
	}
	return st, nil
}

// loadDirByLink loads the directory at p through the link its parent
// holds, following a registry pointer or fetching a fixed blob.
func (c *Client) loadDirByLink(ctx context.Context, p path.Parsed, link portalfs.Link) (*dirState, error) {
	st := &dirState{p: p}
	if kp, err := c.fac.DirKey(p.Elems()); err == nil {
		st.kp = kp
	}
	if h, ok := link.Hash(); ok {
		return st, c.loadDirBlob(ctx, st, h)
	}
	pk, _ := link.PublicKey()
	rec, err := c.reg.Lookup(ctx, pk)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return st, nil
	}
	st.rev = rec.Revision
	return st, c.loadDirRecord(ctx, st, rec)
}

func (c *Client) loadDirRecord(ctx context.Context, st *dirState, rec *portalfs.SignedRecord) error {
	const op = "client.loadDir"
	link, err := portalfs.ParseLink(rec.Data)
	if err != nil {
		return errors.E(op, st.p.Path(), errors.Corrupt, err)
	}
	h, ok := link.Hash()
	if !ok {
		return errors.E(op, st.p.Path(), errors.Corrupt, errors.Str("registry entry does not hold a fixed link"))
	}
	return c.loadDirBlob(ctx, st, h)
}

func (c *Client) loadDirBlob(ctx context.Context, st *dirState, h portalfs.Hash) error {
	const op = "client.loadDir"
	blob, err := c.fetchBlob(ctx, h, st.p.Elems())
	if err != nil {
		return err
	}
	dir := new(portalfs.DirV1)
	if err := dir.Unmarshal(blob); err != nil {
		return errors.E(op, st.p.Path(), errors.Corrupt, err)
	}
	st.dir = dir
	if dir.Sharded() {
		tree, err := hamt.Load(dir.Header.Shard, nodeStore{c, st.p.Elems()})
		if err != nil {
			return errors.E(op, st.p.Path(), err)
		}
		st.tree = tree
	}
	return nil
}

// resolveDir walks the registry pointers from the root to the directory
// at p, so a missing segment anywhere fails the operation.
func (c *Client) resolveDir(ctx context.Context, p path.Parsed) (*dirState, error) {
	const op = "client.resolveDir"
	cur, _ := path.Parse("/")
	st, err := c.loadDirByKey(ctx, cur)
	if err != nil {
		return nil, err
	}
	for _, elem := range p.Elems() {
		e, ok, err := c.lookupEntry(ctx, st, elem)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.E(op, p.Path(), errors.NotExist)
		}
		if e.Kind != portalfs.EntryDir {
			return nil, errors.E(op, p.Path(), errors.NotDir, errors.Errorf("%q is a file", elem))
		}
		cur = cur.Join(elem)
		st, err = c.loadDirByLink(ctx, cur, e.Dir.Link)
		if err != nil {
			return nil, err
		}
		if st.dir == nil {
			return nil, errors.E(op, p.Path(), errors.NotExist, errors.Str("dangling directory link"))
		}
	}
	return st, nil
}

// lookupEntry finds a named entry whether the directory is inline or
// indexed.
func (c *Client) lookupEntry(ctx context.Context, st *dirState, name string) (portalfs.Entry, bool, error) {
	if st.dir == nil {
		return portalfs.Entry{}, false, nil
	}
	if st.tree != nil {
		return st.tree.Get(ctx, name)
	}
	if ref, ok := st.dir.Dirs[name]; ok {
		return portalfs.Entry{Name: name, Kind: portalfs.EntryDir, Dir: ref}, true, nil
	}
	if ref, ok := st.dir.Files[name]; ok {
		return portalfs.Entry{Name: name, Kind: portalfs.EntryFile, File: ref}, true, nil
	}
	return portalfs.Entry{}, false, nil
}

// insertEntry adds or replaces an entry. The caller has already
// resolved name conflicts across kinds.
func (c *Client) insertEntry(ctx context.Context, st *dirState, e portalfs.Entry) error {
	if st.tree != nil {
		return st.tree.Insert(ctx, e)
	}
	switch e.Kind {
	case portalfs.EntryDir:
		delete(st.dir.Files, e.Name)
		st.dir.Dirs[e.Name] = e.Dir
	default:
		delete(st.dir.Dirs, e.Name)
		st.dir.Files[e.Name] = e.File
	}
	return nil
}

// removeEntry deletes an entry, reporting whether it was present.
func (c *Client) removeEntry(ctx context.Context, st *dirState, name string) (bool, error) {
	if st.tree != nil {
		return st.tree.Delete(ctx, name)
	}
	if _, ok := st.dir.Dirs[name]; ok {
		delete(st.dir.Dirs, name)
		return true, nil
	}
	if _, ok := st.dir.Files[name]; ok {
		delete(st.dir.Files, name)
		return true, nil
	}
	return false, nil
}

func (c *Client) entryCount(st *dirState) int {
	if st.dir == nil {
		return 0
	}
	if st.tree != nil {
		return int(st.tree.Len())
	}
	return len(st.dir.Dirs) + len(st.dir.Files)
}

// allEntries returns every entry of the directory.
func (c *Client) allEntries(ctx context.Context, st *dirState) ([]portalfs.Entry, error) {
	if st.tree != nil {
		entries, _, err := st.tree.List(ctx, nil, 0)
		return entries, err
	}
	entries := make([]portalfs.Entry, 0, c.entryCount(st))
	for name, ref := range st.dir.Dirs {
		entries = append(entries, portalfs.Entry{Name: name, Kind: portalfs.EntryDir, Dir: ref})
	}
	for name, ref := range st.dir.Files {
		entries = append(entries, portalfs.Entry{Name: name, Kind: portalfs.EntryFile, File: ref})
	}
	return entries, nil
}

// maybeReshape promotes an inline directory that has outgrown the
// promotion threshold and demotes an indexed one that has shrunk below
// the demotion threshold. The gap between the two stops a directory
// flapping at the boundary.
func (c *Client) maybeReshape(ctx context.Context, st *dirState) error {
	if st.tree == nil && c.entryCount(st) > c.cfg.PromoteAt {
		tree := hamt.New(hamt.HashFunc(c.cfg.IndexHash), nodeStore{c, st.p.Elems()})
		for name, ref := range st.dir.Dirs {
			if err := tree.Insert(ctx, portalfs.Entry{Name: name, Kind: portalfs.EntryDir, Dir: ref}); err != nil {
				return err
			}
		}
		for name, ref := range st.dir.Files {
			if err := tree.Insert(ctx, portalfs.Entry{Name: name, Kind: portalfs.EntryFile, File: ref}); err != nil {
				return err
			}
		}
		st.tree = tree
		st.dir.Dirs = make(map[string]*portalfs.DirRef)
		st.dir.Files = make(map[string]*portalfs.FileRef)
		return nil
	}
	if st.tree != nil && int(st.tree.Len()) < c.cfg.DemoteAt {
		entries, _, err := st.tree.List(ctx, nil, 0)
		if err != nil {
			return err
		}
		st.dir.Dirs = make(map[string]*portalfs.DirRef)
		st.dir.Files = make(map[string]*portalfs.FileRef, len(entries))
		for _, e := range entries {
			if e.Kind == portalfs.EntryDir {
				st.dir.Dirs[e.Name] = e.Dir
			} else {
				st.dir.Files[e.Name] = e.File
			}
		}
		st.tree = nil
		st.dir.Header.Shard = nil
	}
	return nil
}

// publish serializes the draft, uploads the blob, and advances the
// registry pointer. A Transient error means another writer got there
// first; the caller reloads and retries.
func (c *Client) publish(ctx context.Context, st *dirState) error {
	const op = "client.publish"
	if st.tree != nil {
		shard, err := st.tree.Flush(ctx)
		if err != nil {
			return err
		}
		st.dir.Header.Shard = shard
		st.dir.Dirs = make(map[string]*portalfs.DirRef)
		st.dir.Files = make(map[string]*portalfs.FileRef)
	} else {
		st.dir.Header.Shard = nil
	}
	if err := valid.Directory(st.dir); err != nil {
		return errors.E(op, st.p.Path(), err)
	}
	blob, err := st.dir.Marshal()
	if err != nil {
		return errors.E(op, st.p.Path(), errors.Invalid, err)
	}
	h, err := c.putBlob(ctx, blob, st.p.Elems())
	if err != nil {
		return err
	}
	link := portalfs.FixedLink(h)
	return c.reg.Publish(ctx, st.kp, st.rev+1, link[:])
}

// mutateDir runs the compare-and-swap loop at the directory p: load the
// current state, apply fn to the draft, publish, and on a revision
// conflict reload and try again with exponential backoff until the
// retry budget runs out. The context deadline dominates the budget.
func (c *Client) mutateDir(ctx context.Context, op string, p path.Parsed, fn func(*dirState) error) error {
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.wrap(op, p.Path(), err)
		}
		st, err := c.loadDirByKey(ctx, p)
		if err != nil {
			return c.wrap(op, p.Path(), err)
		}
		if err := fn(st); err != nil {
			if err == errUnchanged {
				return nil
			}
			return c.wrap(op, p.Path(), err)
		}
		if st.dir == nil {
			return errors.E(op, p.Path(), errors.Str("mutation left no directory"))
		}
		if err := c.maybeReshape(ctx, st); err != nil {
			return c.wrap(op, p.Path(), err)
		}
		err = c.publish(ctx, st)
		if err == nil {
			return nil
		}
		if !errors.Is(errors.Transient, err) {
			return c.wrap(op, p.Path(), err)
		}
		if attempt+1 == c.cfg.Retries {
			break
		}
		log.Debug.Printf("client: %s %s: revision conflict, retrying", op, p)
		select {
		case <-ctx.Done():
			return c.wrap(op, p.Path(), ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return errors.E(op, p.Path(), errors.Conflict)
}
