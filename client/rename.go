// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"

	"portalfs.io/errors"
	"portalfs.io/path"
	"portalfs.io/portalfs"
	"portalfs.io/valid"
)

// Rename moves the entry at oldName to newName. Within one parent
// directory the move is a single atomic registry update. Across
// parents it is an insert followed by a remove, each atomic on its own
// directory: a failure in between leaves the entry visible at both
// paths, never at neither.
//
// Moving a directory re-keys its whole subtree, since directory keys
// derive from their paths; with an encrypting packing the file blobs
// are re-sealed under the destination keys as well.
func (c *Client) Rename(ctx context.Context, oldName, newName portalfs.PathName) error {
	const op = "client.Rename"
	po, err := path.Parse(oldName)
	if err != nil {
		return errors.E(op, oldName, errors.Invalid, err)
	}
	pn, err := path.Parse(newName)
	if err != nil {
		return errors.E(op, newName, errors.Invalid, err)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.rename(ctx, op, po, pn)
}

func (c *Client) rename(ctx context.Context, op string, po, pn path.Parsed) error {
	if po.IsRoot() || pn.IsRoot() {
		return errors.E(op, errors.Invalid, errors.Str("cannot move the root"))
	}
	if err := valid.Element(pn.Base()); err != nil {
		return errors.E(op, pn.Path(), err)
	}
	if pn.HasPrefix(po) {
		return errors.E(op, pn.Path(), errors.Invalid, errors.Str("cannot move a directory beneath itself"))
	}

	srcParent, dstParent := po.Parent(), pn.Parent()
	src, err := c.loadDirByKey(ctx, srcParent)
	if err != nil {
		return c.wrap(op, po.Path(), err)
	}
	e, ok, err := c.lookupEntry(ctx, src, po.Base())
	if err != nil {
		return c.wrap(op, po.Path(), err)
	}
	if !ok {
		return errors.E(op, po.Path(), errors.NotExist)
	}

	// Refuse to clobber the destination. The check repeats inside the
	// mutation loop; this early one just avoids expensive subtree
	// copies that would fail at the end.
	dst, err := c.loadDirByKey(ctx, dstParent)
	if err != nil {
		return c.wrap(op, pn.Path(), err)
	}
	if dst.dir == nil {
		return errors.E(op, pn.Path(), errors.NotExist, errors.Str("destination directory does not exist"))
	}
	if _, taken, err := c.lookupEntry(ctx, dst, pn.Base()); err != nil {
		return c.wrap(op, pn.Path(), err)
	} else if taken {
		return errors.E(op, pn.Path(), errors.Exist)
	}

	switch e.Kind {
	case portalfs.EntryFile:
		return c.renameFile(ctx, op, po, pn, e.File)
	default:
		return c.renameDir(ctx, op, po, pn, e.Dir)
	}
}

func (c *Client) renameFile(ctx context.Context, op string, po, pn path.Parsed, ref *portalfs.FileRef) error {
	moved, err := c.moveFileRef(ctx, ref, po.Parent().Elems(), pn.Parent().Elems())
	if err != nil {
		return c.wrap(op, po.Path(), err)
	}
	entry := portalfs.Entry{Name: pn.Base(), Kind: portalfs.EntryFile, File: moved}

	if po.Parent().Equal(pn.Parent()) {
		return c.mutateDir(ctx, op, po.Parent(), func(st *dirState) error {
			cur, ok, err := c.lookupEntry(ctx, st, po.Base())
			if err != nil {
				return err
			}
			if !ok || cur.Kind != portalfs.EntryFile {
				return errors.E(po.Path(), errors.NotExist)
			}
			if _, taken, err := c.lookupEntry(ctx, st, pn.Base()); err != nil {
				return err
			} else if taken {
				return errors.E(pn.Path(), errors.Exist)
			}
			if _, err := c.removeEntry(ctx, st, po.Base()); err != nil {
				return err
			}
			return c.insertEntry(ctx, st, entry)
		})
	}

	err = c.mutateDir(ctx, op, pn.Parent(), func(st *dirState) error {
		if st.dir == nil {
			return errors.E(pn.Path(), errors.NotExist, errors.Str("destination directory does not exist"))
		}
		if _, taken, err := c.lookupEntry(ctx, st, pn.Base()); err != nil {
			return err
		} else if taken {
			return errors.E(pn.Path(), errors.Exist)
		}
		return c.insertEntry(ctx, st, entry)
	})
	if err != nil {
		return err
	}
	return c.mutateDir(ctx, op, po.Parent(), func(st *dirState) error {
		removed, err := c.removeEntry(ctx, st, po.Base())
		if err != nil {
			return err
		}
		if !removed {
			return errUnchanged
		}
		return nil
	})
}

// moveFileRef prepares a file reference for life in a different
// directory. Under the plain packing the stored bytes are untouched and
// the reference moves as is. Under an encrypting packing the content is
// re-sealed for the destination directory, and the version history,
// whose blobs stay bound to the old keys, is dropped.
func (c *Client) moveFileRef(ctx context.Context, f *portalfs.FileRef, oldElems, newElems []string) (*portalfs.FileRef, error) {
	moved := *f
	if c.packer.Packing() == portalfs.PlainPack {
		return &moved, nil
	}
	content, err := c.readFile(ctx, oldElems, f)
	if err != nil {
		return nil, err
	}
	stored, h, err := c.packBlob(content, newElems)
	if err != nil {
		return nil, err
	}
	moved.Hash = h
	moved.Prev = nil
	if len(content) <= c.cfg.InlineLimit {
		moved.Locations = []portalfs.BlobLocation{{Kind: portalfs.LocationIdentity, Data: stored}}
		return &moved, nil
	}
	moved.Locations = nil
	got, err := c.store.Put(ctx, stored)
	if err != nil {
		return nil, err
	}
	if got != h {
		return nil, errors.E(errors.Integrity, errors.Str("store reported a different hash than computed"))
	}
	return &moved, nil
}

// renameDir replicates the subtree at po under pn's derived keys,
// links it at the destination, then unlinks and clears the source.
// Within one parent the link and the unlink are a single update.
func (c *Client) renameDir(ctx context.Context, op string, po, pn path.Parsed, ref *portalfs.DirRef) error {
	if err := c.copyTree(ctx, op, po, pn); err != nil {
		return err
	}

	newKey, err := c.fac.DirKey(pn.Elems())
	if err != nil {
		return c.wrap(op, pn.Path(), err)
	}
	moved := *ref
	moved.Link = portalfs.RegistryLink(newKey.Public)
	sameParent := po.Parent().Equal(pn.Parent())
	err = c.mutateDir(ctx, op, pn.Parent(), func(st *dirState) error {
		if st.dir == nil {
			return errors.E(pn.Path(), errors.NotExist, errors.Str("destination directory does not exist"))
		}
		if _, taken, err := c.lookupEntry(ctx, st, pn.Base()); err != nil {
			return err
		} else if taken {
			return errors.E(pn.Path(), errors.Exist)
		}
		if sameParent {
			if _, err := c.removeEntry(ctx, st, po.Base()); err != nil {
				return err
			}
		}
		return c.insertEntry(ctx, st, portalfs.Entry{Name: pn.Base(), Kind: portalfs.EntryDir, Dir: &moved})
	})
	if err != nil {
		return err
	}
	if sameParent {
		return c.clearSubtree(ctx, op, po)
	}

	err = c.mutateDir(ctx, op, po.Parent(), func(st *dirState) error {
		removed, err := c.removeEntry(ctx, st, po.Base())
		if err != nil {
			return err
		}
		if !removed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.clearSubtree(ctx, op, po)
}

// copyTree publishes a copy of the directory at po, and recursively of
// everything below it, under the keys derived from pn.
func (c *Client) copyTree(ctx context.Context, op string, po, pn path.Parsed) error {
	src, err := c.loadDirByKey(ctx, po)
	if err != nil {
		return c.wrap(op, po.Path(), err)
	}
	if src.dir == nil {
		return errors.E(op, po.Path(), errors.NotExist)
	}
	entries, err := c.allEntries(ctx, src)
	if err != nil {
		return c.wrap(op, po.Path(), err)
	}

	moved := make([]portalfs.Entry, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case portalfs.EntryDir:
			if err := c.copyTree(ctx, op, po.Join(e.Name), pn.Join(e.Name)); err != nil {
				return err
			}
			childKey, err := c.fac.DirKey(pn.Join(e.Name).Elems())
			if err != nil {
				return c.wrap(op, pn.Path(), err)
			}
			ref := *e.Dir
			ref.Link = portalfs.RegistryLink(childKey.Public)
			moved = append(moved, portalfs.Entry{Name: e.Name, Kind: portalfs.EntryDir, Dir: &ref})
		default:
			ref, err := c.moveFileRef(ctx, e.File, po.Elems(), pn.Elems())
			if err != nil {
				return c.wrap(op, po.Join(e.Name).Path(), err)
			}
			moved = append(moved, portalfs.Entry{Name: e.Name, Kind: portalfs.EntryFile, File: ref})
		}
	}

	return c.mutateDir(ctx, op, pn, func(st *dirState) error {
		if st.dir == nil {
			st.dir = portalfs.NewDir()
		}
		for _, e := range moved {
			if err := c.insertEntry(ctx, st, e); err != nil {
				return err
			}
		}
		return nil
	})
}
