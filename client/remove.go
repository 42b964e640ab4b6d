// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"portalfs.io/errors"
	"portalfs.io/path"
	"portalfs.io/portalfs"
	"portalfs.io/valid"
)

// TrashDir is the root-level directory deleted entries move to when
// Delete runs with Trash set.
const TrashDir = ".trash"

// clearLimit bounds how many descendant directories are cleared
// concurrently during a recursive delete.
const clearLimit = 4

// Delete removes the entry at name from its parent directory. Deleting
// a non-empty directory requires Recursive. With Trash, the entry is
// moved into the root trash directory under a unique name instead.
func (c *Client) Delete(ctx context.Context, name portalfs.PathName, opts *DeleteOptions) error {
	const op = "client.Delete"
	if opts == nil {
		opts = &DeleteOptions{}
	}
	p, err := path.Parse(name)
	if err != nil {
		return errors.E(op, name, errors.Invalid, err)
	}
	if p.IsRoot() {
		return errors.E(op, name, errors.Invalid, errors.Str("cannot delete the root"))
	}
	ctx, cancel := withTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	if opts.Trash {
		trash, _ := path.Parse("/" + TrashDir)
		if p.HasPrefix(trash) {
			// Deleting from the trash purges.
			return c.delete(ctx, op, p, opts.Recursive)
		}
		if err := c.makeDirectory(ctx, op, trash, true); err != nil {
			return err
		}
		trashName := uuid.NewString() + "-" + p.Base()
		if len(trashName) > valid.MaxElementLen {
			// Keep the unique prefix; the original name is still in
			// the moved entry itself.
			trashName = uuid.NewString()
		}
		target := trash.Join(trashName)
		return c.rename(ctx, op, p, target)
	}
	return c.delete(ctx, op, p, opts.Recursive)
}

func (c *Client) delete(ctx context.Context, op string, p path.Parsed, recursive bool) error {
	var removedDir bool
	err := c.mutateDir(ctx, op, p.Parent(), func(st *dirState) error {
		removedDir = false
		e, ok, err := c.lookupEntry(ctx, st, p.Base())
		if err != nil {
			return err
		}
		if !ok {
			return errors.E(p.Path(), errors.NotExist)
		}
		if e.Kind == portalfs.EntryDir {
			child, err := c.loadDirByKey(ctx, p)
			if err != nil {
				return err
			}
			if c.entryCount(child) > 0 && !recursive {
				return errors.E(p.Path(), errors.NotEmpty)
			}
			removedDir = true
		}
		_, err = c.removeEntry(ctx, st, p.Base())
		return err
	})
	if err != nil {
		return err
	}
	if removedDir && recursive {
		return c.clearSubtree(ctx, op, p)
	}
	return nil
}

// clearSubtree publishes an empty directory over every descendant of p,
// so nothing below a removed directory remains resolvable through its
// derived keys. The orphaned blobs are the remote store's to reclaim.
func (c *Client) clearSubtree(ctx context.Context, op string, p path.Parsed) error {
	dirs := []path.Parsed{p}
	for i := 0; i < len(dirs); i++ {
		st, err := c.loadDirByKey(ctx, dirs[i])
		if err != nil {
			return c.wrap(op, dirs[i].Path(), err)
		}
		if st.dir == nil {
			continue
		}
		entries, err := c.allEntries(ctx, st)
		if err != nil {
			return c.wrap(op, dirs[i].Path(), err)
		}
		for _, e := range entries {
			if e.Kind == portalfs.EntryDir {
				dirs = append(dirs, dirs[i].Join(e.Name))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearLimit)
	for _, dp := range dirs {
		dp := dp
		g.Go(func() error {
			return c.mutateDir(gctx, op, dp, func(st *dirState) error {
				if st.dir == nil || (st.tree == nil && c.entryCount(st) == 0) {
					return errUnchanged
				}
				st.dir = portalfs.NewDir()
				st.tree = nil
				return nil
			})
		})
	}
	return g.Wait()
}
