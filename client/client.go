// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client implements the path engine: the filesystem-shaped API
// over the blob store and the registry. Paths resolve by walking
// registry pointers from the root; every mutation is a compare-and-swap
// on one directory's registry entry, retried on conflict.
package client // import "portalfs.io/client"

import (
	"context"
	stderrors "errors"
	"time"

	"portalfs.io/bind"
	"portalfs.io/config"
	"portalfs.io/errors"
	"portalfs.io/pack"
	"portalfs.io/path"
	"portalfs.io/portalfs"
	"portalfs.io/registry"
	"portalfs.io/valid"

	// All known packers are available to any client.
	_ "portalfs.io/pack/plain"
	_ "portalfs.io/pack/seal"
)

// Client is the path engine. It is safe for concurrent use; operations
// on distinct directories proceed independently, while writers to the
// same registry key are serialized by the registry adapter.
type Client struct {
	cfg    *config.Config
	fac    portalfs.Factotum
	store  portalfs.StoreServer
	reg    *registry.Adapter
	packer pack.Packer
}

// New creates a Client from the configuration, dialing the configured
// services unless the configuration injects them directly.
func New(cfg *config.Config) (*Client, error) {
	const op = "client.New"
	if cfg == nil {
		return nil, errors.E(op, errors.Invalid, errors.Str("nil config"))
	}
	if cfg.Factotum == nil {
		return nil, errors.E(op, errors.Invalid, errors.Str("config has no factotum"))
	}
	if cfg.DemoteAt >= cfg.PromoteAt {
		return nil, errors.E(op, errors.Invalid, errors.Str("demote threshold must be below promote threshold"))
	}
	packing := cfg.Packing
	if packing == "" {
		packing = "plain"
	}
	packer := pack.LookupByName(packing)
	if packer == nil {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unknown packing %q", packing))
	}
	store := cfg.StoreServer
	if store == nil {
		var err error
		store, err = bind.StoreServer(cfg.Store, cfg.AuthToken)
		if err != nil {
			return nil, errors.E(op, err)
		}
	}
	regServer := cfg.RegistryServer
	if regServer == nil {
		var err error
		regServer, err = bind.RegistryServer(cfg.Registry, cfg.AuthToken)
		if err != nil {
			return nil, errors.E(op, err)
		}
	}
	return &Client{
		cfg:    cfg,
		fac:    cfg.Factotum,
		store:  store,
		reg:    registry.NewAdapter(regServer, cfg.Factotum),
		packer: packer,
	}, nil
}

// PutOptions control Put.
type PutOptions struct {
	// CreateParents makes missing parent directories instead of
	// failing with NotExist.
	CreateParents bool

	// MediaType records the file's media type in its entry.
	MediaType string
}

// DeleteOptions control Delete.
type DeleteOptions struct {
	// Recursive removes a directory along with everything beneath it.
	Recursive bool

	// Trash moves the entry into the root ".trash" directory instead
	// of dropping it.
	Trash bool
}

// wrap annotates err with the operation and path, translating context
// sentinels into the corresponding error kinds.
func (c *Client) wrap(op string, name portalfs.PathName, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.E(op, name, errors.Cancelled, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.E(op, name, errors.Expired, err)
	}
	return errors.E(op, name, err)
}

// withTimeout applies the default deadline d when ctx has none.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Get returns the contents of the file at name. Asking for a directory
// fails with IsDir; use List for directories.
func (c *Client) Get(ctx context.Context, name portalfs.PathName) ([]byte, error) {
	const op = "client.Get"
	p, err := path.Parse(name)
	if err != nil {
		return nil, errors.E(op, name, errors.Invalid, err)
	}
	if p.IsRoot() {
		return nil, errors.E(op, name, errors.IsDir)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	parent, err := c.resolveDir(ctx, p.Parent())
	if err != nil {
		return nil, c.wrap(op, name, err)
	}
	e, ok, err := c.lookupEntry(ctx, parent, p.Base())
	if err != nil {
		return nil, c.wrap(op, name, err)
	}
	if !ok {
		return nil, errors.E(op, name, errors.NotExist)
	}
	if e.Kind == portalfs.EntryDir {
		return nil, errors.E(op, name, errors.IsDir)
	}
	data, err := c.readFile(ctx, parent.p.Elems(), e.File)
	if err != nil {
		return nil, c.wrap(op, name, err)
	}
	return data, nil
}

// readFile fetches a file's content, preferring an inline identity
// location over a store round-trip. Either way the bytes are verified
// against the entry's hash before unpacking.
func (c *Client) readFile(ctx context.Context, elems []string, f *portalfs.FileRef) ([]byte, error) {
	const op = "client.readFile"
	for i := range f.Locations {
		loc := &f.Locations[i]
		if loc.Kind != portalfs.LocationIdentity {
			continue
		}
		if portalfs.HashOfDigest(c.fac.Blake3(loc.Data)) != f.Hash {
			return nil, errors.E(op, errors.Integrity, errors.Str("inline content does not match its hash"))
		}
		return c.packer.Unpack(c.fac, elems, loc.Data)
	}
	return c.fetchBlob(ctx, f.Hash, elems)
}

// Put writes data as the file at name, replacing any existing file.
// The previous version, if any, is retained in the entry's history up
// to the configured depth.
func (c *Client) Put(ctx context.Context, name portalfs.PathName, data []byte, opts *PutOptions) error {
	const op = "client.Put"
	if opts == nil {
		opts = &PutOptions{}
	}
	p, err := path.Parse(name)
	if err != nil {
		return errors.E(op, name, errors.Invalid, err)
	}
	if p.IsRoot() {
		return errors.E(op, name, errors.IsDir)
	}
	if err := valid.Element(p.Base()); err != nil {
		return errors.E(op, name, err)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	parent := p.Parent()
	if opts.CreateParents {
		if err := c.ensurePath(ctx, op, parent); err != nil {
			return c.wrap(op, name, err)
		}
	}

	// Pack and upload the content once; conflict retries reuse it.
	elems := parent.Elems()
	stored, h, err := c.packBlob(data, elems)
	if err != nil {
		return c.wrap(op, name, err)
	}
	now := time.Now()
	ref := &portalfs.FileRef{
		Hash:      h,
		Size:      uint64(len(data)),
		MediaType: opts.MediaType,
		Time:      portalfs.TimeFromGo(now),
		TimeNanos: uint32(now.Nanosecond()),
	}
	if len(data) <= c.cfg.InlineLimit {
		ref.Locations = []portalfs.BlobLocation{{Kind: portalfs.LocationIdentity, Data: stored}}
	} else {
		got, err := c.store.Put(ctx, stored)
		if err != nil {
			return c.wrap(op, name, err)
		}
		if got != h {
			return errors.E(op, name, errors.Integrity, errors.Str("store reported a different hash than computed"))
		}
	}

	return c.mutateDir(ctx, op, parent, func(st *dirState) error {
		if st.dir == nil {
			return errors.E(errors.NotExist, errors.Str("parent directory does not exist"))
		}
		old, ok, err := c.lookupEntry(ctx, st, p.Base())
		if err != nil {
			return err
		}
		if ok && old.Kind == portalfs.EntryDir {
			return errors.E(name, errors.IsDir)
		}
		fref := *ref
		if ok && c.cfg.PrevDepth > 0 {
			fref.Prev = truncatePrev(old.File, c.cfg.PrevDepth)
		}
		return c.insertEntry(ctx, st, portalfs.Entry{Name: p.Base(), Kind: portalfs.EntryFile, File: &fref})
	})
}

// truncatePrev copies a file reference for use as history, bounding the
// chain at depth entries.
func truncatePrev(f *portalfs.FileRef, depth int) *portalfs.FileRef {
	if f == nil || depth <= 0 {
		return nil
	}
	head := *f
	for p, d := &head, depth-1; ; p, d = p.Prev, d-1 {
		if p.Prev == nil {
			break
		}
		if d <= 0 {
			p.Prev = nil
			break
		}
		prev := *p.Prev
		p.Prev = &prev
	}
	return &head
}

// MakeDirectory creates the directory at name. The parent must already
// exist; see Put's CreateParents for building whole paths.
func (c *Client) MakeDirectory(ctx context.Context, name portalfs.PathName) error {
	const op = "client.MakeDirectory"
	p, err := path.Parse(name)
	if err != nil {
		return errors.E(op, name, errors.Invalid, err)
	}
	if p.IsRoot() {
		return errors.E(op, name, errors.Exist)
	}
	if err := valid.Element(p.Base()); err != nil {
		return errors.E(op, name, err)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.makeDirectory(ctx, op, p, false)
}

// makeDirectory publishes an empty directory at p if none exists and
// links it in the parent. With okExist set, an existing directory of
// the same name is not an error.
func (c *Client) makeDirectory(ctx context.Context, op string, p path.Parsed, okExist bool) error {
	childKey, err := c.fac.DirKey(p.Elems())
	if err != nil {
		return c.wrap(op, p.Path(), err)
	}

	// Publish the child's registry entry first so the parent never
	// links to a missing directory. A leftover entry from a crash is
	// reused as is.
	err = c.mutateDir(ctx, op, p, func(st *dirState) error {
		if st.dir != nil {
			return errUnchanged
		}
		st.dir = portalfs.NewDir()
		return nil
	})
	if err != nil {
		return err
	}

	now := time.Now()
	return c.mutateDir(ctx, op, p.Parent(), func(st *dirState) error {
		if st.dir == nil {
			return errors.E(errors.NotExist, errors.Str("parent directory does not exist"))
		}
		e, ok, err := c.lookupEntry(ctx, st, p.Base())
		if err != nil {
			return err
		}
		if ok {
			if e.Kind == portalfs.EntryDir && okExist {
				return errUnchanged
			}
			return errors.E(p.Path(), errors.Exist)
		}
		ref := &portalfs.DirRef{
			Link:    portalfs.RegistryLink(childKey.Public),
			Seconds: now.Unix(),
			Nanos:   uint32(now.Nanosecond()),
		}
		return c.insertEntry(ctx, st, portalfs.Entry{Name: p.Base(), Kind: portalfs.EntryDir, Dir: ref})
	})
}

// ensurePath creates every directory along p that does not yet exist.
func (c *Client) ensurePath(ctx context.Context, op string, p path.Parsed) error {
	for i := 1; i <= p.NElem(); i++ {
		if err := c.makeDirectory(ctx, op, p.First(i), true); err != nil {
			return err
		}
	}
	return nil
}
