// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inprocess implements a simple non-persistent in-memory blob
// store.
package inprocess // import "portalfs.io/store/inprocess"

import (
	"context"
	"sync"

	"github.com/zeebo/blake3"

	"portalfs.io/bind"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// Service is an in-memory content-addressed blob store.
type Service struct {
	mu   sync.Mutex
	blob map[portalfs.Hash][]byte
}

var _ portalfs.StoreServer = (*Service)(nil)

// New returns an empty store.
func New() *Service {
	return &Service{blob: make(map[portalfs.Hash][]byte)}
}

func copyOf(in []byte) (out []byte) {
	out = make([]byte, len(in))
	copy(out, in)
	return out
}

// Put implements portalfs.StoreServer.
func (s *Service) Put(ctx context.Context, data []byte) (portalfs.Hash, error) {
	if err := ctx.Err(); err != nil {
		return portalfs.Hash{}, err
	}
	h := portalfs.HashOfDigest(blake3.Sum256(data))
	s.mu.Lock()
	s.blob[h] = copyOf(data)
	s.mu.Unlock()
	return h, nil
}

// Get implements portalfs.StoreServer.
func (s *Service) Get(ctx context.Context, h portalfs.Hash) ([]byte, error) {
	const op = "store/inprocess.Get"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, ok := s.blob[h]
	s.mu.Unlock()
	if !ok {
		return nil, errors.E(op, errors.NotExist, errors.Str("no such blob"))
	}
	if portalfs.HashOfDigest(blake3.Sum256(data)) != h {
		return nil, errors.E(op, errors.Integrity, errors.Str("internal hash mismatch in store.Get"))
	}
	return copyOf(data), nil
}

// DeleteAll deletes all blobs from memory.
func (s *Service) DeleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = make(map[portalfs.Hash][]byte)
}

// There is one shared instance for the entire process, reached through
// the inprocess endpoint.
var global = New()

func init() {
	bind.RegisterStoreServer(portalfs.InProcess, func(e portalfs.Endpoint, authToken string) (portalfs.StoreServer, error) {
		return global, nil
	})
}
