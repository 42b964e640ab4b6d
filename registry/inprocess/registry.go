// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inprocess implements a simple non-persistent in-memory
// registry service.
package inprocess // import "portalfs.io/registry/inprocess"

import (
	"context"
	"crypto/ed25519"
	"sync"

	"portalfs.io/bind"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// Service is an in-memory registry. It enforces the same rules a portal
// does: signatures must verify and revisions must strictly increase.
type Service struct {
	mu      sync.Mutex
	records map[portalfs.PublicKey]*portalfs.SignedRecord
}

var _ portalfs.RegistryServer = (*Service)(nil)

// New returns an empty registry.
func New() *Service {
	return &Service{records: make(map[portalfs.PublicKey]*portalfs.SignedRecord)}
}

// Lookup implements portalfs.RegistryServer.
func (s *Service) Lookup(ctx context.Context, pk portalfs.PublicKey) (*portalfs.SignedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[pk]
	if !ok {
		return nil, nil
	}
	r := *rec
	r.Data = append([]byte(nil), rec.Data...)
	return &r, nil
}

// Publish implements portalfs.RegistryServer.
func (s *Service) Publish(ctx context.Context, rec *portalfs.SignedRecord) error {
	const op = "registry/inprocess.Publish"
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return errors.E(op, errors.Invalid, errors.Str("nil record"))
	}
	if !ed25519.Verify(ed25519.PublicKey(rec.PublicKey.Key()), rec.SigningPayload(), rec.Signature[:]) {
		return errors.E(op, errors.Signature, errors.Str("record signature does not verify"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[rec.PublicKey]; ok && rec.Revision <= old.Revision {
		return errors.E(op, errors.Transient, errors.Errorf("revision %d not greater than %d", rec.Revision, old.Revision))
	}
	r := *rec
	r.Data = append([]byte(nil), rec.Data...)
	s.records[rec.PublicKey] = &r
	return nil
}

// DeleteAll deletes all records from memory.
func (s *Service) DeleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[portalfs.PublicKey]*portalfs.SignedRecord)
}

// There is one shared instance for the entire process, reached through
// the inprocess endpoint.
var global = New()

func init() {
	bind.RegisterRegistryServer(portalfs.InProcess, func(e portalfs.Endpoint, authToken string) (portalfs.RegistryServer, error) {
		return global, nil
	})
}
