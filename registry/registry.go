// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry adapts the raw registry service into the operations
// the path engine needs: verified lookups and signed, revision-monotonic
// publishes. The adapter holds at most one in-flight write per public
// key; concurrent writers to the same key queue here rather than racing
// on the wire.
package registry // import "portalfs.io/registry"

import (
	"context"
	"sync"

	"portalfs.io/errors"
	"portalfs.io/portalfs"
	"portalfs.io/valid"
)

// Adapter wraps a RegistryServer with signing and verification.
type Adapter struct {
	server portalfs.RegistryServer
	fac    portalfs.Factotum

	mu   sync.Mutex
	keys map[portalfs.PublicKey]*sync.Mutex
}

// NewAdapter returns an Adapter over the given server, signing and
// verifying with the given factotum.
func NewAdapter(server portalfs.RegistryServer, fac portalfs.Factotum) *Adapter {
	return &Adapter{
		server: server,
		fac:    fac,
		keys:   make(map[portalfs.PublicKey]*sync.Mutex),
	}
}

func (a *Adapter) keyMu(pk portalfs.PublicKey) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	mu, ok := a.keys[pk]
	if !ok {
		mu = new(sync.Mutex)
		a.keys[pk] = mu
	}
	return mu
}

// Lookup fetches the latest record published under pk and verifies its
// signature. It returns nil (and no error) when the key has never been
// written.
func (a *Adapter) Lookup(ctx context.Context, pk portalfs.PublicKey) (*portalfs.SignedRecord, error) {
	const op = "registry.Lookup"
	rec, err := a.server.Lookup(ctx, pk)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.PublicKey != pk {
		return nil, errors.E(op, errors.Signature, errors.Str("record key does not match lookup key"))
	}
	if !a.fac.Verify(pk, rec.SigningPayload(), rec.Signature) {
		return nil, errors.E(op, errors.Signature, errors.Str("record signature does not verify"))
	}
	return rec, nil
}

// Publish signs and submits a record binding data to kp at the given
// revision. The service rejects revisions that are not strictly greater
// than the one it holds; that rejection surfaces as a Transient error
// for the caller's retry loop.
func (a *Adapter) Publish(ctx context.Context, kp portalfs.KeyPair, revision uint64, data []byte) error {
	const op = "registry.Publish"
	rec := &portalfs.SignedRecord{
		PublicKey: kp.Public,
		Revision:  revision,
		Data:      data,
	}
	if err := valid.Record(rec); err != nil {
		return errors.E(op, err)
	}
	sig, err := a.fac.Sign(kp, rec.SigningPayload())
	if err != nil {
		return errors.E(op, err)
	}
	rec.Signature = sig

	mu := a.keyMu(kp.Public)
	mu.Lock()
	defer mu.Unlock()
	if err := a.server.Publish(ctx, rec); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// SignChallenge signs a portal authentication challenge: the challenge
// type byte, the portal host, and the challenge bytes, in that order.
// It is used by account bootstrap, not by the path engine.
func (a *Adapter) SignChallenge(kp portalfs.KeyPair, challengeType byte, host string, challenge []byte) (portalfs.Signature, error) {
	const op = "registry.SignChallenge"
	msg := make([]byte, 0, 1+len(host)+len(challenge))
	msg = append(msg, challengeType)
	msg = append(msg, host...)
	msg = append(msg, challenge...)
	sig, err := a.fac.Sign(kp, msg)
	if err != nil {
		return portalfs.Signature{}, errors.E(op, err)
	}
	return sig, nil
}
