// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry_test

import (
	"context"
	"testing"

	"portalfs.io/errors"
	"portalfs.io/factotum"
	"portalfs.io/portalfs"
	"portalfs.io/registry"
	"portalfs.io/registry/inprocess"
)

func testFactotum(t *testing.T) *factotum.Factotum {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	f, err := factotum.New(key)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func testLink(b byte) []byte {
	link := make([]byte, portalfs.LinkSize)
	link[0] = portalfs.HashBlake3
	for i := 1; i < len(link); i++ {
		link[i] = b
	}
	return link
}

func TestPublishLookup(t *testing.T) {
	ctx := context.Background()
	fac := testFactotum(t)
	adapter := registry.NewAdapter(inprocess.New(), fac)
	kp, err := fac.DirKey([]string{"docs"})
	if err != nil {
		t.Fatal(err)
	}

	// Absent key.
	rec, err := adapter.Lookup(ctx, kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("lookup of unwritten key returned a record")
	}

	if err := adapter.Publish(ctx, kp, 1, testLink(0x01)); err != nil {
		t.Fatal(err)
	}
	rec, err = adapter.Lookup(ctx, kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Revision != 1 || rec.Data[1] != 0x01 {
		t.Fatalf("lookup = %+v", rec)
	}

	// Most recent wins.
	if err := adapter.Publish(ctx, kp, 2, testLink(0x02)); err != nil {
		t.Fatal(err)
	}
	rec, err = adapter.Lookup(ctx, kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Revision != 2 || rec.Data[1] != 0x02 {
		t.Fatalf("lookup after update = %+v", rec)
	}
}

func TestRevisionMonotonicity(t *testing.T) {
	ctx := context.Background()
	fac := testFactotum(t)
	adapter := registry.NewAdapter(inprocess.New(), fac)
	kp, _ := fac.DirKey([]string{"docs"})

	if err := adapter.Publish(ctx, kp, 5, testLink(0x05)); err != nil {
		t.Fatal(err)
	}
	for _, rev := range []uint64{5, 4, 1} {
		err := adapter.Publish(ctx, kp, rev, testLink(0x09))
		if !errors.Is(errors.Transient, err) {
			t.Errorf("Publish(rev=%d) = %v, want Transient", rev, err)
		}
	}
	rec, err := adapter.Lookup(ctx, kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Revision != 5 || rec.Data[1] != 0x05 {
		t.Fatalf("stale write went through: %+v", rec)
	}
}

func TestLookupRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	fac := testFactotum(t)
	server := inprocess.New()
	adapter := registry.NewAdapter(server, fac)
	kp, _ := fac.DirKey([]string{"docs"})
	if err := adapter.Publish(ctx, kp, 1, testLink(0x01)); err != nil {
		t.Fatal(err)
	}

	// A service returning a record whose signature does not verify is
	// lying; the adapter must refuse it.
	tampered := &tamperingServer{server}
	bad := registry.NewAdapter(tampered, fac)
	_, err := bad.Lookup(ctx, kp.Public)
	if !errors.Is(errors.Signature, err) {
		t.Fatalf("Lookup of tampered record = %v, want Signature", err)
	}
}

type tamperingServer struct {
	portalfs.RegistryServer
}

func (s *tamperingServer) Lookup(ctx context.Context, pk portalfs.PublicKey) (*portalfs.SignedRecord, error) {
	rec, err := s.RegistryServer.Lookup(ctx, pk)
	if rec != nil {
		rec.Data[1] ^= 0xff
	}
	return rec, err
}

func TestPublishRejectsBadPayload(t *testing.T) {
	ctx := context.Background()
	fac := testFactotum(t)
	adapter := registry.NewAdapter(inprocess.New(), fac)
	kp, _ := fac.DirKey([]string{"docs"})

	if err := adapter.Publish(ctx, kp, 1, []byte("short")); !errors.Is(errors.Invalid, err) {
		t.Fatalf("Publish(short payload) = %v, want Invalid", err)
	}
	if err := adapter.Publish(ctx, kp, 0, testLink(0x01)); !errors.Is(errors.Invalid, err) {
		t.Fatalf("Publish(rev=0) = %v, want Invalid", err)
	}
}

func TestSignChallenge(t *testing.T) {
	fac := testFactotum(t)
	adapter := registry.NewAdapter(inprocess.New(), fac)
	kp, _ := fac.DirKey(nil)

	sig, err := adapter.SignChallenge(kp, 0x01, "portal.example.org", []byte("nonce"))
	if err != nil {
		t.Fatal(err)
	}
	msg := append([]byte{0x01}, "portal.example.org"...)
	msg = append(msg, "nonce"...)
	if !fac.Verify(kp.Public, msg, sig) {
		t.Fatal("challenge signature does not verify")
	}
}
