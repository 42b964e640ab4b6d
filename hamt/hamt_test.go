// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hamt

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/zeebo/blake3"

	"portalfs.io/portalfs"
)

// mapStore is an in-memory content-addressed node store.
type mapStore struct {
	mu sync.Mutex
	m  map[portalfs.Hash][]byte
}

func newMapStore() *mapStore {
	return &mapStore{m: make(map[portalfs.Hash][]byte)}
}

func (s *mapStore) Load(ctx context.Context, h portalfs.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.m[h]
	if !ok {
		return nil, fmt.Errorf("no such node %s", h)
	}
	return append([]byte(nil), data...), nil
}

func (s *mapStore) Save(ctx context.Context, data []byte) (portalfs.Hash, error) {
	h := portalfs.HashOfDigest(blake3.Sum256(data))
	s.mu.Lock()
	s.m[h] = append([]byte(nil), data...)
	s.mu.Unlock()
	return h, nil
}

func testHash(i int) portalfs.Hash {
	var d [32]byte
	d[0] = byte(i)
	d[1] = byte(i >> 8)
	d[2] = byte(i >> 16)
	return portalfs.HashOfDigest(d)
}

func fileEntry(i int) portalfs.Entry {
	return portalfs.Entry{
		Name: fmt.Sprintf("f%04d", i),
		Kind: portalfs.EntryFile,
		File: &portalfs.FileRef{Hash: testHash(i), Size: uint64(i)},
	}
}

func TestSlotArithmetic(t *testing.T) {
	if got := slotIndex(0x1f, 0); got != 0x1f {
		t.Errorf("slotIndex(0x1f, 0) = %d", got)
	}
	if got := slotIndex(1<<5, 1); got != 1 {
		t.Errorf("slotIndex(1<<5, 1) = %d", got)
	}
	// Depths past the hash's 64 bits collapse to slot 0.
	if got := slotIndex(^uint64(0), 13); got != 0 {
		t.Errorf("slotIndex(max, 13) = %d", got)
	}
	// The bitmap is 32-bit unsigned; the top bit must not sign-extend.
	if got := slotPos(0xffffffff, 31); got != 31 {
		t.Errorf("slotPos(0xffffffff, 31) = %d", got)
	}
	if got := slotPos(0xffffffff, 0); got != 0 {
		t.Errorf("slotPos(0xffffffff, 0) = %d", got)
	}
	if got := slotPos(0b1010, 3); got != 1 {
		t.Errorf("slotPos(0b1010, 3) = %d", got)
	}
}

func TestInsertGetDelete(t *testing.T) {
	for _, fn := range []HashFunc{XXHash64, Blake3} {
		ctx := context.Background()
		tree := New(fn, newMapStore())
		const n = 500

		for i := 0; i < n; i++ {
			if err := tree.Insert(ctx, fileEntry(i)); err != nil {
				t.Fatalf("fn %d: Insert(%d): %v", fn, i, err)
			}
		}
		if tree.Len() != n {
			t.Fatalf("fn %d: Len = %d, want %d", fn, tree.Len(), n)
		}
		for i := 0; i < n; i++ {
			e, ok, err := tree.Get(ctx, fmt.Sprintf("f%04d", i))
			if err != nil || !ok {
				t.Fatalf("fn %d: Get(%d) ok=%v err=%v", fn, i, ok, err)
			}
			if e.File.Size != uint64(i) {
				t.Fatalf("fn %d: Get(%d) returned wrong entry", fn, i)
			}
		}
		if _, ok, _ := tree.Get(ctx, "missing"); ok {
			t.Fatalf("fn %d: found an entry never inserted", fn)
		}

		for i := 0; i < n; i++ {
			removed, err := tree.Delete(ctx, fmt.Sprintf("f%04d", i))
			if err != nil || !removed {
				t.Fatalf("fn %d: Delete(%d) removed=%v err=%v", fn, i, removed, err)
			}
		}
		if tree.Len() != 0 {
			t.Fatalf("fn %d: Len = %d after deleting all", fn, tree.Len())
		}
		if removed, _ := tree.Delete(ctx, "f0000"); removed {
			t.Fatalf("fn %d: deleted an absent entry", fn)
		}
	}
}

func TestReplaceDoesNotGrow(t *testing.T) {
	ctx := context.Background()
	tree := New(XXHash64, newMapStore())
	e := fileEntry(1)
	for i := 0; i < 3; i++ {
		e.File = &portalfs.FileRef{Hash: testHash(100 + i), Size: uint64(i)}
		if err := tree.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if tree.Len() != 1 {
		t.Fatalf("Len = %d after replacing one entry", tree.Len())
	}
	got, ok, _ := tree.Get(ctx, e.Name)
	if !ok || got.File.Size != 2 {
		t.Fatal("replacement did not stick")
	}
}

// A tree emptied by deletion serializes identically to a fresh empty
// tree with the same parameters.
func TestEmptySerializationMatchesFresh(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()

	tree := New(XXHash64, store)
	for i := 0; i < 100; i++ {
		if err := tree.Insert(ctx, fileEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 100; i++ {
		if _, err := tree.Delete(ctx, fmt.Sprintf("f%04d", i)); err != nil {
			t.Fatal(err)
		}
	}
	emptied, err := tree.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := New(XXHash64, store).Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if emptied.Root != fresh.Root {
		t.Fatalf("emptied root %s != fresh root %s", emptied.Root, fresh.Root)
	}
	if emptied.EntryCount != 0 {
		t.Fatalf("emptied count = %d", emptied.EntryCount)
	}
}

func TestFlushLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	tree := New(XXHash64, store)
	const n = 2000

	for i := 0; i < n; i++ {
		if err := tree.Insert(ctx, fileEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	shard, err := tree.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if shard.EntryCount != n || shard.BitsPerLevel != BitsPerLevel {
		t.Fatalf("shard = %+v", shard)
	}

	loaded, err := Load(shard, store)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i += 7 {
		e, ok, err := loaded.Get(ctx, fmt.Sprintf("f%04d", i))
		if err != nil || !ok {
			t.Fatalf("Get(%d) after reload: ok=%v err=%v", i, ok, err)
		}
		if e.File.Size != uint64(i) {
			t.Fatalf("Get(%d) wrong entry after reload", i)
		}
	}

	// Incremental mutation of a loaded tree flushes only its dirty
	// path and stays readable.
	if err := loaded.Insert(ctx, fileEntry(n)); err != nil {
		t.Fatal(err)
	}
	shard2, err := loaded.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if shard2.Root == shard.Root {
		t.Fatal("root hash unchanged after insert")
	}
	if shard2.EntryCount != n+1 {
		t.Fatalf("count = %d", shard2.EntryCount)
	}

	// Flushing is idempotent for an unchanged tree.
	shard3, err := loaded.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if shard3.Root != shard2.Root {
		t.Fatal("flush of unchanged tree moved the root")
	}
}

func TestLoadRejectsBadShard(t *testing.T) {
	store := newMapStore()
	_, err := Load(&portalfs.Shard{HashFunction: 9, BitsPerLevel: BitsPerLevel}, store)
	if err == nil {
		t.Error("accepted unknown hash function")
	}
	_, err = Load(&portalfs.Shard{HashFunction: 0, BitsPerLevel: 4}, store)
	if err == nil {
		t.Error("accepted wrong fan-out")
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	tree := New(XXHash64, store)
	const n = 333

	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if err := tree.Insert(ctx, fileEntry(i)); err != nil {
			t.Fatal(err)
		}
		want[fmt.Sprintf("f%04d", i)] = true
	}

	// Page through a flushed-and-reloaded tree, the way the client
	// sees it across requests.
	shard, err := tree.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool, n)
	var cursor []byte
	pages := 0
	for {
		loaded, err := Load(shard, store)
		if err != nil {
			t.Fatal(err)
		}
		entries, next, err := loaded.List(ctx, cursor, 7)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if seen[e.Name] {
				t.Fatalf("entry %q yielded twice", e.Name)
			}
			seen[e.Name] = true
		}
		pages++
		if next == nil {
			break
		}
		cursor = next
		if pages > n {
			t.Fatal("pagination did not terminate")
		}
	}
	if len(seen) != n {
		t.Fatalf("saw %d entries, want %d", len(seen), n)
	}
	for name := range want {
		if !seen[name] {
			t.Fatalf("entry %q never yielded", name)
		}
	}
}

func TestListAll(t *testing.T) {
	ctx := context.Background()
	tree := New(Blake3, newMapStore())
	for i := 0; i < 50; i++ {
		if err := tree.Insert(ctx, fileEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	entries, next, err := tree.List(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatal("unlimited list returned a cursor")
	}
	if len(entries) != 50 {
		t.Fatalf("listed %d entries, want 50", len(entries))
	}
}

func TestDirEntriesSurvive(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	tree := New(XXHash64, store)
	var link portalfs.Link
	link[0] = portalfs.KeyEd25519
	link[1] = 0x77
	e := portalfs.Entry{
		Name: "subdir",
		Kind: portalfs.EntryDir,
		Dir:  &portalfs.DirRef{Link: link, Seconds: 1700000000},
	}
	if err := tree.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}
	shard, err := tree.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(shard, store)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := loaded.Get(ctx, "subdir")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Kind != portalfs.EntryDir || got.Dir.Link != link || got.Dir.Seconds != 1700000000 {
		t.Fatalf("entry mangled: %+v", got)
	}
}
