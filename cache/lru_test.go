// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import "testing"

func TestLRU(t *testing.T) {
	c := NewLRU(2)
	c.Add("a", 1)
	c.Add("b", 2)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
	// "a" is now most recent; adding "c" evicts "b".
	c.Add("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Fatal("b survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a evicted out of order")
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d", c.Len())
	}
	if v := c.Remove("a"); v.(int) != 1 {
		t.Fatalf("Remove(a) = %v", v)
	}
	if c.Len() != 1 {
		t.Fatalf("Len after Remove = %d", c.Len())
	}
	if v := c.Remove("missing"); v != nil {
		t.Fatalf("Remove(missing) = %v", v)
	}
}
