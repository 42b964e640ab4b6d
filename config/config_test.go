// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"portalfs.io/portalfs"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	if cfg.PromoteAt != DefaultPromoteAt || cfg.DemoteAt != DefaultDemoteAt {
		t.Errorf("thresholds = %d/%d", cfg.PromoteAt, cfg.DemoteAt)
	}
	if cfg.Retries != DefaultRetries {
		t.Errorf("retries = %d", cfg.Retries)
	}
	if cfg.Packing != "plain" {
		t.Errorf("packing = %q", cfg.Packing)
	}
	if cfg.Store.Transport != portalfs.InProcess {
		t.Errorf("store endpoint = %v", cfg.Store)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "rootkey")
	if err := os.WriteFile(keyFile, []byte("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f\n"), 0600); err != nil {
		t.Fatal(err)
	}
	tokenFile := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenFile, []byte("secret-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "config.yaml")
	yaml := `
store: remote,https://portal.example.org
registry: inprocess
packing: seal
indexhash: blake3
promote: 500
demote: 200
retries: 3
keyfile: ` + keyFile + `
tokenfile: ` + tokenFile + `
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromFile(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Transport != portalfs.Remote || cfg.Store.NetAddr != "https://portal.example.org" {
		t.Errorf("store = %v", cfg.Store)
	}
	if cfg.Registry.Transport != portalfs.InProcess {
		t.Errorf("registry = %v", cfg.Registry)
	}
	if cfg.Packing != "seal" {
		t.Errorf("packing = %q", cfg.Packing)
	}
	if cfg.IndexHash != 1 {
		t.Errorf("indexhash = %d", cfg.IndexHash)
	}
	if cfg.PromoteAt != 500 || cfg.DemoteAt != 200 || cfg.Retries != 3 {
		t.Errorf("knobs = %d/%d/%d", cfg.PromoteAt, cfg.DemoteAt, cfg.Retries)
	}
	if cfg.Factotum == nil {
		t.Fatal("factotum not loaded")
	}
	if cfg.AuthToken != "secret-token" {
		t.Errorf("token = %q", cfg.AuthToken)
	}
}

func TestFromFileRejects(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("promote: 100\ndemote: 100\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := FromFile(cfgFile); err == nil {
		t.Fatal("accepted demote >= promote")
	}
	if _, err := FromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("accepted missing file")
	}
}
