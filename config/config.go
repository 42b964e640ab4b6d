// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the client configuration: which services to
// talk to, how payloads are packed, and the tuning knobs of the path
// engine. Configurations are built programmatically or read from a
// YAML file. Secrets are referenced by file name, never inlined.
package config // import "portalfs.io/config"

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"portalfs.io/errors"
	"portalfs.io/factotum"
	"portalfs.io/portalfs"
)

// Defaults for the tuning knobs.
const (
	// DefaultPromoteAt is the inline entry count above which a
	// directory promotes to the index.
	DefaultPromoteAt = 1000

	// DefaultDemoteAt is the indexed entry count below which a
	// directory returns to inline form. Keeping it well under
	// DefaultPromoteAt stops a directory oscillating at the boundary.
	DefaultDemoteAt = 600

	// DefaultInlineLimit is the largest file carried inline in its
	// directory entry instead of as a separate blob.
	DefaultInlineLimit = 64

	// DefaultPrevDepth is how many previous versions a file entry
	// retains.
	DefaultPrevDepth = 1

	// DefaultRetries is how many times a mutation attempts its
	// registry update before failing with Conflict.
	DefaultRetries = 8

	// DefaultRetryBackoff and DefaultMaxBackoff bound the exponential
	// pause between registry attempts.
	DefaultRetryBackoff = 50 * time.Millisecond
	DefaultMaxBackoff   = 2 * time.Second

	// DefaultReadTimeout and DefaultWriteTimeout apply when the
	// caller's context carries no deadline of its own.
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 60 * time.Second
)

// Config carries everything a Client needs.
type Config struct {
	// Store and Registry name the services to dial.
	Store    portalfs.Endpoint
	Registry portalfs.Endpoint

	// StoreServer and RegistryServer, when non-nil, are used directly
	// instead of dialing the endpoints. Tests use this to inject
	// services.
	StoreServer    portalfs.StoreServer
	RegistryServer portalfs.RegistryServer

	// Factotum holds the filesystem root key.
	Factotum portalfs.Factotum

	// Packing names the packer applied to stored bytes.
	Packing string

	// AuthToken authenticates to remote portals. May be empty.
	AuthToken string

	// IndexHash selects the index hash function for newly promoted
	// directories: 0 is xxHash-64, 1 is truncated Blake3. Existing
	// directories keep whatever their index was created with.
	IndexHash uint8

	PromoteAt   int
	DemoteAt    int
	InlineLimit int
	PrevDepth   int

	Retries      int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New returns a Config with every knob at its default and both services
// set to the in-process endpoints.
func New() *Config {
	return &Config{
		Store:        portalfs.Endpoint{Transport: portalfs.InProcess},
		Registry:     portalfs.Endpoint{Transport: portalfs.InProcess},
		Packing:      "plain",
		PromoteAt:    DefaultPromoteAt,
		DemoteAt:     DefaultDemoteAt,
		InlineLimit:  DefaultInlineLimit,
		PrevDepth:    DefaultPrevDepth,
		Retries:      DefaultRetries,
		RetryBackoff: DefaultRetryBackoff,
		MaxBackoff:   DefaultMaxBackoff,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// yamlConfig is the on-disk form.
type yamlConfig struct {
	Store     string `yaml:"store"`
	Registry  string `yaml:"registry"`
	Packing   string `yaml:"packing"`
	KeyFile   string `yaml:"keyfile"`
	TokenFile string `yaml:"tokenfile"`
	IndexHash string `yaml:"indexhash"`
	Promote   int    `yaml:"promote"`
	Demote    int    `yaml:"demote"`
	Inline    *int   `yaml:"inline"`
	History   *int   `yaml:"history"`
	Retries   int    `yaml:"retries"`
}

// FromFile reads a YAML configuration from the named file. Absent
// fields keep their defaults; the root key and portal token are loaded
// from the files the configuration names.
func FromFile(name string) (*Config, error) {
	const op = "config.FromFile"
	data, err := os.ReadFile(name)
	if os.IsNotExist(err) {
		return nil, errors.E(op, errors.NotExist, err)
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}

	cfg := New()
	if y.Store != "" {
		e, err := portalfs.ParseEndpoint(y.Store)
		if err != nil {
			return nil, errors.E(op, errors.Invalid, err)
		}
		cfg.Store = *e
	}
	if y.Registry != "" {
		e, err := portalfs.ParseEndpoint(y.Registry)
		if err != nil {
			return nil, errors.E(op, errors.Invalid, err)
		}
		cfg.Registry = *e
	}
	if y.Packing != "" {
		cfg.Packing = y.Packing
	}
	switch strings.ToLower(y.IndexHash) {
	case "", "xxhash":
		cfg.IndexHash = 0
	case "blake3":
		cfg.IndexHash = 1
	default:
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unknown index hash %q", y.IndexHash))
	}
	if y.Promote > 0 {
		cfg.PromoteAt = y.Promote
	}
	if y.Demote > 0 {
		cfg.DemoteAt = y.Demote
	}
	if cfg.DemoteAt >= cfg.PromoteAt {
		return nil, errors.E(op, errors.Invalid, errors.Str("demote threshold must be below promote threshold"))
	}
	if y.Inline != nil {
		cfg.InlineLimit = *y.Inline
	}
	if y.History != nil {
		cfg.PrevDepth = *y.History
	}
	if y.Retries > 0 {
		cfg.Retries = y.Retries
	}

	if y.KeyFile != "" {
		f, err := factotum.NewFromFile(y.KeyFile)
		if err != nil {
			return nil, errors.E(op, err)
		}
		cfg.Factotum = f
	}
	if y.TokenFile != "" {
		token, err := os.ReadFile(y.TokenFile)
		if err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		cfg.AuthToken = strings.TrimSpace(string(token))
	}
	return cfg, nil
}
