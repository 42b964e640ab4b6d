// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote implements the registry service over a portal node's
// HTTP API: GET /v1/registry/{key} to look up, PUT /v1/registry to
// publish. Records travel in their signed wire form; the portal cannot
// alter one without breaking its signature.
package remote // import "portalfs.io/registry/remote"

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"portalfs.io/bind"
	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

const dialTimeout = 30 * time.Second

type server struct {
	base   string
	token  string
	client *http.Client
}

var _ portalfs.RegistryServer = (*server)(nil)

func init() {
	bind.RegisterRegistryServer(portalfs.Remote, dial)
}

func dial(e portalfs.Endpoint, authToken string) (portalfs.RegistryServer, error) {
	const op = "registry/remote.Dial"
	base := strings.TrimSuffix(string(e.NetAddr), "/")
	if base == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("remote registry endpoint missing address"))
	}
	return &server{
		base:   base,
		token:  authToken,
		client: &http.Client{Timeout: dialTimeout},
	}, nil
}

func (s *server) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return s.client.Do(req)
}

// Lookup implements portalfs.RegistryServer.
func (s *server) Lookup(ctx context.Context, pk portalfs.PublicKey) (*portalfs.SignedRecord, error) {
	const op = "registry/remote.Lookup"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/v1/registry/"+pk.String(), nil)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.E(op, errors.Permission, errors.Errorf("portal returned %s", resp.Status))
	default:
		return nil, errors.E(op, errors.IO, errors.Errorf("portal returned %s", resp.Status))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	rec := new(portalfs.SignedRecord)
	if err := rec.Unmarshal(body); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return rec, nil
}

// Publish implements portalfs.RegistryServer.
func (s *server) Publish(ctx context.Context, rec *portalfs.SignedRecord) error {
	const op = "registry/remote.Publish"
	body, err := rec.Marshal()
	if err != nil {
		return errors.E(op, errors.Invalid, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.base+"/v1/registry", bytes.NewReader(body))
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return errors.E(op, errors.Transient, errors.Str("revision conflict"))
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.E(op, errors.Permission, errors.Errorf("portal returned %s", resp.Status))
	}
	return errors.E(op, errors.IO, errors.Errorf("portal returned %s", resp.Status))
}
