// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote implements the blob service over a portal node's HTTP
// API: POST /v1/blob to upload, GET /v1/blob/{hash} to download.
package remote // import "portalfs.io/store/remote"

import (
	"bytes"
	"context"
	"encoding/hex"
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

var _ portalfs.StoreServer = (*server)(nil)

func init() {
	bind.RegisterStoreServer(portalfs.Remote, dial)
}

func dial(e portalfs.Endpoint, authToken string) (portalfs.StoreServer, error) {
	const op = "store/remote.Dial"
	base := strings.TrimSuffix(string(e.NetAddr), "/")
	if base == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("remote store endpoint missing address"))
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

// statusErr maps a portal response status to an error kind.
func statusErr(op string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.E(op, errors.Permission, errors.Errorf("portal returned %s", resp.Status))
	case http.StatusPaymentRequired, http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return errors.E(op, errors.Quota, errors.Errorf("portal returned %s", resp.Status))
	case http.StatusNotFound:
		return errors.E(op, errors.NotExist, errors.Errorf("portal returned %s", resp.Status))
	}
	return errors.E(op, errors.IO, errors.Errorf("portal returned %s", resp.Status))
}

// Put implements portalfs.StoreServer.
func (s *server) Put(ctx context.Context, data []byte) (portalfs.Hash, error) {
	const op = "store/remote.Put"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/blob", bytes.NewReader(data))
	if err != nil {
		return portalfs.Hash{}, errors.E(op, errors.IO, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return portalfs.Hash{}, errors.E(op, errors.IO, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return portalfs.Hash{}, statusErr(op, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return portalfs.Hash{}, errors.E(op, errors.IO, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return portalfs.Hash{}, errors.E(op, errors.IO, errors.Str("portal returned malformed hash"))
	}
	h, err := portalfs.ParseHash(raw)
	if err != nil {
		return portalfs.Hash{}, errors.E(op, errors.IO, err)
	}
	return h, nil
}

// Get implements portalfs.StoreServer.
func (s *server) Get(ctx context.Context, h portalfs.Hash) ([]byte, error) {
	const op = "store/remote.Get"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/v1/blob/"+h.String(), nil)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(op, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return data, nil
}
