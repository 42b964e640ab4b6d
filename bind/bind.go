// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bind contains the registration and lookup of service
// implementations by transport. Service packages register a dialer in
// their init function; the client turns endpoints from its config into
// live services here. Dialed services are cached per endpoint.
package bind // import "portalfs.io/bind"

import (
	"sync"

	"portalfs.io/errors"
	"portalfs.io/portalfs"
)

// StoreDialer connects to the blob service at an endpoint.
type StoreDialer func(e portalfs.Endpoint, authToken string) (portalfs.StoreServer, error)

// RegistryDialer connects to the registry service at an endpoint.
type RegistryDialer func(e portalfs.Endpoint, authToken string) (portalfs.RegistryServer, error)

type dialKey struct {
	endpoint portalfs.Endpoint
	token    string
}

var (
	mu sync.Mutex

	storeDialers    = make(map[portalfs.Transport]StoreDialer)
	registryDialers = make(map[portalfs.Transport]RegistryDialer)

	storeCache    = make(map[dialKey]portalfs.StoreServer)
	registryCache = make(map[dialKey]portalfs.RegistryServer)
)

// RegisterStoreServer registers a StoreDialer for the transport.
// It panics on a duplicate registration.
func RegisterStoreServer(t portalfs.Transport, d StoreDialer) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := storeDialers[t]; present {
		panic("bind: duplicate store registration")
	}
	storeDialers[t] = d
}

// RegisterRegistryServer registers a RegistryDialer for the transport.
// It panics on a duplicate registration.
func RegisterRegistryServer(t portalfs.Transport, d RegistryDialer) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := registryDialers[t]; present {
		panic("bind: duplicate registry registration")
	}
	registryDialers[t] = d
}

// StoreServer returns a StoreServer for the endpoint, dialing it if
// this is the first request for it.
func StoreServer(e portalfs.Endpoint, authToken string) (portalfs.StoreServer, error) {
	const op = "bind.StoreServer"
	mu.Lock()
	defer mu.Unlock()
	key := dialKey{e, authToken}
	if s, ok := storeCache[key]; ok {
		return s, nil
	}
	d, ok := storeDialers[e.Transport]
	if !ok {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("no store registered for endpoint %v", e))
	}
	s, err := d(e, authToken)
	if err != nil {
		return nil, errors.E(op, err)
	}
	storeCache[key] = s
	return s, nil
}

// RegistryServer returns a RegistryServer for the endpoint, dialing it
// if this is the first request for it.
func RegistryServer(e portalfs.Endpoint, authToken string) (portalfs.RegistryServer, error) {
	const op = "bind.RegistryServer"
	mu.Lock()
	defer mu.Unlock()
	key := dialKey{e, authToken}
	if s, ok := registryCache[key]; ok {
		return s, nil
	}
	d, ok := registryDialers[e.Transport]
	if !ok {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("no registry registered for endpoint %v", e))
	}
	s, err := d(e, authToken)
	if err != nil {
		return nil, errors.E(op, err)
	}
	registryCache[key] = s
	return s, nil
}
