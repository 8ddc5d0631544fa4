/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package msghandler keeps the table of message services registered next to the agent's built-in protocols.
package msghandler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
)

var (
	// ErrAlreadyRegistered is returned when a service of the same name is registered.
	ErrAlreadyRegistered = errors.New("message service already registered")
	// ErrNotRegistered is returned when unregistering an unknown service.
	ErrNotRegistered = errors.New("no message service registered with that name")
)

// Registrar holds the registered message services in registration order.
type Registrar struct {
	mu       sync.RWMutex
	services []service.DIDComm
}

// NewRegistrar returns an empty registrar.
func NewRegistrar() *Registrar {
	return &Registrar{}
}

// Register adds msgServices.
func (r *Registrar) Register(msgServices ...service.DIDComm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, svc := range msgServices {
		if r.indexLocked(svc.Name()) >= 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, svc.Name())
		}

		r.services = append(r.services, svc)
	}

	return nil
}

// Unregister removes the service called name.
func (r *Registrar) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	r.services = append(r.services[:i], r.services[i+1:]...)

	return nil
}

// Services returns a snapshot of the registered services.
func (r *Registrar) Services() []service.DIDComm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]service.DIDComm(nil), r.services...)
}

func (r *Registrar) indexLocked(name string) int {
	for i, svc := range r.services {
		if svc.Name() == name {
			return i
		}
	}

	return -1
}
