/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"fmt"

	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/doc/did"
)

// identity is the DID, key and service this agent presents on one connection.
type identity struct {
	did         string
	key         string
	endpoint    string
	routingKeys []string
}

func (i *identity) doc() *did.Doc {
	return did.BuildDoc(i.did, i.key,
		did.WithService(did.NewDIDCommService(i.did, i.endpoint, []string{i.key}, i.routingKeys)))
}

// newIdentity creates a key and DID for a new connection. When a default mediator is granted the key is
// registered with it and advertised behind its endpoint and routing keys.
func (s *Service) newIdentity(ctx context.Context) (*identity, error) {
	verKey, err := s.kms.CreateKey()
	if err != nil {
		return nil, fmt.Errorf("create connection key: %w", err)
	}

	myDID, err := did.CreateDID(verKey)
	if err != nil {
		return nil, fmt.Errorf("create connection DID: %w", err)
	}

	endpoint, routingKeys, err := s.routing()
	if err != nil {
		return nil, err
	}

	if err = mediator.AddKeyToRouter(ctx, s.routeService(), verKey); err != nil {
		return nil, fmt.Errorf("register key with mediator: %w", err)
	}

	return &identity{did: myDID, key: verKey, endpoint: endpoint, routingKeys: routingKeys}, nil
}

// routing returns the endpoint and routing keys new DID documents are advertised with.
func (s *Service) routing() (string, []string, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = did.QueueEndpoint
	}

	endpoint, routingKeys, err := mediator.GetRouterConfig(s.routeService(), endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("routing config: %w", err)
	}

	return endpoint, routingKeys, nil
}

// routeService returns the mediation service, nil when the agent runs without one.
func (s *Service) routeService() mediator.ProtocolService {
	if s.services == nil {
		return nil
	}

	svc, err := s.services(mediator.Coordination)
	if err != nil {
		return nil
	}

	routeSvc, ok := svc.(mediator.ProtocolService)
	if !ok {
		return nil
	}

	return routeSvc
}

// Opt configures a created or received invitation.
type Opt func(opts *options)

type options struct {
	label    string
	alias    string
	multiUse bool
}

// WithLabel sets the label presented to the other agent. It defaults to the agent's label.
func WithLabel(label string) Opt {
	return func(opts *options) {
		opts.label = label
	}
}

// WithAlias sets the local alias of the connection.
func WithAlias(alias string) Opt {
	return func(opts *options) {
		opts.alias = alias
	}
}

// WithMultiUse makes a created invitation accept any number of requests, each one starting a connection of its own.
func WithMultiUse() Opt {
	return func(opts *options) {
		opts.multiUse = true
	}
}

func (s *Service) options(opts []Opt) *options {
	o := &options{label: s.label}

	for _, opt := range opts {
		opt(o)
	}

	return o
}
