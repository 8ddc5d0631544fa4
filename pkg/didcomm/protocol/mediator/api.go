/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"errors"
	"fmt"
)

// ErrRouterNotRegistered is returned when no mediator is granted as the default one.
var ErrRouterNotRegistered = errors.New("router not registered")

// Route is where messages for keys registered with a mediator are sent: the mediator endpoint, and the keys the
// message is forwarded through, base58 encoded.
type Route struct {
	MediationID string
	Endpoint    string
	RoutingKeys []string
}

// ProtocolService is the part of the recipient side the connection service uses to route new keys.
type ProtocolService interface {
	// AddKey registers recKey with the default mediator.
	AddKey(ctx context.Context, recKey string) error

	// DefaultRoute gives back the route through the default mediator.
	DefaultRoute() (*Route, error)
}

// GetRouterConfig returns the endpoint and routing keys new keys should be advertised with: the default mediator's
// when one is granted, endpoint and no routing keys otherwise.
func GetRouterConfig(routeSvc ProtocolService, endpoint string) (string, []string, error) {
	if routeSvc == nil {
		return endpoint, nil, nil
	}

	route, err := routeSvc.DefaultRoute()
	if err != nil {
		if errors.Is(err, ErrRouterNotRegistered) {
			return endpoint, nil, nil
		}

		return "", nil, fmt.Errorf("fetch router config: %w", err)
	}

	return route.Endpoint, route.RoutingKeys, nil
}

// AddKeyToRouter registers recKey with the default mediator, if there is one.
func AddKeyToRouter(ctx context.Context, routeSvc ProtocolService, recKey string) error {
	if routeSvc == nil {
		return nil
	}

	if err := routeSvc.AddKey(ctx, recKey); err != nil && !errors.Is(err, ErrRouterNotRegistered) {
		return fmt.Errorf("addKey: %w", err)
	}

	return nil
}
