/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRecipient is returned when a forward names a key that is not routed.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrMissingRecipient is returned when a forward has no recipient key.
	ErrMissingRecipient = errors.New("forward has no recipient")
	// ErrEmptyForward is returned when a forward carries no message.
	ErrEmptyForward = errors.New("forward has no message")
	// ErrNotGranted is returned when an operation needs a granted mediation.
	ErrNotGranted = errors.New("mediation is not granted")
	// ErrInvalidState is returned when a mediation record cannot make the requested transition.
	ErrInvalidState = errors.New("invalid mediation state")
	// ErrNoDefaultMediator is returned when no mediator is the default one.
	ErrNoDefaultMediator = errors.New("no default mediator")
	// ErrKeylistUpdateRejected is returned when the mediator did not apply a keylist update.
	ErrKeylistUpdateRejected = errors.New("keylist update rejected")
	// ErrTimeout is returned when the mediator did not answer in time.
	ErrTimeout = errors.New("timeout waiting for mediator")
	// ErrConnectionNotReady is returned when mediation is requested over a connection that is not complete.
	ErrConnectionNotReady = errors.New("connection is not complete")
	// ErrPollerRunning is returned when the pickup poller is started twice.
	ErrPollerRunning = errors.New("pickup poller already running")
)

// RoutingError is returned when a forward message cannot be routed.
type RoutingError struct {
	To  string
	Err error
}

func (e *RoutingError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("routing: %v", e.Err)
	}

	return fmt.Sprintf("routing to %s: %v", e.To, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}
