/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInvitation is returned for invitations without recipient key or usable service endpoint.
	ErrInvalidInvitation = errors.New("invalid invitation")
	// ErrInvalidRequest is returned for connection requests without DID, key or compatible service.
	ErrInvalidRequest = errors.New("invalid connection request")
	// ErrInvalidResponse is returned for connection responses that cannot be verified.
	ErrInvalidResponse = errors.New("invalid connection response")
	// ErrSignerMismatch is returned when a response is not signed with the invitation key.
	ErrSignerMismatch = errors.New("connection response not signed with the invitation key")
	// ErrInvalidTransition is returned when a message or call does not fit the state of the record.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConcurrentTransition is returned when a record is already being transitioned.
	ErrConcurrentTransition = errors.New("connection is being updated concurrently")
)

// ProtocolError reports a connection protocol step that was rejected. The record it names keeps its state.
type ProtocolError struct {
	Op           string
	ConnectionID string
	Err          error
}

func (e *ProtocolError) Error() string {
	if e.ConnectionID == "" {
		return fmt.Sprintf("connection protocol %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("connection protocol %s (connection %s): %v", e.Op, e.ConnectionID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(op, connectionID string, err error) error {
	return &ProtocolError{Op: op, ConnectionID: connectionID, Err: err}
}
