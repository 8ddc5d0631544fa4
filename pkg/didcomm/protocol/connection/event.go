/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

// connectionEvent implements connection.Event interface.
type connectionEvent struct {
	connectionID string
	invitationID string
	role         string
}

func newEvent(rec *connectionstore.Record) *connectionEvent {
	e := &connectionEvent{connectionID: rec.ConnectionID, role: rec.Role}

	if rec.Invitation != nil {
		e.invitationID = rec.Invitation.ID
	}

	return e
}

// ConnectionID returns Connection connectionID.
func (ex *connectionEvent) ConnectionID() string {
	return ex.connectionID
}

// InvitationID returns Connection invitationID.
func (ex *connectionEvent) InvitationID() string {
	return ex.invitationID
}

// All implements EventProperties interface.
func (ex *connectionEvent) All() map[string]interface{} {
	return map[string]interface{}{
		"connectionID": ex.ConnectionID(),
		"invitationID": ex.InvitationID(),
		"role":         ex.role,
	}
}
