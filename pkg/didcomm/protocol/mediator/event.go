/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

// mediationEvent implements service.EventProperties.
type mediationEvent struct {
	mediationID  string
	connectionID string
	role         string
}

func newEvent(rec *Record) *mediationEvent {
	return &mediationEvent{mediationID: rec.ID, connectionID: rec.ConnectionID, role: rec.Role}
}

// MediationID returns the mediation record id.
func (e *mediationEvent) MediationID() string {
	return e.mediationID
}

// ConnectionID returns the connection the mediation runs over.
func (e *mediationEvent) ConnectionID() string {
	return e.connectionID
}

// All implements EventProperties interface.
func (e *mediationEvent) All() map[string]interface{} {
	return map[string]interface{}{
		"mediationID":  e.MediationID(),
		"connectionID": e.ConnectionID(),
		"role":         e.role,
	}
}
