/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"github.com/didrelay/agent/pkg/didcomm/protocol/connection"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

// CreateInvitationArgs model
//
// This is used for creating an invitation.
type CreateInvitationArgs struct {
	// Label presented to the invitee, the agent label when empty.
	Label string `json:"label,omitempty"`

	// Alias of the connection, kept locally.
	Alias string `json:"alias,omitempty"`

	// MultiUse makes the invitation accept any number of connection requests.
	MultiUse bool `json:"multi_use,omitempty"`
}

// CreateInvitationResponse model
//
// This is used for returning a create invitation response with a single connection invitation as body.
type CreateInvitationResponse struct {
	Invitation *connection.Invitation `json:"invitation"`

	// InvitationURL carries the invitation in its c_i query parameter.
	InvitationURL string `json:"invitation_url"`

	ConnectionID string `json:"connection_id"`
}

// ReceiveInvitationArgs model
//
// This is used for receiving an invitation, given either as a message or as an invitation URL.
type ReceiveInvitationArgs struct {
	Invitation *connection.Invitation `json:"invitation,omitempty"`

	InvitationURL string `json:"invitation_url,omitempty"`

	// Label presented to the inviter, the agent label when empty.
	Label string `json:"label,omitempty"`

	// Alias of the connection, kept locally.
	Alias string `json:"alias,omitempty"`
}

// ConnectionIDArg model
//
// This is used for operations on a single connection.
type ConnectionIDArg struct {
	// Connection ID
	// required: true
	ID string `json:"id"`

	// Label presented to the inviter when accepting an invitation.
	Label string `json:"label,omitempty"`
}

// QueryConnectionsArgs model
//
// This is used for querying connections.
type QueryConnectionsArgs struct {
	// State of the connections, all connections when empty.
	State string `json:"state,omitempty"`
}

// ConnectionResponse model
//
// This is used for returning a single connection record.
type ConnectionResponse struct {
	Result *connectionstore.Record `json:"result"`
}

// QueryConnectionsResponse model
//
// This is used for returning query connection results.
type QueryConnectionsResponse struct {
	Results []*connectionstore.Record `json:"results"`
}
