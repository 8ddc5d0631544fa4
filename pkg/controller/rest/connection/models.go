/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"github.com/didrelay/agent/pkg/controller/command/connection"
)

// createInvitationRequest model
//
// swagger:parameters createInvitation
type createInvitationRequest struct { // nolint: unused,deadcode
	// in: body
	Params connection.CreateInvitationArgs
}

// createInvitationResponse model
//
// swagger:response createInvitationResponse
type createInvitationResponse struct { // nolint: unused,deadcode
	// in: body
	Response connection.CreateInvitationResponse
}

// receiveInvitationRequest model
//
// swagger:parameters receiveInvitation
type receiveInvitationRequest struct { // nolint: unused,deadcode
	// in: body
	Params connection.ReceiveInvitationArgs
}

// acceptInvitationRequest model
//
// swagger:parameters acceptInvitation
type acceptInvitationRequest struct { // nolint: unused,deadcode
	// The ID of the connection to accept the invitation of
	//
	// in: path
	// required: true
	ID string `json:"id"`

	// Label sent in the connection request
	//
	// in: query
	Label string `json:"label"`
}

// connectionIDParam model
//
// swagger:parameters acceptRequest acceptResponse abandon getConnection
type connectionIDParam struct { // nolint: unused,deadcode
	// The ID of the connection record
	//
	// in: path
	// required: true
	ID string `json:"id"`
}

// connectionResponse model
//
// swagger:response connectionResponse
type connectionResponse struct { // nolint: unused,deadcode
	// in: body
	Response connection.ConnectionResponse
}

// queryConnectionsParams model
//
// swagger:parameters queryConnections
type queryConnectionsParams struct { // nolint: unused,deadcode
	// Connection state to filter on
	//
	// in: query
	State string `json:"state"`
}

// queryConnectionsResponse model
//
// swagger:response queryConnectionsResponse
type queryConnectionsResponse struct { // nolint: unused,deadcode
	// in: body
	Response connection.QueryConnectionsResponse
}
