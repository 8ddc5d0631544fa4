/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import "github.com/didrelay/agent/pkg/controller/command/mediator"

// requestMediationRequest model
//
// swagger:parameters requestMediation
type requestMediationRequest struct { // nolint: unused,deadcode
	// in: body
	Params mediator.RequestMediationArgs
}

// mediationIDParam model
//
// swagger:parameters grantMediation denyMediation getMediation setDefaultMediator queryKeylist
type mediationIDParam struct { // nolint: unused,deadcode
	// The ID of the mediation record
	//
	// in: path
	// required: true
	ID string `json:"id"`
}

// mediationResponse model
//
// swagger:response mediationResponse
type mediationResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.MediationResponse
}

// mediationsResponse model
//
// swagger:response mediationsResponse
type mediationsResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.MediationsResponse
}

// updateKeylistRequest model
//
// swagger:parameters updateKeylist
type updateKeylistRequest struct { // nolint: unused,deadcode
	// The ID of the mediation record
	//
	// in: path
	// required: true
	ID string `json:"id"`

	// in: body
	Params mediator.KeylistUpdateArgs
}

// keylistResponse model
//
// swagger:response keylistResponse
type keylistResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.KeylistResponse
}

// pickupRequest model
//
// swagger:parameters pickup
type pickupRequest struct { // nolint: unused,deadcode
	// in: body
	Params mediator.PickupArgs
}

// batchPickupResponse model
//
// swagger:response batchPickupResponse
type batchPickupResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.BatchPickupResponse
}

// statusRequest model
//
// swagger:parameters statusRequest
type statusRequest struct { // nolint: unused,deadcode
	// in: body
	Params mediator.StatusRequest
}

// statusResponse model
//
// swagger:response statusResponse
type statusResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.StatusResponse
}

// routesParams model
//
// swagger:parameters routes
type routesParams struct { // nolint: unused,deadcode
	// in: query
	// required: true
	ConnectionID string `json:"connectionID"`
}

// mailboxStatusRequest model
//
// swagger:parameters mailboxStatus
type mailboxStatusRequest struct { // nolint: unused,deadcode
	// in: body
	Params mediator.MailboxStatusArgs
}

// mailboxStatusResponse model
//
// swagger:response mailboxStatusResponse
type mailboxStatusResponse struct { // nolint: unused,deadcode
	// in: body
	Response mediator.MailboxStatusResponse
}
