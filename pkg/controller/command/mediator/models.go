/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/messagepickup"
	"github.com/didrelay/agent/pkg/store/mailbox"
)

// RequestMediationArgs contains parameters for requesting mediation over a connection.
type RequestMediationArgs struct {
	ConnectionID string `json:"connectionID"`

	// Await waits for the mediator to grant or deny the request.
	Await bool `json:"await,omitempty"`
}

// MediationIDArgs names a mediation record.
type MediationIDArgs struct {
	ID string `json:"id"`
}

// MediationResponse returns a single mediation record.
type MediationResponse struct {
	Result *mediator.Record `json:"result"`
}

// MediationsResponse returns mediation records.
type MediationsResponse struct {
	Results []*mediator.Record `json:"results"`
}

// KeylistUpdateArgs contains parameters for updating the keylist of a granted mediation.
type KeylistUpdateArgs struct {
	ID string `json:"id"`

	// Action is "add" or "remove".
	Action string `json:"action"`

	// RecipientKey as a base58 verkey or a did:key.
	RecipientKey string `json:"recipient_key"`
}

// KeylistResponse lists the keys a mediator routes.
type KeylistResponse struct {
	Keys []string `json:"keys"`
}

// PickupArgs names the mediation to pick up messages from. The default mediator is used when ID is empty.
type PickupArgs struct {
	ID string `json:"id,omitempty"`
}

// StatusRequest is request for getting details about pending messages.
type StatusRequest struct {
	ConnectionID string `json:"connectionID"`
}

// StatusResponse is status response containing details about pending messages.
type StatusResponse struct {
	*messagepickup.Status
}

// BatchPickupResponse is response for dispatching pending messages.
type BatchPickupResponse struct {
	// Count of messages dispatched.
	MessageCount int `json:"message_count"`
}

// RoutesArgs names the connection whose routes are listed.
type RoutesArgs struct {
	ConnectionID string `json:"connectionID"`
}

// MailboxStatusArgs names the recipient keys, or the connection whose routed keys, to report queued messages for.
type MailboxStatusArgs struct {
	ConnectionID string   `json:"connectionID,omitempty"`
	Keys         []string `json:"keys,omitempty"`
}

// MailboxStatusResponse holds the queue status of each key.
type MailboxStatusResponse struct {
	Status map[string]*mailbox.Status `json:"status"`
}
