/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"encoding/json"
)

// RegisterMsgSvcArgs contains parameters for registering a message service to message handler.
type RegisterMsgSvcArgs struct {
	// Name of the message service, also the topic incoming messages are notified on.
	Name string `json:"name"`

	// Type of the messages the service accepts.
	Type string `json:"type"`
}

// UnregisterMsgSvcArgs contains parameters for unregistering a message service from message handler.
type UnregisterMsgSvcArgs struct {
	// Name of the message service to be unregistered
	// required: true
	Name string `json:"name"`
}

// RegisteredServicesResponse is for returning list of registered service names.
type RegisteredServicesResponse struct {
	// Registered service names
	Names []string `json:"names"`
}

// SendNewMessageArgs contains parameters for sending new message
// with one of two destination options below,
//	1. ConnectionID - ID of the connection between sender and receiver of this message.
//	2. ServiceEndpoint (With recipient Keys, endpoint and optional routing keys) - To Send message outside connection.
// Note: ConnectionID takes precedence when both are provided.
type SendNewMessageArgs struct {
	// Connection ID of the message destination
	ConnectionID string `json:"connection_id,omitempty"`

	// ServiceEndpointDestination service endpoint destination.
	// This param can be used to send messages outside connection.
	ServiceEndpointDestination *ServiceEndpointDestinationParams `json:"service_endpoint,omitempty"`

	// Message body of the message
	MessageBody json.RawMessage `json:"message_body"`
}

// ServiceEndpointDestinationParams contains service endpoint params.
type ServiceEndpointDestinationParams struct {
	// Recipient keys of service endpoint
	RecipientKeys []string `json:"recipientKeys,omitempty"`

	// Service endpoint
	ServiceEndpoint string `json:"serviceEndpoint,omitempty"`

	// Routing Keys of service endpoint
	RoutingKeys []string `json:"routingKeys,omitempty"`
}

// SendBasicMessageArgs contains parameters for sending a basic message over a connection.
type SendBasicMessageArgs struct {
	// Connection ID of the message destination
	// required: true
	ConnectionID string `json:"connection_id"`

	// Content of the message
	// required: true
	Content string `json:"content"`

	// Locale of the content, "en" when empty
	Locale string `json:"locale,omitempty"`
}

// SendMessageResponse is response of a sent message.
type SendMessageResponse struct {
	// ID of the sent message
	MessageID string `json:"message_id,omitempty"`
}
