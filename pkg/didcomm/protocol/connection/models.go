/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/doc/did"
)

// Invitation is the out of band message starting a connection. The invitee answers to ServiceEndpoint, through
// RoutingKeys when set, encrypting for RecipientKeys.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#0-invitation-to-connect
type Invitation struct {
	Type            string   `json:"@type,omitempty"`
	ID              string   `json:"@id,omitempty"`
	Label           string   `json:"label,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// Request carries the invitee's DID and DID document, threaded to the invitation.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#1-connection-request
type Request struct {
	Type       string                 `json:"@type,omitempty"`
	ID         string                 `json:"@id,omitempty"`
	Label      string                 `json:"label"`
	Thread     *decorator.Thread      `json:"~thread,omitempty"`
	Connection *Connection            `json:"connection,omitempty"`
	Transport  *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Response carries the inviter's DID and DID document, signed with the invitation key in ConnectionSignature.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#2-connection-response
type Response struct {
	Type                string               `json:"@type,omitempty"`
	ID                  string               `json:"@id,omitempty"`
	ConnectionSignature *ConnectionSignature `json:"connection~sig,omitempty"`
	Thread              *decorator.Thread    `json:"~thread,omitempty"`
	PleaseAck           *PleaseAck           `json:"~please_ack,omitempty"`
}

// ConnectionSignature is the connection~sig decorator: SignedData is the base64url encoded 8 byte timestamp followed
// by the JSON connection, SignVerKey the base58 signing key.
type ConnectionSignature struct {
	Type       string `json:"@type,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SignedData string `json:"sig_data,omitempty"`
	SignVerKey string `json:"signer,omitempty"`
}

// PleaseAck asks for an ack once the response is accepted.
type PleaseAck struct {
	On []string `json:"on,omitempty"`
}

// Connection is the connection attribute of requests and responses.
type Connection struct {
	DID    string   `json:"DID,omitempty"`
	DIDDoc *did.Doc `json:"DIDDoc,omitempty"`
}

// TrustPing is the trust ping message. An inviter takes a ping over a responded connection as its completion.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0048-trust-ping
type TrustPing struct {
	Type              string                 `json:"@type,omitempty"`
	ID                string                 `json:"@id,omitempty"`
	Comment           string                 `json:"comment,omitempty"`
	ResponseRequested bool                   `json:"response_requested,omitempty"`
	Thread            *decorator.Thread      `json:"~thread,omitempty"`
	Transport         *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// TrustPingResponse answers a trust ping that asked for a response.
type TrustPingResponse struct {
	Type    string            `json:"@type,omitempty"`
	ID      string            `json:"@id,omitempty"`
	Comment string            `json:"comment,omitempty"`
	Thread  *decorator.Thread `json:"~thread,omitempty"`
}
