/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
)

// Request is the mediate-request message.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0211-route-coordination#mediation-request
type Request struct {
	Type      string                 `json:"@type,omitempty"`
	ID        string                 `json:"@id,omitempty"`
	Timing    *decorator.Timing      `json:"~timing,omitempty"`
	Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Grant is the mediate-grant message.
type Grant struct {
	Type        string            `json:"@type,omitempty"`
	ID          string            `json:"@id,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	RoutingKeys []string          `json:"routing_keys,omitempty"`
	Thread      *decorator.Thread `json:"~thread,omitempty"`
}

// Deny is the mediate-deny message.
type Deny struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// KeylistUpdate is the keylist-update message.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0211-route-coordination#keylist-update
type KeylistUpdate struct {
	Type      string                 `json:"@type,omitempty"`
	ID        string                 `json:"@id,omitempty"`
	Updates   []Update               `json:"updates"`
	Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Update is one entry of a keylist-update.
type Update struct {
	RecipientKey string `json:"recipient_key"`
	Action       string `json:"action"`
}

// KeylistUpdateResponse is the keylist-update-response message.
type KeylistUpdateResponse struct {
	Type    string            `json:"@type,omitempty"`
	ID      string            `json:"@id,omitempty"`
	Updated []UpdateResponse  `json:"updated"`
	Thread  *decorator.Thread `json:"~thread,omitempty"`
}

// UpdateResponse is the outcome of one keylist update.
type UpdateResponse struct {
	RecipientKey string `json:"recipient_key"`
	Action       string `json:"action"`
	Result       string `json:"result"`
}

// KeylistQuery is the keylist-query message.
type KeylistQuery struct {
	Type      string                 `json:"@type,omitempty"`
	ID        string                 `json:"@id,omitempty"`
	Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Keylist is the keylist message answering a keylist-query.
type Keylist struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Keys   []KeylistKey      `json:"keys"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// KeylistKey is one routed key.
type KeylistKey struct {
	RecipientKey string `json:"recipient_key"`
}
