/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import "encoding/json"

// ForwardMsgType is the message type of the routing protocol forward message.
const ForwardMsgType = "https://didcomm.org/routing/1.0/forward"

// Forward wraps an envelope addressed to To. Msg is relayed unmodified.
type Forward struct {
	Type string          `json:"@type,omitempty"`
	ID   string          `json:"@id,omitempty"`
	To   string          `json:"to,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}
