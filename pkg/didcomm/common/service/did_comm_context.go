/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// DIDCommContext holds the envelope level details of an inbound message.
type DIDCommContext struct {
	// MyKey is the key the envelope was packed for.
	MyKey string
	// TheirKey is the sender key of the envelope, empty for anonymous envelopes.
	TheirKey string
	// ConnectionID is the connection the envelope was attributed to, if any.
	ConnectionID string

	payload []byte
	bind    func(connectionID string)
}

// NewDIDCommContext returns a DIDCommContext. bind attaches the transport session the message arrived on
// to a connection and may be nil.
func NewDIDCommContext(myKey, theirKey, connectionID string, bind func(connectionID string)) DIDCommContext {
	return DIDCommContext{MyKey: myKey, TheirKey: theirKey, ConnectionID: connectionID, bind: bind}
}

// WithPayload returns a copy of c carrying the plaintext the message was parsed from.
func (c DIDCommContext) WithPayload(payload []byte) DIDCommContext {
	c.payload = payload

	return c
}

// Payload returns the plaintext of the inbound message, nil when unknown.
func (c DIDCommContext) Payload() []byte {
	return c.payload
}

// BindConnection attaches the session of the inbound message, if there is one, to connectionID so that replies
// can reuse it.
func (c DIDCommContext) BindConnection(connectionID string) {
	if c.bind != nil && connectionID != "" {
		c.bind(connectionID)
	}
}
