/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrSessionClosed is returned when sending over a session that is no longer open.
var ErrSessionClosed = errors.New("transport session closed")

// Envelope holds the plain message and the keys of a packed message.
type Envelope struct {
	Message []byte
	FromKey string
	// ToKeys are the recipient keys used when packing.
	ToKeys []string
	// ToKey is the recipient key that opened the envelope when unpacking.
	ToKey string
}

// Packager packs and unpacks DIDComm envelopes.
type Packager interface {
	// PackMessage encrypts envelope.Message for envelope.ToKeys. An empty envelope.FromKey produces an anonymous
	// envelope.
	PackMessage(envelope *Envelope) ([]byte, error)

	// UnpackMessage decrypts an envelope addressed to one of the agent's keys.
	UnpackMessage(encMessage []byte) (*Envelope, error)
}

// Session is a live duplex channel created by an inbound transport (or kept open by an outbound transport) that
// can carry a reply without a new outbound connection.
type Session interface {
	// ID of the session.
	ID() string
	// Type of the session, e.g. "http", "ws".
	Type() string
	// IsOpen reports whether Send may still succeed.
	IsOpen() bool
	// Send writes a packed envelope to the peer.
	Send(ctx context.Context, envelope []byte) error
}

// DuplexSession is a session that carries any number of envelopes, not only the reply to the request it was
// opened for.
type DuplexSession interface {
	Session
	Duplex() bool
}

// IsDuplex reports whether envelopes unrelated to a pending request may be sent over s.
func IsDuplex(s Session) bool {
	d, ok := s.(DuplexSession)

	return ok && d.Duplex()
}

// InboundMessageHandler handles an inbound envelope. session is nil when the envelope did not arrive on a
// reusable channel.
type InboundMessageHandler func(ctx context.Context, envelope []byte, session Session) error

// SessionRemover is notified when a transport closes one of its sessions.
type SessionRemover interface {
	RemoveSession(session Session)
}

// Provider contains dependencies for starting a transport.
type Provider interface {
	InboundMessageHandler() InboundMessageHandler
	SessionRemover() SessionRemover
}

// OutboundTransport sends envelopes to endpoints of the URI schemes it supports.
type OutboundTransport interface {
	// Start the transport with the agent's inbound handler, used to deliver replies that arrive asynchronously.
	Start(prov Provider) error

	// Send sends envelope to endpoint. A reply envelope received synchronously is returned, nil otherwise.
	Send(ctx context.Context, envelope []byte, endpoint string) ([]byte, error)

	// Schemes lists the URI schemes handled by the transport.
	Schemes() []string
}

// InboundTransport receives envelopes and hands them to the agent's inbound handler.
type InboundTransport interface {
	// Start the inbound transport.
	Start(prov Provider) error

	// Stop the inbound transport.
	Stop() error

	// Endpoint returns the endpoint the transport can be reached at.
	Endpoint() string
}

// Scheme returns the lower-cased URI scheme of endpoint.
func Scheme(endpoint string) string {
	i := strings.Index(endpoint, ":")
	if i <= 0 {
		return ""
	}

	return strings.ToLower(endpoint[:i])
}
