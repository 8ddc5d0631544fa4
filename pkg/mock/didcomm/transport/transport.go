/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

// MockSession records everything sent over it.
type MockSession struct {
	IDValue   string
	TypeValue string
	SendErr   error
	// DuplexValue is returned by Duplex.
	DuplexValue bool

	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

// NewMockSession returns an open session with a random id.
func NewMockSession() *MockSession {
	return &MockSession{IDValue: uuid.New().String(), TypeValue: "mock"}
}

// ID of the session.
func (s *MockSession) ID() string { return s.IDValue }

// Type of the session.
func (s *MockSession) Type() string { return s.TypeValue }

// Duplex returns DuplexValue.
func (s *MockSession) Duplex() bool { return s.DuplexValue }

// IsOpen reports whether Close has not been called.
func (s *MockSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed
}

// Send records envelope.
func (s *MockSession) Send(_ context.Context, envelope []byte) error {
	if s.SendErr != nil {
		return s.SendErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrSessionClosed
	}

	s.sent = append(s.sent, envelope)

	return nil
}

// Close marks the session closed.
func (s *MockSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// Sent returns a copy of the envelopes sent so far.
func (s *MockSession) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]byte(nil), s.sent...)
}

// Outbound is a mock outbound transport.
type Outbound struct {
	SchemesValue []string
	SendErr      error
	// ReplyFunc builds the synchronous reply for a sent envelope.
	ReplyFunc func(envelope []byte, endpoint string) []byte

	mu   sync.Mutex
	sent []Sent
}

// Sent is an envelope handed to a mock transport.
type Sent struct {
	Envelope []byte
	Endpoint string
}

// Start is a no-op.
func (o *Outbound) Start(transport.Provider) error { return nil }

// Send records the envelope.
func (o *Outbound) Send(_ context.Context, envelope []byte, endpoint string) ([]byte, error) {
	if o.SendErr != nil {
		return nil, o.SendErr
	}

	o.mu.Lock()
	o.sent = append(o.sent, Sent{Envelope: envelope, Endpoint: endpoint})
	o.mu.Unlock()

	if o.ReplyFunc != nil {
		return o.ReplyFunc(envelope, endpoint), nil
	}

	return nil, nil
}

// Schemes handled by the transport, "http" when unset.
func (o *Outbound) Schemes() []string {
	if len(o.SchemesValue) == 0 {
		return []string{"http", "https"}
	}

	return o.SchemesValue
}

// Sent returns a copy of what was sent so far.
func (o *Outbound) Sent() []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]Sent(nil), o.sent...)
}

// Provider is a mock transport provider.
type Provider struct {
	Handler  transport.InboundMessageHandler
	Registry transport.SessionRemover
}

// InboundMessageHandler returns Handler.
func (p *Provider) InboundMessageHandler() transport.InboundMessageHandler { return p.Handler }

// SessionRemover returns Registry.
func (p *Provider) SessionRemover() transport.SessionRemover { return p.Registry }
