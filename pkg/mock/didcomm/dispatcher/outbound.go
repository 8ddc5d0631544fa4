/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"
	"sync"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/store/connection"
)

// Sent is a message handed to MockOutbound.
type Sent struct {
	Msg       service.DIDCommMsgMap
	Record    *connection.Record
	SenderKey string
	Dest      *service.Destination
	Envelope  []byte
	NoQueue   bool
}

// MockOutbound mock outbound dispatcher.
type MockOutbound struct {
	SendErr  error
	RelayErr error
	// Target is returned by Relay, a mailbox target keyed by the peer key when zero.
	Target *dispatcher.DeliveryTarget
	// SendFunc is called for every sent message, after it has been recorded.
	SendFunc func(msg service.DIDCommMsgMap, rec *connection.Record) error

	mu   sync.Mutex
	sent []Sent
}

// SendToConnection records msg.
func (m *MockOutbound) SendToConnection(_ context.Context, msg interface{}, rec *connection.Record,
	opts ...dispatcher.SendOption) error {
	msgMap, err := service.NewDIDCommMsgMap(msg)
	if err != nil {
		return err
	}

	m.record(Sent{Msg: msgMap, Record: rec, NoQueue: noQueue(opts)})

	if m.SendErr != nil {
		return m.SendErr
	}

	if m.SendFunc != nil {
		return m.SendFunc(msgMap, rec)
	}

	return nil
}

// Send records msg.
func (m *MockOutbound) Send(_ context.Context, msg interface{}, senderKey string, dest *service.Destination,
	opts ...dispatcher.SendOption) error {
	msgMap, err := service.NewDIDCommMsgMap(msg)
	if err != nil {
		return err
	}

	m.record(Sent{Msg: msgMap, SenderKey: senderKey, Dest: dest, NoQueue: noQueue(opts)})

	if m.SendErr != nil {
		return m.SendErr
	}

	if m.SendFunc != nil {
		return m.SendFunc(msgMap, nil)
	}

	return nil
}

// Relay records envelope.
func (m *MockOutbound) Relay(_ context.Context, envelope []byte,
	rec *connection.Record) (dispatcher.DeliveryTarget, error) {
	m.record(Sent{Envelope: envelope, Record: rec})

	if m.RelayErr != nil {
		return dispatcher.DeliveryTarget{}, m.RelayErr
	}

	if m.Target != nil {
		return *m.Target, nil
	}

	return dispatcher.DeliveryTarget{Kind: dispatcher.TargetMailbox, MailboxKey: rec.TheirKey}, nil
}

// Sent returns a copy of everything handed to the mock so far.
func (m *MockOutbound) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Sent(nil), m.sent...)
}

// Last returns the last message handed to the mock, nil when there is none.
func (m *MockOutbound) Last() *Sent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sent) == 0 {
		return nil
	}

	last := m.sent[len(m.sent)-1]

	return &last
}

func (m *MockOutbound) record(s Sent) {
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
}

func noQueue(opts []dispatcher.SendOption) bool {
	o := &dispatcher.SendOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return o.NoQueue
}
