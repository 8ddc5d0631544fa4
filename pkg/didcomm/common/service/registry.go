/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// Action holds the single consumer of the action events of a protocol service. Embedding services implement the
// action half of Event.
type Action struct {
	event atomic.Pointer[chan<- DIDCommAction]
}

// ActionEvent returns the registered action channel, nil when there is none.
func (a *Action) ActionEvent() chan<- DIDCommAction {
	if p := a.event.Load(); p != nil {
		return *p
	}

	return nil
}

// RegisterActionEvent registers ch as the consumer of action events. The consumer must call Continue or Stop on
// every action for the protocol to resume. There can be a single consumer.
func (a *Action) RegisterActionEvent(ch chan<- DIDCommAction) error {
	if ch == nil {
		return ErrNilChannel
	}

	if !a.event.CompareAndSwap(nil, &ch) {
		return ErrChannelRegistered
	}

	return nil
}

// UnregisterActionEvent removes ch, which must be the registered consumer.
func (a *Action) UnregisterActionEvent(ch chan<- DIDCommAction) error {
	if ch == nil {
		return ErrNilChannel
	}

	p := a.event.Load()
	if p == nil || *p != ch || !a.event.CompareAndSwap(p, nil) {
		return ErrInvalidChannel
	}

	return nil
}

// TriggerAction hands action to the registered consumer on a separate goroutine and reports whether a consumer
// was registered.
func (a *Action) TriggerAction(action DIDCommAction) bool {
	ch := a.ActionEvent()
	if ch == nil {
		return false
	}

	go func() { ch <- action }()

	return true
}

// Message holds the consumers of the state events of a protocol service. Embedding services implement the state
// half of Event.
type Message struct {
	mu     sync.RWMutex
	events []chan<- StateMsg
}

// MsgEvents returns a copy of the registered state channels.
func (m *Message) MsgEvents() []chan<- StateMsg {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.events)
}

// RegisterMsgEvent adds ch to the state event consumers. State events need no answer.
func (m *Message) RegisterMsgEvent(ch chan<- StateMsg) error {
	if ch == nil {
		return ErrNilChannel
	}

	m.mu.Lock()
	m.events = append(m.events, ch)
	m.mu.Unlock()

	return nil
}

// UnregisterMsgEvent removes every registration of ch.
func (m *Message) UnregisterMsgEvent(ch chan<- StateMsg) error {
	m.mu.Lock()
	m.events = slices.DeleteFunc(m.events, func(e chan<- StateMsg) bool { return e == ch })
	m.mu.Unlock()

	return nil
}

// Notify sends msg to every registered channel, in registration order. The send blocks until each consumer
// receives it.
func (m *Message) Notify(msg StateMsg) {
	for _, ch := range m.MsgEvents() {
		ch <- msg
	}
}
