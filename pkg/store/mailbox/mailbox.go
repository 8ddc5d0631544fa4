/*
Copyright Scoir Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mailbox is the message repository of queued envelopes, one FIFO inbox per recipient key.
package mailbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/pkg/errors"

	"github.com/didrelay/agent/pkg/internal/lockbox"
)

// Namespace is namespace of mailbox store name.
const Namespace = "mailbox"

var logger = log.New("didrelay/store/mailbox")

// Message is a queued envelope.
type Message struct {
	ID        string    `json:"id"`
	AddedTime time.Time `json:"added_time"`
	Envelope  []byte    `json:"msg,omitempty"`
}

// Status details about pending messages of a key.
type Status struct {
	MessageCount      int       `json:"message_count"`
	LastAddedTime     time.Time `json:"last_added_time,omitempty"`
	LastDeliveredTime time.Time `json:"last_delivered_time,omitempty"`
	LastRemovedTime   time.Time `json:"last_removed_time,omitempty"`
	TotalSize         int       `json:"total_size,omitempty"`
}

type inbox struct {
	Key string `json:"key"`
	Status
	Messages []*Message `json:"messages"`
}

func (r *inbox) setMessages(msgs []*Message) {
	r.Messages = msgs
	r.MessageCount = len(msgs)
	r.TotalSize = 0

	for _, m := range msgs {
		r.TotalSize += len(m.Envelope)
	}
}

// Mailbox stores envelopes per recipient key. Every operation on a key is atomic with respect to the others.
type Mailbox struct {
	store storage.Store
	locks *lockbox.Lockbox
}

// New opens the mailbox in p.
func New(p storage.Provider) (*Mailbox, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, errors.Wrap(err, "open mailbox store")
	}

	return &Mailbox{store: store, locks: lockbox.New()}, nil
}

// Add appends envelope to the inbox of key.
func (m *Mailbox) Add(key string, envelope []byte) error {
	if key == "" {
		return errors.New("mailbox key is mandatory")
	}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	box, err := m.getInbox(key)
	if err != nil {
		return errors.Wrap(err, "add message")
	}

	now := time.Now().UTC()

	box.setMessages(append(box.Messages, &Message{
		ID:        uuid.New().String(),
		AddedTime: now,
		Envelope:  envelope,
	}))
	box.LastAddedTime = now

	if err = m.putInbox(box); err != nil {
		return errors.Wrap(err, "add message")
	}

	logger.Debugf("queued message for %s, %d pending", key, box.MessageCount)

	return nil
}

// Drain removes and returns up to limit of the oldest messages of key, in insertion order. A limit <= 0 drains the
// whole inbox.
func (m *Mailbox) Drain(key string, limit int) ([]*Message, error) {
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	box, err := m.getInbox(key)
	if err != nil {
		return nil, errors.Wrap(err, "drain")
	}

	if len(box.Messages) == 0 {
		return nil, nil
	}

	end := len(box.Messages)
	if limit > 0 && limit < end {
		end = limit
	}

	drained := box.Messages[:end]

	now := time.Now().UTC()
	box.setMessages(append([]*Message(nil), box.Messages[end:]...))
	box.LastDeliveredTime = now
	box.LastRemovedTime = now

	if err = m.putInbox(box); err != nil {
		return nil, errors.Wrap(err, "drain")
	}

	return drained, nil
}

// Requeue puts msgs back at the head of the inbox of key, keeping their order and ids.
func (m *Mailbox) Requeue(key string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	box, err := m.getInbox(key)
	if err != nil {
		return errors.Wrap(err, "requeue")
	}

	box.setMessages(append(append([]*Message(nil), msgs...), box.Messages...))

	if err = m.putInbox(box); err != nil {
		return errors.Wrap(err, "requeue")
	}

	logger.Debugf("requeued %d messages for %s", len(msgs), key)

	return nil
}

// Status returns the pending message details of key.
func (m *Mailbox) Status(key string) (*Status, error) {
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	box, err := m.getInbox(key)
	if err != nil {
		return nil, errors.Wrap(err, "status")
	}

	status := box.Status

	return &status, nil
}

func (m *Mailbox) getInbox(key string) (*inbox, error) {
	box := &inbox{Key: key}

	b, err := m.store.Get(key)
	if errors.Is(err, storage.ErrDataNotFound) {
		return box, nil
	}

	if err != nil {
		return nil, err
	}

	if err = json.Unmarshal(b, box); err != nil {
		return nil, err
	}

	return box, nil
}

func (m *Mailbox) putInbox(box *inbox) error {
	b, err := json.Marshal(box)
	if err != nil {
		return err
	}

	return m.store.Put(box.Key, b)
}
