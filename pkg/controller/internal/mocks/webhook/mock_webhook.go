/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webhook

import "sync"

// NewMockWebhookNotifier returns a notifier recording every notification.
func NewMockWebhookNotifier() *Notifier {
	return &Notifier{}
}

// Notification is a recorded call to Notify.
type Notification struct {
	Topic   string
	Message []byte
}

// Notifier is mock implementation of webhook notifier.
type Notifier struct {
	NotifyFunc func(topic string, message []byte) error

	mu   sync.Mutex
	sent []Notification
}

// Notify records the notification and calls NotifyFunc when set.
func (n *Notifier) Notify(topic string, message []byte) error {
	n.mu.Lock()
	n.sent = append(n.sent, Notification{Topic: topic, Message: message})
	n.mu.Unlock()

	if n.NotifyFunc != nil {
		return n.NotifyFunc(topic, message)
	}

	return nil
}

// Notifications returns the notifications sent so far.
func (n *Notifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Notification(nil), n.sent...)
}
