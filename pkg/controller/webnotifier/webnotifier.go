/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/rest"
)

var logger = log.New("didrelay/webnotifier")

const (
	notificationSendTimeout = 10 * time.Second

	emptyTopicErrMsg     = "cannot notify with an empty topic"
	emptyMessageErrMsg   = "cannot notify with an empty message"
	failedToCreateErrMsg = "failed to create topic message: %w"
)

// WebNotifier publishes topic messages to webhook subscribers and to connected websocket clients.
type WebNotifier struct {
	notifiers []command.Notifier
	handlers  []rest.Handler
}

// New returns a WebNotifier posting to webhookURLs and accepting websocket clients on wsPath.
func New(wsPath string, webhookURLs []string) *WebNotifier {
	ws := NewWSNotifier(wsPath)

	return &WebNotifier{
		notifiers: []command.Notifier{NewHTTPNotifier(webhookURLs), ws},
		handlers:  ws.GetRESTHandlers(),
	}
}

// Notify publishes message on topic through every notifier and joins their errors.
func (n *WebNotifier) Notify(topic string, message []byte) error {
	var errs []error

	for _, notifier := range n.notifiers {
		if err := notifier.Notify(topic, message); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// GetRESTHandlers returns the websocket subscription handler.
func (n *WebNotifier) GetRESTHandlers() []rest.Handler {
	return n.handlers
}

type topicMessage struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// PrepareTopicMessage wraps message, which must be JSON, with a fresh id and the topic.
func PrepareTopicMessage(topic string, message []byte) ([]byte, error) {
	if !json.Valid(message) {
		return nil, fmt.Errorf("message on topic %s is not valid JSON", topic)
	}

	return json.Marshal(topicMessage{
		ID:      uuid.New().String(),
		Topic:   topic,
		Message: message,
	})
}

func validate(topic string, message []byte) error {
	if topic == "" {
		return errors.New(emptyTopicErrMsg)
	}

	if len(message) == 0 {
		return errors.New(emptyMessageErrMsg)
	}

	return nil
}
