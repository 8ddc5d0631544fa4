/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"encoding/json"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
)

// Action is the notification published for a protocol action awaiting a decision.
type Action struct {
	ProtocolName string                 `json:"protocol"`
	Message      service.DIDCommMsgMap  `json:"message"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// StateMsg is the notification published for a protocol state transition.
type StateMsg struct {
	ProtocolName string                 `json:"protocol"`
	Type         string                 `json:"type"`
	StateID      string                 `json:"state_id"`
	Message      service.DIDCommMsgMap  `json:"message,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// Observer publishes protocol events through a notifier.
type Observer struct {
	notifier command.Notifier
}

// NewObserver returns an Observer publishing through notifier.
func NewObserver(notifier command.Notifier) *Observer {
	return &Observer{notifier: notifier}
}

// RegisterAction publishes every action read from ch on topic until ch is closed. Actions are left pending: they
// are decided through the controller API.
func (o *Observer) RegisterAction(topic string, ch <-chan service.DIDCommAction) {
	go func() {
		for action := range ch {
			o.publish(topic, Action{
				ProtocolName: action.ProtocolName,
				Message:      action.Message,
				Properties:   properties(action.Properties),
			})
		}
	}()
}

// RegisterStateMsg publishes every state message read from ch on topic until ch is closed.
func (o *Observer) RegisterStateMsg(topic string, ch <-chan service.StateMsg) {
	go func() {
		for msg := range ch {
			o.publish(topic, StateMsg{
				ProtocolName: msg.ProtocolName,
				Type:         msg.Type.String(),
				StateID:      msg.StateID,
				Message:      msg.Msg,
				Properties:   properties(msg.Properties),
			})
		}
	}()
}

func (o *Observer) publish(topic string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("marshal %s event: %s", topic, err)

		return
	}

	if err = o.notifier.Notify(topic, payload); err != nil {
		logger.Warnf("notify %s: %s", topic, err)
	}
}

func properties(p service.EventProperties) map[string]interface{} {
	if p == nil {
		return nil
	}

	return p.All()
}
