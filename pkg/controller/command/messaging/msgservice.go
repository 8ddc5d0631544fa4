/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
)

const errMsgSvcHandleFailed = "failed to handle inbound : %w"

// topic is the notification sent for every message a registered service receives.
type topic struct {
	Message      service.DIDCommMsgMap `json:"message"`
	ConnectionID string                `json:"connection_id,omitempty"`
	MyKey        string                `json:"my_key,omitempty"`
	TheirKey     string                `json:"their_key,omitempty"`
}

// msgService is a message service which hands every accepted message to the notifier, on the topic named after
// the service.
type msgService struct {
	name     string
	msgType  string
	notifier command.Notifier
}

func newMessageService(params *RegisterMsgSvcArgs, notifier command.Notifier) *msgService {
	return &msgService{
		name:     params.Name,
		msgType:  service.NormalizeType(params.Type),
		notifier: notifier,
	}
}

func (m *msgService) Name() string {
	return m.name
}

func (m *msgService) Accept(msgType string) bool {
	return m.msgType == msgType
}

func (m *msgService) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) (string, error) {
	bytes, err := json.Marshal(topic{
		Message:      msg,
		ConnectionID: didCommCtx.ConnectionID,
		MyKey:        didCommCtx.MyKey,
		TheirKey:     didCommCtx.TheirKey,
	})
	if err != nil {
		return "", fmt.Errorf(errMsgSvcHandleFailed, err)
	}

	return "", m.notifier.Notify(m.name, bytes)
}
