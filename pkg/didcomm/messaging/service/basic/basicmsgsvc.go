/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
)

const (
	// MessageRequestType is the basic message type.
	MessageRequestType = "https://didcomm.org/basicmessage/1.0/message"

	errNameAndHandleMandatory = "service name and basic message handle is mandatory"

	seenCacheSize = 1000
	seenCacheTTL  = 10 * time.Minute
)

var logger = log.New("didrelay/basicmessage")

// MessageHandle is called for every new basic message.
type MessageHandle func(message Message, ctx service.DIDCommContext) error

type decoder interface {
	Decode(v interface{}) error
}

// MessageService handles basic messages. A message delivered twice, for instance once from the mailbox and once
// over a live session, is handed to the handle once.
type MessageService struct {
	name   string
	handle MessageHandle
	seen   gcache.Cache
}

// NewMessageService creates a basic message service named name, passing incoming messages to handle.
func NewMessageService(name string, handle MessageHandle) (*MessageService, error) {
	if name == "" || handle == nil {
		return nil, errors.New(errNameAndHandleMandatory)
	}

	return &MessageService{
		name:   name,
		handle: handle,
		seen:   gcache.New(seenCacheSize).LRU().Expiration(seenCacheTTL).Build(),
	}, nil
}

// Name of the service.
func (m *MessageService) Name() string {
	return m.name
}

// Accept reports whether msgType is the basic message type.
func (m *MessageService) Accept(msgType string) bool {
	return msgType == MessageRequestType
}

// HandleInbound decodes msg and hands it to the message handle.
func (m *MessageService) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) (string, error) {
	return m.handleInbound(msg, didCommCtx)
}

func (m *MessageService) handleInbound(msg decoder, didCommCtx service.DIDCommContext) (string, error) {
	message := Message{}

	if err := msg.Decode(&message); err != nil {
		return "", fmt.Errorf("unable to decode incoming DID comm message: %w", err)
	}

	if message.ID != "" {
		if _, err := m.seen.Get(message.ID); err == nil {
			logger.Debugf("duplicate basic message %s dropped", message.ID)

			return "", nil
		}

		if err := m.seen.Set(message.ID, struct{}{}); err != nil {
			return "", fmt.Errorf("remember basic message: %w", err)
		}
	}

	if err := m.handle(message, didCommCtx); err != nil {
		// let a redelivery try again
		m.seen.Remove(message.ID)

		return "", err
	}

	return "", nil
}
