/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/didcomm/transport/session"
	"github.com/didrelay/agent/pkg/store/connection"
)

var logger = log.New("didrelay/inbound")

var (
	// ErrRejected is returned for envelopes the agent cannot open. Such envelopes are never retried.
	ErrRejected = errors.New("inbound envelope rejected")

	// ErrNoHandler is returned when no service accepts the type of an inbound message.
	ErrNoHandler = errors.New("no message handlers found")
)

type provider interface {
	Packager() transport.Packager
	SessionRegistry() *session.Registry
	ConnectionLookup() *connection.Lookup
	AllServices() []service.DIDComm
}

// MessageHandler is the message receiver of the agent: it opens inbound envelopes, attributes them to a
// connection and dispatches them to the service accepting their message type.
type MessageHandler struct {
	packager    transport.Packager
	sessions    *session.Registry
	connections *connection.Lookup
	services    func() []service.DIDComm
	initialized bool
}

// NewInboundMessageHandler creates an inbound message handler.
func NewInboundMessageHandler(p provider) *MessageHandler {
	h := MessageHandler{}
	h.Initialize(p)

	return &h
}

// Initialize initializes the MessageHandler. Any call beyond the first is a no-op.
func (handler *MessageHandler) Initialize(p provider) {
	if handler.initialized {
		return
	}

	handler.packager = p.Packager()
	handler.sessions = p.SessionRegistry()
	handler.connections = p.ConnectionLookup()
	// services registered after start are dispatched to as well.
	handler.services = p.AllServices

	handler.initialized = true
}

// HandlerFunc returns the MessageHandler's transport.InboundMessageHandler function.
func (handler *MessageHandler) HandlerFunc() transport.InboundMessageHandler {
	return handler.HandleInboundEnvelope
}

// HandleInboundEnvelope handles one packed envelope. s is the transport session the envelope arrived on, nil when
// the transport cannot carry a reply.
func (handler *MessageHandler) HandleInboundEnvelope(ctx context.Context, envelope []byte,
	s transport.Session) error {
	env, err := handler.packager.UnpackMessage(envelope)
	if err != nil {
		logger.Warnf("rejecting inbound envelope of %d bytes: %s", len(envelope), err)

		return fmt.Errorf("%w: unpack: %v", ErrRejected, err)
	}

	msg, err := service.ParseDIDCommMsgMap(env.Message)
	if err != nil {
		return fmt.Errorf("inbound message handler: %w", err)
	}

	var bind func(connectionID string)

	if s != nil && handler.sessions != nil {
		handler.sessions.SaveSession(s, msg.ReturnRoute())

		bind = func(connectionID string) {
			handler.sessions.BindConnection(s.ID(), connectionID)
		}
	}

	connectionID, err := handler.connectionID(env.FromKey)
	if err != nil {
		return fmt.Errorf("inbound message handler: %w", err)
	}

	didCommCtx := service.NewDIDCommContext(env.ToKey, env.FromKey, connectionID, bind).WithPayload(env.Message)
	didCommCtx.BindConnection(connectionID)

	for _, svc := range handler.services() {
		if !svc.Accept(msg.Type()) {
			continue
		}

		logger.Debugf("dispatching %s (connection %q) to %s", msg.Type(), connectionID, svc.Name())

		_, err = svc.HandleInbound(ctx, msg, didCommCtx)

		return err
	}

	return fmt.Errorf("%w for the message type: %s", ErrNoHandler, msg.Type())
}

// connectionID returns the connection whose peer packed the envelope with theirKey, empty for anonymous envelopes
// and unknown keys.
func (handler *MessageHandler) connectionID(theirKey string) (string, error) {
	if theirKey == "" || handler.connections == nil {
		return "", nil
	}

	rec, err := handler.connections.GetConnectionRecordByTheirKey(theirKey)
	if errors.Is(err, connection.ErrConnectionNotFound) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return rec.ConnectionID, nil
}
