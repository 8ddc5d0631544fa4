/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/controller/command"
	connectioncmd "github.com/didrelay/agent/pkg/controller/command/connection"
	mediatorcmd "github.com/didrelay/agent/pkg/controller/command/mediator"
	messagingcmd "github.com/didrelay/agent/pkg/controller/command/messaging"
	"github.com/didrelay/agent/pkg/controller/rest"
	connectionrest "github.com/didrelay/agent/pkg/controller/rest/connection"
	mediatorrest "github.com/didrelay/agent/pkg/controller/rest/mediator"
	messagingrest "github.com/didrelay/agent/pkg/controller/rest/messaging"
	"github.com/didrelay/agent/pkg/controller/webnotifier"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/protocol/connection"
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/framework/context"
)

var logger = log.New("didrelay/controller")

type allOpts struct {
	webhookURLs []string
	msgHandler  command.MessageHandler
	notifier    command.Notifier
}

// WSPath is the path websocket clients subscribe to notifications on.
const WSPath = "/ws"

// Topics protocol events are published on.
const (
	ConnectionStateTopic  = "connections"
	ConnectionActionTopic = "connection_actions"
	MediationStateTopic   = "mediations"
	MediationActionTopic  = "mediation_actions"

	eventBufferSize = 16
)

// Opt represents a controller option.
type Opt func(opts *allOpts)

// WithWebhookURLs is an option for setting up a webhook dispatcher which will notify clients of events.
func WithWebhookURLs(webhookURLs ...string) Opt {
	return func(opts *allOpts) {
		opts.webhookURLs = webhookURLs
	}
}

// WithNotifier is an option for setting up a notifier which will notify clients of events.
func WithNotifier(notifier command.Notifier) Opt {
	return func(opts *allOpts) {
		opts.notifier = notifier
	}
}

// WithMessageHandler is an option allowing for the message handler to be set.
func WithMessageHandler(handler command.MessageHandler) Opt {
	return func(opts *allOpts) {
		opts.msgHandler = handler
	}
}

func applyOpts(ctx *context.Provider, opts []Opt) *allOpts {
	o := &allOpts{}

	for _, opt := range opts {
		opt(o)
	}

	if o.notifier == nil {
		o.notifier = webnotifier.New(WSPath, o.webhookURLs)
	}

	if o.msgHandler == nil {
		o.msgHandler = ctx.MessageServiceRegistrar()
	}

	return o
}

// GetRESTHandlers returns all REST handlers provided by controller. Connection and mediation events are published
// through the notifier.
func GetRESTHandlers(ctx *context.Provider, opts ...Opt) ([]rest.Handler, error) {
	o := applyOpts(ctx, opts)

	connectionOp, err := connectionrest.New(ctx)
	if err != nil {
		return nil, err
	}

	mediatorOp, err := mediatorrest.New(ctx)
	if err != nil {
		return nil, err
	}

	messagingOp, err := messagingrest.New(ctx, o.msgHandler, o.notifier)
	if err != nil {
		return nil, err
	}

	if err = observe(ctx, o.notifier); err != nil {
		return nil, err
	}

	var allHandlers []rest.Handler
	allHandlers = append(allHandlers, connectionOp.GetRESTHandlers()...)
	allHandlers = append(allHandlers, mediatorOp.GetRESTHandlers()...)
	allHandlers = append(allHandlers, messagingOp.GetRESTHandlers()...)

	if nhp, ok := o.notifier.(handlerProvider); ok {
		allHandlers = append(allHandlers, nhp.GetRESTHandlers()...)
	}

	return allHandlers, nil
}

type handlerProvider interface {
	GetRESTHandlers() []rest.Handler
}

// GetCommandHandlers returns all command handlers provided by controller.
func GetCommandHandlers(ctx *context.Provider, opts ...Opt) ([]command.Handler, error) {
	o := applyOpts(ctx, opts)

	connCmd, err := connectioncmd.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create connection command : %w", err)
	}

	mediatorCmd, err := mediatorcmd.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create mediator command : %w", err)
	}

	msgCmd, err := messagingcmd.New(ctx, o.msgHandler, o.notifier)
	if err != nil {
		return nil, fmt.Errorf("create messaging command : %w", err)
	}

	var allHandlers []command.Handler
	allHandlers = append(allHandlers, connCmd.GetHandlers()...)
	allHandlers = append(allHandlers, mediatorCmd.GetHandlers()...)
	allHandlers = append(allHandlers, msgCmd.GetHandlers()...)

	return allHandlers, nil
}

// observe publishes the events of the connection and mediation services. Action events are only published when
// no other consumer claimed them.
func observe(ctx *context.Provider, notifier command.Notifier) error {
	obs := webnotifier.NewObserver(notifier)

	for _, t := range []struct {
		id, stateTopic, actionTopic string
	}{
		{connection.Protocol, ConnectionStateTopic, ConnectionActionTopic},
		{mediator.Coordination, MediationStateTopic, MediationActionTopic},
	} {
		svc, err := ctx.Service(t.id)
		if err != nil {
			return fmt.Errorf("lookup %s service: %w", t.id, err)
		}

		events, ok := svc.(service.Event)
		if !ok {
			return fmt.Errorf("%s service does not publish events", t.id)
		}

		states := make(chan service.StateMsg, eventBufferSize)
		if err = events.RegisterMsgEvent(states); err != nil {
			return fmt.Errorf("register %s state events: %w", t.id, err)
		}

		obs.RegisterStateMsg(t.stateTopic, states)

		actions := make(chan service.DIDCommAction, eventBufferSize)
		if err = events.RegisterActionEvent(actions); err != nil {
			logger.Infof("%s actions are consumed elsewhere: %s", t.id, err)

			continue
		}

		obs.RegisterAction(t.actionTopic, actions)
	}

	return nil
}
