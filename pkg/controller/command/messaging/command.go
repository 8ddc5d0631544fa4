/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/messaging/service/basic"
	"github.com/didrelay/agent/pkg/internal/logutil"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

var logger = log.New("didrelay/command/messaging")

// constants for the Messaging controller.
const (
	// command name.
	CommandName = "messaging"

	// error messages.
	errMsgSvcNameRequired            = "service name is required"
	errMsgInvalidAcceptanceCrit      = "invalid acceptance criteria"
	errMsgBodyEmpty                  = "empty message body"
	errMsgContentEmpty               = "empty message content"
	errMsgConnectionIDRequired       = "connection ID is required"
	errMsgDestinationMissing         = "missing message destination"
	errMsgDestSvcEndpointMissing     = "missing service endpoint in message destination"
	errMsgDestSvcEndpointKeysMissing = "missing service endpoint recipient keys in message destination"
	errMsgNotificationsDisabled      = "message services need a notifier"

	// command methods.
	RegisteredServicesCommandMethod       = "Services"
	RegisterMessageServiceCommandMethod   = "RegisterService"
	UnregisterMessageServiceCommandMethod = "UnregisterService"
	SendNewMessageCommandMethod           = "Send"
	SendBasicMessageCommandMethod         = "SendBasic"

	// log constants.
	connectionID  = "connectionID"
	successString = "success"

	defaultLocale  = "en"
	defaultTimeout = 20 * time.Second
)

// Error codes.
const (
	// InvalidRequestErrorCode is typically a code for invalid requests.
	InvalidRequestErrorCode = command.Code(iota + command.Messaging)

	// RegisterMsgSvcError is for failures while registering new message service.
	RegisterMsgSvcError

	// UnregisterMsgSvcError is for failures while unregistering a message service.
	UnregisterMsgSvcError

	// SendMsgError is for failures while sending messages.
	SendMsgError

	// ConnectionNotFoundError is for messages sent to an unknown connection.
	ConnectionNotFoundError
)

// provider contains dependencies for the messaging controller command operations
// and is typically created by using agent.Context().
type provider interface {
	OutboundDispatcher() dispatcher.Outbound
	ConnectionLookup() *connectionstore.Lookup
}

// Command contains basic command operations provided by messaging controller command.
type Command struct {
	outbound  dispatcher.Outbound
	lookup    *connectionstore.Lookup
	registrar command.MessageHandler
	notifier  command.Notifier
}

// New returns new command instance for messaging controller API. Registered message services notify incoming
// messages through notifier.
func New(ctx provider, registrar command.MessageHandler, notifier command.Notifier) (*Command, error) {
	if registrar == nil {
		return nil, errors.New("message handler registrar is mandatory")
	}

	return &Command{
		outbound:  ctx.OutboundDispatcher(),
		lookup:    ctx.ConnectionLookup(),
		registrar: registrar,
		notifier:  notifier,
	}, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (o *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, RegisteredServicesCommandMethod, o.Services),
		cmdutil.NewCommandHandler(CommandName, RegisterMessageServiceCommandMethod, o.RegisterService),
		cmdutil.NewCommandHandler(CommandName, UnregisterMessageServiceCommandMethod, o.UnregisterService),
		cmdutil.NewCommandHandler(CommandName, SendNewMessageCommandMethod, o.Send),
		cmdutil.NewCommandHandler(CommandName, SendBasicMessageCommandMethod, o.SendBasic),
	}
}

// RegisterService registers new message service to message handler registrar.
func (o *Command) RegisterService(rw io.Writer, req io.Reader) command.Error {
	var request RegisterMsgSvcArgs

	err := command.DecodeRequest(req, &request, false)
	if err != nil {
		logutil.LogInfo(logger, CommandName, RegisterMessageServiceCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.Name == "" {
		logutil.LogDebug(logger, CommandName, RegisterMessageServiceCommandMethod, errMsgSvcNameRequired)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgSvcNameRequired))
	}

	if request.Type == "" {
		logutil.LogDebug(logger, CommandName, RegisterMessageServiceCommandMethod, errMsgInvalidAcceptanceCrit)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgInvalidAcceptanceCrit))
	}

	if o.notifier == nil {
		return command.NewExecuteError(RegisterMsgSvcError, errors.New(errMsgNotificationsDisabled))
	}

	err = o.registrar.Register(newMessageService(&request, o.notifier))
	if err != nil {
		logutil.LogError(logger, CommandName, RegisterMessageServiceCommandMethod, err.Error(),
			logutil.CreateKeyValueString("name", request.Name),
			logutil.CreateKeyValueString("type", request.Type))

		return command.NewExecuteError(RegisterMsgSvcError, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, CommandName, RegisterMessageServiceCommandMethod, successString,
		logutil.CreateKeyValueString("name", request.Name))

	return nil
}

// UnregisterService unregisters given message service handler registrar.
func (o *Command) UnregisterService(rw io.Writer, req io.Reader) command.Error {
	var request UnregisterMsgSvcArgs

	err := command.DecodeRequest(req, &request, false)
	if err != nil {
		logutil.LogInfo(logger, CommandName, UnregisterMessageServiceCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.Name == "" {
		logutil.LogDebug(logger, CommandName, UnregisterMessageServiceCommandMethod, errMsgSvcNameRequired)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgSvcNameRequired))
	}

	err = o.registrar.Unregister(request.Name)
	if err != nil {
		logutil.LogError(logger, CommandName, UnregisterMessageServiceCommandMethod, err.Error(),
			logutil.CreateKeyValueString("name", request.Name))

		return command.NewExecuteError(UnregisterMsgSvcError, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, CommandName, UnregisterMessageServiceCommandMethod, successString,
		logutil.CreateKeyValueString("name", request.Name))

	return nil
}

// Services returns list of registered service names.
func (o *Command) Services(rw io.Writer, _ io.Reader) command.Error {
	names := []string{}
	for _, svc := range o.registrar.Services() {
		names = append(names, svc.Name())
	}

	command.WriteNillableResponse(rw, RegisteredServicesResponse{Names: names}, logger)

	logutil.LogDebug(logger, CommandName, RegisteredServicesCommandMethod, successString)

	return nil
}

// Send sends new message to destination provided.
func (o *Command) Send(rw io.Writer, req io.Reader) command.Error {
	var request SendNewMessageArgs

	err := command.DecodeRequest(req, &request, false)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if len(request.MessageBody) == 0 {
		logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, errMsgBodyEmpty)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgBodyEmpty))
	}

	if err = validateMessageDestination(&request); err != nil {
		logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	msg, err := service.ParseDIDCommMsgMap(request.MessageBody)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if request.ConnectionID != "" {
		return o.sendToConnection(ctx, rw, SendNewMessageCommandMethod, request.ConnectionID, msg)
	}

	dest := request.ServiceEndpointDestination

	err = o.outbound.Send(ctx, msg, "", &service.Destination{
		RecipientKeys:   dest.RecipientKeys,
		ServiceEndpoint: dest.ServiceEndpoint,
		RoutingKeys:     dest.RoutingKeys,
	})
	if err != nil {
		logutil.LogError(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewExecuteError(SendMsgError, err)
	}

	command.WriteNillableResponse(rw, SendMessageResponse{MessageID: msg.ID()}, logger)

	logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, successString)

	return nil
}

// SendBasic sends a basic message over a connection.
func (o *Command) SendBasic(rw io.Writer, req io.Reader) command.Error {
	var request SendBasicMessageArgs

	err := command.DecodeRequest(req, &request, false)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendBasicMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.ConnectionID == "" {
		logutil.LogDebug(logger, CommandName, SendBasicMessageCommandMethod, errMsgConnectionIDRequired)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgConnectionIDRequired))
	}

	if request.Content == "" {
		logutil.LogDebug(logger, CommandName, SendBasicMessageCommandMethod, errMsgContentEmpty)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgContentEmpty))
	}

	locale := request.Locale
	if locale == "" {
		locale = defaultLocale
	}

	msg, err := service.NewDIDCommMsgMap(basic.NewMessage(request.Content, locale))
	if err != nil {
		return command.NewExecuteError(SendMsgError, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	return o.sendToConnection(ctx, rw, SendBasicMessageCommandMethod, request.ConnectionID, msg)
}

func (o *Command) sendToConnection(ctx context.Context, rw io.Writer, method, id string,
	msg service.DIDCommMsgMap) command.Error {
	rec, err := o.lookup.GetConnectionRecord(id)
	if err != nil {
		logutil.LogError(logger, CommandName, method, err.Error(),
			logutil.CreateKeyValueString(connectionID, id))

		if errors.Is(err, connectionstore.ErrConnectionNotFound) {
			return command.NewValidationError(ConnectionNotFoundError, err)
		}

		return command.NewExecuteError(SendMsgError, err)
	}

	if rec.State != connectionstore.StateComplete {
		err = fmt.Errorf("connection %s is %s", id, rec.State)
		logutil.LogDebug(logger, CommandName, method, err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if err = o.outbound.SendToConnection(ctx, msg, rec); err != nil {
		logutil.LogError(logger, CommandName, method, err.Error(),
			logutil.CreateKeyValueString(connectionID, id))

		return command.NewExecuteError(SendMsgError, err)
	}

	command.WriteNillableResponse(rw, SendMessageResponse{MessageID: msg.ID()}, logger)

	logutil.LogDebug(logger, CommandName, method, successString,
		logutil.CreateKeyValueString(connectionID, id))

	return nil
}

func validateMessageDestination(dest *SendNewMessageArgs) error {
	if dest.ConnectionID != "" {
		return nil
	}

	if dest.ServiceEndpointDestination == nil {
		return errors.New(errMsgDestinationMissing)
	}

	if dest.ServiceEndpointDestination.ServiceEndpoint == "" {
		return errors.New(errMsgDestSvcEndpointMissing)
	}

	if len(dest.ServiceEndpointDestination.RecipientKeys) == 0 {
		return errors.New(errMsgDestSvcEndpointKeysMissing)
	}

	return nil
}
