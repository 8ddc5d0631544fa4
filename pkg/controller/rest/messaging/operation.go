/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"fmt"
	"net/http"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/command/messaging"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/controller/rest"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

// constants for the messaging operations.
const (
	MsgServiceOperationID    = "/message"
	RegisteredServicesPath   = MsgServiceOperationID + "/services"
	RegisterMsgServicePath   = MsgServiceOperationID + "/register-service"
	UnregisterMsgServicePath = MsgServiceOperationID + "/unregister-service"
	SendNewMessagePath       = MsgServiceOperationID + "/send"
	SendBasicMessagePath     = MsgServiceOperationID + "/send-basic"
)

// provider contains dependencies for the messaging operations and is typically created by using agent.Context().
type provider interface {
	OutboundDispatcher() dispatcher.Outbound
	ConnectionLookup() *connectionstore.Lookup
}

// Operation contains the message service and messaging operations of the controller REST API.
type Operation struct {
	handlers []rest.Handler
	command  *messaging.Command
}

// New returns new messaging rest client instance.
func New(ctx provider, registrar command.MessageHandler, notifier command.Notifier) (*Operation, error) {
	cmd, err := messaging.New(ctx, registrar, notifier)
	if err != nil {
		return nil, fmt.Errorf("create messaging command : %w", err)
	}

	o := &Operation{command: cmd}
	o.registerHandler()

	return o, nil
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

func (o *Operation) registerHandler() {
	o.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(RegisteredServicesPath, http.MethodGet, o.Services),
		cmdutil.NewHTTPHandler(RegisterMsgServicePath, http.MethodPost, o.RegisterService),
		cmdutil.NewHTTPHandler(UnregisterMsgServicePath, http.MethodPost, o.UnregisterService),
		cmdutil.NewHTTPHandler(SendNewMessagePath, http.MethodPost, o.Send),
		cmdutil.NewHTTPHandler(SendBasicMessagePath, http.MethodPost, o.SendBasic),
	}
}

// Services swagger:route GET /message/services message services
//
// Lists the names of the registered message services.
//
// Responses:
//    default: genericError
//    200: registeredServicesResponse
func (o *Operation) Services(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Services, rw, req.Body)
}

// RegisterService swagger:route POST /message/register-service message registerMsgSvc
//
// Registers a message service that publishes incoming messages of a type on a topic named after the service.
//
// Responses:
//    default: genericError
func (o *Operation) RegisterService(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.RegisterService, rw, req.Body)
}

// UnregisterService swagger:route POST /message/unregister-service message unregisterMsgSvc
//
// Unregisters a message service.
//
// Responses:
//    default: genericError
func (o *Operation) UnregisterService(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.UnregisterService, rw, req.Body)
}

// Send swagger:route POST /message/send message sendNewMessage
//
// Sends a message to a connection or to a service endpoint.
//
// Responses:
//    default: genericError
//    200: sendMessageResponse
func (o *Operation) Send(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Send, rw, req.Body)
}

// SendBasic swagger:route POST /message/send-basic message sendBasicMessage
//
// Sends a basic message to a connection.
//
// Responses:
//    default: genericError
//    200: sendMessageResponse
func (o *Operation) SendBasic(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.SendBasic, rw, req.Body)
}
