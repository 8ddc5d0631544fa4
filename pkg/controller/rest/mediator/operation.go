/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/command/mediator"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/controller/rest"
	"github.com/didrelay/agent/pkg/store/mailbox"
	"github.com/didrelay/agent/pkg/store/routing"
)

// constants for the mediator operations.
const (
	MediationOperationID = "/mediation"
	RequestPath          = MediationOperationID + "/request"
	DefaultPath          = MediationOperationID + "/default"
	PickupPath           = MediationOperationID + "/pickup"
	StatusPath           = MediationOperationID + "/status"
	MediationByIDPath    = MediationOperationID + "/{id}"
	GrantPath            = MediationByIDPath + "/grant"
	DenyPath             = MediationByIDPath + "/deny"
	SetDefaultPath       = MediationByIDPath + "/default"
	KeylistPath          = MediationByIDPath + "/keylist"

	RoutingOperationID = "/routing"
	RoutesPath         = RoutingOperationID + "/routes"
	MailboxStatusPath  = RoutingOperationID + "/mailbox/status"
)

// provider contains dependencies for the mediator operations and is typically created by using agent.Context().
type provider interface {
	Service(id string) (interface{}, error)
	RoutingTable() *routing.Table
	Mailbox() *mailbox.Mailbox
}

// Operation contains the mediation and routing operations provided by controller REST API.
type Operation struct {
	handlers []rest.Handler
	command  *mediator.Command
}

// New returns new mediation rest client instance.
func New(ctx provider) (*Operation, error) {
	cmd, err := mediator.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create mediator command : %w", err)
	}

	o := &Operation{command: cmd}

	o.registerHandler()

	return o, nil
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

// registerHandler register handlers to be exposed from this protocol service as REST API endpoints.
// Fixed paths are registered before the {id} ones they would otherwise match.
func (o *Operation) registerHandler() {
	o.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(RequestPath, http.MethodPost, o.RequestMediation),
		cmdutil.NewHTTPHandler(MediationOperationID, http.MethodGet, o.Mediations),
		cmdutil.NewHTTPHandler(DefaultPath, http.MethodGet, o.DefaultMediator),
		cmdutil.NewHTTPHandler(DefaultPath, http.MethodDelete, o.ClearDefaultMediator),
		cmdutil.NewHTTPHandler(PickupPath, http.MethodPost, o.Pickup),
		cmdutil.NewHTTPHandler(StatusPath, http.MethodPost, o.Status),
		cmdutil.NewHTTPHandler(MediationByIDPath, http.MethodGet, o.Mediation),
		cmdutil.NewHTTPHandler(GrantPath, http.MethodPost, o.GrantMediation),
		cmdutil.NewHTTPHandler(DenyPath, http.MethodPost, o.DenyMediation),
		cmdutil.NewHTTPHandler(SetDefaultPath, http.MethodPost, o.SetDefaultMediator),
		cmdutil.NewHTTPHandler(KeylistPath, http.MethodPost, o.UpdateKeylist),
		cmdutil.NewHTTPHandler(KeylistPath, http.MethodGet, o.QueryKeylist),
		cmdutil.NewHTTPHandler(RoutesPath, http.MethodGet, o.Routes),
		cmdutil.NewHTTPHandler(MailboxStatusPath, http.MethodPost, o.MailboxStatus),
	}
}

// RequestMediation swagger:route POST /mediation/request mediator requestMediation
//
// Asks the other side of a connection to mediate for this agent.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) RequestMediation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.RequestMediation, rw, req.Body)
}

// GrantMediation swagger:route POST /mediation/{id}/grant mediator grantMediation
//
// Grants a pending mediation request.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) GrantMediation(rw http.ResponseWriter, req *http.Request) {
	executeByID(rw, req, o.command.GrantMediation)
}

// DenyMediation swagger:route POST /mediation/{id}/deny mediator denyMediation
//
// Denies a pending mediation request.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) DenyMediation(rw http.ResponseWriter, req *http.Request) {
	executeByID(rw, req, o.command.DenyMediation)
}

// Mediation swagger:route GET /mediation/{id} mediator getMediation
//
// Fetches a mediation record.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) Mediation(rw http.ResponseWriter, req *http.Request) {
	executeByID(rw, req, o.command.Mediation)
}

// Mediations swagger:route GET /mediation mediator listMediations
//
// Lists the mediation records of both roles.
//
// Responses:
//    default: genericError
//    200: mediationsResponse
func (o *Operation) Mediations(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Mediations, rw, req.Body)
}

// DefaultMediator swagger:route GET /mediation/default mediator getDefaultMediator
//
// Fetches the default mediation.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) DefaultMediator(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.DefaultMediator, rw, req.Body)
}

// SetDefaultMediator swagger:route POST /mediation/{id}/default mediator setDefaultMediator
//
// Makes a granted mediation the default one.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) SetDefaultMediator(rw http.ResponseWriter, req *http.Request) {
	executeByID(rw, req, o.command.SetDefaultMediator)
}

// ClearDefaultMediator swagger:route DELETE /mediation/default mediator clearDefaultMediator
//
// Leaves the agent without a default mediator.
//
// Responses:
//    default: genericError
func (o *Operation) ClearDefaultMediator(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.ClearDefaultMediator, rw, req.Body)
}

// UpdateKeylist swagger:route POST /mediation/{id}/keylist mediator updateKeylist
//
// Adds or removes a recipient key at the mediator.
//
// Responses:
//    default: genericError
//    200: mediationResponse
func (o *Operation) UpdateKeylist(rw http.ResponseWriter, req *http.Request) {
	id, found := getIDFromRequest(rw, req)
	if !found {
		return
	}

	var request mediator.KeylistUpdateArgs

	if err := json.NewDecoder(req.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, mediator.InvalidRequestErrorCode, err)

		return
	}

	request.ID = id

	executeWith(rw, o.command.UpdateKeylist, request)
}

// QueryKeylist swagger:route GET /mediation/{id}/keylist mediator queryKeylist
//
// Lists the keys the mediator routes for this agent.
//
// Responses:
//    default: genericError
//    200: keylistResponse
func (o *Operation) QueryKeylist(rw http.ResponseWriter, req *http.Request) {
	executeByID(rw, req, o.command.QueryKeylist)
}

// Pickup swagger:route POST /mediation/pickup mediator pickup
//
// Fetches the messages queued at a mediator, the default one when no id is given.
//
// Responses:
//    default: genericError
//    200: batchPickupResponse
func (o *Operation) Pickup(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Pickup, rw, req.Body)
}

// Status swagger:route POST /mediation/status mediator statusRequest
//
// Status returns details about pending messages for given connection.
//
// Responses:
//    default: genericError
//    200: statusResponse
func (o *Operation) Status(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Status, rw, req.Body)
}

// Routes swagger:route GET /routing/routes routing routes
//
// Lists the recipient keys routed to the connection given in the connectionID query parameter.
//
// Responses:
//    default: genericError
//    200: keylistResponse
func (o *Operation) Routes(rw http.ResponseWriter, req *http.Request) {
	executeWith(rw, o.command.Routes, mediator.RoutesArgs{ConnectionID: req.URL.Query().Get("connectionID")})
}

// MailboxStatus swagger:route POST /routing/mailbox/status routing mailboxStatus
//
// Reports the messages queued for keys or for a routed connection.
//
// Responses:
//    default: genericError
//    200: mailboxStatusResponse
func (o *Operation) MailboxStatus(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.MailboxStatus, rw, req.Body)
}

func executeByID(rw http.ResponseWriter, req *http.Request, exec command.Exec) {
	id, found := getIDFromRequest(rw, req)
	if !found {
		return
	}

	executeWith(rw, exec, mediator.MediationIDArgs{ID: id})
}

func executeWith(rw http.ResponseWriter, exec command.Exec, args interface{}) {
	request, err := json.Marshal(args)
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, mediator.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(exec, rw, bytes.NewReader(request))
}

func getIDFromRequest(rw http.ResponseWriter, req *http.Request) (string, bool) {
	id := mux.Vars(req)["id"]
	if id == "" {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, mediator.MissingMediationIDCode,
			errors.New("empty mediation ID"))

		return "", false
	}

	return id, true
}
