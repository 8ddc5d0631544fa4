/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/command/connection"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/controller/rest"
)

// constants for connection management endpoints.
const (
	OperationID           = "/connections"
	CreateInvitationPath  = OperationID + "/create-invitation"
	ReceiveInvitationPath = OperationID + "/receive-invitation"
	AcceptInvitationPath  = OperationID + "/{id}/accept-invitation"
	AcceptRequestPath     = OperationID + "/{id}/accept-request"
	AcceptResponsePath    = OperationID + "/{id}/accept-response"
	AbandonPath           = OperationID + "/{id}/abandon"
	ConnectionsByIDPath   = OperationID + "/{id}"
)

type provider interface {
	Service(id string) (interface{}, error)
}

// Operation is the REST controller for connection management.
type Operation struct {
	command  *connection.Command
	handlers []rest.Handler
}

// New returns new connection management rest client protocol instance.
func New(p provider) (*Operation, error) {
	cmd, err := connection.New(p)
	if err != nil {
		return nil, fmt.Errorf("create connection command : %w", err)
	}

	op := &Operation{command: cmd}
	op.registerHandler()

	return op, nil
}

// GetRESTHandlers get all controller API handlers available for this service.
func (c *Operation) GetRESTHandlers() []rest.Handler {
	return c.handlers
}

// registerHandler register handlers to be exposed from this service as REST API endpoints.
func (c *Operation) registerHandler() {
	c.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(OperationID, http.MethodGet, c.QueryConnections),
		cmdutil.NewHTTPHandler(CreateInvitationPath, http.MethodPost, c.CreateInvitation),
		cmdutil.NewHTTPHandler(ReceiveInvitationPath, http.MethodPost, c.ReceiveInvitation),
		cmdutil.NewHTTPHandler(AcceptInvitationPath, http.MethodPost, c.AcceptInvitation),
		cmdutil.NewHTTPHandler(AcceptRequestPath, http.MethodPost, c.AcceptRequest),
		cmdutil.NewHTTPHandler(AcceptResponsePath, http.MethodPost, c.AcceptResponse),
		cmdutil.NewHTTPHandler(AbandonPath, http.MethodPost, c.Abandon),
		cmdutil.NewHTTPHandler(ConnectionsByIDPath, http.MethodGet, c.QueryConnectionByID),
	}
}

// CreateInvitation swagger:route POST /connections/create-invitation connections createInvitation
//
// Creates a new connection invitation.
//
// Responses:
//    default: genericError
//        200: createInvitationResponse
func (c *Operation) CreateInvitation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.CreateInvitation, rw, req.Body)
}

// ReceiveInvitation swagger:route POST /connections/receive-invitation connections receiveInvitation
//
// Receives an invitation, given either as a message or as an invitation URL.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) ReceiveInvitation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.ReceiveInvitation, rw, req.Body)
}

// AcceptInvitation swagger:route POST /connections/{id}/accept-invitation connections acceptInvitation
//
// Accepts a received invitation by sending a connection request. The label query parameter overrides the agent
// label.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) AcceptInvitation(rw http.ResponseWriter, req *http.Request) {
	c.executeByID(rw, req, c.command.AcceptInvitation, req.URL.Query().Get("label"))
}

// AcceptRequest swagger:route POST /connections/{id}/accept-request connections acceptRequest
//
// Accepts a received connection request by sending a response.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) AcceptRequest(rw http.ResponseWriter, req *http.Request) {
	c.executeByID(rw, req, c.command.AcceptRequest, "")
}

// AcceptResponse swagger:route POST /connections/{id}/accept-response connections acceptResponse
//
// Accepts a received connection response by sending an ack.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) AcceptResponse(rw http.ResponseWriter, req *http.Request) {
	c.executeByID(rw, req, c.command.AcceptResponse, "")
}

// Abandon swagger:route POST /connections/{id}/abandon connections abandon
//
// Abandons a connection that has not completed.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) Abandon(rw http.ResponseWriter, req *http.Request) {
	c.executeByID(rw, req, c.command.Abandon, "")
}

// QueryConnectionByID swagger:route GET /connections/{id} connections getConnection
//
// Fetches a single connection record.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) QueryConnectionByID(rw http.ResponseWriter, req *http.Request) {
	c.executeByID(rw, req, c.command.QueryConnectionByID, "")
}

// QueryConnections swagger:route GET /connections connections queryConnections
//
// Lists connection records, optionally filtered by the state query parameter.
//
// Responses:
//    default: genericError
//        200: queryConnectionsResponse
func (c *Operation) QueryConnections(rw http.ResponseWriter, req *http.Request) {
	args := connection.QueryConnectionsArgs{State: req.URL.Query().Get("state")}

	c.executeWith(rw, c.command.QueryConnections, args)
}

// executeByID runs exec with the id path variable as its request.
func (c *Operation) executeByID(rw http.ResponseWriter, req *http.Request, exec command.Exec, label string) {
	id := mux.Vars(req)["id"]
	if id == "" {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, connection.InvalidRequestErrorCode,
			fmt.Errorf("empty connection ID"))

		return
	}

	c.executeWith(rw, exec, connection.ConnectionIDArg{ID: id, Label: label})
}

func (c *Operation) executeWith(rw http.ResponseWriter, exec command.Exec, args interface{}) {
	request, err := json.Marshal(args)
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, connection.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(exec, rw, bytes.NewReader(request))
}
