/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/didcomm/protocol/connection"
	"github.com/didrelay/agent/pkg/internal/logutil"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

var logger = log.New("didrelay/command/connection")

// constants for connection management endpoints.
const (
	CommandName = "connection"

	CreateInvitationCommandMethod  = "CreateInvitation"
	ReceiveInvitationCommandMethod = "ReceiveInvitation"
	AcceptInvitationCommandMethod  = "AcceptInvitation"
	AcceptRequestCommandMethod     = "AcceptRequest"
	AcceptResponseCommandMethod    = "AcceptResponse"
	AbandonCommandMethod           = "Abandon"
	QueryConnectionsCommandMethod  = "QueryConnections"
	QueryConnectionByIDMethod      = "QueryConnectionByID"

	errEmptyConnID       = "empty connection ID"
	errEmptyInvitation   = "invitation or invitation URL is mandatory"
	errUnknownConnection = "unknown connection state %q"

	// log constants.
	connectionIDString = "connectionID"
	successString      = "success"

	defaultTimeout = 20 * time.Second
)

const (
	// InvalidRequestErrorCode is typically a code for validation errors
	// for invalid connection controller requests.
	InvalidRequestErrorCode = command.Code(iota + command.Connection)

	// CreateInvitationErrorCode is for failures in create invitation command.
	CreateInvitationErrorCode

	// ReceiveInvitationErrorCode is for failures in receive invitation command.
	ReceiveInvitationErrorCode

	// AcceptInvitationErrorCode is for failures in accept invitation command.
	AcceptInvitationErrorCode

	// AcceptRequestErrorCode is for failures in accept request command.
	AcceptRequestErrorCode

	// AcceptResponseErrorCode is for failures in accept response command.
	AcceptResponseErrorCode

	// AbandonErrorCode is for failures in abandon connection command.
	AbandonErrorCode

	// QueryConnectionsErrorCode is for failures in query connection command.
	QueryConnectionsErrorCode

	// ConnectionNotFoundErrorCode is for commands naming an unknown connection.
	ConnectionNotFoundErrorCode

	// ProtocolErrorCode is for commands rejected by the connection protocol.
	ProtocolErrorCode
)

// protocolService is the part of the connection protocol service the controller drives.
type protocolService interface {
	CreateConnection(ctx context.Context, opts ...connection.Opt) (*connection.Invitation,
		*connectionstore.Record, error)
	ReceiveInvitation(ctx context.Context, inv *connection.Invitation,
		opts ...connection.Opt) (*connectionstore.Record, error)
	AcceptInvitation(ctx context.Context, connectionID string, opts ...connection.Opt) (*connectionstore.Record, error)
	AcceptRequest(ctx context.Context, connectionID string) (*connectionstore.Record, error)
	AcceptResponse(ctx context.Context, connectionID string) (*connectionstore.Record, error)
	AbandonConnection(connectionID string) (*connectionstore.Record, error)
	GetConnection(id string) (*connectionstore.Record, error)
	QueryConnections(state string) ([]*connectionstore.Record, error)
}

type provider interface {
	Service(id string) (interface{}, error)
}

// Command provides controller API for connection commands.
type Command struct {
	service protocolService
}

// New creates connection Command.
func New(prov provider) (*Command, error) {
	svc, err := prov.Service(connection.Protocol)
	if err != nil {
		return nil, fmt.Errorf("lookup connection service: %w", err)
	}

	protocolSvc, ok := svc.(protocolService)
	if !ok {
		return nil, errors.New("cast service to connection service failed")
	}

	return &Command{service: protocolSvc}, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (c *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, CreateInvitationCommandMethod, c.CreateInvitation),
		cmdutil.NewCommandHandler(CommandName, ReceiveInvitationCommandMethod, c.ReceiveInvitation),
		cmdutil.NewCommandHandler(CommandName, AcceptInvitationCommandMethod, c.AcceptInvitation),
		cmdutil.NewCommandHandler(CommandName, AcceptRequestCommandMethod, c.AcceptRequest),
		cmdutil.NewCommandHandler(CommandName, AcceptResponseCommandMethod, c.AcceptResponse),
		cmdutil.NewCommandHandler(CommandName, AbandonCommandMethod, c.Abandon),
		cmdutil.NewCommandHandler(CommandName, QueryConnectionsCommandMethod, c.QueryConnections),
		cmdutil.NewCommandHandler(CommandName, QueryConnectionByIDMethod, c.QueryConnectionByID),
	}
}

// CreateInvitation creates a connection invitation.
func (c *Command) CreateInvitation(rw io.Writer, req io.Reader) command.Error {
	var request CreateInvitationArgs

	if err := command.DecodeRequest(req, &request, true); err != nil {
		logutil.LogInfo(logger, CommandName, CreateInvitationCommandMethod, err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	opts := []connection.Opt{connection.WithAlias(request.Alias)}

	if request.Label != "" {
		opts = append(opts, connection.WithLabel(request.Label))
	}

	if request.MultiUse {
		opts = append(opts, connection.WithMultiUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	inv, rec, err := c.service.CreateConnection(ctx, opts...)
	if err != nil {
		logutil.LogError(logger, CommandName, CreateInvitationCommandMethod, err.Error())

		return command.NewExecuteError(CreateInvitationErrorCode, err)
	}

	invURL, err := connection.InvitationURL(inv.ServiceEndpoint, inv)
	if err != nil {
		logutil.LogError(logger, CommandName, CreateInvitationCommandMethod, err.Error())

		return command.NewExecuteError(CreateInvitationErrorCode, err)
	}

	command.WriteNillableResponse(rw, &CreateInvitationResponse{
		Invitation:    inv,
		InvitationURL: invURL,
		ConnectionID:  rec.ConnectionID,
	}, logger)

	logutil.LogDebug(logger, CommandName, CreateInvitationCommandMethod, successString,
		logutil.CreateKeyValueString(connectionIDString, rec.ConnectionID))

	return nil
}

// ReceiveInvitation records an invitation, sending the connection request right away when auto accept is on.
func (c *Command) ReceiveInvitation(rw io.Writer, req io.Reader) command.Error {
	var request ReceiveInvitationArgs

	if err := command.DecodeRequest(req, &request, true); err != nil {
		logutil.LogInfo(logger, CommandName, ReceiveInvitationCommandMethod, err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	inv := request.Invitation

	if inv == nil {
		if request.InvitationURL == "" {
			logutil.LogDebug(logger, CommandName, ReceiveInvitationCommandMethod, errEmptyInvitation)

			return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyInvitation))
		}

		var err error

		inv, err = connection.ParseInvitationURL(request.InvitationURL)
		if err != nil {
			logutil.LogInfo(logger, CommandName, ReceiveInvitationCommandMethod, err.Error())

			return command.NewValidationError(ProtocolErrorCode, err)
		}
	}

	opts := []connection.Opt{connection.WithAlias(request.Alias)}

	if request.Label != "" {
		opts = append(opts, connection.WithLabel(request.Label))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	rec, err := c.service.ReceiveInvitation(ctx, inv, opts...)

	return c.respond(rw, ReceiveInvitationCommandMethod, ReceiveInvitationErrorCode, rec, err)
}

// AcceptInvitation sends the connection request of a received invitation.
func (c *Command) AcceptInvitation(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := connectionID(req, AcceptInvitationCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	var opts []connection.Opt

	if request.Label != "" {
		opts = append(opts, connection.WithLabel(request.Label))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	rec, err := c.service.AcceptInvitation(ctx, request.ID, opts...)

	return c.respond(rw, AcceptInvitationCommandMethod, AcceptInvitationErrorCode, rec, err)
}

// AcceptRequest sends the connection response to a received request.
func (c *Command) AcceptRequest(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := connectionID(req, AcceptRequestCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	rec, err := c.service.AcceptRequest(ctx, request.ID)

	return c.respond(rw, AcceptRequestCommandMethod, AcceptRequestErrorCode, rec, err)
}

// AcceptResponse acknowledges a received connection response, completing the connection.
func (c *Command) AcceptResponse(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := connectionID(req, AcceptResponseCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	rec, err := c.service.AcceptResponse(ctx, request.ID)

	return c.respond(rw, AcceptResponseCommandMethod, AcceptResponseErrorCode, rec, err)
}

// Abandon moves a connection to the abandoned state.
func (c *Command) Abandon(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := connectionID(req, AbandonCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	rec, err := c.service.AbandonConnection(request.ID)

	return c.respond(rw, AbandonCommandMethod, AbandonErrorCode, rec, err)
}

// QueryConnectionByID returns a single connection record.
func (c *Command) QueryConnectionByID(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := connectionID(req, QueryConnectionByIDMethod)
	if cmdErr != nil {
		return cmdErr
	}

	rec, err := c.service.GetConnection(request.ID)

	return c.respond(rw, QueryConnectionByIDMethod, QueryConnectionsErrorCode, rec, err)
}

// QueryConnections returns the connections in a state, all of them when no state is given.
func (c *Command) QueryConnections(rw io.Writer, req io.Reader) command.Error {
	var request QueryConnectionsArgs

	if err := command.DecodeRequest(req, &request, true); err != nil {
		logutil.LogInfo(logger, CommandName, QueryConnectionsCommandMethod, err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	switch request.State {
	case "", connectionstore.StateInvited, connectionstore.StateRequested, connectionstore.StateResponded,
		connectionstore.StateComplete, connectionstore.StateAbandoned:
	default:
		err := fmt.Errorf(errUnknownConnection, request.State)
		logutil.LogDebug(logger, CommandName, QueryConnectionsCommandMethod, err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	records, err := c.service.QueryConnections(request.State)
	if err != nil {
		logutil.LogError(logger, CommandName, QueryConnectionsCommandMethod, err.Error())

		return command.NewExecuteError(QueryConnectionsErrorCode, err)
	}

	if records == nil {
		records = []*connectionstore.Record{}
	}

	command.WriteNillableResponse(rw, &QueryConnectionsResponse{Results: records}, logger)

	logutil.LogDebug(logger, CommandName, QueryConnectionsCommandMethod, successString)

	return nil
}

// respond writes rec, or turns err into a command error: unknown connections and protocol rejections are
// validation errors, anything else failed to execute.
func (c *Command) respond(rw io.Writer, method string, code command.Code, rec *connectionstore.Record,
	err error) command.Error {
	if err != nil {
		logutil.LogError(logger, CommandName, method, err.Error())

		var protocolErr *connection.ProtocolError

		switch {
		case errors.Is(err, connectionstore.ErrConnectionNotFound):
			return command.NewValidationError(ConnectionNotFoundErrorCode, err)
		case errors.As(err, &protocolErr):
			return command.NewValidationError(ProtocolErrorCode, err)
		default:
			return command.NewExecuteError(code, err)
		}
	}

	command.WriteNillableResponse(rw, &ConnectionResponse{Result: rec}, logger)

	logutil.LogDebug(logger, CommandName, method, successString,
		logutil.CreateKeyValueString(connectionIDString, rec.ConnectionID))

	return nil
}

func connectionID(req io.Reader, method string) (*ConnectionIDArg, command.Error) {
	var request ConnectionIDArg

	if err := command.DecodeRequest(req, &request, true); err != nil {
		logutil.LogInfo(logger, CommandName, method, err.Error())

		return nil, command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.ID == "" {
		logutil.LogDebug(logger, CommandName, method, errEmptyConnID)

		return nil, command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyConnID))
	}

	return &request, nil
}
