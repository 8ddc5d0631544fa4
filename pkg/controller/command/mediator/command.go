/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/messagepickup"
	"github.com/didrelay/agent/pkg/internal/logutil"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/mailbox"
	"github.com/didrelay/agent/pkg/store/routing"
)

var logger = log.New("didrelay/command/mediator")

// Error codes.
const (
	// InvalidRequestErrorCode for invalid requests.
	InvalidRequestErrorCode = command.Code(iota + command.Mediator)

	// MissingConnIDCode for connection ID validation error.
	MissingConnIDCode

	// MissingMediationIDCode for mediation ID validation error.
	MissingMediationIDCode

	// MediationNotFoundCode for commands naming an unknown mediation or connection.
	MediationNotFoundCode

	// RequestMediationErrorCode for request mediation error.
	RequestMediationErrorCode

	// GrantMediationErrorCode for grant or deny mediation error.
	GrantMediationErrorCode

	// DefaultMediatorErrorCode for default mediator errors.
	DefaultMediatorErrorCode

	// KeylistErrorCode for keylist update and query errors.
	KeylistErrorCode

	// StatusRequestErrorCode for status request error.
	StatusRequestErrorCode

	// BatchPickupRequestErrorCode for batch pick up error.
	BatchPickupRequestErrorCode

	// ListMediationsErrorCode for list mediation error.
	ListMediationsErrorCode
)

// Routing error codes.
const (
	// RoutesErrorCode for routing table lookup errors.
	RoutesErrorCode = command.Code(iota + command.Routing)

	// MailboxStatusErrorCode for mailbox status errors.
	MailboxStatusErrorCode
)

// constant for the mediator controller.
const (
	// command name.
	CommandName = "mediator"

	// command methods.
	RequestMediationCommandMethod   = "RequestMediation"
	GrantMediationCommandMethod     = "GrantMediation"
	DenyMediationCommandMethod      = "DenyMediation"
	GetMediationCommandMethod       = "Mediation"
	ListMediationsCommandMethod     = "Mediations"
	GetDefaultMediatorCommandMethod = "DefaultMediator"
	SetDefaultMediatorCommandMethod = "SetDefaultMediator"
	ClearDefaultMediatorMethod      = "ClearDefaultMediator"
	UpdateKeylistCommandMethod      = "UpdateKeylist"
	QueryKeylistCommandMethod       = "QueryKeylist"
	PickupCommandMethod             = "Pickup"
	StatusCommandMethod             = "Status"
	RoutesCommandMethod             = "Routes"
	MailboxStatusCommandMethod      = "MailboxStatus"

	// log constants.
	connectionID  = "connectionID"
	mediationID   = "mediationID"
	successString = "success"

	defaultTimeout = 20 * time.Second
)

// mediationService is the part of the mediation service the controller drives.
type mediationService interface {
	RequestMediation(ctx context.Context, connectionID string) (*mediator.Record, error)
	RequestMediationAndAwait(ctx context.Context, connectionID string, timeout time.Duration) (*mediator.Record, error)
	GrantMediation(ctx context.Context, id string) error
	DenyMediation(ctx context.Context, id string) error
	GetMediation(id string) (*mediator.Record, error)
	ListMediations() ([]*mediator.Record, error)
	SetDefaultMediator(id string) (*mediator.Record, error)
	GetDefaultMediator() (*mediator.Record, error)
	ClearDefaultMediator() error
	UpdateKeylist(ctx context.Context, id, action, recipientKey string) error
	QueryKeylist(ctx context.Context, id string) ([]string, error)
	Pickup(ctx context.Context, id string) (int, error)
	PickupFromDefault(ctx context.Context) (int, error)
}

// provider contains dependencies for the mediator controller and is typically created by using agent.Context().
type provider interface {
	Service(id string) (interface{}, error)
	RoutingTable() *routing.Table
	Mailbox() *mailbox.Mailbox
}

// Command contains command operations provided by the mediation controller.
type Command struct {
	mediation mediationService
	pickup    messagepickup.ProtocolService
	routes    *routing.Table
	mailbox   *mailbox.Mailbox
}

// New returns new mediation controller command instance.
func New(ctx provider) (*Command, error) {
	svc, err := ctx.Service(mediator.Coordination)
	if err != nil {
		return nil, fmt.Errorf("lookup mediation service: %w", err)
	}

	mediationSvc, ok := svc.(mediationService)
	if !ok {
		return nil, errors.New("cast service to mediation service failed")
	}

	svc, err = ctx.Service(messagepickup.MessagePickup)
	if err != nil {
		return nil, fmt.Errorf("lookup message pickup service: %w", err)
	}

	pickupSvc, ok := svc.(messagepickup.ProtocolService)
	if !ok {
		return nil, errors.New("cast service to message pickup service failed")
	}

	return &Command{
		mediation: mediationSvc,
		pickup:    pickupSvc,
		routes:    ctx.RoutingTable(),
		mailbox:   ctx.Mailbox(),
	}, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (o *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, RequestMediationCommandMethod, o.RequestMediation),
		cmdutil.NewCommandHandler(CommandName, GrantMediationCommandMethod, o.GrantMediation),
		cmdutil.NewCommandHandler(CommandName, DenyMediationCommandMethod, o.DenyMediation),
		cmdutil.NewCommandHandler(CommandName, GetMediationCommandMethod, o.Mediation),
		cmdutil.NewCommandHandler(CommandName, ListMediationsCommandMethod, o.Mediations),
		cmdutil.NewCommandHandler(CommandName, GetDefaultMediatorCommandMethod, o.DefaultMediator),
		cmdutil.NewCommandHandler(CommandName, SetDefaultMediatorCommandMethod, o.SetDefaultMediator),
		cmdutil.NewCommandHandler(CommandName, ClearDefaultMediatorMethod, o.ClearDefaultMediator),
		cmdutil.NewCommandHandler(CommandName, UpdateKeylistCommandMethod, o.UpdateKeylist),
		cmdutil.NewCommandHandler(CommandName, QueryKeylistCommandMethod, o.QueryKeylist),
		cmdutil.NewCommandHandler(CommandName, PickupCommandMethod, o.Pickup),
		cmdutil.NewCommandHandler(CommandName, StatusCommandMethod, o.Status),
		cmdutil.NewCommandHandler(CommandName, RoutesCommandMethod, o.Routes),
		cmdutil.NewCommandHandler(CommandName, MailboxStatusCommandMethod, o.MailboxStatus),
	}
}

// RequestMediation asks the other side of a connection to mediate for this agent.
func (o *Command) RequestMediation(rw io.Writer, req io.Reader) command.Error {
	var request RequestMediationArgs

	if err := command.DecodeRequest(req, &request, false); err != nil {
		logutil.LogInfo(logger, CommandName, RequestMediationCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ConnectionID == "" {
		logutil.LogDebug(logger, CommandName, RequestMediationCommandMethod, "missing connectionID")
		return command.NewValidationError(MissingConnIDCode, errors.New("connectionID is mandatory"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var (
		rec *mediator.Record
		err error
	)

	if request.Await {
		rec, err = o.mediation.RequestMediationAndAwait(ctx, request.ConnectionID, defaultTimeout)
	} else {
		rec, err = o.mediation.RequestMediation(ctx, request.ConnectionID)
	}

	if err != nil {
		logutil.LogError(logger, CommandName, RequestMediationCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionID, request.ConnectionID))

		return executeError(RequestMediationErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	logutil.LogDebug(logger, CommandName, RequestMediationCommandMethod, successString,
		logutil.CreateKeyValueString(connectionID, request.ConnectionID))

	return nil
}

// GrantMediation grants a pending mediation request.
func (o *Command) GrantMediation(rw io.Writer, req io.Reader) command.Error {
	return o.decide(rw, req, GrantMediationCommandMethod, o.mediation.GrantMediation)
}

// DenyMediation denies a pending mediation request.
func (o *Command) DenyMediation(rw io.Writer, req io.Reader) command.Error {
	return o.decide(rw, req, DenyMediationCommandMethod, o.mediation.DenyMediation)
}

func (o *Command) decide(rw io.Writer, req io.Reader, method string,
	decision func(ctx context.Context, id string) error) command.Error {
	request, cmdErr := mediationIDArg(req, method)
	if cmdErr != nil {
		return cmdErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := decision(ctx, request.ID); err != nil {
		logutil.LogError(logger, CommandName, method, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(GrantMediationErrorCode, err)
	}

	rec, err := o.mediation.GetMediation(request.ID)
	if err != nil {
		return executeError(GrantMediationErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	logutil.LogDebug(logger, CommandName, method, successString,
		logutil.CreateKeyValueString(mediationID, request.ID))

	return nil
}

// Mediation returns a single mediation record.
func (o *Command) Mediation(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := mediationIDArg(req, GetMediationCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	rec, err := o.mediation.GetMediation(request.ID)
	if err != nil {
		logutil.LogError(logger, CommandName, GetMediationCommandMethod, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(ListMediationsErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	return nil
}

// Mediations lists the mediation records of both roles.
func (o *Command) Mediations(rw io.Writer, _ io.Reader) command.Error {
	records, err := o.mediation.ListMediations()
	if err != nil {
		logutil.LogError(logger, CommandName, ListMediationsCommandMethod, err.Error())

		return command.NewExecuteError(ListMediationsErrorCode, err)
	}

	if records == nil {
		records = []*mediator.Record{}
	}

	command.WriteNillableResponse(rw, &MediationsResponse{Results: records}, logger)

	logutil.LogDebug(logger, CommandName, ListMediationsCommandMethod, successString)

	return nil
}

// DefaultMediator returns the default mediation.
func (o *Command) DefaultMediator(rw io.Writer, _ io.Reader) command.Error {
	rec, err := o.mediation.GetDefaultMediator()
	if err != nil {
		logutil.LogError(logger, CommandName, GetDefaultMediatorCommandMethod, err.Error())

		return executeError(DefaultMediatorErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	return nil
}

// SetDefaultMediator makes a granted mediation the default one.
func (o *Command) SetDefaultMediator(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := mediationIDArg(req, SetDefaultMediatorCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	rec, err := o.mediation.SetDefaultMediator(request.ID)
	if err != nil {
		logutil.LogError(logger, CommandName, SetDefaultMediatorCommandMethod, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(DefaultMediatorErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	logutil.LogDebug(logger, CommandName, SetDefaultMediatorCommandMethod, successString,
		logutil.CreateKeyValueString(mediationID, request.ID))

	return nil
}

// ClearDefaultMediator leaves the agent without a default mediator.
func (o *Command) ClearDefaultMediator(rw io.Writer, _ io.Reader) command.Error {
	if err := o.mediation.ClearDefaultMediator(); err != nil {
		logutil.LogError(logger, CommandName, ClearDefaultMediatorMethod, err.Error())

		return command.NewExecuteError(DefaultMediatorErrorCode, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	return nil
}

// UpdateKeylist adds or removes a recipient key at the mediator of a granted mediation.
func (o *Command) UpdateKeylist(rw io.Writer, req io.Reader) command.Error {
	var request KeylistUpdateArgs

	if err := command.DecodeRequest(req, &request, false); err != nil {
		logutil.LogInfo(logger, CommandName, UpdateKeylistCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ID == "" {
		return command.NewValidationError(MissingMediationIDCode, errors.New("id is mandatory"))
	}

	if request.Action != mediator.ActionAdd && request.Action != mediator.ActionRemove {
		return command.NewValidationError(InvalidRequestErrorCode,
			fmt.Errorf("action must be %q or %q", mediator.ActionAdd, mediator.ActionRemove))
	}

	if request.RecipientKey == "" {
		return command.NewValidationError(InvalidRequestErrorCode, errors.New("recipient_key is mandatory"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	err := o.mediation.UpdateKeylist(ctx, request.ID, request.Action, request.RecipientKey)
	if err != nil {
		logutil.LogError(logger, CommandName, UpdateKeylistCommandMethod, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(KeylistErrorCode, err)
	}

	rec, err := o.mediation.GetMediation(request.ID)
	if err != nil {
		return executeError(KeylistErrorCode, err)
	}

	command.WriteNillableResponse(rw, &MediationResponse{Result: rec}, logger)

	logutil.LogDebug(logger, CommandName, UpdateKeylistCommandMethod, successString,
		logutil.CreateKeyValueString(mediationID, request.ID))

	return nil
}

// QueryKeylist asks the mediator of a granted mediation which keys it routes for this agent.
func (o *Command) QueryKeylist(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := mediationIDArg(req, QueryKeylistCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	keys, err := o.mediation.QueryKeylist(ctx, request.ID)
	if err != nil {
		logutil.LogError(logger, CommandName, QueryKeylistCommandMethod, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(KeylistErrorCode, err)
	}

	if keys == nil {
		keys = []string{}
	}

	command.WriteNillableResponse(rw, &KeylistResponse{Keys: keys}, logger)

	return nil
}

// Pickup fetches the messages a mediator queued for this agent, from the default mediator when no mediation is
// named.
func (o *Command) Pickup(rw io.Writer, req io.Reader) command.Error {
	var request PickupArgs

	if err := command.DecodeRequest(req, &request, true); err != nil {
		logutil.LogInfo(logger, CommandName, PickupCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var (
		count int
		err   error
	)

	if request.ID == "" {
		count, err = o.mediation.PickupFromDefault(ctx)
	} else {
		count, err = o.mediation.Pickup(ctx, request.ID)
	}

	if err != nil {
		logutil.LogError(logger, CommandName, PickupCommandMethod, err.Error(),
			logutil.CreateKeyValueString(mediationID, request.ID))

		return executeError(BatchPickupRequestErrorCode, err)
	}

	command.WriteNillableResponse(rw, &BatchPickupResponse{MessageCount: count}, logger)

	logutil.LogDebug(logger, CommandName, PickupCommandMethod, successString,
		logutil.CreateKeyValueString(mediationID, request.ID))

	return nil
}

// Status returns details about pending messages for given connection.
func (o *Command) Status(rw io.Writer, req io.Reader) command.Error {
	var request StatusRequest

	err := command.DecodeRequest(req, &request, false)
	if err != nil {
		logutil.LogError(logger, CommandName, StatusCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ConnectionID == "" {
		logutil.LogDebug(logger, CommandName, StatusCommandMethod, "missing connectionID")
		return command.NewValidationError(MissingConnIDCode, errors.New("connectionID is mandatory"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	status, err := o.pickup.StatusRequest(ctx, request.ConnectionID)
	if err != nil {
		logutil.LogError(logger, CommandName, StatusCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionID, request.ConnectionID))

		return executeError(StatusRequestErrorCode, err)
	}

	command.WriteNillableResponse(rw, &StatusResponse{status}, logger)

	logutil.LogDebug(logger, CommandName, StatusCommandMethod, successString,
		logutil.CreateKeyValueString(connectionID, request.ConnectionID))

	return nil
}

// Routes lists the recipient keys this agent routes to a connection.
func (o *Command) Routes(rw io.Writer, req io.Reader) command.Error {
	var request RoutesArgs

	if err := command.DecodeRequest(req, &request, false); err != nil {
		logutil.LogInfo(logger, CommandName, RoutesCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ConnectionID == "" {
		return command.NewValidationError(MissingConnIDCode, errors.New("connectionID is mandatory"))
	}

	keys, err := o.routes.Keys(request.ConnectionID)
	if err != nil {
		logutil.LogError(logger, CommandName, RoutesCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionID, request.ConnectionID))

		return command.NewExecuteError(RoutesErrorCode, err)
	}

	if keys == nil {
		keys = []string{}
	}

	command.WriteNillableResponse(rw, &KeylistResponse{Keys: keys}, logger)

	return nil
}

// MailboxStatus reports the messages queued for the given keys, or for every key routed to a connection.
func (o *Command) MailboxStatus(rw io.Writer, req io.Reader) command.Error {
	var request MailboxStatusArgs

	if err := command.DecodeRequest(req, &request, false); err != nil {
		logutil.LogInfo(logger, CommandName, MailboxStatusCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	keys := request.Keys

	if request.ConnectionID != "" {
		routed, err := o.routes.Keys(request.ConnectionID)
		if err != nil {
			logutil.LogError(logger, CommandName, MailboxStatusCommandMethod, err.Error(),
				logutil.CreateKeyValueString(connectionID, request.ConnectionID))

			return command.NewExecuteError(RoutesErrorCode, err)
		}

		keys = append(keys, routed...)
	}

	if len(keys) == 0 && request.ConnectionID == "" {
		return command.NewValidationError(InvalidRequestErrorCode, errors.New("connectionID or keys is mandatory"))
	}

	res := &MailboxStatusResponse{Status: make(map[string]*mailbox.Status, len(keys))}

	for _, key := range keys {
		status, err := o.mailbox.Status(key)
		if err != nil {
			logutil.LogError(logger, CommandName, MailboxStatusCommandMethod, err.Error())

			return command.NewExecuteError(MailboxStatusErrorCode, err)
		}

		res.Status[key] = status
	}

	command.WriteNillableResponse(rw, res, logger)

	return nil
}

func mediationIDArg(req io.Reader, method string) (*MediationIDArgs, command.Error) {
	var request MediationIDArgs

	if err := command.DecodeRequest(req, &request, false); err != nil {
		logutil.LogInfo(logger, CommandName, method, err.Error())
		return nil, command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ID == "" {
		logutil.LogDebug(logger, CommandName, method, "missing id")
		return nil, command.NewValidationError(MissingMediationIDCode, errors.New("id is mandatory"))
	}

	return &request, nil
}

// executeError reports unknown records as validation errors.
func executeError(code command.Code, err error) command.Error {
	if errors.Is(err, mediator.ErrMediationNotFound) || errors.Is(err, connectionstore.ErrConnectionNotFound) ||
		errors.Is(err, mediator.ErrNoDefaultMediator) {
		return command.NewValidationError(MediationNotFoundCode, err)
	}

	if errors.Is(err, mediator.ErrNotGranted) || errors.Is(err, mediator.ErrInvalidState) ||
		errors.Is(err, mediator.ErrConnectionNotReady) {
		return command.NewValidationError(code, err)
	}

	return command.NewExecuteError(code, err)
}
