/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/didcomm/common/model"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/internal/lockbox"
	"github.com/didrelay/agent/pkg/kms"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

var logger = log.New("didrelay/connection")

const (
	// Protocol is the name of the connection protocol service.
	Protocol = "connections"
	// Spec is the message type prefix of the connection protocol.
	Spec = "https://didcomm.org/connections/1.0/"
	// InvitationMsgType defines the connection invitation message type.
	InvitationMsgType = Spec + "invitation"
	// RequestMsgType defines the connection request message type.
	RequestMsgType = Spec + "request"
	// ResponseMsgType defines the connection response message type.
	ResponseMsgType = Spec + "response"
	// ProblemReportMsgType defines the connection problem report message type.
	ProblemReportMsgType = Spec + "problem_report"
	// AckMsgType defines the ack completing a connection.
	AckMsgType = model.AckMsgType

	// TrustPingSpec is the message type prefix of the trust ping protocol.
	TrustPingSpec = "https://didcomm.org/trust_ping/1.0/"
	// TrustPingMsgType defines the trust ping message type.
	TrustPingMsgType = TrustPingSpec + "ping"
	// TrustPingResponseMsgType defines the trust ping response message type.
	TrustPingResponseMsgType = TrustPingSpec + "ping_response"

	// PlsAckOnReceipt ack type that says, "Please send me an ack as soon as you receive this message.".
	PlsAckOnReceipt = "RECEIPT"
)

type provider interface {
	OutboundDispatcher() dispatcher.Outbound
	ConnectionRecorder() *connectionstore.Recorder
	KMS() kms.KeyManager
	ServiceEndpoint() string
	Label() string
	AutoAcceptConnections() bool
	Service(id string) (interface{}, error)
}

// stateAction is the network call of a transition. It runs once the new state is persisted and the record lock is
// released, so that a reply coming back on the same call stack finds the record unlocked.
type stateAction func() error

// Service for the connection protocol. It drives connection records of both roles from invitation to completion.
type Service struct {
	service.Action
	service.Message
	outbound   dispatcher.Outbound
	records    *connectionstore.Recorder
	kms        kms.KeyManager
	endpoint   string
	label      string
	autoAccept atomic.Bool
	services   func(id string) (interface{}, error)
	locks      *lockbox.Lockbox

	initialized bool
}

// New returns the connection service.
func New(prov provider) (*Service, error) {
	svc := &Service{}

	if err := svc.Initialize(prov); err != nil {
		return nil, err
	}

	return svc, nil
}

// Initialize initializes the Service. If Initialize succeeds, any further call is a no-op.
func (s *Service) Initialize(p interface{}) error {
	if s.initialized {
		return nil
	}

	prov, ok := p.(provider)
	if !ok {
		return fmt.Errorf("expected provider of type `%T`, got type `%T`", provider(nil), p)
	}

	s.outbound = prov.OutboundDispatcher()
	s.records = prov.ConnectionRecorder()
	s.kms = prov.KMS()
	s.endpoint = prov.ServiceEndpoint()
	s.label = prov.Label()
	s.services = prov.Service
	s.locks = lockbox.New()
	s.autoAccept.Store(prov.AutoAcceptConnections())

	s.initialized = true

	return nil
}

// SetAutoAccept turns automatic acceptance of invitations, requests and responses on or off. It applies to the
// next protocol step of every connection.
func (s *Service) SetAutoAccept(autoAccept bool) {
	s.autoAccept.Store(autoAccept)
}

// Name of the service.
func (s *Service) Name() string {
	return Protocol
}

// Accept checks whether the service can handle the message type.
func (s *Service) Accept(msgType string) bool {
	switch msgType {
	case RequestMsgType, ResponseMsgType, AckMsgType, ProblemReportMsgType, TrustPingMsgType,
		TrustPingResponseMsgType:
		return true
	}

	return false
}

// HandleInbound handles inbound connection messages.
func (s *Service) HandleInbound(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) (string, error) {
	logger.Debugf("input: msg=%s connection=%s", msg.Type(), didCommCtx.ConnectionID)

	var err error

	switch msg.Type() {
	case RequestMsgType:
		err = s.handleRequest(ctx, msg, didCommCtx)
	case ResponseMsgType:
		err = s.handleResponse(ctx, msg, didCommCtx)
	case AckMsgType:
		err = s.handleAck(msg, didCommCtx)
	case TrustPingMsgType:
		err = s.handlePing(ctx, msg, didCommCtx)
	case TrustPingResponseMsgType:
		logger.Debugf("trust ping response on connection %s", didCommCtx.ConnectionID)
	case ProblemReportMsgType:
		err = s.handleProblemReport(msg, didCommCtx)
	default:
		err = fmt.Errorf("unsupported message type %s", msg.Type())
	}

	if err != nil {
		return "", err
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return "", err
	}

	return thID, nil
}

// GetConnection returns the connection record with id.
func (s *Service) GetConnection(id string) (*connectionstore.Record, error) {
	return s.records.GetConnectionRecord(id)
}

// QueryConnections returns the connection records in state, all of them when state is empty.
func (s *Service) QueryConnections(state string) ([]*connectionstore.Record, error) {
	return s.records.QueryConnectionRecords(state)
}

// CreateConnection creates an invitation under a fresh key and records it as an inviter connection.
func (s *Service) CreateConnection(ctx context.Context, opts ...Opt) (*Invitation, *connectionstore.Record, error) {
	const op = "create connection"

	o := s.options(opts)

	me, err := s.newIdentity(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	inv := &Invitation{
		Type:            InvitationMsgType,
		ID:              uuid.New().String(),
		Label:           o.label,
		RecipientKeys:   []string{me.key},
		ServiceEndpoint: me.endpoint,
		RoutingKeys:     me.routingKeys,
	}

	rec := &connectionstore.Record{
		ConnectionID:  uuid.New().String(),
		Role:          connectionstore.RoleInviter,
		InvitationKey: me.key,
		Invitation: &connectionstore.Invitation{
			ID:              inv.ID,
			Label:           inv.Label,
			RecipientKeys:   inv.RecipientKeys,
			ServiceEndpoint: inv.ServiceEndpoint,
			RoutingKeys:     inv.RoutingKeys,
		},
		MyDID:    me.did,
		MyKey:    me.key,
		Alias:    o.alias,
		MultiUse: o.multiUse,
	}

	if err = s.commit(op, rec, StateIDInvited, nil); err != nil {
		return nil, nil, err
	}

	return inv, rec, nil
}

// ReceiveInvitation records an invitation as an invitee connection. With auto accept on, the connection request
// is sent right away and the record is returned in the requested state.
func (s *Service) ReceiveInvitation(ctx context.Context, inv *Invitation,
	opts ...Opt) (*connectionstore.Record, error) {
	const op = "receive invitation"

	recipientKeys, routingKeys, err := validateInvitation(inv)
	if err != nil {
		return nil, protocolError(op, "", err)
	}

	o := s.options(opts)

	rec := &connectionstore.Record{
		ConnectionID:  uuid.New().String(),
		Role:          connectionstore.RoleInvitee,
		InvitationKey: recipientKeys[0],
		Invitation: &connectionstore.Invitation{
			ID:              inv.ID,
			Label:           inv.Label,
			RecipientKeys:   recipientKeys,
			ServiceEndpoint: inv.ServiceEndpoint,
			RoutingKeys:     routingKeys,
		},
		TheirLabel: inv.Label,
		Alias:      o.alias,
	}

	if err = s.commit(op, rec, StateIDInvited, nil); err != nil {
		return nil, err
	}

	if !s.autoAccept.Load() {
		return rec, nil
	}

	return s.acceptInvitation(ctx, rec.ConnectionID, o.label, true)
}

// AcceptInvitation sends the connection request of an invitee connection.
func (s *Service) AcceptInvitation(ctx context.Context, connectionID string,
	opts ...Opt) (*connectionstore.Record, error) {
	return s.acceptInvitation(ctx, connectionID, s.options(opts).label, false)
}

func (s *Service) acceptInvitation(ctx context.Context, connectionID, label string,
	wait bool) (*connectionstore.Record, error) {
	const op = "accept invitation"

	return s.transition(op, connectionID, wait, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if rec.Role != connectionstore.RoleInvitee || rec.State != StateIDInvited {
			return nil, nil, invalidState(op, rec)
		}

		me, err := s.newIdentity(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		request := &Request{
			Type:       RequestMsgType,
			ID:         uuid.New().String(),
			Label:      label,
			Connection: &Connection{DID: me.did, DIDDoc: me.doc()},
		}

		if rec.Invitation != nil {
			request.Thread = &decorator.Thread{PID: rec.Invitation.ID}
		}

		// without an endpoint of our own, the response can only come back on the request's transport
		if me.endpoint == did.QueueEndpoint {
			request.Transport = &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll}
		}

		rec.MyDID = me.did
		rec.MyKey = me.key
		rec.ThreadID = request.ID

		if err = s.commit(op, rec, StateIDRequested, nil); err != nil {
			return nil, nil, err
		}

		return rec, s.sendAction(ctx, request, rec), nil
	})
}

// handleRequest records the request against the invitation it answers. A multi-use invitation stays open and the
// request gets a connection of its own.
func (s *Service) handleRequest(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	const op = "handle request"

	request := &Request{}

	if err := msg.Decode(request); err != nil {
		return protocolError(op, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	theirKey, err := requestKey(request, didCommCtx.TheirKey)
	if err != nil {
		return protocolError(op, "", err)
	}

	invitation, err := s.records.GetConnectionRecordByInvitationKey(didCommCtx.MyKey)
	if err != nil {
		return fmt.Errorf("%s: invitation of key %s: %w", op, didCommCtx.MyKey, err)
	}

	var accepted bool

	rec, err := s.transition(op, invitation.ConnectionID, true, func(inv *connectionstore.Record) (
		*connectionstore.Record, stateAction, error) {
		if inv.Role != connectionstore.RoleInviter || inv.State != StateIDInvited {
			return nil, nil, invalidState(op, inv)
		}

		rec := inv

		if inv.MultiUse {
			me, err := s.newIdentity(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", op, err)
			}

			rec = &connectionstore.Record{
				ConnectionID:  uuid.New().String(),
				Role:          connectionstore.RoleInviter,
				InvitationKey: inv.InvitationKey,
				Invitation:    inv.Invitation,
				MyDID:         me.did,
				MyKey:         me.key,
				Alias:         inv.Alias,
			}
		}

		rec.TheirDID = request.Connection.DID
		rec.TheirDIDDoc = request.Connection.DIDDoc
		rec.TheirKey = theirKey
		rec.TheirLabel = request.Label
		rec.ThreadID = msg.ID()

		if err := s.commit(op, rec, StateIDRequested, msg); err != nil {
			return nil, nil, err
		}

		didCommCtx.BindConnection(rec.ConnectionID)

		if !s.autoAccept.Load() {
			return rec, nil, nil
		}

		accepted = true

		action, err := s.prepareResponse(ctx, op, rec)

		return rec, action, err
	})
	if err != nil || accepted {
		return err
	}

	s.triggerAction(msg, rec, func() error {
		_, e := s.acceptRequest(context.Background(), rec.ConnectionID, true)

		return e
	})

	return nil
}

// AcceptRequest answers the request of an inviter connection with a signed response.
func (s *Service) AcceptRequest(ctx context.Context, connectionID string) (*connectionstore.Record, error) {
	return s.acceptRequest(ctx, connectionID, false)
}

func (s *Service) acceptRequest(ctx context.Context, connectionID string, wait bool) (*connectionstore.Record,
	error) {
	const op = "accept request"

	return s.transition(op, connectionID, wait, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if rec.Role != connectionstore.RoleInviter || rec.State != StateIDRequested {
			return nil, nil, invalidState(op, rec)
		}

		action, err := s.prepareResponse(ctx, op, rec)

		return rec, action, err
	})
}

// prepareResponse signs our DID document with the invitation key and moves rec to responded.
func (s *Service) prepareResponse(ctx context.Context, op string, rec *connectionstore.Record) (stateAction, error) {
	endpoint, routingKeys, err := s.routing()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	me := &identity{did: rec.MyDID, key: rec.MyKey, endpoint: endpoint, routingKeys: routingKeys}

	sig, err := signConnection(s.kms, &Connection{DID: me.did, DIDDoc: me.doc()}, rec.InvitationKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	response := &Response{
		Type:                ResponseMsgType,
		ID:                  uuid.New().String(),
		ConnectionSignature: sig,
		Thread:              &decorator.Thread{ID: rec.ThreadID},
		PleaseAck:           &PleaseAck{On: []string{PlsAckOnReceipt}},
	}

	if rec.Invitation != nil {
		response.Thread.PID = rec.Invitation.ID
	}

	if err = s.commit(op, rec, StateIDResponded, nil); err != nil {
		return nil, err
	}

	return s.sendAction(ctx, response, rec), nil
}

// handleResponse verifies the response of the inviter against the invitation key and records the inviter's DID.
func (s *Service) handleResponse(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	const op = "handle response"

	thID, err := msg.ThreadID()
	if err != nil {
		return protocolError(op, "", fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}

	conn, err := s.records.GetConnectionRecordByThreadID(thID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var accepted bool

	rec, err := s.transition(op, conn.ConnectionID, true, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if rec.Role != connectionstore.RoleInvitee || rec.State != StateIDRequested {
			return nil, nil, invalidState(op, rec)
		}

		response := &Response{}

		if err := msg.Decode(response); err != nil {
			return nil, nil, protocolError(op, rec.ConnectionID, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
		}

		signed, err := verifyConnection(response.ConnectionSignature, rec.InvitationKey)
		if err != nil {
			return nil, nil, protocolError(op, rec.ConnectionID, fmt.Errorf("%w: %w", ErrInvalidResponse, err))
		}

		if signed.DID == "" || signed.DIDDoc == nil {
			return nil, nil, protocolError(op, rec.ConnectionID,
				fmt.Errorf("%w: missing DID document", ErrInvalidResponse))
		}

		svc, err := signed.DIDDoc.DIDCommService()
		if err != nil {
			return nil, nil, protocolError(op, rec.ConnectionID, fmt.Errorf("%w: %w", ErrInvalidResponse, err))
		}

		rec.TheirDID = signed.DID
		rec.TheirDIDDoc = signed.DIDDoc
		rec.TheirKey = svc.RecipientKeys[0]

		if err = s.commit(op, rec, StateIDResponded, msg); err != nil {
			return nil, nil, err
		}

		didCommCtx.BindConnection(rec.ConnectionID)

		if !s.autoAccept.Load() {
			return rec, nil, nil
		}

		accepted = true

		action, err := s.prepareAck(ctx, op, rec)

		return rec, action, err
	})
	if err != nil || accepted {
		return err
	}

	s.triggerAction(msg, rec, func() error {
		_, e := s.acceptResponse(context.Background(), rec.ConnectionID, true)

		return e
	})

	return nil
}

// AcceptResponse completes an invitee connection and acknowledges the response.
func (s *Service) AcceptResponse(ctx context.Context, connectionID string) (*connectionstore.Record, error) {
	return s.acceptResponse(ctx, connectionID, false)
}

func (s *Service) acceptResponse(ctx context.Context, connectionID string, wait bool) (*connectionstore.Record,
	error) {
	const op = "accept response"

	return s.transition(op, connectionID, wait, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if rec.Role != connectionstore.RoleInvitee || rec.State != StateIDResponded {
			return nil, nil, invalidState(op, rec)
		}

		action, err := s.prepareAck(ctx, op, rec)

		return rec, action, err
	})
}

func (s *Service) prepareAck(ctx context.Context, op string, rec *connectionstore.Record) (stateAction, error) {
	ack := &model.Ack{
		Type:   AckMsgType,
		ID:     uuid.New().String(),
		Status: model.AckStatusOK,
		Thread: &decorator.Thread{ID: rec.ThreadID},
	}

	if err := s.commit(op, rec, StateIDCompleted, nil); err != nil {
		return nil, err
	}

	return s.sendAction(ctx, ack, rec), nil
}

// handleAck completes an inviter connection.
func (s *Service) handleAck(msg service.DIDCommMsgMap, didCommCtx service.DIDCommContext) error {
	const op = "handle ack"

	id, err := s.connectionOf(msg, didCommCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.transition(op, id, true, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		return rec, nil, s.complete(op, rec, msg)
	})

	return err
}

// handlePing completes an inviter connection like an ack does, and answers pings asking for a response.
func (s *Service) handlePing(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	const op = "handle trust ping"

	ping := &TrustPing{}

	if err := msg.Decode(ping); err != nil {
		return protocolError(op, didCommCtx.ConnectionID, err)
	}

	id, err := s.connectionOf(msg, didCommCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.transition(op, id, true, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if rec.State == StateIDResponded || rec.State == StateIDCompleted {
			didCommCtx.BindConnection(rec.ConnectionID)
		}

		if err := s.complete(op, rec, msg); err != nil {
			return nil, nil, err
		}

		if !ping.ResponseRequested {
			return rec, nil, nil
		}

		return rec, s.sendAction(ctx, &TrustPingResponse{
			Type:   TrustPingResponseMsgType,
			ID:     uuid.New().String(),
			Thread: &decorator.Thread{ID: msg.ID()},
		}, rec), nil
	})

	return err
}

// complete moves a responded inviter connection to completed. Completed connections are left as they are.
func (s *Service) complete(op string, rec *connectionstore.Record, msg service.DIDCommMsgMap) error {
	switch {
	case rec.State == StateIDCompleted:
		return nil
	case rec.State == StateIDResponded && rec.Role == connectionstore.RoleInviter:
		return s.commit(op, rec, StateIDCompleted, msg)
	case rec.State == StateIDResponded:
		// the invitee completes by accepting the response
		return nil
	default:
		return invalidState(op, rec)
	}
}

// handleProblemReport abandons the connection the report is about.
func (s *Service) handleProblemReport(msg service.DIDCommMsgMap, didCommCtx service.DIDCommContext) error {
	const op = "handle problem report"

	report := &model.ProblemReport{}

	if err := msg.Decode(report); err != nil {
		return protocolError(op, didCommCtx.ConnectionID, err)
	}

	id, err := s.connectionOf(msg, didCommCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	logger.Warnf("problem report on connection %s: %s %s", id, report.Description.Code, report.Explain)

	_, err = s.transition(op, id, true, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if terminal(rec.State) {
			return rec, nil, nil
		}

		return rec, nil, s.commit(op, rec, StateIDAbandoned, msg)
	})

	return err
}

// AbandonConnection gives up a connection that is not completed yet.
func (s *Service) AbandonConnection(connectionID string) (*connectionstore.Record, error) {
	return s.abandon(connectionID, false)
}

func (s *Service) abandon(connectionID string, wait bool) (*connectionstore.Record, error) {
	const op = "abandon connection"

	return s.transition(op, connectionID, wait, func(rec *connectionstore.Record) (*connectionstore.Record,
		stateAction, error) {
		if terminal(rec.State) {
			return nil, nil, invalidState(op, rec)
		}

		return rec, nil, s.commit(op, rec, StateIDAbandoned, nil)
	})
}

// connectionOf returns the connection msg belongs to: the one its envelope was attributed to, or the one
// established on its thread.
func (s *Service) connectionOf(msg service.DIDCommMsgMap, didCommCtx service.DIDCommContext) (string, error) {
	if didCommCtx.ConnectionID != "" {
		return didCommCtx.ConnectionID, nil
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return "", err
	}

	rec, err := s.records.GetConnectionRecordByThreadID(thID)
	if err != nil {
		return "", err
	}

	return rec.ConnectionID, nil
}

// transition runs step on the record connectionID under its lock, then the action step returns without it.
// API calls do not wait for the lock: a record already being transitioned is an error.
func (s *Service) transition(op, connectionID string, wait bool,
	step func(rec *connectionstore.Record) (*connectionstore.Record, stateAction, error)) (
	*connectionstore.Record, error) {
	if wait {
		s.locks.Lock(connectionID)
	} else if !s.locks.TryLock(connectionID) {
		return nil, protocolError(op, connectionID, ErrConcurrentTransition)
	}

	rec, action, err := func() (*connectionstore.Record, stateAction, error) {
		defer s.locks.Unlock(connectionID)

		rec, err := s.records.GetConnectionRecord(connectionID)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		return step(rec)
	}()
	if err != nil {
		return nil, err
	}

	if action != nil {
		if err = action(); err != nil {
			return rec, fmt.Errorf("%s: send: %w", op, err)
		}
	}

	return rec, nil
}

// commit moves rec to next, persists it and notifies the state listeners. On failure the stored record keeps its
// state.
func (s *Service) commit(op string, rec *connectionstore.Record, next string, msg service.DIDCommMsgMap) error {
	current, err := stateFromName(rec.State)
	if err != nil {
		return protocolError(op, rec.ConnectionID, err)
	}

	nextState, err := stateFromName(next)
	if err != nil {
		return protocolError(op, rec.ConnectionID, err)
	}

	if !current.CanTransitionTo(nextState) {
		return protocolError(op, rec.ConnectionID,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Name(), nextState.Name()))
	}

	previous := rec.State
	rec.State = next

	if err = s.records.SaveConnectionRecord(rec); err != nil {
		rec.State = previous

		if errors.Is(err, connectionstore.ErrTheirKeyInUse) {
			return protocolError(op, rec.ConnectionID, err)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	logger.Debugf("connection %s: %s -> %s", rec.ConnectionID, current.Name(), next)

	s.Notify(service.StateMsg{
		ProtocolName: Protocol,
		Type:         service.PostState,
		StateID:      next,
		Msg:          msg,
		Properties:   newEvent(rec),
	})

	return nil
}

func (s *Service) sendAction(ctx context.Context, msg interface{}, rec *connectionstore.Record) stateAction {
	snapshot := *rec

	return func() error {
		return s.outbound.SendToConnection(ctx, msg, &snapshot)
	}
}

// triggerAction hands msg to the action listener. Continue runs accept, Stop abandons the connection.
func (s *Service) triggerAction(msg service.DIDCommMsgMap, rec *connectionstore.Record, accept func() error) {
	id := rec.ConnectionID

	triggered := s.TriggerAction(service.DIDCommAction{
		ProtocolName: Protocol,
		Message:      msg,
		Continue: func(interface{}) {
			if err := accept(); err != nil {
				logger.Errorf("accept %s on connection %s: %v", msg.Type(), id, err)
			}
		},
		Stop: func(reason error) {
			logger.Infof("connection %s stopped: %v", id, reason)

			if _, err := s.abandon(id, true); err != nil {
				logger.Errorf("abandon connection %s: %v", id, err)
			}
		},
		Properties: newEvent(rec),
	})
	if !triggered {
		logger.Infof("connection %s awaits an explicit accept of %s", id, msg.Type())
	}
}

// requestKey returns the key the requester will be reached with: the first recipient key of its DID document,
// or the key it packed the request with when the request carries no document.
func requestKey(request *Request, senderKey string) (string, error) {
	if request.Connection == nil || request.Connection.DID == "" {
		return "", fmt.Errorf("%w: missing connection DID", ErrInvalidRequest)
	}

	if request.Connection.DIDDoc != nil {
		svc, err := request.Connection.DIDDoc.DIDCommService()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}

		return svc.RecipientKeys[0], nil
	}

	if senderKey == "" {
		return "", fmt.Errorf("%w: no DID document and no sender key", ErrInvalidRequest)
	}

	return senderKey, nil
}

func invalidState(op string, rec *connectionstore.Record) error {
	return protocolError(op, rec.ConnectionID,
		fmt.Errorf("%w: %s connection in state %s", ErrInvalidTransition, rec.Role, rec.State))
}
