/*
Copyright Scoir Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messagepickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/pkg/errors"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/mailbox"
)

const (
	// MessagePickup defines the protocol name.
	MessagePickup = "messagepickup"
	// Spec defines the protocol spec.
	Spec = "https://didcomm.org/messagepickup/1.0/"
	// StatusMsgType defines the protocol status message type.
	StatusMsgType = Spec + "status"
	// StatusRequestMsgType defines the protocol status-request message type.
	StatusRequestMsgType = Spec + "status-request"
	// BatchPickupMsgType defines the protocol batch-pickup message type.
	BatchPickupMsgType = Spec + "batch-pickup"
	// BatchMsgType defines the protocol batch message type.
	BatchMsgType = Spec + "batch"
	// NoopMsgType defines the protocol noop message type.
	NoopMsgType = Spec + "noop"
)

// DefaultTimeout bounds the wait for a status or batch reply.
const DefaultTimeout = 30 * time.Second

var logger = log.New("didrelay/messagepickup")

var (
	// ErrConnectionNotFound connection not found error.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrTimeout is returned when the mediator did not reply in time.
	ErrTimeout = errors.New("timeout waiting for reply")
)

type provider interface {
	OutboundDispatcher() dispatcher.Outbound
	ConnectionLookup() *connection.Lookup
	Mailbox() *mailbox.Mailbox
	InboundMessageHandler() transport.InboundMessageHandler
}

// Service for the messagepickup protocol. The message holder side serves status and batch requests from the
// mailbox; the recipient side sends them and feeds every picked up envelope to the inbound handler.
type Service struct {
	connections *connection.Lookup
	outbound    dispatcher.Outbound
	mailbox     *mailbox.Mailbox
	msgHandler  transport.InboundMessageHandler
	timeout     time.Duration

	batchMap      map[string]chan int
	batchMapLock  sync.RWMutex
	statusMap     map[string]chan Status
	statusMapLock sync.RWMutex
	initialized   bool
}

// New returns the messagepickup service.
func New(prov provider) (*Service, error) {
	svc := Service{}

	err := svc.Initialize(prov)
	if err != nil {
		return nil, err
	}

	return &svc, nil
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
	s.connections = prov.ConnectionLookup()
	s.mailbox = prov.Mailbox()
	s.msgHandler = prov.InboundMessageHandler()
	s.timeout = DefaultTimeout
	s.batchMap = make(map[string]chan int)
	s.statusMap = make(map[string]chan Status)

	s.initialized = true

	return nil
}

// SetTimeout changes how long StatusRequest and BatchPickup wait for the reply.
func (s *Service) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// HandleInbound handles inbound message pick up messages.
func (s *Service) HandleInbound(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) (string, error) {
	var err error

	switch msg.Type() {
	case StatusMsgType:
		err = s.handleStatus(msg)
	case StatusRequestMsgType:
		err = s.handleStatusRequest(ctx, msg, didCommCtx)
	case BatchPickupMsgType:
		err = s.handleBatchPickup(ctx, msg, didCommCtx)
	case BatchMsgType:
		err = s.handleBatch(ctx, msg)
	case NoopMsgType:
		logger.Debugf("noop %s", msg.ID())
	default:
		err = fmt.Errorf("unsupported message type %s", msg.Type())
	}

	if err != nil {
		return "", err
	}

	return msg.ID(), nil
}

// Accept checks whether the service can handle the message type.
func (s *Service) Accept(msgType string) bool {
	switch msgType {
	case BatchPickupMsgType, BatchMsgType, StatusRequestMsgType, StatusMsgType, NoopMsgType:
		return true
	}

	return false
}

// Name of the service.
func (s *Service) Name() string {
	return MessagePickup
}

func (s *Service) handleStatus(msg service.DIDCommMsgMap) error {
	statusMsg := Status{}

	err := msg.Decode(&statusMsg)
	if err != nil {
		return errors.Wrap(err, "status message decode")
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return errors.Wrap(err, "status message")
	}

	if statusCh := s.getStatusCh(thID); statusCh != nil {
		select {
		case statusCh <- statusMsg:
		default:
			logger.Warnf("dropped duplicate status for %s", thID)
		}
	}

	return nil
}

func (s *Service) handleStatusRequest(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	rec, err := s.getConnection(didCommCtx.ConnectionID)
	if err != nil {
		return errors.Wrap(err, "status request")
	}

	logger.Debugf("retrieving stored messages for %s", rec.TheirKey)

	box, err := s.mailbox.Status(rec.TheirKey)
	if err != nil {
		return errors.Wrap(err, "status request")
	}

	resp := &Status{
		header: header{Type: StatusMsgType, ID: uuid.New().String(), Thread: &decorator.Thread{ID: msg.ID()}},
		Status: *box,
	}

	if !box.LastDeliveredTime.IsZero() {
		resp.DurationWaited = int(time.Since(box.LastDeliveredTime).Seconds())
	}

	return s.outbound.SendToConnection(ctx, resp, rec, dispatcher.WithoutQueue())
}

// handleBatchPickup drains the inbox of the requesting connection and replies with a single batch. Messages are
// put back when the batch cannot be delivered.
func (s *Service) handleBatchPickup(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	request := BatchPickup{}

	err := msg.Decode(&request)
	if err != nil {
		return errors.Wrap(err, "batch pickup message decode")
	}

	rec, err := s.getConnection(didCommCtx.ConnectionID)
	if err != nil {
		return errors.Wrap(err, "batch pickup")
	}

	drained, err := s.mailbox.Drain(rec.TheirKey, request.BatchSize)
	if err != nil {
		return errors.Wrap(err, "batch pickup")
	}

	batch := &Batch{
		header:   header{Type: BatchMsgType, ID: uuid.New().String(), Thread: &decorator.Thread{ID: msg.ID()}},
		Messages: drained,
	}

	err = s.outbound.SendToConnection(ctx, batch, rec, dispatcher.WithoutQueue())
	if err != nil {
		if e := s.mailbox.Requeue(rec.TheirKey, drained); e != nil {
			logger.Errorf("requeue %d messages for connection %s: %v", len(drained), rec.ConnectionID, e)
		}

		return errors.Wrap(err, "send batch")
	}

	logger.Debugf("delivered batch of %d messages to connection %s", len(drained), rec.ConnectionID)

	return nil
}

// handleBatch hands every message of the batch to the inbound handler, in order. A message that fails is logged
// and skipped: the mediator already considers it delivered.
func (s *Service) handleBatch(ctx context.Context, msg service.DIDCommMsgMap) error {
	batchMsg := Batch{}

	err := msg.Decode(&batchMsg)
	if err != nil {
		return errors.Wrap(err, "batch message decode")
	}

	processed := 0

	for _, m := range batchMsg.Messages {
		if err := s.msgHandler(ctx, m.Envelope, nil); err != nil {
			logger.Errorf("error handling batch message %s: %v", m.ID, err)

			continue
		}

		processed++
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return errors.Wrap(err, "batch message")
	}

	if batchCh := s.getBatchCh(thID); batchCh != nil {
		select {
		case batchCh <- processed:
		default:
			logger.Warnf("dropped duplicate batch for %s", thID)
		}
	}

	return nil
}

// StatusRequest request a status message.
func (s *Service) StatusRequest(ctx context.Context, connectionID string) (*Status, error) {
	conn, err := s.getConnection(connectionID)
	if err != nil {
		return nil, err
	}

	msgID := uuid.New().String()

	statusCh := make(chan Status, 1)
	s.setStatusCh(msgID, statusCh)

	defer s.setStatusCh(msgID, nil)

	req := &StatusRequest{
		header:    header{Type: StatusRequestMsgType, ID: msgID},
		Transport: &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll},
	}

	if err := s.outbound.SendToConnection(ctx, req, conn); err != nil {
		return nil, errors.Wrap(err, "send status request")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case sts := <-statusCh:
		return &sts, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ErrTimeout, "status request")
	}
}

// BatchPickup a request to have multiple waiting messages sent inside a batch message.
func (s *Service) BatchPickup(ctx context.Context, connectionID string, size int) (int, error) {
	conn, err := s.getConnection(connectionID)
	if err != nil {
		return -1, err
	}

	msgID := uuid.New().String()

	batchCh := make(chan int, 1)
	s.setBatchCh(msgID, batchCh)

	defer s.setBatchCh(msgID, nil)

	req := &BatchPickup{
		header:    header{Type: BatchPickupMsgType, ID: msgID},
		BatchSize: size,
		Transport: &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll},
	}

	if err := s.outbound.SendToConnection(ctx, req, conn); err != nil {
		return -1, errors.Wrap(err, "send batch pickup request")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case processed := <-batchCh:
		return processed, nil
	case <-ctx.Done():
		return -1, errors.Wrap(ErrTimeout, "batch pickup")
	}
}

// Noop a noop message.
func (s *Service) Noop(ctx context.Context, connectionID string) error {
	conn, err := s.getConnection(connectionID)
	if err != nil {
		return err
	}

	noop := &Noop{header{Type: NoopMsgType, ID: uuid.New().String()}}

	if err := s.outbound.SendToConnection(ctx, noop, conn); err != nil {
		return errors.Wrap(err, "send noop request")
	}

	return nil
}

func (s *Service) getConnection(connectionID string) (*connection.Record, error) {
	conn, err := s.connections.GetConnectionRecord(connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			return nil, ErrConnectionNotFound
		}

		return nil, errors.Wrap(err, "fetch connection record from store")
	}

	return conn, nil
}

func (s *Service) getBatchCh(msgID string) chan int {
	s.batchMapLock.RLock()
	defer s.batchMapLock.RUnlock()

	return s.batchMap[msgID]
}

func (s *Service) setBatchCh(msgID string, batchCh chan int) {
	s.batchMapLock.Lock()
	defer s.batchMapLock.Unlock()

	if batchCh == nil {
		delete(s.batchMap, msgID)
	} else {
		s.batchMap[msgID] = batchCh
	}
}

func (s *Service) getStatusCh(msgID string) chan Status {
	s.statusMapLock.RLock()
	defer s.statusMapLock.RUnlock()

	return s.statusMap[msgID]
}

func (s *Service) setStatusCh(msgID string, statusCh chan Status) {
	s.statusMapLock.Lock()
	defer s.statusMapLock.Unlock()

	if statusCh == nil {
		delete(s.statusMap, msgID)
	} else {
		s.statusMap[msgID] = statusCh
	}
}
