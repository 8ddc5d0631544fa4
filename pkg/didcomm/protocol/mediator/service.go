/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/agent/pkg/didcomm/common/model"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/messagepickup"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/internal/lockbox"
	"github.com/didrelay/agent/pkg/kms"
	"github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/routing"
)

var logger = log.New("didrelay/mediator")

// constants for route coordination spec types.
const (
	// Coordination route coordination protocol.
	Coordination = "coordinatemediation"

	// CoordinationSpec defines the route coordination spec.
	CoordinationSpec = "https://didcomm.org/coordinate-mediation/1.0/"

	// RequestMsgType defines the route coordination request message type.
	RequestMsgType = CoordinationSpec + "mediate-request"

	// GrantMsgType defines the route coordination request grant message type.
	GrantMsgType = CoordinationSpec + "mediate-grant"

	// DenyMsgType defines the route coordination request deny message type.
	DenyMsgType = CoordinationSpec + "mediate-deny"

	// KeylistUpdateMsgType defines the route coordination key list update message type.
	KeylistUpdateMsgType = CoordinationSpec + "keylist-update"

	// KeylistUpdateResponseMsgType defines the route coordination key list update message response type.
	KeylistUpdateResponseMsgType = CoordinationSpec + "keylist-update-response"

	// KeylistQueryMsgType defines the route coordination key list query message type.
	KeylistQueryMsgType = CoordinationSpec + "keylist-query"

	// KeylistMsgType defines the route coordination key list message type.
	KeylistMsgType = CoordinationSpec + "keylist"
)

// constants for key list update processing
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0211-route-coordination#keylist-update
const (
	// ActionAdd adds a key to the keylist.
	ActionAdd = "add"

	// ActionRemove removes a key from the keylist.
	ActionRemove = "remove"

	// ResultSuccess key update applied.
	ResultSuccess = "success"

	// ResultNoChange key update had nothing to do.
	ResultNoChange = "no_change"

	// ResultServerError key update could not be applied by the mediator.
	ResultServerError = "server_error"

	// ResultClientError key update was malformed.
	ResultClientError = "client_error"
)

const (
	// DefaultTimeout bounds the wait for keylist and grant replies.
	DefaultTimeout = 10 * time.Second

	// DefaultBatchSize is the number of messages asked for by a pickup.
	DefaultBatchSize = 50

	awaitPollInterval = 100 * time.Millisecond
)

type provider interface {
	OutboundDispatcher() dispatcher.Outbound
	StorageProvider() storage.Provider
	ConnectionLookup() *connection.Lookup
	RoutingTable() *routing.Table
	KMS() kms.KeyManager
	RouterEndpoint() string
	AutoGrantMediation() bool
	Service(id string) (interface{}, error)
}

// Service for the route coordination protocol. It serves both roles: as mediator it grants mediation, maintains
// the routing table and relays forward messages; as recipient it requests mediation, keeps its keylist up to date
// with the mediator and picks up queued messages.
type Service struct {
	service.Action
	service.Message
	records     *recordStore
	outbound    dispatcher.Outbound
	connections *connection.Lookup
	routes      *routing.Table
	kms         kms.KeyManager
	pickup      messagepickup.ProtocolService
	endpoint    string
	autoGrant   bool
	timeout     time.Duration
	batchSize   int

	locks *lockbox.Lockbox
	// defaultMu makes switching the default mediator atomic for readers of the default.
	defaultMu    sync.RWMutex
	routingKeyMu sync.Mutex

	waiters     map[string]chan service.DIDCommMsgMap
	waitersLock sync.RWMutex

	poller *poller

	initialized bool
}

// New return route coordination service.
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

	records, err := newRecordStore(prov.StorageProvider())
	if err != nil {
		return err
	}

	pickupSvc, err := prov.Service(messagepickup.MessagePickup)
	if err != nil {
		return fmt.Errorf("lookup messagepickup service: %w", err)
	}

	pickup, ok := pickupSvc.(messagepickup.ProtocolService)
	if !ok {
		return errors.New("cast service to message pickup service failed")
	}

	s.records = records
	s.outbound = prov.OutboundDispatcher()
	s.connections = prov.ConnectionLookup()
	s.routes = prov.RoutingTable()
	s.kms = prov.KMS()
	s.pickup = pickup
	s.endpoint = prov.RouterEndpoint()
	s.autoGrant = prov.AutoGrantMediation()
	s.timeout = DefaultTimeout
	s.batchSize = DefaultBatchSize
	s.locks = lockbox.New()
	s.waiters = make(map[string]chan service.DIDCommMsgMap)
	s.poller = &poller{}

	s.initialized = true

	return nil
}

// SetTimeout changes how long the recipient side waits for the mediator's replies.
func (s *Service) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// HandleInbound handles inbound route coordination and forward messages.
func (s *Service) HandleInbound(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) (string, error) {
	logger.Debugf("input: msg=%s", msg.Type())

	var err error

	switch msg.Type() {
	case RequestMsgType:
		err = s.handleRequest(ctx, msg, didCommCtx)
	case GrantMsgType:
		err = s.handleGrant(msg)
	case DenyMsgType:
		err = s.handleDeny(msg)
	case KeylistUpdateMsgType:
		err = s.handleKeylistUpdate(ctx, msg, didCommCtx)
	case KeylistUpdateResponseMsgType:
		err = s.handleKeylistUpdateResponse(msg, didCommCtx)
	case KeylistQueryMsgType:
		err = s.handleKeylistQuery(ctx, msg, didCommCtx)
	case KeylistMsgType:
		err = s.handleKeylist(msg, didCommCtx)
	case model.ForwardMsgType:
		err = s.handleForward(ctx, msg, didCommCtx)
	default:
		err = fmt.Errorf("unsupported message type %s", msg.Type())
	}

	if err != nil {
		return "", fmt.Errorf("route coordination %s: %w", msg.Type(), err)
	}

	return msg.ID(), nil
}

// Accept checks whether the service can handle the message type.
func (s *Service) Accept(msgType string) bool {
	switch msgType {
	case RequestMsgType, GrantMsgType, DenyMsgType, KeylistUpdateMsgType, KeylistUpdateResponseMsgType,
		KeylistQueryMsgType, KeylistMsgType, model.ForwardMsgType:
		return true
	}

	return false
}

// Name of the service.
func (s *Service) Name() string {
	return Coordination
}

// GetMediation returns the mediation record with id.
func (s *Service) GetMediation(id string) (*Record, error) {
	return s.records.get(id)
}

// ListMediations returns every mediation record, oldest first.
func (s *Service) ListMediations() ([]*Record, error) {
	return s.records.all()
}

func (s *Service) notify(rec *Record, msg service.DIDCommMsgMap) {
	s.Notify(service.StateMsg{
		ProtocolName: Coordination,
		Type:         service.PostState,
		StateID:      rec.State,
		Msg:          msg,
		Properties:   newEvent(rec),
	})
}

func (s *Service) getConnection(connectionID string) (*connection.Record, error) {
	conn, err := s.connections.GetConnectionRecord(connectionID)
	if err != nil {
		return nil, fmt.Errorf("fetch connection record: %w", err)
	}

	return conn, nil
}

// handleRequest records the mediate-request of a connection and grants it when auto grant is on. Otherwise the
// request is handed to the action listener, or waits for GrantMediation or DenyMediation.
func (s *Service) handleRequest(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	conn, err := s.getConnection(didCommCtx.ConnectionID)
	if err != nil {
		return err
	}

	// at most one mediator record per connection
	connLock := "connection/" + conn.ConnectionID
	s.locks.Lock(connLock)
	defer s.locks.Unlock(connLock)

	rec, err := s.records.byConnection(conn.ConnectionID, RoleMediator)

	switch {
	case err == nil:
		s.locks.Lock(rec.ID)
		defer s.locks.Unlock(rec.ID)

		if rec, err = s.records.get(rec.ID); err != nil {
			return err
		}
	case errors.Is(err, ErrMediationNotFound):
		rec = &Record{ID: uuid.New().String(), ConnectionID: conn.ConnectionID, Role: RoleMediator}

		s.locks.Lock(rec.ID)
		defer s.locks.Unlock(rec.ID)
	default:
		return err
	}

	rec.ThreadID = msg.ID()

	if rec.State == StateGranted {
		logger.Debugf("mediation %s already granted, sending the grant again", rec.ID)

		return s.sendGrant(ctx, rec, conn)
	}

	rec.State = StateRequested

	if err = s.records.save(rec); err != nil {
		return err
	}

	s.notify(rec, msg)

	if s.autoGrant {
		return s.grant(ctx, rec)
	}

	id := rec.ID

	triggered := s.TriggerAction(service.DIDCommAction{
		ProtocolName: Coordination,
		Message:      msg,
		Continue: func(interface{}) {
			if err := s.GrantMediation(context.Background(), id); err != nil {
				logger.Errorf("grant mediation %s: %v", id, err)
			}
		},
		Stop: func(reason error) {
			logger.Infof("mediation %s stopped: %v", id, reason)

			if err := s.DenyMediation(context.Background(), id); err != nil {
				logger.Errorf("deny mediation %s: %v", id, err)
			}
		},
		Properties: newEvent(rec),
	})
	if !triggered {
		logger.Infof("mediation %s awaits an explicit grant", id)
	}

	return nil
}

// GrantMediation grants a requested mediation.
func (s *Service) GrantMediation(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	rec, err := s.records.get(id)
	if err != nil {
		return err
	}

	return s.grant(ctx, rec)
}

// DenyMediation denies a requested mediation.
func (s *Service) DenyMediation(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	rec, err := s.records.get(id)
	if err != nil {
		return err
	}

	if rec.Role != RoleMediator || rec.State != StateRequested {
		return fmt.Errorf("deny %s mediation in state %s: %w", rec.Role, rec.State, ErrInvalidState)
	}

	conn, err := s.getConnection(rec.ConnectionID)
	if err != nil {
		return err
	}

	rec.State = StateDenied

	if err = s.records.save(rec); err != nil {
		return err
	}

	s.notify(rec, nil)

	return s.outbound.SendToConnection(ctx, &Deny{
		Type:   DenyMsgType,
		ID:     uuid.New().String(),
		Thread: &decorator.Thread{ID: rec.ThreadID},
	}, conn)
}

func (s *Service) grant(ctx context.Context, rec *Record) error {
	if rec.Role != RoleMediator || rec.State != StateRequested {
		return fmt.Errorf("grant %s mediation in state %s: %w", rec.Role, rec.State, ErrInvalidState)
	}

	conn, err := s.getConnection(rec.ConnectionID)
	if err != nil {
		return err
	}

	routingKey, err := s.routingKey()
	if err != nil {
		return err
	}

	rec.State = StateGranted
	rec.Endpoint = s.endpoint
	rec.RoutingKeys = []string{routingKey}

	if err = s.records.save(rec); err != nil {
		return err
	}

	s.notify(rec, nil)

	return s.sendGrant(ctx, rec, conn)
}

func (s *Service) sendGrant(ctx context.Context, rec *Record, conn *connection.Record) error {
	return s.outbound.SendToConnection(ctx, &Grant{
		Type:        GrantMsgType,
		ID:          uuid.New().String(),
		Endpoint:    rec.Endpoint,
		RoutingKeys: rec.RoutingKeys,
		Thread:      &decorator.Thread{ID: rec.ThreadID},
	}, conn)
}

// routingKey returns the key senders wrap forward messages for, creating it on first use.
func (s *Service) routingKey() (string, error) {
	s.routingKeyMu.Lock()
	defer s.routingKeyMu.Unlock()

	key, err := s.records.routingKey()
	if err == nil {
		return key, nil
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return "", fmt.Errorf("get routing key: %w", err)
	}

	key, err = s.kms.CreateKey()
	if err != nil {
		return "", fmt.Errorf("create routing key: %w", err)
	}

	if err = s.records.saveRoutingKey(key); err != nil {
		return "", fmt.Errorf("save routing key: %w", err)
	}

	logger.Infof("created routing key %s", key)

	return key, nil
}

func (s *Service) grantedMediation(connectionID string) (*Record, error) {
	rec, err := s.records.byConnection(connectionID, RoleMediator)
	if err != nil {
		return nil, err
	}

	if rec.State != StateGranted {
		return nil, fmt.Errorf("mediation %s: %w", rec.ID, ErrNotGranted)
	}

	return rec, nil
}

// handleKeylistUpdate applies the updates in order and answers with one result per update.
func (s *Service) handleKeylistUpdate(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	conn, err := s.getConnection(didCommCtx.ConnectionID)
	if err != nil {
		return err
	}

	if _, err = s.grantedMediation(conn.ConnectionID); err != nil {
		return err
	}

	update := KeylistUpdate{}

	if err = msg.Decode(&update); err != nil {
		return fmt.Errorf("decode keylist update: %w", err)
	}

	return s.outbound.SendToConnection(ctx, &KeylistUpdateResponse{
		Type:    KeylistUpdateResponseMsgType,
		ID:      uuid.New().String(),
		Updated: s.UpdateRoutes(conn.ConnectionID, update.Updates),
		Thread:  &decorator.Thread{ID: msg.ID()},
	}, conn)
}

// UpdateRoutes folds updates into the routing table on behalf of connectionID and returns one result per update,
// in order. A rejected update does not affect the others.
func (s *Service) UpdateRoutes(connectionID string, updates []Update) []UpdateResponse {
	responses := make([]UpdateResponse, len(updates))
	batch := make([]routing.Update, 0, len(updates))
	// positions of the batch entries in updates
	positions := make([]int, 0, len(updates))

	for i, u := range updates {
		responses[i] = UpdateResponse{RecipientKey: u.RecipientKey, Action: u.Action, Result: ResultClientError}

		if u.Action != ActionAdd && u.Action != ActionRemove {
			continue
		}

		key, err := didkey.Normalize(u.RecipientKey)
		if err != nil {
			logger.Warnf("keylist update of connection %s: %v", connectionID, err)

			continue
		}

		batch = append(batch, routing.Update{RecipientKey: key, Action: routing.Action(u.Action)})
		positions = append(positions, i)
	}

	if len(batch) == 0 {
		return responses
	}

	results, err := s.routes.Apply(connectionID, batch)
	if err != nil {
		logger.Errorf("keylist update of connection %s: %v", connectionID, err)

		for _, i := range positions {
			responses[i].Result = ResultServerError
		}

		return responses
	}

	for j, i := range positions {
		responses[i].Result = keylistResult(results[j])
	}

	return responses
}

func keylistResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, routing.ErrRouteExists), errors.Is(err, routing.ErrRouteNotFound):
		return ResultNoChange
	default:
		return ResultServerError
	}
}

func (s *Service) handleKeylistQuery(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	conn, err := s.getConnection(didCommCtx.ConnectionID)
	if err != nil {
		return err
	}

	if _, err = s.grantedMediation(conn.ConnectionID); err != nil {
		return err
	}

	keys, err := s.routes.Keys(conn.ConnectionID)
	if err != nil {
		return err
	}

	keylist := &Keylist{
		Type:   KeylistMsgType,
		ID:     uuid.New().String(),
		Keys:   make([]KeylistKey, 0, len(keys)),
		Thread: &decorator.Thread{ID: msg.ID()},
	}

	for _, k := range keys {
		keylist.Keys = append(keylist.Keys, KeylistKey{RecipientKey: k})
	}

	return s.outbound.SendToConnection(ctx, keylist, conn)
}

// handleForward relays the inner message of a forward to the connection its recipient key is routed to. The
// inner message is taken from the received plaintext when known so it is relayed byte for byte.
func (s *Service) handleForward(ctx context.Context, msg service.DIDCommMsgMap,
	didCommCtx service.DIDCommContext) error {
	fwd := model.Forward{}

	var err error

	if raw := didCommCtx.Payload(); len(raw) > 0 {
		err = json.Unmarshal(raw, &fwd)
	} else {
		err = msg.Decode(&fwd)
	}

	if err != nil {
		return fmt.Errorf("decode forward: %w", err)
	}

	_, err = s.Forward(ctx, fwd.To, fwd.Msg)

	return err
}

// Forward relays envelope to the connection routed for recipient key to. Errors are RoutingErrors.
func (s *Service) Forward(ctx context.Context, to string, envelope []byte) (dispatcher.DeliveryTarget, error) {
	if to == "" {
		return dispatcher.DeliveryTarget{}, &RoutingError{Err: ErrMissingRecipient}
	}

	key, err := didkey.Normalize(to)
	if err != nil {
		return dispatcher.DeliveryTarget{}, &RoutingError{To: to, Err: err}
	}

	if len(envelope) == 0 {
		return dispatcher.DeliveryTarget{}, &RoutingError{To: key, Err: ErrEmptyForward}
	}

	connectionID, err := s.routes.FindRecipient(key)
	if err != nil {
		if errors.Is(err, routing.ErrRouteNotFound) {
			logger.Warnf("forward to unknown recipient %s", key)

			return dispatcher.DeliveryTarget{}, &RoutingError{To: key, Err: ErrUnknownRecipient}
		}

		return dispatcher.DeliveryTarget{}, &RoutingError{To: key, Err: err}
	}

	conn, err := s.getConnection(connectionID)
	if err != nil {
		return dispatcher.DeliveryTarget{}, &RoutingError{To: key, Err: err}
	}

	target, err := s.outbound.Relay(ctx, envelope, conn)
	if err != nil {
		return dispatcher.DeliveryTarget{}, &RoutingError{To: key, Err: err}
	}

	logger.Debugf("forward to %s delivered via %s", key, target)

	return target, nil
}
