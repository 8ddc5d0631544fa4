/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/store/connection"
)

var errMediationPending = errors.New("mediation pending")

// RequestMediation asks the peer of connectionID to mediate for us. A mediation already granted over the
// connection is returned as is.
func (s *Service) RequestMediation(ctx context.Context, connectionID string) (*Record, error) {
	conn, err := s.getConnection(connectionID)
	if err != nil {
		return nil, err
	}

	if conn.State != connection.StateComplete {
		return nil, fmt.Errorf("connection %s in state %s: %w", connectionID, conn.State, ErrConnectionNotReady)
	}

	rec, req, err := s.prepareRequest(connectionID)
	if err != nil || req == nil {
		return rec, err
	}

	if err = s.outbound.SendToConnection(ctx, req, conn); err != nil {
		return nil, fmt.Errorf("send mediation request: %w", err)
	}

	return rec, nil
}

// prepareRequest moves the recipient mediation of connectionID to requested, under a new thread. The request is nil
// when the mediation is already granted.
func (s *Service) prepareRequest(connectionID string) (*Record, *Request, error) {
	rec, err := s.records.byConnection(connectionID, RoleRecipient)

	switch {
	case err == nil:
	case errors.Is(err, ErrMediationNotFound):
		rec = &Record{ID: uuid.New().String(), ConnectionID: connectionID, Role: RoleRecipient}
	default:
		return nil, nil, err
	}

	s.locks.Lock(rec.ID)
	defer s.locks.Unlock(rec.ID)

	if rec.State == StateGranted {
		return rec, nil, nil
	}

	req := &Request{
		Type:      RequestMsgType,
		ID:        uuid.New().String(),
		Transport: &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll},
	}

	rec.State = StateRequested
	rec.ThreadID = req.ID

	// saved before sending, the grant may come back on the same transport
	if err = s.records.save(rec); err != nil {
		return nil, nil, err
	}

	s.notify(rec, nil)

	return rec, req, nil
}

// RequestMediationAndAwait requests mediation over connectionID and waits until the mediator grants or denies
// it, at most timeout.
func (s *Service) RequestMediationAndAwait(ctx context.Context, connectionID string,
	timeout time.Duration) (*Record, error) {
	rec, err := s.RequestMediation(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = backoff.Retry(func() error {
		current, e := s.records.get(rec.ID)
		if e != nil {
			return backoff.Permanent(e)
		}

		if current.State == StateRequested {
			return errMediationPending
		}

		rec = current

		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(awaitPollInterval), ctx))
	if err != nil {
		if errors.Is(err, errMediationPending) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("mediation %s: %w", rec.ID, ErrTimeout)
		}

		return nil, err
	}

	return rec, nil
}

func (s *Service) recipientRecord(msg service.DIDCommMsgMap) (*Record, error) {
	thID, err := msg.ThreadID()
	if err != nil {
		return nil, err
	}

	rec, err := s.records.byThreadID(thID)
	if err != nil {
		return nil, err
	}

	if rec.Role != RoleRecipient {
		return nil, fmt.Errorf("%s mediation %s: %w", rec.Role, rec.ID, ErrInvalidState)
	}

	return rec, nil
}

// handleGrant stores the mediator's endpoint and routing keys. The first mediator granted becomes the default one.
func (s *Service) handleGrant(msg service.DIDCommMsgMap) error {
	grant := Grant{}

	if err := msg.Decode(&grant); err != nil {
		return fmt.Errorf("decode grant: %w", err)
	}

	routingKeys, err := didkey.NormalizeAll(grant.RoutingKeys)
	if err != nil {
		return fmt.Errorf("grant routing keys: %w", err)
	}

	rec, err := s.recipientRecord(msg)
	if err != nil {
		return err
	}

	s.locks.Lock(rec.ID)
	defer s.locks.Unlock(rec.ID)

	if rec, err = s.records.get(rec.ID); err != nil {
		return err
	}

	if rec.State == StateDenied {
		return fmt.Errorf("grant of denied mediation %s: %w", rec.ID, ErrInvalidState)
	}

	rec.State = StateGranted
	rec.Endpoint = grant.Endpoint
	rec.RoutingKeys = routingKeys

	s.defaultMu.Lock()

	defaults, err := s.records.defaults()
	if err == nil {
		rec.IsDefault = rec.IsDefault || len(defaults) == 0
		err = s.records.save(rec)
	}

	s.defaultMu.Unlock()

	if err != nil {
		return err
	}

	logger.Infof("mediation %s granted, endpoint %s", rec.ID, rec.Endpoint)

	s.notify(rec, msg)

	return nil
}

func (s *Service) handleDeny(msg service.DIDCommMsgMap) error {
	rec, err := s.recipientRecord(msg)
	if err != nil {
		return err
	}

	s.locks.Lock(rec.ID)
	defer s.locks.Unlock(rec.ID)

	if rec, err = s.records.get(rec.ID); err != nil {
		return err
	}

	if rec.State != StateRequested {
		return fmt.Errorf("deny of mediation %s in state %s: %w", rec.ID, rec.State, ErrInvalidState)
	}

	rec.State = StateDenied

	if err = s.records.save(rec); err != nil {
		return err
	}

	logger.Infof("mediation %s denied", rec.ID)

	s.notify(rec, msg)

	return nil
}

// SetDefaultMediator makes the granted mediation id the default one.
func (s *Service) SetDefaultMediator(id string) (*Record, error) {
	s.defaultMu.Lock()
	defer s.defaultMu.Unlock()

	rec, err := s.records.get(id)
	if err != nil {
		return nil, err
	}

	if rec.Role != RoleRecipient || rec.State != StateGranted {
		return nil, fmt.Errorf("mediation %s: %w", id, ErrNotGranted)
	}

	defaults, err := s.records.defaults()
	if err != nil {
		return nil, err
	}

	changed := make([]*Record, 0, len(defaults)+1)

	for _, d := range defaults {
		if d.ID != rec.ID {
			d.IsDefault = false
			changed = append(changed, d)
		}
	}

	rec.IsDefault = true
	changed = append(changed, rec)

	if err = s.records.save(changed...); err != nil {
		return nil, err
	}

	return rec, nil
}

// GetDefaultMediator returns the default mediation, ErrNoDefaultMediator when there is none.
func (s *Service) GetDefaultMediator() (*Record, error) {
	s.defaultMu.RLock()
	defer s.defaultMu.RUnlock()

	defaults, err := s.records.defaults()
	if err != nil {
		return nil, err
	}

	if len(defaults) == 0 {
		return nil, ErrNoDefaultMediator
	}

	return defaults[0], nil
}

// ClearDefaultMediator leaves the agent without a default mediator.
func (s *Service) ClearDefaultMediator() error {
	s.defaultMu.Lock()
	defer s.defaultMu.Unlock()

	defaults, err := s.records.defaults()
	if err != nil || len(defaults) == 0 {
		return err
	}

	for _, d := range defaults {
		d.IsDefault = false
	}

	return s.records.save(defaults...)
}

// DefaultRoute gives back the endpoint and routing keys of the default mediator.
func (s *Service) DefaultRoute() (*Route, error) {
	rec, err := s.GetDefaultMediator()
	if err != nil {
		if errors.Is(err, ErrNoDefaultMediator) {
			return nil, ErrRouterNotRegistered
		}

		return nil, err
	}

	return &Route{MediationID: rec.ID, Endpoint: rec.Endpoint, RoutingKeys: rec.RoutingKeys}, nil
}

// AddKey registers recKey with the default mediator.
func (s *Service) AddKey(ctx context.Context, recKey string) error {
	rec, err := s.GetDefaultMediator()
	if err != nil {
		if errors.Is(err, ErrNoDefaultMediator) {
			return ErrRouterNotRegistered
		}

		return err
	}

	return s.UpdateKeylist(ctx, rec.ID, ActionAdd, recKey)
}

func (s *Service) granted(id string) (*Record, *connection.Record, error) {
	rec, err := s.records.get(id)
	if err != nil {
		return nil, nil, err
	}

	if rec.Role != RoleRecipient || rec.State != StateGranted {
		return nil, nil, fmt.Errorf("mediation %s: %w", id, ErrNotGranted)
	}

	conn, err := s.getConnection(rec.ConnectionID)
	if err != nil {
		return nil, nil, err
	}

	return rec, conn, nil
}

// UpdateKeylist asks the mediator of mediation id to add or remove recipientKey and waits for its answer. The
// record's recipient keys change only once the mediator confirms the update.
func (s *Service) UpdateKeylist(ctx context.Context, id, action, recipientKey string) error {
	if action != ActionAdd && action != ActionRemove {
		return fmt.Errorf("unsupported keylist action %q", action)
	}

	key, err := didkey.Normalize(recipientKey)
	if err != nil {
		return fmt.Errorf("keylist update: %w", err)
	}

	_, conn, err := s.granted(id)
	if err != nil {
		return err
	}

	update := &KeylistUpdate{
		Type:      KeylistUpdateMsgType,
		ID:        uuid.New().String(),
		Updates:   []Update{{RecipientKey: key, Action: action}},
		Transport: &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll},
	}

	reply, err := s.sendAndWait(ctx, update.ID, update, conn)
	if err != nil {
		return fmt.Errorf("keylist update: %w", err)
	}

	resp := KeylistUpdateResponse{}

	if err = reply.Decode(&resp); err != nil {
		return fmt.Errorf("decode keylist update response: %w", err)
	}

	for _, u := range resp.Updated {
		if normalized, e := didkey.Normalize(u.RecipientKey); e != nil || normalized != key {
			continue
		}

		if !confirmed(u.Result) {
			return fmt.Errorf("%s %s: %w: %s", action, key, ErrKeylistUpdateRejected, u.Result)
		}

		return nil
	}

	return fmt.Errorf("%s %s: %w: no result", action, key, ErrKeylistUpdateRejected)
}

// QueryKeylist asks the mediator of mediation id for the keys it routes for us. The record's recipient keys are
// replaced by the answer.
func (s *Service) QueryKeylist(ctx context.Context, id string) ([]string, error) {
	_, conn, err := s.granted(id)
	if err != nil {
		return nil, err
	}

	query := &KeylistQuery{
		Type:      KeylistQueryMsgType,
		ID:        uuid.New().String(),
		Transport: &decorator.ReturnRoute{Value: decorator.TransportReturnRouteAll},
	}

	if _, err = s.sendAndWait(ctx, query.ID, query, conn); err != nil {
		return nil, fmt.Errorf("keylist query: %w", err)
	}

	rec, err := s.records.get(id)
	if err != nil {
		return nil, err
	}

	return rec.RecipientKeys, nil
}

func confirmed(result string) bool {
	return result == ResultSuccess || result == ResultNoChange
}

// handleKeylistUpdateResponse applies the confirmed updates to the recipient keys of the mediation.
func (s *Service) handleKeylistUpdateResponse(msg service.DIDCommMsgMap, didCommCtx service.DIDCommContext) error {
	resp := KeylistUpdateResponse{}

	if err := msg.Decode(&resp); err != nil {
		return fmt.Errorf("decode keylist update response: %w", err)
	}

	err := s.updateRecipientKeys(didCommCtx.ConnectionID, func(keys []string) []string {
		for _, u := range resp.Updated {
			key, err := didkey.Normalize(u.RecipientKey)
			if err != nil || !confirmed(u.Result) {
				continue
			}

			i := slices.Index(keys, key)

			switch {
			case u.Action == ActionAdd && i < 0:
				keys = append(keys, key)
			case u.Action == ActionRemove && i >= 0:
				keys = slices.Delete(keys, i, i+1)
			}
		}

		return keys
	})
	if err != nil {
		return err
	}

	s.wake(msg)

	return nil
}

func (s *Service) handleKeylist(msg service.DIDCommMsgMap, didCommCtx service.DIDCommContext) error {
	keylist := Keylist{}

	if err := msg.Decode(&keylist); err != nil {
		return fmt.Errorf("decode keylist: %w", err)
	}

	keys := make([]string, 0, len(keylist.Keys))

	for _, k := range keylist.Keys {
		key, err := didkey.Normalize(k.RecipientKey)
		if err != nil {
			return fmt.Errorf("keylist: %w", err)
		}

		keys = append(keys, key)
	}

	err := s.updateRecipientKeys(didCommCtx.ConnectionID, func([]string) []string {
		return keys
	})
	if err != nil {
		return err
	}

	s.wake(msg)

	return nil
}

func (s *Service) updateRecipientKeys(connectionID string, update func(keys []string) []string) error {
	rec, err := s.records.byConnection(connectionID, RoleRecipient)
	if err != nil {
		return err
	}

	s.locks.Lock(rec.ID)
	defer s.locks.Unlock(rec.ID)

	if rec, err = s.records.get(rec.ID); err != nil {
		return err
	}

	rec.RecipientKeys = update(slices.Clone(rec.RecipientKeys))

	return s.records.save(rec)
}

// sendAndWait sends msg and returns the reply threaded to msgID.
func (s *Service) sendAndWait(ctx context.Context, msgID string, msg interface{},
	conn *connection.Record) (service.DIDCommMsgMap, error) {
	ch := make(chan service.DIDCommMsgMap, 1)

	s.waitersLock.Lock()
	s.waiters[msgID] = ch
	s.waitersLock.Unlock()

	defer func() {
		s.waitersLock.Lock()
		delete(s.waiters, msgID)
		s.waitersLock.Unlock()
	}()

	if err := s.outbound.SendToConnection(ctx, msg, conn); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// wake hands msg to the sender waiting for it, if any.
func (s *Service) wake(msg service.DIDCommMsgMap) {
	thID, err := msg.ThreadID()
	if err != nil {
		return
	}

	s.waitersLock.RLock()
	ch := s.waiters[thID]
	s.waitersLock.RUnlock()

	if ch == nil {
		return
	}

	select {
	case ch <- msg:
	default:
		logger.Warnf("dropped duplicate reply for %s", thID)
	}
}

// Pickup fetches the messages the mediator of mediation id queued for us and hands them to the inbound handler.
func (s *Service) Pickup(ctx context.Context, id string) (int, error) {
	_, conn, err := s.granted(id)
	if err != nil {
		return 0, err
	}

	return s.pickup.BatchPickup(ctx, conn.ConnectionID, s.batchSize)
}

// PickupFromDefault picks up from the default mediator.
func (s *Service) PickupFromDefault(ctx context.Context) (int, error) {
	rec, err := s.GetDefaultMediator()
	if err != nil {
		return 0, err
	}

	return s.Pickup(ctx, rec.ID)
}
