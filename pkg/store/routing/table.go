/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package routing keeps the mediator's routing table: the recipient keys it routes and the connection owning each.
package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"
)

// Namespace is the routing table store name.
const Namespace = "routing"

const (
	routeKeyPrefix  = "route_"
	connectionIDTag = "connectionID"
	routeRecordTag  = "route"
)

var logger = log.New("didrelay/store/routing")

var (
	// ErrRouteExists is returned when the key is already routed for the same connection.
	ErrRouteExists = errors.New("route already exists")
	// ErrRouteClaimed is returned when the key is routed for another connection.
	ErrRouteClaimed = errors.New("route is owned by another connection")
	// ErrRouteNotFound is returned when the key is not routed.
	ErrRouteNotFound = errors.New("route not found")
)

// Action of a keylist update.
type Action string

const (
	// ActionAdd starts routing a key.
	ActionAdd Action = "add"
	// ActionRemove stops routing a key.
	ActionRemove Action = "remove"
)

// Update is one keylist change requested by a connection.
type Update struct {
	RecipientKey string
	Action       Action
}

type route struct {
	RecipientKey string `json:"recipient_key"`
	ConnectionID string `json:"connection_id"`
}

// Table maps recipient keys to the connection they are routed to. Mutations are serialized.
type Table struct {
	store storage.Store
	mu    sync.Mutex
}

// NewTable opens the routing table in p.
func NewTable(p storage.Provider) (*Table, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open routing store: %w", err)
	}

	err = p.SetStoreConfig(Namespace, storage.StoreConfiguration{TagNames: []string{connectionIDTag, routeRecordTag}})
	if err != nil {
		return nil, fmt.Errorf("set routing store config: %w", err)
	}

	return &Table{store: store}, nil
}

// SaveRoute routes recipientKey to connectionID.
func (t *Table) SaveRoute(connectionID, recipientKey string) error {
	errs, err := t.Apply(connectionID, []Update{{RecipientKey: recipientKey, Action: ActionAdd}})
	if err != nil {
		return err
	}

	return errs[0]
}

// RemoveRoute stops routing recipientKey. The key must be routed to connectionID.
func (t *Table) RemoveRoute(connectionID, recipientKey string) error {
	errs, err := t.Apply(connectionID, []Update{{RecipientKey: recipientKey, Action: ActionRemove}})
	if err != nil {
		return err
	}

	return errs[0]
}

// Apply folds updates in order on behalf of connectionID. The returned slice holds one result per update (nil on
// success, ErrRouteExists, ErrRouteClaimed or ErrRouteNotFound otherwise); a failed update does not affect the others.
// All successful changes are persisted in a single batch; the second return value reports a storage failure, in
// which case nothing was applied.
func (t *Table) Apply(connectionID string, updates []Update) ([]error, error) {
	if connectionID == "" {
		return nil, errors.New("connection id is mandatory")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]error, len(updates))
	// owners tracks the effective owner of every key touched by the batch, "" meaning unrouted
	owners := make(map[string]string)

	var ops []storage.Operation

	for i, u := range updates {
		owner, seen := owners[u.RecipientKey]
		if !seen {
			current, err := t.findRecipient(u.RecipientKey)
			if err != nil && !errors.Is(err, ErrRouteNotFound) {
				return nil, err
			}

			owner = current
		}

		op, result := fold(connectionID, owner, u)
		results[i] = result

		if op == nil {
			owners[u.RecipientKey] = owner

			continue
		}

		ops = append(ops, *op)

		if op.Value == nil {
			owners[u.RecipientKey] = ""
		} else {
			owners[u.RecipientKey] = connectionID
		}
	}

	if len(ops) == 0 {
		return results, nil
	}

	if err := t.store.Batch(ops); err != nil {
		return nil, fmt.Errorf("persist routing updates: %w", err)
	}

	logger.Debugf("applied %d routing changes for connection %s", len(ops), connectionID)

	return results, nil
}

// fold returns the storage operation applying u when owner is the key's current owner, or the reason it is rejected.
func fold(connectionID, owner string, u Update) (*storage.Operation, error) {
	if u.RecipientKey == "" {
		return nil, fmt.Errorf("empty recipient key: %w", ErrRouteNotFound)
	}

	switch u.Action {
	case ActionAdd:
		switch owner {
		case "":
			value, err := json.Marshal(route{RecipientKey: u.RecipientKey, ConnectionID: connectionID})
			if err != nil {
				return nil, err
			}

			return &storage.Operation{
				Key:   routeKeyPrefix + u.RecipientKey,
				Value: value,
				Tags: []storage.Tag{
					{Name: connectionIDTag, Value: connectionID},
					{Name: routeRecordTag},
				},
			}, nil
		case connectionID:
			return nil, ErrRouteExists
		default:
			return nil, ErrRouteClaimed
		}
	case ActionRemove:
		switch owner {
		case "":
			return nil, ErrRouteNotFound
		case connectionID:
			return &storage.Operation{Key: routeKeyPrefix + u.RecipientKey}, nil
		default:
			return nil, ErrRouteClaimed
		}
	default:
		return nil, fmt.Errorf("unsupported action %q", u.Action)
	}
}

// FindRecipient returns the connection recipientKey is routed to, or ErrRouteNotFound.
func (t *Table) FindRecipient(recipientKey string) (string, error) {
	return t.findRecipient(recipientKey)
}

func (t *Table) findRecipient(recipientKey string) (string, error) {
	if recipientKey == "" {
		return "", ErrRouteNotFound
	}

	value, err := t.store.Get(routeKeyPrefix + recipientKey)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return "", ErrRouteNotFound
		}

		return "", fmt.Errorf("get route: %w", err)
	}

	var r route

	if err = json.Unmarshal(value, &r); err != nil {
		return "", fmt.Errorf("unmarshal route: %w", err)
	}

	return r.ConnectionID, nil
}

// Keys returns the recipient keys routed to connectionID, sorted.
func (t *Table) Keys(connectionID string) ([]string, error) {
	itr, err := t.store.Query(fmt.Sprintf("%s:%s", connectionIDTag, connectionID))
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}

	defer func() {
		if errClose := itr.Close(); errClose != nil {
			logger.Errorf("failed to close routes iterator: %s", errClose.Error())
		}
	}()

	var keys []string

	more, err := itr.Next()

	for ; err == nil && more; more, err = itr.Next() {
		value, e := itr.Value()
		if e != nil {
			return nil, fmt.Errorf("route value: %w", e)
		}

		var r route

		if e = json.Unmarshal(value, &r); e != nil {
			return nil, fmt.Errorf("unmarshal route: %w", e)
		}

		keys = append(keys, r.RecipientKey)
	}

	if err != nil {
		return nil, fmt.Errorf("iterate routes: %w", err)
	}

	sort.Strings(keys)

	return keys, nil
}
