/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	// Namespace is the mediation store name.
	Namespace = "mediation"

	recordKeyPrefix = "mediation_"
	routingKeyKey   = "routing_key"

	recordTag       = "mediation"
	connectionIDTag = "connectionID"
	threadIDTag     = "threadID"
	defaultTag      = "default"
)

// Mediation roles.
const (
	// RoleMediator is the role of the agent routing messages for others.
	RoleMediator = "mediator"
	// RoleRecipient is the role of the agent whose messages are routed.
	RoleRecipient = "recipient"
)

// Mediation states.
const (
	StateRequested = "requested"
	StateGranted   = "granted"
	StateDenied    = "denied"
)

// ErrMediationNotFound is returned when no mediation record matches a lookup.
var ErrMediationNotFound = errors.New("mediation not found")

// Record is a mediation relationship over one connection, as seen from one side.
type Record struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	Role         string `json:"role"`
	State        string `json:"state"`
	// ThreadID is the id of the mediate-request.
	ThreadID string `json:"thread_id"`
	// Endpoint and RoutingKeys are the mediator's, as granted.
	Endpoint    string   `json:"endpoint,omitempty"`
	RoutingKeys []string `json:"routing_keys,omitempty"`
	// RecipientKeys are the keys the mediator confirmed routing for us.
	RecipientKeys []string  `json:"recipient_keys,omitempty"`
	IsDefault     bool      `json:"is_default,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type recordStore struct {
	store storage.Store
}

func newRecordStore(p storage.Provider) (*recordStore, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open mediation store: %w", err)
	}

	err = p.SetStoreConfig(Namespace, storage.StoreConfiguration{
		TagNames: []string{recordTag, connectionIDTag, threadIDTag, defaultTag},
	})
	if err != nil {
		return nil, fmt.Errorf("set mediation store config: %w", err)
	}

	return &recordStore{store: store}, nil
}

func (r *recordStore) save(records ...*Record) error {
	ops := make([]storage.Operation, 0, len(records))
	now := time.Now().UTC()

	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}

		rec.UpdatedAt = now

		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal mediation record: %w", err)
		}

		tags := []storage.Tag{
			{Name: recordTag},
			{Name: connectionIDTag, Value: rec.ConnectionID},
			{Name: threadIDTag, Value: rec.ThreadID},
		}

		if rec.IsDefault {
			tags = append(tags, storage.Tag{Name: defaultTag})
		}

		ops = append(ops, storage.Operation{Key: recordKeyPrefix + rec.ID, Value: value, Tags: tags})
	}

	if err := r.store.Batch(ops); err != nil {
		return fmt.Errorf("save mediation records: %w", err)
	}

	return nil
}

func (r *recordStore) get(id string) (*Record, error) {
	value, err := r.store.Get(recordKeyPrefix + id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("mediation %s: %w", id, ErrMediationNotFound)
		}

		return nil, fmt.Errorf("get mediation %s: %w", id, err)
	}

	rec := &Record{}

	if err = json.Unmarshal(value, rec); err != nil {
		return nil, fmt.Errorf("unmarshal mediation record: %w", err)
	}

	return rec, nil
}

func (r *recordStore) byConnection(connectionID, role string) (*Record, error) {
	records, err := r.query(fmt.Sprintf("%s:%s", connectionIDTag, connectionID))
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Role == role {
			return rec, nil
		}
	}

	return nil, fmt.Errorf("%s mediation of connection %s: %w", role, connectionID, ErrMediationNotFound)
}

func (r *recordStore) byThreadID(threadID string) (*Record, error) {
	records, err := r.query(fmt.Sprintf("%s:%s", threadIDTag, threadID))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("mediation thread %s: %w", threadID, ErrMediationNotFound)
	}

	return records[0], nil
}

func (r *recordStore) defaults() ([]*Record, error) {
	return r.query(defaultTag)
}

func (r *recordStore) all() ([]*Record, error) {
	return r.query(recordTag)
}

// query returns the matching records, oldest first.
func (r *recordStore) query(expression string) ([]*Record, error) {
	itr, err := r.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("query mediation records: %w", err)
	}

	defer func() {
		if errClose := itr.Close(); errClose != nil {
			logger.Errorf("failed to close mediation iterator: %s", errClose.Error())
		}
	}()

	var records []*Record

	more, err := itr.Next()

	for ; err == nil && more; more, err = itr.Next() {
		value, e := itr.Value()
		if e != nil {
			return nil, fmt.Errorf("mediation record value: %w", e)
		}

		rec := &Record{}

		if e = json.Unmarshal(value, rec); e != nil {
			return nil, fmt.Errorf("unmarshal mediation record: %w", e)
		}

		records = append(records, rec)
	}

	if err != nil {
		return nil, fmt.Errorf("iterate mediation records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func (r *recordStore) routingKey() (string, error) {
	value, err := r.store.Get(routingKeyKey)
	if err != nil {
		return "", err
	}

	return string(value), nil
}

func (r *recordStore) saveRoutingKey(key string) error {
	return r.store.Put(routingKeyKey, []byte(key))
}
