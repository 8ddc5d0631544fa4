/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/agent/pkg/doc/did"
)

const (
	// Namespace is namespace of connection store name.
	Namespace       = "connection"
	keyPattern      = "%s_%s"
	connIDKeyPrefix = "conn"

	stateTag         = "state"
	theirKeyTag      = "theirKey"
	myKeyTag         = "myKey"
	threadIDTag      = "threadID"
	invitationKeyTag = "invKey"

	theirKeyCacheSize = 1000
)

const (
	// RoleInviter is the role of the agent that created the invitation.
	RoleInviter = "inviter"
	// RoleInvitee is the role of the agent that received the invitation.
	RoleInvitee = "invitee"
	// StateInvited is the record state of an open invitation. Records in this state are found by invitation key.
	StateInvited = "invited"
	// StateRequested is the record state once a connection request was sent or received.
	StateRequested = "requested"
	// StateResponded is the record state once a connection response was sent or received.
	StateResponded = "responded"
	// StateComplete is the record state of an established connection.
	StateComplete = "complete"
	// StateAbandoned is the record state of a connection given up before completion.
	StateAbandoned = "abandoned"
)

var logger = log.New("didrelay/store/connection")

// ErrConnectionNotFound is returned when no connection record matches a lookup.
var ErrConnectionNotFound = errors.New("connection not found")

// Invitation is the part of a connection invitation kept with the record.
type Invitation struct {
	ID              string   `json:"id,omitempty"`
	Label           string   `json:"label,omitempty"`
	RecipientKeys   []string `json:"recipient_keys,omitempty"`
	ServiceEndpoint string   `json:"service_endpoint,omitempty"`
	RoutingKeys     []string `json:"routing_keys,omitempty"`
}

// Record contain info about a pairwise connection.
type Record struct {
	ConnectionID string `json:"connection_id"`
	State        string `json:"state"`
	Role         string `json:"role"`
	ThreadID     string `json:"thread_id,omitempty"`
	// InvitationKey is the key the invitation was issued for. The inviter signs the connection response with it.
	InvitationKey string      `json:"invitation_key,omitempty"`
	Invitation    *Invitation `json:"invitation,omitempty"`
	MyDID         string      `json:"my_did,omitempty"`
	MyKey         string      `json:"my_key,omitempty"`
	TheirDID      string      `json:"their_did,omitempty"`
	TheirKey      string      `json:"their_key,omitempty"`
	TheirLabel    string      `json:"their_label,omitempty"`
	TheirDIDDoc   *did.Doc    `json:"their_did_doc,omitempty"`
	Alias         string      `json:"alias,omitempty"`
	MultiUse      bool        `json:"multi_use,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewLookup returns new connection lookup instance.
// Lookup is read only connection store. It provides connection record related query features.
func NewLookup(p storage.Provider) (*Lookup, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection store: %w", err)
	}

	err = p.SetStoreConfig(Namespace, storage.StoreConfiguration{TagNames: []string{
		connIDKeyPrefix, stateTag, theirKeyTag, myKeyTag, threadIDTag, invitationKeyTag,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store config in connection store: %w", err)
	}

	return &Lookup{
		store:         store,
		theirKeyCache: gcache.New(theirKeyCacheSize).LRU().Build(),
	}, nil
}

// Lookup takes care of connection related persistence features.
type Lookup struct {
	store         storage.Store
	theirKeyCache gcache.Cache
}

// GetConnectionRecord return connection record based on the connection ID.
func (c *Lookup) GetConnectionRecord(connectionID string) (*Record, error) {
	if connectionID == "" {
		return nil, ErrConnectionNotFound
	}

	var rec Record

	err := getAndUnmarshal(connectionKey(connectionID), &rec, c.store)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("connection %s: %w", connectionID, ErrConnectionNotFound)
		}

		return nil, fmt.Errorf("get connection %s: %w", connectionID, err)
	}

	return &rec, nil
}

// GetConnectionRecordByTheirKey returns the connection whose peer key is theirKey.
func (c *Lookup) GetConnectionRecordByTheirKey(theirKey string) (*Record, error) {
	if id, err := c.theirKeyCache.Get(theirKey); err == nil {
		rec, e := c.GetConnectionRecord(id.(string))
		if e == nil && rec.TheirKey == theirKey {
			return rec, nil
		}

		c.theirKeyCache.Remove(theirKey)
	}

	rec, err := c.findOne(theirKeyTag, theirKey)
	if err != nil {
		return nil, err
	}

	if e := c.theirKeyCache.Set(theirKey, rec.ConnectionID); e != nil {
		logger.Warnf("cache their key %s: %v", theirKey, e)
	}

	return rec, nil
}

// GetConnectionRecordByMyKey returns the connection whose local key is myKey.
func (c *Lookup) GetConnectionRecordByMyKey(myKey string) (*Record, error) {
	return c.findOne(myKeyTag, myKey)
}

// GetConnectionRecordByThreadID returns the connection established on thread threadID.
func (c *Lookup) GetConnectionRecordByThreadID(threadID string) (*Record, error) {
	return c.findOne(threadIDTag, threadID)
}

// GetConnectionRecordByInvitationKey returns the open invitation record created for invitationKey.
func (c *Lookup) GetConnectionRecordByInvitationKey(invitationKey string) (*Record, error) {
	return c.findOne(invitationKeyTag, invitationKey)
}

// QueryConnectionRecords returns connection records ordered by creation time, restricted to state when it is not
// empty.
func (c *Lookup) QueryConnectionRecords(state string) ([]*Record, error) {
	query := connIDKeyPrefix
	if state != "" {
		query = fmt.Sprintf("%s:%s", stateTag, state)
	}

	records, err := c.query(query)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func (c *Lookup) findOne(tag, value string) (*Record, error) {
	if value == "" {
		return nil, ErrConnectionNotFound
	}

	records, err := c.query(fmt.Sprintf("%s:%s", tag, value))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("connection with %s %s: %w", tag, value, ErrConnectionNotFound)
	}

	if len(records) > 1 {
		logger.Warnf("%d connections share %s %s", len(records), tag, value)
	}

	return records[0], nil
}

func (c *Lookup) query(expression string) ([]*Record, error) {
	itr, err := c.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection store: %w", err)
	}

	defer func() {
		errClose := itr.Close()
		if errClose != nil {
			logger.Errorf("failed to close records iterator: %s", errClose.Error())
		}
	}()

	var records []*Record

	more, err := itr.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to get next set of data from iterator: %w", err)
	}

	for more {
		value, err := itr.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to get value from iterator: %w", err)
		}

		var record Record

		err = json.Unmarshal(value, &record)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal connection record: %w", err)
		}

		records = append(records, &record)

		more, err = itr.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to get next set of data from iterator: %w", err)
		}
	}

	return records, nil
}

func getAndUnmarshal(key string, target interface{}, store storage.Store) error {
	bytes, err := store.Get(key)
	if err != nil {
		return err
	}

	return json.Unmarshal(bytes, target)
}

// connectionKey is the storage key of a connection record.
func connectionKey(connectionID string) string {
	return fmt.Sprintf(keyPattern, connIDKeyPrefix, connectionID)
}
