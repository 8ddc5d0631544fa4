/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/agent/pkg/internal/lockbox"
)

// ErrTheirKeyInUse is returned when saving a record whose peer key already belongs to another connection.
var ErrTheirKeyInUse = errors.New("their key is already used by another connection")

// NewRecorder returns new connection recorder.
// Recorder is read-write connection store which provides
// write features on top query features from Lookup.
func NewRecorder(p storage.Provider) (*Recorder, error) {
	lookup, err := NewLookup(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create new connection recorder : %w", err)
	}

	return &Recorder{Lookup: lookup, theirKeys: lockbox.New()}, nil
}

// Recorder is read-write connection store.
type Recorder struct {
	*Lookup
	theirKeys *lockbox.Lockbox
}

// SaveConnectionRecord saves given connection record in underlying store. A record is addressable by its peer key,
// so saving a second record with the same TheirKey fails with ErrTheirKeyInUse.
func (c *Recorder) SaveConnectionRecord(record *Record) error {
	if record == nil || record.ConnectionID == "" {
		return errors.New("connection record requires an id")
	}

	if record.TheirKey != "" {
		c.theirKeys.Lock(record.TheirKey)
		defer c.theirKeys.Unlock(record.TheirKey)

		existing, err := c.GetConnectionRecordByTheirKey(record.TheirKey)

		switch {
		case err == nil && existing.ConnectionID != record.ConnectionID:
			return fmt.Errorf("save connection %s: %w", record.ConnectionID, ErrTheirKeyInUse)
		case err != nil && !errors.Is(err, ErrConnectionNotFound):
			return fmt.Errorf("save connection %s: %w", record.ConnectionID, err)
		}
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	bytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}

	if err = c.store.Put(connectionKey(record.ConnectionID), bytes, recordTags(record)...); err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}

	if record.TheirKey != "" {
		if e := c.theirKeyCache.Set(record.TheirKey, record.ConnectionID); e != nil {
			logger.Warnf("cache their key %s: %v", record.TheirKey, e)
		}
	}

	logger.Debugf("saved connection %s in state %s", record.ConnectionID, record.State)

	return nil
}

func recordTags(record *Record) []storage.Tag {
	tags := []storage.Tag{
		{Name: connIDKeyPrefix},
		{Name: stateTag, Value: record.State},
	}

	optional := []storage.Tag{
		{Name: theirKeyTag, Value: record.TheirKey},
		{Name: myKeyTag, Value: record.MyKey},
		{Name: threadIDTag, Value: record.ThreadID},
	}

	// only open invitations are found by invitation key, clones of a multi-use invitation are not
	if record.State == StateInvited {
		optional = append(optional, storage.Tag{Name: invitationKeyTag, Value: record.InvitationKey})
	}

	for _, t := range optional {
		if t.Value != "" {
			tags = append(tags, t)
		}
	}

	return tags
}
