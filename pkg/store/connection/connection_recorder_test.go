/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mock/storage"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()

	r, err := NewRecorder(mem.NewProvider())
	require.NoError(t, err)

	return r
}

func TestNewRecorder(t *testing.T) {
	t.Run("open store error", func(t *testing.T) {
		_, err := NewRecorder(&mockstorage.MockStoreProvider{ErrOpenStoreHandle: errors.New("open error")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "open error")
	})

	t.Run("store config error", func(t *testing.T) {
		p := mockstorage.NewMockStoreProvider()
		p.ErrSetStoreConfig = errors.New("config error")

		_, err := NewRecorder(p)
		require.Error(t, err)
		require.Contains(t, err.Error(), "config error")
	})
}

func TestRecorder_SaveAndLookup(t *testing.T) {
	r := newRecorder(t)

	rec := &Record{
		ConnectionID:  "conn-1",
		State:         StateInvited,
		Role:          RoleInviter,
		InvitationKey: "invKey1",
		MyKey:         "invKey1",
		Invitation:    &Invitation{ID: "inv-1", Label: "alice", RecipientKeys: []string{"invKey1"}},
	}
	require.NoError(t, r.SaveConnectionRecord(rec))
	require.False(t, rec.CreatedAt.IsZero())

	got, err := r.GetConnectionRecord("conn-1")
	require.NoError(t, err)
	require.Equal(t, StateInvited, got.State)
	require.Equal(t, "alice", got.Invitation.Label)

	got, err = r.GetConnectionRecordByInvitationKey("invKey1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", got.ConnectionID)

	got, err = r.GetConnectionRecordByMyKey("invKey1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", got.ConnectionID)

	rec.State = "requested"
	rec.TheirKey = "theirKey1"
	rec.ThreadID = "thread-1"
	require.NoError(t, r.SaveConnectionRecord(rec))

	got, err = r.GetConnectionRecordByTheirKey("theirKey1")
	require.NoError(t, err)
	require.Equal(t, "requested", got.State)

	got, err = r.GetConnectionRecordByThreadID("thread-1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", got.ConnectionID)

	_, err = r.GetConnectionRecordByInvitationKey("invKey1")
	require.True(t, errors.Is(err, ErrConnectionNotFound))
}

func TestRecorder_TheirKeyUnique(t *testing.T) {
	r := newRecorder(t)

	require.NoError(t, r.SaveConnectionRecord(&Record{ConnectionID: "conn-1", State: "completed", TheirKey: "k1"}))

	err := r.SaveConnectionRecord(&Record{ConnectionID: "conn-2", State: "requested", TheirKey: "k1"})
	require.True(t, errors.Is(err, ErrTheirKeyInUse))

	// updating the owner is allowed
	require.NoError(t, r.SaveConnectionRecord(&Record{ConnectionID: "conn-1", State: "abandoned", TheirKey: "k1"}))
}

func TestRecorder_TheirKeyUniqueConcurrent(t *testing.T) {
	r := newRecorder(t)

	const n = 16

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved []string
		errs  []error
	)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			err := r.SaveConnectionRecord(&Record{ConnectionID: id, State: "requested", TheirKey: "k1"})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, err)

				return
			}

			saved = append(saved, id)
		}(fmt.Sprintf("conn-%d", i))
	}

	wg.Wait()

	require.Len(t, saved, 1)
	require.Len(t, errs, n-1)

	for _, err := range errs {
		require.True(t, errors.Is(err, ErrTheirKeyInUse))
	}

	rec, err := r.GetConnectionRecordByTheirKey("k1")
	require.NoError(t, err)
	require.Equal(t, saved[0], rec.ConnectionID)
}

func TestRecorder_TheirKeyCacheInvalidation(t *testing.T) {
	r := newRecorder(t)

	require.NoError(t, r.SaveConnectionRecord(&Record{ConnectionID: "conn-1", State: "completed", TheirKey: "k1"}))

	_, err := r.GetConnectionRecordByTheirKey("k1")
	require.NoError(t, err)

	// the peer rotated its key, the cached mapping must not resolve anymore
	require.NoError(t, r.SaveConnectionRecord(&Record{ConnectionID: "conn-1", State: "completed", TheirKey: "k2"}))

	_, err = r.GetConnectionRecordByTheirKey("k1")
	require.True(t, errors.Is(err, ErrConnectionNotFound))
}

func TestLookup_Errors(t *testing.T) {
	r := newRecorder(t)

	_, err := r.GetConnectionRecord("")
	require.True(t, errors.Is(err, ErrConnectionNotFound))

	_, err = r.GetConnectionRecord("missing")
	require.True(t, errors.Is(err, ErrConnectionNotFound))

	_, err = r.GetConnectionRecordByTheirKey("")
	require.True(t, errors.Is(err, ErrConnectionNotFound))

	require.Error(t, r.SaveConnectionRecord(nil))
	require.Error(t, r.SaveConnectionRecord(&Record{}))
}

func TestLookup_QueryConnectionRecords(t *testing.T) {
	r := newRecorder(t)

	for i, id := range []string{"c1", "c2", "c3"} {
		state := "completed"
		if i == 1 {
			state = StateInvited
		}

		require.NoError(t, r.SaveConnectionRecord(&Record{
			ConnectionID: id,
			State:        state,
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := r.QueryConnectionRecords("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c1", all[0].ConnectionID)
	require.Equal(t, "c3", all[2].ConnectionID)

	completed, err := r.QueryConnectionRecords("completed")
	require.NoError(t, err)
	require.Len(t, completed, 2)

	t.Run("query error", func(t *testing.T) {
		store := &mockstorage.MockStore{Store: map[string]mockstorage.DBEntry{}, ErrQuery: errors.New("query error")}

		rr, err := NewRecorder(mockstorage.NewCustomMockStoreProvider(store))
		require.NoError(t, err)

		_, err = rr.QueryConnectionRecords("")
		require.Error(t, err)
		require.Contains(t, err.Error(), "query error")
	})
}
