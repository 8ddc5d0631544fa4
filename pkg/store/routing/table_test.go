/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package routing

import (
	"errors"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mock/storage"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T) *Table {
	t.Helper()

	table, err := NewTable(mem.NewProvider())
	require.NoError(t, err)

	return table
}

func TestTable_SaveFindRemove(t *testing.T) {
	table := newTable(t)

	require.NoError(t, table.SaveRoute("conn-1", "K1"))

	connID, err := table.FindRecipient("K1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", connID)

	require.True(t, errors.Is(table.SaveRoute("conn-1", "K1"), ErrRouteExists))
	require.True(t, errors.Is(table.SaveRoute("conn-2", "K1"), ErrRouteClaimed))
	require.True(t, errors.Is(table.RemoveRoute("conn-2", "K1"), ErrRouteClaimed))

	connID, err = table.FindRecipient("K1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", connID)

	require.NoError(t, table.RemoveRoute("conn-1", "K1"))
	require.True(t, errors.Is(table.RemoveRoute("conn-1", "K1"), ErrRouteNotFound))

	_, err = table.FindRecipient("K1")
	require.True(t, errors.Is(err, ErrRouteNotFound))

	_, err = table.FindRecipient("")
	require.True(t, errors.Is(err, ErrRouteNotFound))
}

func TestTable_Apply(t *testing.T) {
	t.Run("results preserve order and failures are isolated", func(t *testing.T) {
		table := newTable(t)
		require.NoError(t, table.SaveRoute("conn-2", "K9"))

		results, err := table.Apply("conn-1", []Update{
			{RecipientKey: "K1", Action: ActionAdd},
			{RecipientKey: "K9", Action: ActionAdd},
			{RecipientKey: "K2", Action: ActionAdd},
			{RecipientKey: "K3", Action: ActionRemove},
			{RecipientKey: "K9", Action: ActionRemove},
			{RecipientKey: "K4", Action: "rotate"},
		})
		require.NoError(t, err)
		require.Len(t, results, 6)
		require.NoError(t, results[0])
		require.True(t, errors.Is(results[1], ErrRouteClaimed))
		require.NoError(t, results[2])
		require.True(t, errors.Is(results[3], ErrRouteNotFound))
		require.True(t, errors.Is(results[4], ErrRouteClaimed))
		require.Error(t, results[5])

		keys, err := table.Keys("conn-1")
		require.NoError(t, err)
		require.Equal(t, []string{"K1", "K2"}, keys)

		keys, err = table.Keys("conn-2")
		require.NoError(t, err)
		require.Equal(t, []string{"K9"}, keys)
	})

	t.Run("updates fold in submission order", func(t *testing.T) {
		table := newTable(t)

		results, err := table.Apply("conn-1", []Update{
			{RecipientKey: "K1", Action: ActionAdd},
			{RecipientKey: "K1", Action: ActionAdd},
			{RecipientKey: "K1", Action: ActionRemove},
			{RecipientKey: "K1", Action: ActionRemove},
			{RecipientKey: "K2", Action: ActionAdd},
		})
		require.NoError(t, err)
		require.NoError(t, results[0])
		require.True(t, errors.Is(results[1], ErrRouteExists))
		require.NoError(t, results[2])
		require.True(t, errors.Is(results[3], ErrRouteNotFound))
		require.NoError(t, results[4])

		_, err = table.FindRecipient("K1")
		require.True(t, errors.Is(err, ErrRouteNotFound))

		keys, err := table.Keys("conn-1")
		require.NoError(t, err)
		require.Equal(t, []string{"K2"}, keys)
	})

	t.Run("storage failure applies nothing", func(t *testing.T) {
		store := &mockstorage.MockStore{Store: map[string]mockstorage.DBEntry{}, ErrBatch: errors.New("batch error")}

		table, err := NewTable(mockstorage.NewCustomMockStoreProvider(store))
		require.NoError(t, err)

		_, err = table.Apply("conn-1", []Update{{RecipientKey: "K1", Action: ActionAdd}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "batch error")

		_, err = table.FindRecipient("K1")
		require.True(t, errors.Is(err, ErrRouteNotFound))
	})

	t.Run("connection id is mandatory", func(t *testing.T) {
		_, err := newTable(t).Apply("", nil)
		require.Error(t, err)
	})
}

func TestNewTable_Errors(t *testing.T) {
	_, err := NewTable(&mockstorage.MockStoreProvider{ErrOpenStoreHandle: errors.New("open error")})
	require.Error(t, err)

	p := mockstorage.NewMockStoreProvider()
	p.ErrSetStoreConfig = errors.New("config error")

	_, err = NewTable(p)
	require.Error(t, err)
}
