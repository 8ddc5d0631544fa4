/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package leveldb

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()

	p, err := NewProvider(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close())
	})

	return p
}

func queryKeys(t *testing.T, s storage.Store, expression string) []string {
	t.Helper()

	itr, err := s.Query(expression)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, itr.Close())
	}()

	var keys []string

	more, err := itr.Next()
	require.NoError(t, err)

	for more {
		k, err := itr.Key()
		require.NoError(t, err)

		keys = append(keys, k)

		more, err = itr.Next()
		require.NoError(t, err)
	}

	sort.Strings(keys)

	return keys
}

func TestStore_PutGetDelete(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("Test")
	require.NoError(t, err)

	require.NoError(t, s.Put("k1", []byte("v1"), storage.Tag{Name: "state", Value: "a"}))

	v, err := s.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	tags, err := s.GetTags("k1")
	require.NoError(t, err)
	require.Equal(t, []storage.Tag{{Name: "state", Value: "a"}}, tags)

	values, err := s.GetBulk("k1", "missing")
	require.NoError(t, err)
	require.Equal(t, "v1", string(values[0]))
	require.Nil(t, values[1])

	require.NoError(t, s.Delete("k1"))

	_, err = s.Get("k1")
	require.True(t, errors.Is(err, storage.ErrDataNotFound))
	require.Empty(t, queryKeys(t, s, "state"))

	require.Error(t, s.Put("", []byte("v")))
	require.Error(t, s.Put("k", nil))
	require.Error(t, s.Put("k", []byte("v"), storage.Tag{Name: "a:b"}))
	require.Error(t, s.Put("k", []byte("v"), storage.Tag{Name: "a", Value: "b:c"}))
}

func TestStore_Query(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("query")
	require.NoError(t, err)

	require.NoError(t, s.Put("k1", []byte("1"), storage.Tag{Name: "state", Value: "a"}, storage.Tag{Name: "conn"}))
	require.NoError(t, s.Put("k2", []byte("2"), storage.Tag{Name: "state", Value: "b"}, storage.Tag{Name: "conn"}))
	require.NoError(t, s.Put("k3", []byte("3"), storage.Tag{Name: "state", Value: "a"}))

	require.Equal(t, []string{"k1", "k3"}, queryKeys(t, s, "state:a"))
	require.Equal(t, []string{"k1", "k2"}, queryKeys(t, s, "conn"))

	// retagging drops the old index entries
	require.NoError(t, s.Put("k1", []byte("1"), storage.Tag{Name: "state", Value: "b"}))
	require.Equal(t, []string{"k3"}, queryKeys(t, s, "state:a"))
	require.Equal(t, []string{"k2"}, queryKeys(t, s, "conn"))

	// stores are isolated
	other, err := p.OpenStore("other")
	require.NoError(t, err)
	require.Empty(t, queryKeys(t, other, "state"))

	_, err = s.Query("")
	require.Error(t, err)

	_, err = s.Query("a:b:c")
	require.Error(t, err)

	_, err = s.Query("state", storage.WithInitialPageNum(1))
	require.Error(t, err)
}

func TestStore_Batch(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("batch")
	require.NoError(t, err)

	require.NoError(t, s.Put("k1", []byte("1"), storage.Tag{Name: "conn", Value: "c1"}))

	require.NoError(t, s.Batch([]storage.Operation{
		{Key: "k2", Value: []byte("2"), Tags: []storage.Tag{{Name: "conn", Value: "c1"}}},
		{Key: "k1"},
		{Key: "k3", Value: []byte("3"), Tags: []storage.Tag{{Name: "conn", Value: "c2"}}},
		{Key: "k3"},
	}))

	require.Equal(t, []string{"k2"}, queryKeys(t, s, "conn:c1"))
	require.Empty(t, queryKeys(t, s, "conn:c2"))

	_, err = s.Get("k3")
	require.True(t, errors.Is(err, storage.ErrDataNotFound))

	t.Run("invalid operation rejects the whole batch", func(t *testing.T) {
		err := s.Batch([]storage.Operation{
			{Key: "k4", Value: []byte("4")},
			{Key: ""},
		})
		require.Error(t, err)

		_, err = s.Get("k4")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))
	})

	require.Error(t, s.Batch(nil))
}

func TestProvider_StoreConfig(t *testing.T) {
	p := newProvider(t)

	require.True(t, errors.Is(p.SetStoreConfig("missing", storage.StoreConfiguration{}), storage.ErrStoreNotFound))

	_, err := p.OpenStore("cfg")
	require.NoError(t, err)

	_, err = p.OpenStore("")
	require.Error(t, err)

	require.Error(t, p.SetStoreConfig("cfg", storage.StoreConfiguration{TagNames: []string{"a:b"}}))
	require.NoError(t, p.SetStoreConfig("cfg", storage.StoreConfiguration{TagNames: []string{"state"}}))

	config, err := p.GetStoreConfig("CFG")
	require.NoError(t, err)
	require.Equal(t, []string{"state"}, config.TagNames)

	require.Len(t, p.GetOpenStores(), 1)
}

func TestProvider_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	p, err := NewProvider(path)
	require.NoError(t, err)

	s, err := p.OpenStore("persist")
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v"), storage.Tag{Name: "t", Value: "x"}))
	require.NoError(t, s.Close())
	require.Empty(t, p.GetOpenStores())
	require.NoError(t, p.Close())

	p, err = NewProvider(path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, p.Close())
	}()

	s, err = p.OpenStore("persist")
	require.NoError(t, err)

	v, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
	require.Equal(t, []string{"k"}, queryKeys(t, s, "t:x"))
}
