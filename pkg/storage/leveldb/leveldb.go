/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package leveldb is a persistent storage.Provider. All stores of a provider share one LevelDB database; every
// store owns a key prefix and keeps an index entry per tag so tag queries never scan values.
package leveldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	sep = "\x00"

	dataPrefix   = "d"
	indexPrefix  = "t"
	configPrefix = "c"

	invalidTagName                  = `"%s" is an invalid tag name since it contains one or more ':' characters`
	invalidTagValue                 = `"%s" is an invalid tag value since it contains one or more ':' characters`
	expressionTagNameOnlyLength     = 1
	expressionTagNameAndValueLength = 2
	invalidQueryExpressionFormat    = `"%s" is not in a valid expression format. ` +
		"it must be in the following format: TagName:TagValue"
)

var logger = log.New("didrelay/storage/leveldb")

// Provider is a LevelDB implementation of the storage.Provider interface.
type Provider struct {
	db   *leveldb.DB
	dbs  map[string]*store
	lock sync.RWMutex
}

type dbEntry struct {
	Value []byte        `json:"value,omitempty"`
	Tags  []storage.Tag `json:"tags,omitempty"`
}

// NewProvider opens (creating if needed) the database at dbPath.
func NewProvider(dbPath string) (*Provider, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", dbPath, err)
	}

	logger.Infof("opened leveldb storage at %s", dbPath)

	return &Provider{db: db, dbs: make(map[string]*store)}, nil
}

// OpenStore opens and returns a store for given name space.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name cannot be blank")
	}

	name = strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	if s, ok := p.dbs[name]; ok {
		return s, nil
	}

	s := &store{db: p.db, name: name, close: p.removeStore}
	p.dbs[name] = s

	return s, nil
}

// SetStoreConfig saves the store config for later retrieval. The store must be open.
func (p *Provider) SetStoreConfig(name string, config storage.StoreConfiguration) error {
	for _, tagName := range config.TagNames {
		if strings.Contains(tagName, ":") {
			return fmt.Errorf(invalidTagName, tagName)
		}
	}

	name = strings.ToLower(name)

	if p.getStore(name) == nil {
		return storage.ErrStoreNotFound
	}

	configBytes, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal store configuration: %w", err)
	}

	return p.db.Put([]byte(configPrefix+sep+name), configBytes, nil)
}

// GetStoreConfig returns the current store configuration.
func (p *Provider) GetStoreConfig(name string) (storage.StoreConfiguration, error) {
	name = strings.ToLower(name)

	if p.getStore(name) == nil {
		return storage.StoreConfiguration{}, storage.ErrStoreNotFound
	}

	configBytes, err := p.db.Get([]byte(configPrefix+sep+name), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return storage.StoreConfiguration{}, storage.ErrDataNotFound
		}

		return storage.StoreConfiguration{}, fmt.Errorf(`failed to get store configuration for "%s": %w`, name, err)
	}

	var config storage.StoreConfiguration

	if err = json.Unmarshal(configBytes, &config); err != nil {
		return storage.StoreConfiguration{}, fmt.Errorf("failed to unmarshal store configuration: %w", err)
	}

	return config, nil
}

// GetOpenStores returns all Stores currently open in the Provider.
func (p *Provider) GetOpenStores() []storage.Store {
	p.lock.RLock()
	defer p.lock.RUnlock()

	openStores := make([]storage.Store, 0, len(p.dbs))
	for _, s := range p.dbs {
		openStores = append(openStores, s)
	}

	return openStores
}

// Close closes all stores and the underlying database.
func (p *Provider) Close() error {
	p.lock.Lock()
	p.dbs = make(map[string]*store)
	p.lock.Unlock()

	return p.db.Close()
}

func (p *Provider) getStore(name string) *store {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.dbs[name]
}

func (p *Provider) removeStore(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	delete(p.dbs, name)
}

type store struct {
	db    *leveldb.DB
	name  string
	close func(name string)
	// lock serializes writes, which read the previous tags to maintain the index
	lock sync.Mutex
}

func (s *store) dataKey(key string) []byte {
	return []byte(dataPrefix + sep + s.name + sep + key)
}

func (s *store) indexKey(tagName, key string) []byte {
	return []byte(indexPrefix + sep + s.name + sep + tagName + sep + key)
}

func (s *store) indexPrefix(tagName string) []byte {
	return []byte(indexPrefix + sep + s.name + sep + tagName + sep)
}

// Put stores the key and the record.
func (s *store) Put(key string, value []byte, tags ...storage.Tag) error {
	if value == nil {
		return errors.New("value cannot be nil")
	}

	return s.Batch([]storage.Operation{{Key: key, Value: value, Tags: tags}})
}

// Get fetches the record based on key.
func (s *store) Get(key string) ([]byte, error) {
	entry, err := s.getDBEntry(key)
	if err != nil {
		return nil, err
	}

	return entry.Value, nil
}

// GetTags fetches the tags associated with key.
func (s *store) GetTags(key string) ([]storage.Tag, error) {
	entry, err := s.getDBEntry(key)
	if err != nil {
		return nil, err
	}

	return entry.Tags, nil
}

// GetBulk fetches the values of keys, nil for missing keys.
func (s *store) GetBulk(keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, errors.New("keys slice must contain at least one key")
	}

	values := make([][]byte, len(keys))

	for i, key := range keys {
		v, err := s.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrDataNotFound) {
				continue
			}

			return nil, fmt.Errorf("unexpected failure while retrieving the value stored under %s: %w", key, err)
		}

		values[i] = v
	}

	return values, nil
}

// Query returns the records matching "TagName" or "TagName:TagValue". Query options are not supported apart from
// the page size, which is ignored.
func (s *store) Query(expression string, options ...storage.QueryOption) (storage.Iterator, error) {
	var opts storage.QueryOptions

	for _, option := range options {
		option(&opts)
	}

	if opts.InitialPageNum != 0 || opts.SortOptions != nil {
		return nil, errors.New("levelDB provider does not support paging or sorting query results")
	}

	split := strings.Split(expression, ":")
	if expression == "" || len(split) > expressionTagNameAndValueLength {
		return nil, fmt.Errorf(invalidQueryExpressionFormat, expression)
	}

	tagName := split[0]

	var tagValue string
	if len(split) == expressionTagNameAndValueLength {
		tagValue = split[1]
	}

	prefix := s.indexPrefix(tagName)

	itr := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer itr.Release()

	var keys []string

	for itr.Next() {
		if len(split) == expressionTagNameOnlyLength || string(itr.Value()) == tagValue {
			keys = append(keys, string(itr.Key()[len(prefix):]))
		}
	}

	if err := itr.Error(); err != nil {
		return nil, fmt.Errorf("iterate tag index: %w", err)
	}

	return &iterator{keys: keys, store: s}, nil
}

// Delete will delete record with key.
func (s *store) Delete(key string) error {
	return s.Batch([]storage.Operation{{Key: key}})
}

// Batch applies operations in order and atomically. A nil value deletes the key.
func (s *store) Batch(operations []storage.Operation) error {
	if len(operations) == 0 {
		return errors.New("batch requires at least one operation")
	}

	for _, op := range operations {
		if err := validate(op); err != nil {
			return err
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	batch := new(leveldb.Batch)
	// pending holds the tags written earlier in this batch, the database does not see them yet
	pending := make(map[string][]storage.Tag)

	for _, op := range operations {
		previous, ok := pending[op.Key]
		if !ok {
			entry, err := s.getDBEntry(op.Key)

			switch {
			case err == nil:
				previous = entry.Tags
			case !errors.Is(err, storage.ErrDataNotFound):
				return fmt.Errorf("read %s: %w", op.Key, err)
			}
		}

		for _, t := range previous {
			batch.Delete(s.indexKey(t.Name, op.Key))
		}

		if op.Value == nil {
			batch.Delete(s.dataKey(op.Key))
			pending[op.Key] = nil

			continue
		}

		entryBytes, err := json.Marshal(dbEntry{Value: op.Value, Tags: op.Tags})
		if err != nil {
			return fmt.Errorf("failed to marshal new DB entry: %w", err)
		}

		batch.Put(s.dataKey(op.Key), entryBytes)

		for _, t := range op.Tags {
			batch.Put(s.indexKey(t.Name, op.Key), []byte(t.Value))
		}

		pending[op.Key] = op.Tags
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	return nil
}

func validate(op storage.Operation) error {
	if op.Key == "" {
		return errors.New("key cannot be blank")
	}

	for _, tag := range op.Tags {
		if strings.Contains(tag.Name, ":") {
			return fmt.Errorf(invalidTagName, tag.Name)
		}

		if strings.Contains(tag.Value, ":") {
			return fmt.Errorf(invalidTagValue, tag.Value)
		}
	}

	return nil
}

// Flush is a no-op, writes are not queued.
func (s *store) Flush() error {
	return nil
}

// Close removes the store from its provider. The shared database stays open until the provider is closed.
func (s *store) Close() error {
	s.close(s.name)

	return nil
}

func (s *store) getDBEntry(key string) (dbEntry, error) {
	if key == "" {
		return dbEntry{}, errors.New("key cannot be blank")
	}

	raw, err := s.db.Get(s.dataKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return dbEntry{}, storage.ErrDataNotFound
		}

		return dbEntry{}, err
	}

	var entry dbEntry

	if err = json.Unmarshal(raw, &entry); err != nil {
		return dbEntry{}, fmt.Errorf("failed to unmarshal retrieved DB entry: %w", err)
	}

	return entry, nil
}

type iterator struct {
	keys         []string
	currentIndex int
	currentKey   string
	store        *store
}

func (i *iterator) Next() (bool, error) {
	if i.currentIndex >= len(i.keys) {
		return false, nil
	}

	i.currentKey = i.keys[i.currentIndex]
	i.currentIndex++

	return true, nil
}

func (i *iterator) Key() (string, error) {
	return i.currentKey, nil
}

func (i *iterator) Value() ([]byte, error) {
	value, err := i.store.Get(i.currentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get value from store: %w", err)
	}

	return value, nil
}

func (i *iterator) Tags() ([]storage.Tag, error) {
	tags, err := i.store.GetTags(i.currentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags from store: %w", err)
	}

	return tags, nil
}

func (i *iterator) TotalItems() (int, error) {
	return len(i.keys), nil
}

func (i *iterator) Close() error {
	return nil
}
