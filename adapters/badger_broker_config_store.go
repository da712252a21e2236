package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mqtt-gateway/application"

	"github.com/dgraph-io/badger/v4"
)

const brokerKeyPrefix = "broker:"

// BadgerBrokerConfigStore keeps broker configs in BadgerDB.
//
// Key format: broker:{name}, value: JSON encoded application.BrokerConfig.
type BadgerBrokerConfigStore struct {
	db *badger.DB
}

func OpenBadgerBrokerConfigStore(dir string) (*BadgerBrokerConfigStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker config store: %w", err)
	}
	return NewBadgerBrokerConfigStore(db), nil
}

func NewBadgerBrokerConfigStore(db *badger.DB) *BadgerBrokerConfigStore {
	return &BadgerBrokerConfigStore{db: db}
}

func (b *BadgerBrokerConfigStore) Get(ctx context.Context, name string) (application.BrokerConfig, bool, error) {
	var cfg application.BrokerConfig
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(brokerKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cfg)
		})
	})
	if err != nil {
		return application.BrokerConfig{}, false, err
	}

	return cfg, found, nil
}

func (b *BadgerBrokerConfigStore) Put(ctx context.Context, name string, cfg application.BrokerConfig) error {
	if name == "" {
		return nil
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal broker config: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(brokerKey(name), data)
	})
}

func (b *BadgerBrokerConfigStore) Delete(ctx context.Context, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(brokerKey(name))
	})
}

func (b *BadgerBrokerConfigStore) Close() error {
	return b.db.Close()
}

func brokerKey(name string) []byte {
	return []byte(brokerKeyPrefix + name)
}

var _ application.BrokerConfigStore = &BadgerBrokerConfigStore{}
