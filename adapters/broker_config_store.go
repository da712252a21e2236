package adapters

import (
	"context"
	"sync"

	"mqtt-gateway/application"
)

type MemoryBrokerConfigStore struct {
	mu      sync.RWMutex
	configs map[string]application.BrokerConfig
}

func NewMemoryBrokerConfigStore() *MemoryBrokerConfigStore {
	return &MemoryBrokerConfigStore{configs: make(map[string]application.BrokerConfig)}
}

func (m *MemoryBrokerConfigStore) Get(ctx context.Context, name string) (application.BrokerConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[name]
	return cfg, ok, nil
}

// Put ignores an empty broker name.
func (m *MemoryBrokerConfigStore) Put(ctx context.Context, name string, cfg application.BrokerConfig) error {
	if name == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[name] = cfg
	return nil
}

func (m *MemoryBrokerConfigStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.configs, name)
	return nil
}

var _ application.BrokerConfigStore = &MemoryBrokerConfigStore{}
