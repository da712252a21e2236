package application

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect(ctx context.Context) (ConnectionAck, error) {
	args := m.Called(ctx)
	return args.Get(0).(ConnectionAck), args.Error(1)
}

func (m *MockMQTTClient) IsConnectedOrReconnecting() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(PublishResult), args.Error(1)
}

func (m *MockMQTTClient) Subscribe(ctx context.Context, req SubscribeRequest, onMessage func(RawMessage), onError func(error)) error {
	args := m.Called(ctx, req, onMessage, onError)
	return args.Error(0)
}

func (m *MockMQTTClient) Unsubscribe(ctx context.Context, topicFilter string) error {
	args := m.Called(ctx, topicFilter)
	return args.Error(0)
}

func (m *MockMQTTClient) Disconnect() {
	m.Called()
}

func (m *MockMQTTClient) Status() MQTTStatus {
	args := m.Called()
	return args.Get(0).(MQTTStatus)
}

var _ MQTTClient = &MockMQTTClient{}

type MockBrokerConfigStore struct {
	mock.Mock
}

func (m *MockBrokerConfigStore) Get(ctx context.Context, name string) (BrokerConfig, bool, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(BrokerConfig), args.Bool(1), args.Error(2)
}

func (m *MockBrokerConfigStore) Put(ctx context.Context, name string, cfg BrokerConfig) error {
	args := m.Called(ctx, name, cfg)
	return args.Error(0)
}

func (m *MockBrokerConfigStore) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

var _ BrokerConfigStore = &MockBrokerConfigStore{}

type MockClientProvider struct {
	mock.Mock
}

func (m *MockClientProvider) Client(ctx context.Context, name string, cfg BrokerConfig) (MQTTClient, error) {
	args := m.Called(ctx, name, cfg)

	var err error
	var client MQTTClient
	if clientInt := args.Get(0); clientInt != nil {
		client = clientInt.(MQTTClient)
	}
	if errInt := args.Get(1); errInt != nil {
		err = errInt.(error)
	}
	return client, err
}

func (m *MockClientProvider) Lookup(name string) (MQTTClient, bool) {
	args := m.Called(name)

	var client MQTTClient
	if clientInt := args.Get(0); clientInt != nil {
		client = clientInt.(MQTTClient)
	}
	return client, args.Bool(1)
}

func (m *MockClientProvider) Clients() map[string]MQTTClient {
	args := m.Called()
	return args.Get(0).(map[string]MQTTClient)
}

func (m *MockClientProvider) Evict(name string) {
	m.Called(name)
}

var _ ClientProvider = &MockClientProvider{}
