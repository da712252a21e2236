package adapters

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeBroker is an in-memory broker shared by fakeClients. Messages are
// delivered synchronously to every matching subscription.
type fakeBroker struct {
	mu       sync.RWMutex
	handlers map[string]map[*fakeClient]mqtt.MessageHandler

	// refuse makes Connect answer with this CONNACK return code.
	refuse byte

	connects int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]map[*fakeClient]mqtt.MessageHandler)}
}

func (b *fakeBroker) NewClient(options *mqtt.ClientOptions) mqtt.Client {
	return &fakeClient{broker: b, options: options}
}

func (b *fakeBroker) Refuse(code byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse = code
}

func (b *fakeBroker) Connects() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connects
}

func (b *fakeBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

type fakeClient struct {
	broker  *fakeBroker
	options *mqtt.ClientOptions

	mu        sync.Mutex
	connected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *fakeClient) Connect() mqtt.Token {
	c.broker.mu.Lock()
	c.broker.connects++
	refuse := c.broker.refuse
	c.broker.mu.Unlock()

	if refuse != 0 {
		return &fakeConnectToken{
			fakeToken:  fakeToken{err: fmt.Errorf("connection refused: code %d", refuse)},
			returnCode: refuse,
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if c.options.OnConnect != nil {
		c.options.OnConnect(c)
	}
	return &fakeConnectToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, subs := range c.broker.handlers {
		delete(subs, c)
	}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if !c.IsConnected() {
		return &fakeToken{err: mqtt.ErrNotConnected}
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		return &fakeToken{err: fmt.Errorf("unknown payload type %T", payload)}
	}

	c.broker.mu.RLock()
	type delivery struct {
		client  *fakeClient
		handler mqtt.MessageHandler
	}
	var deliveries []delivery
	for filter, subs := range c.broker.handlers {
		if !topicMatches(filter, topic) {
			continue
		}
		for client, handler := range subs {
			deliveries = append(deliveries, delivery{client: client, handler: handler})
		}
	}
	c.broker.mu.RUnlock()

	msg := &fakeMessage{topic: topic, payload: data, qos: qos, retained: retained}
	for _, d := range deliveries {
		d.handler(d.client, msg)
	}
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	if !c.IsConnected() {
		return &fakeToken{err: mqtt.ErrNotConnected}
	}

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	subs, ok := c.broker.handlers[topic]
	if !ok {
		subs = make(map[*fakeClient]mqtt.MessageHandler)
		c.broker.handlers[topic] = subs
	}
	subs[c] = callback
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if token := c.Subscribe(topic, qos, callback); token.Error() != nil {
			return token
		}
	}
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	for _, topic := range topics {
		delete(c.broker.handlers[topic], c)
	}
	return &fakeToken{}
}

func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.options)
}

var _ mqtt.Client = &fakeClient{}

// topicMatches reports whether topic matches filter with the + and #
// wildcards.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return closedChan() }
func (t *fakeToken) Error() error                   { return t.err }

type fakeConnectToken struct {
	fakeToken
	returnCode byte
}

func (t *fakeConnectToken) ReturnCode() byte     { return t.returnCode }
func (t *fakeConnectToken) SessionPresent() bool { return false }

type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
