package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mqtt-gateway/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	MQTTDefaultConnectTimeout    = 30 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultSubscribeTimeout  = 5 * time.Second
	MQTTDefaultDisconnectQuiesce = 250 // milliseconds
)

var (
	ErrMQTTNotConnected     = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout   = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout   = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
	ErrMQTTConnectionLost   = fmt.Errorf("connection lost")
	ErrMQTTClientClosed     = fmt.Errorf("client closed")
)

type MQTTClientParams struct {
	ClientID  string
	Username  string
	Password  string
	BrokerURL string
	TLSConfig *tls.Config

	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient adapts a paho client to application.MQTTClient.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	connected          uint64
	closed             atomic.Bool
	msgCount           uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	mu            sync.Mutex
	subscriptions map[string]func(error)

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{
		params:        params,
		subscriptions: make(map[string]func(error)),
		log:           params.Log,
	}
	m.client = m.newMqttClient()

	t := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&t)

	return m
}

// Connect fails with ErrMQTTClientClosed once Disconnect has been called, so
// a client dropped by its provider is never brought back by a late caller.
func (m *MQTTClient) Connect(ctx context.Context) (application.ConnectionAck, error) {
	if m.closed.Load() {
		return application.ConnectionAck{}, ErrMQTTClientClosed
	}

	token := m.client.Connect()
	if err := waitToken(ctx, token, m.params.ConnectTimeout, ErrMQTTConnectTimeout); err != nil {
		return connectionAck(token), err
	}

	ack := connectionAck(token)
	if err := token.Error(); err != nil {
		m.log.Warn().Err(err).Str("reason", connackReason(ack.ReasonCode)).Msg("connect rejected")
		return ack, err
	}

	atomic.StoreUint64(&m.connected, 1)
	return ack, nil
}

// IsConnectedOrReconnecting follows paho semantics: true while connected and
// while an automatic reconnect is in progress.
func (m *MQTTClient) IsConnectedOrReconnecting() bool {
	return m.client.IsConnected()
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) Publish(ctx context.Context, req application.PublishRequest) (application.PublishResult, error) {
	if !m.IsConnectedOrReconnecting() {
		return application.PublishResult{}, ErrMQTTNotConnected
	}

	token := m.client.Publish(req.Topic, byte(req.QoS), req.Retain, req.Payload)
	if err := waitToken(ctx, token, m.params.PublishTimeout, ErrMQTTPublishTimeout); err != nil {
		return application.PublishResult{}, err
	}
	if err := token.Error(); err != nil {
		return application.PublishResult{}, err
	}

	t := time.Now()
	m.msgCountUpdateTime.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)

	return application.PublishResult{
		Topic:    req.Topic,
		Payload:  req.Payload,
		QoS:      req.QoS,
		Retained: req.Retain,
	}, nil
}

func (m *MQTTClient) Subscribe(ctx context.Context, req application.SubscribeRequest, onMessage func(application.RawMessage), onError func(error)) error {
	if m.closed.Load() {
		return ErrMQTTClientClosed
	}

	token := m.client.Subscribe(req.TopicFilter, byte(req.QoS), func(client mqtt.Client, msg mqtt.Message) {
		onMessage(application.RawMessage{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       application.QoS(msg.Qos()),
			Duplicate: msg.Duplicate(),
			Retained:  msg.Retained(),
		})
	})
	if err := waitToken(ctx, token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout); err != nil {
		return err
	}
	if err := token.Error(); err != nil {
		return err
	}

	m.mu.Lock()
	m.subscriptions[req.TopicFilter] = onError
	m.mu.Unlock()
	return nil
}

func (m *MQTTClient) Unsubscribe(ctx context.Context, topicFilter string) error {
	m.mu.Lock()
	delete(m.subscriptions, topicFilter)
	m.mu.Unlock()

	token := m.client.Unsubscribe(topicFilter)
	if err := waitToken(ctx, token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout); err != nil {
		return err
	}
	return token.Error()
}

// Disconnect closes the client for good. Open subscriptions are failed before
// it returns.
func (m *MQTTClient) Disconnect() {
	m.closed.Store(true)
	m.failSubscriptions(ErrMQTTClientClosed, true)
	m.client.Disconnect(MQTTDefaultDisconnectQuiesce)
	atomic.StoreUint64(&m.connected, 0)
	m.log.Info().Msg("disconnected from the broker")
}

func (m *MQTTClient) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	m.log.Debug().Str("topic", msg.Topic()).Msg("message without subscription")
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
	m.failSubscriptions(fmt.Errorf("%w: %v", ErrMQTTConnectionLost, err), false)
}

func (m *MQTTClient) OnReconnecting(client mqtt.Client, options *mqtt.ClientOptions) {
	m.log.Warn().Msg("trying to reconnect to the broker")
}

// failSubscriptions drops every tracked filter and reports err to its owner.
// Owners unsubscribe in response, so they are notified off the caller's
// goroutine; wait blocks until every owner has handled the failure. Paho
// callbacks must not wait.
func (m *MQTTClient) failSubscriptions(err error, wait bool) {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]func(error))
	m.mu.Unlock()

	var wg conc.WaitGroup
	for _, onError := range subs {
		wg.Go(func() { onError(err) })
	}
	if wait {
		wg.Wait()
		return
	}
	go wg.Wait()
}

func (m *MQTTClient) newMqttClient() mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.BrokerURL)
	opts.SetClientID(m.params.ClientID)
	opts.SetUsername(m.params.Username)
	opts.SetPassword(m.params.Password)
	if m.params.TLSConfig != nil {
		opts.SetTLSConfig(m.params.TLSConfig)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost
	opts.OnReconnecting = m.OnReconnecting

	return m.params.NewClientFunc(opts)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.C:
		return timeoutErr
	case <-token.Done():
		return nil
	}
}

type connAckToken interface {
	ReturnCode() byte
	SessionPresent() bool
}

func connectionAck(token mqtt.Token) application.ConnectionAck {
	ct, ok := token.(connAckToken)
	if !ok {
		return application.ConnectionAck{ReasonCode: application.ReasonCodeSuccess}
	}
	return application.ConnectionAck{
		ReasonCode:     application.ReasonCode(ct.ReturnCode()),
		SessionPresent: ct.SessionPresent(),
	}
}

func connackReason(code application.ReasonCode) string {
	if reason, ok := packets.ConnackReturnCodes[byte(code)]; ok {
		return reason
	}
	return code.String()
}

var _ application.MQTTClient = &MQTTClient{}
