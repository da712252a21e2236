package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"mqtt-gateway/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const MQTTDefaultClientIDPrefix = "mqtt-gateway"

var ErrInvalidBrokerConfig = fmt.Errorf("invalid broker config")

type MQTTClientProviderParams struct {
	ClientIDPrefix string
	Username       string
	Password       string
	TLS            bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientProviderParams) EnsureDefaults() {
	if m.ClientIDPrefix == "" {
		m.ClientIDPrefix = MQTTDefaultClientIDPrefix
	}
}

type cachedClient struct {
	cfg    application.BrokerConfig
	client *MQTTClient
}

// MQTTClientProvider keeps one paho client per broker name. A client is
// replaced, and the old one disconnected, when the broker config for its
// name changes.
type MQTTClientProvider struct {
	params MQTTClientProviderParams

	mu      sync.Mutex
	clients map[string]cachedClient

	log zerolog.Logger
}

func NewMQTTClientProvider(params MQTTClientProviderParams) *MQTTClientProvider {
	params.EnsureDefaults()

	return &MQTTClientProvider{
		params:  params,
		clients: make(map[string]cachedClient),
		log:     params.Log,
	}
}

func (p *MQTTClientProvider) Client(ctx context.Context, name string, cfg application.BrokerConfig) (application.MQTTClient, error) {
	if cfg.HostName == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: %s:%d", ErrInvalidBrokerConfig, cfg.HostName, cfg.Port)
	}

	p.mu.Lock()
	cached, ok := p.clients[name]
	if ok && cached.cfg == cfg {
		p.mu.Unlock()
		return cached.client, nil
	}

	client := p.newClient(name, cfg)
	p.clients[name] = cachedClient{cfg: cfg, client: client}
	p.mu.Unlock()

	if ok {
		p.log.Info().Str("broker", name).Msg("broker config changed, replacing client")
		cached.client.Disconnect()
	}
	return client, nil
}

func (p *MQTTClientProvider) Lookup(name string) (application.MQTTClient, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, ok := p.clients[name]
	if !ok {
		return nil, false
	}
	return cached.client, true
}

func (p *MQTTClientProvider) Clients() map[string]application.MQTTClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	clients := make(map[string]application.MQTTClient, len(p.clients))
	for name, cached := range p.clients {
		clients[name] = cached.client
	}
	return clients
}

func (p *MQTTClientProvider) Evict(name string) {
	p.mu.Lock()
	cached, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()

	if ok {
		p.log.Info().Str("broker", name).Msg("evicting client")
		cached.client.Disconnect()
	}
}

// Close disconnects every cached client.
func (p *MQTTClientProvider) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]cachedClient)
	p.mu.Unlock()

	var wg conc.WaitGroup
	for _, cached := range clients {
		client := cached.client
		wg.Go(client.Disconnect)
	}
	wg.Wait()
}

func (p *MQTTClientProvider) newClient(name string, cfg application.BrokerConfig) *MQTTClient {
	var tlsConfig *tls.Config
	if p.params.TLS {
		tlsConfig = &tls.Config{
			ServerName: cfg.HostName,
			MinVersion: tls.VersionTLS12,
		}
	}

	clientID := p.params.ClientIDPrefix + "-" + uuid.NewString()
	brokerURL := BrokerURL(cfg, p.params.TLS)

	p.log.Debug().
		Str("broker", name).
		Str("client_id", clientID).
		Str("url", brokerURL).
		Msg("creating client")

	return NewMQTTClient(MQTTClientParams{
		ClientID:       clientID,
		Username:       p.params.Username,
		Password:       p.params.Password,
		BrokerURL:      brokerURL,
		TLSConfig:      tlsConfig,
		ConnectTimeout: p.params.ConnectTimeout,
		PublishTimeout: p.params.PublishTimeout,
		NewClientFunc:  p.params.NewClientFunc,
		Log: p.log.With().
			Str("broker", name).
			Str("client_id", clientID).
			Logger(),
	})
}

func BrokerURL(cfg application.BrokerConfig, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(cfg.HostName, strconv.Itoa(cfg.Port))
}

var _ application.ClientProvider = &MQTTClientProvider{}
