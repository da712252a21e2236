package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const DefaultReportInterval = 30 * time.Second

const maxListenAttempts = 3

type GatewayService interface {
	PutBrokerConfig(ctx context.Context, name string, cfg BrokerConfig) error
	GetBrokerConfig(ctx context.Context, name string) (BrokerConfig, bool, error)
	DeleteBrokerConfig(ctx context.Context, name string) error

	Publish(ctx context.Context, broker string, topic string, message string) error
	Subscribe(ctx context.Context, broker string, topic string) (*Listener, error)
	Status(broker string) (MQTTStatus, bool)

	Run(ctx context.Context) error
}

type GatewayServiceParams struct {
	Store    BrokerConfigStore
	Provider ClientProvider

	Connection   *ConnectionWorkflow
	Publisher    *PublishWorkflow
	Subscription *SubscriptionWorkflow

	ReportInterval time.Duration

	Log zerolog.Logger
}

func (g *GatewayServiceParams) EnsureDefaults() {
	if g.Connection == nil {
		params := DefaultConnectionWorkflowParams()
		params.Log = g.Log.With().Str("module", "connection-workflow").Logger()
		g.Connection = NewConnectionWorkflow(params)
	}

	if g.Publisher == nil {
		g.Publisher = NewPublishWorkflow(PublishWorkflowParams{
			Log: g.Log.With().Str("module", "publish-workflow").Logger(),
		})
	}

	if g.Subscription == nil {
		g.Subscription = NewSubscriptionWorkflow(SubscriptionWorkflowParams{
			Log: g.Log.With().Str("module", "subscription-workflow").Logger(),
		})
	}

	if g.ReportInterval <= 0 {
		g.ReportInterval = DefaultReportInterval
	}
}

type gatewayService struct {
	params GatewayServiceParams

	subsMu sync.Mutex
	subs   map[subscriptionKey]*Subscription
	group  singleflight.Group

	log zerolog.Logger
}

// subscriptionKey ties a subscription to the client it was opened on, so a
// client replaced after a config change never shares subscriptions with its
// successor.
type subscriptionKey struct {
	client MQTTClient
	broker string
	topic  string
}

func (k subscriptionKey) String() string {
	return fmt.Sprintf("%s\x00%s\x00%p", k.broker, k.topic, k.client)
}

func NewGatewayService(params GatewayServiceParams) (GatewayService, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("Store is nil")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("Provider is nil")
	}
	params.EnsureDefaults()

	return &gatewayService{
		params: params,
		subs:   make(map[subscriptionKey]*Subscription),
		log:    params.Log,
	}, nil
}

// PutBrokerConfig stores cfg under name. A blank name or host name is
// ignored.
func (g *gatewayService) PutBrokerConfig(ctx context.Context, name string, cfg BrokerConfig) error {
	if name == "" || cfg.HostName == "" {
		return nil
	}
	return g.params.Store.Put(ctx, name, cfg)
}

func (g *gatewayService) GetBrokerConfig(ctx context.Context, name string) (BrokerConfig, bool, error) {
	return g.params.Store.Get(ctx, name)
}

// DeleteBrokerConfig removes the config and drops the cached client, which
// also ends its open subscriptions.
func (g *gatewayService) DeleteBrokerConfig(ctx context.Context, name string) error {
	if err := g.params.Store.Delete(ctx, name); err != nil {
		return err
	}
	g.params.Provider.Evict(name)
	return nil
}

func (g *gatewayService) Publish(ctx context.Context, broker string, topic string, message string) error {
	if message == "" {
		return nil
	}

	log := g.log.With().Str("broker", broker).Str("topic", topic).Logger()

	client, err := g.acquire(ctx, "publish", broker)
	if err != nil {
		return err
	}

	ack, err := g.params.Connection.EnsureConnected(ctx, client)
	if err != nil {
		log.Error().Err(err).Msg("connecting publisher failed")
		return &BrokerError{Op: "connect", Broker: broker, Err: err}
	}
	if !ack.AlreadyConnected {
		log.Info().Stringer("reason_code", ack.ReasonCode).Msg("connecting publisher received ACK code")
	}

	if _, err := g.params.Publisher.Publish(ctx, client, message, topic); err != nil {
		return &BrokerError{Op: "publish", Broker: broker, Err: err}
	}
	return nil
}

// Subscribe returns a listener on the (broker, topic) subscription, opening
// the engine subscription if none is active. The listener is closed when ctx
// is done.
func (g *gatewayService) Subscribe(ctx context.Context, broker string, topic string) (*Listener, error) {
	log := g.log.With().Str("broker", broker).Str("topic", topic).Logger()

	client, err := g.acquire(ctx, "subscribe", broker)
	if err != nil {
		return nil, err
	}

	ack, err := g.params.Connection.EnsureConnected(ctx, client)
	if err != nil {
		log.Error().Err(err).Msg("connecting subscriber failed")
		return nil, &BrokerError{Op: "connect", Broker: broker, Err: err}
	}
	if !ack.AlreadyConnected {
		log.Info().Stringer("reason_code", ack.ReasonCode).Msg("connecting subscriber to broker received ACK code")
	}

	key := subscriptionKey{client: client, broker: broker, topic: topic}
	for i := 0; i < maxListenAttempts; i++ {
		sub, err := g.subscription(ctx, key)
		if err != nil {
			return nil, &BrokerError{Op: "subscribe", Broker: broker, Err: err}
		}

		l, err := sub.Listen(ctx)
		if errors.Is(err, ErrSubscriptionClosed) {
			continue
		}
		if err != nil {
			return nil, &BrokerError{Op: "subscribe", Broker: broker, Err: err}
		}
		return l, nil
	}

	return nil, &BrokerError{
		Op:     "subscribe",
		Broker: broker,
		Err:    &SubscriptionError{TopicFilter: topic, Err: ErrSubscriptionClosed},
	}
}

func (g *gatewayService) subscription(ctx context.Context, key subscriptionKey) (*Subscription, error) {
	sub, err := g.activeSubscription(ctx, key)
	if err != nil || sub != nil {
		return sub, err
	}

	v, err, _ := g.group.Do(key.String(), func() (any, error) {
		sub, err := g.activeSubscription(ctx, key)
		if err != nil || sub != nil {
			return sub, err
		}

		sub, err = g.params.Subscription.Subscribe(ctx, key.client, key.topic)
		if err != nil {
			return nil, err
		}

		g.subsMu.Lock()
		g.subs[key] = sub
		g.subsMu.Unlock()

		sub.OnClose(func() {
			g.subsMu.Lock()
			defer g.subsMu.Unlock()
			if g.subs[key] == sub {
				delete(g.subs, key)
			}
		})
		return sub, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Subscription), nil
}

// activeSubscription returns the open subscription for key, or nil if there
// is none. A subscription that is still closing stays registered until its
// unsubscribe has completed; callers wait for that so a new engine
// subscription is never opened under a pending unsubscribe.
func (g *gatewayService) activeSubscription(ctx context.Context, key subscriptionKey) (*Subscription, error) {
	for {
		g.subsMu.Lock()
		sub, ok := g.subs[key]
		g.subsMu.Unlock()

		if !ok {
			return nil, nil
		}
		if !sub.Closed() {
			return sub, nil
		}

		select {
		case <-sub.Finished():
		case <-ctx.Done():
			return nil, &SubscriptionError{TopicFilter: key.topic, Err: ctx.Err()}
		}
	}
}

func (g *gatewayService) acquire(ctx context.Context, op string, broker string) (MQTTClient, error) {
	cfg, ok, err := g.params.Store.Get(ctx, broker)
	if err != nil {
		return nil, &BrokerError{Op: op, Broker: broker, Err: err}
	}
	if !ok {
		return nil, &BrokerError{Op: op, Broker: broker, Err: ErrInvalidBroker}
	}

	client, err := g.params.Provider.Client(ctx, broker, cfg)
	if err != nil {
		return nil, &BrokerError{Op: op, Broker: broker, Err: fmt.Errorf("%w: %w", ErrInvalidBroker, err)}
	}
	if client == nil {
		return nil, &BrokerError{Op: op, Broker: broker, Err: ErrInvalidBroker}
	}
	return client, nil
}

func (g *gatewayService) Status(broker string) (MQTTStatus, bool) {
	client, ok := g.params.Provider.Lookup(broker)
	if !ok {
		return MQTTStatus{}, false
	}
	return client.Status(), true
}

func (g *gatewayService) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	// publish reporter
	eg.Go(func() error {
		ticker := time.NewTicker(g.params.ReportInterval)
		defer ticker.Stop()

		lastStatus := map[string]MQTTStatus{}

	ReporterLoop:
		for {
			select {
			case <-ctx.Done():
				break ReporterLoop
			case <-ticker.C:
				lastStatus = g.report(lastStatus)
			}
		}

		return nil
	})

	// subscription teardown
	eg.Go(func() error {
		<-ctx.Done()

		g.subsMu.Lock()
		subs := make([]*Subscription, 0, len(g.subs))
		for _, sub := range g.subs {
			subs = append(subs, sub)
		}
		g.subsMu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
		return nil
	})

	return eg.Wait()
}

func (g *gatewayService) report(lastStatus map[string]MQTTStatus) map[string]MQTTStatus {
	newStatus := map[string]MQTTStatus{}
	for broker, client := range g.params.Provider.Clients() {
		status := client.Status()
		newStatus[broker] = status

		msgPerMin := uint64(0)
		if last, ok := lastStatus[broker]; ok && status.MessageCount >= last.MessageCount {
			msgPerMin = (status.MessageCount - last.MessageCount) * uint64(time.Minute) / uint64(g.params.ReportInterval)
		}

		g.log.Info().
			Str("broker", broker).
			Uint64("msg_per_min", msgPerMin).
			Uint64("msg_count", status.MessageCount).
			Bool("is_connected", status.Connected).
			Time("last_time_published", status.LastTimePublished).
			Msg("publish report")
	}
	return newStatus
}
