package application

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	DefaultSubscriptionBufferSize = 64
	DefaultUnsubscribeTimeout     = 5 * time.Second
)

type SubscriptionWorkflowParams struct {
	// BufferSize bounds the inbound queue and every listener queue. When a
	// queue is full the oldest message is dropped.
	BufferSize         int
	UnsubscribeTimeout time.Duration

	Log zerolog.Logger
}

func (s *SubscriptionWorkflowParams) EnsureDefaults() {
	if s.BufferSize <= 0 {
		s.BufferSize = DefaultSubscriptionBufferSize
	}

	if s.UnsubscribeTimeout <= 0 {
		s.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
}

type SubscriptionWorkflow struct {
	params SubscriptionWorkflowParams

	log zerolog.Logger
}

func NewSubscriptionWorkflow(params SubscriptionWorkflowParams) *SubscriptionWorkflow {
	params.EnsureDefaults()
	return &SubscriptionWorkflow{params: params, log: params.Log}
}

// Subscribe opens one engine subscription for topic on a connected client
// and returns the broadcaster in front of it. ctx only bounds the subscribe
// handshake; the subscription lives until Close, the last listener leaving,
// or an inbound failure.
func (w *SubscriptionWorkflow) Subscribe(ctx context.Context, client MQTTClient, topic string) (*Subscription, error) {
	if client == nil {
		return nil, ErrInvalidBroker
	}

	s := &Subscription{
		topic:     topic,
		client:    client,
		params:    w.params,
		inbound:   make(chan RawMessage, w.params.BufferSize),
		listeners: make(map[uint64]*Listener),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		log:       w.log.With().Str("topic", topic).Logger(),
	}

	req := SubscribeRequest{TopicFilter: topic, QoS: DefaultQoS}
	if err := client.Subscribe(ctx, req, s.enqueue, s.fail); err != nil {
		s.log.Error().Err(err).Msg("subscribe failed")
		return nil, &SubscriptionError{TopicFilter: topic, Err: err}
	}

	s.wg.Go(s.pump)

	s.log.Debug().Msg("subscribed")
	return s, nil
}

// Subscription fans one engine subscription out to any number of listeners.
// Messages reach every listener in the order the broker delivered them.
type Subscription struct {
	topic  string
	client MQTTClient
	params SubscriptionWorkflowParams

	inbound chan RawMessage
	enqMu   sync.Mutex
	dropped atomic.Uint64

	mu        sync.Mutex
	listeners map[uint64]*Listener
	nextID    uint64
	closed    bool
	err       error
	onClose   []func()

	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
	wg        conc.WaitGroup

	log zerolog.Logger
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Listen registers a new consumer. The listener is closed when ctx is done,
// when Close is called on it, or when the subscription ends.
func (s *Subscription) Listen(ctx context.Context) (*Listener, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSubscriptionClosed
	}

	s.nextID++
	l := &Listener{
		id:  s.nextID,
		sub: s,
		ch:  make(chan Message, s.params.BufferSize),
	}
	s.listeners[l.id] = l
	count := len(s.listeners)
	s.mu.Unlock()

	context.AfterFunc(ctx, l.Close)

	s.log.Debug().Uint64("listener", l.id).Int("listeners", count).Msg("client subscribed")
	return l, nil
}

// OnClose registers fn to run once the subscription has ended. fn runs
// immediately when the subscription is already closed.
func (s *Subscription) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Err returns the *SubscriptionError that ended the subscription, or nil
// while it is open or when it was cancelled.
// Finished is closed once a closed subscription has unsubscribed from the
// engine and run its OnClose hooks.
func (s *Subscription) Finished() <-chan struct{} {
	return s.finished
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close cancels the subscription and unsubscribes from the engine.
func (s *Subscription) Close() {
	s.shutdown(nil)
}

func (s *Subscription) fail(err error) {
	s.log.Error().Err(err).Msg("subscription stream failed")
	s.shutdown(&SubscriptionError{TopicFilter: s.topic, Err: err})
}

func (s *Subscription) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = cause
		close(s.done)
		for id, l := range s.listeners {
			delete(s.listeners, id)
			close(l.ch)
		}
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), s.params.UnsubscribeTimeout)
		defer cancel()
		if err := s.client.Unsubscribe(ctx, s.topic); err != nil {
			s.log.Warn().Err(err).Msg("unsubscribe failed")
		}

		s.log.Info().Uint64("dropped", s.dropped.Load()).Msg("subscription cancelled")

		for _, fn := range hooks {
			fn()
		}
		close(s.finished)
	})
}

// enqueue is called from the engine receive loop and never blocks it.
func (s *Subscription) enqueue(msg RawMessage) {
	select {
	case <-s.done:
		return
	default:
	}

	s.enqMu.Lock()
	defer s.enqMu.Unlock()

	for {
		select {
		case s.inbound <- msg:
			return
		default:
		}

		select {
		case old := <-s.inbound:
			s.dropped.Add(1)
			s.log.Warn().Str("dropped_topic", old.Topic).Msg("inbound queue full, dropping oldest message")
		default:
		}
	}
}

func (s *Subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case raw := <-s.inbound:
			msg := decode(raw)
			s.log.Info().Str("message_topic", msg.Topic).Str("payload", msg.Payload).Msg("message received")
			s.broadcast(msg)
		}
	}
}

func (s *Subscription) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		if l.deliver(msg) {
			s.log.Warn().Uint64("listener", l.id).Msg("listener queue full, dropping oldest message")
		}
	}
}

func (s *Subscription) unregister(l *Listener) {
	s.mu.Lock()
	if _, ok := s.listeners[l.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.listeners, l.id)
	close(l.ch)
	remaining := len(s.listeners)
	s.mu.Unlock()

	s.log.Debug().Uint64("listener", l.id).Int("listeners", remaining).Msg("listener cancelled")

	if remaining == 0 {
		s.Close()
	}
}

func decode(raw RawMessage) Message {
	return Message{
		Topic:   raw.Topic,
		Payload: strings.ToValidUTF8(string(raw.Payload), "\uFFFD"),
	}
}

// Listener is one downstream consumer of a Subscription.
type Listener struct {
	id      uint64
	sub     *Subscription
	ch      chan Message
	dropped atomic.Uint64
}

// C delivers messages until the listener or its subscription is closed.
func (l *Listener) C() <-chan Message {
	return l.ch
}

func (l *Listener) Close() {
	l.sub.unregister(l)
}

// Err reports why the underlying subscription ended, if it failed.
func (l *Listener) Err() error {
	return l.sub.Err()
}

func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

// deliver is called with the subscription lock held. It reports whether a
// message had to be dropped to make room.
func (l *Listener) deliver(msg Message) bool {
	dropped := false
	for {
		select {
		case l.ch <- msg:
			return dropped
		default:
		}

		select {
		case <-l.ch:
			l.dropped.Add(1)
			dropped = true
		default:
		}
	}
}
