package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 256

// Subscription receives the events of one topic on C. C is closed when the
// subscription is closed, when the hub stops, or when the subscriber falls
// so far behind that its buffer fills.
type Subscription struct {
	C <-chan Envelope

	topic string
	ch    chan Envelope
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

type delivery struct {
	env    Envelope
	mirror bool
}

// Hub routes inbound events to topic subscribers. Run is the only goroutine
// that touches the subscriber table.
type Hub struct {
	subs       map[string]map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan delivery
	done       chan struct{}

	relay Relay
	log   *zap.Logger
}

type HubOption func(*Hub)

// WithRelay mirrors every event through r so other processes see it.
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

func WithHubLogger(log *zap.Logger) HubOption {
	return func(h *Hub) { h.log = log }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:       make(map[string]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan delivery),
		done:       make(chan struct{}),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves the hub until ctx is cancelled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for topic, set := range h.subs {
			for s := range set {
				close(s.ch)
			}
			delete(h.subs, topic)
		}
	}()
	defer close(h.done)

	if h.relay != nil {
		go func() {
			err := h.relay.Subscribe(ctx, func(env Envelope) {
				h.deliver(delivery{env: env})
			})
			if err != nil && ctx.Err() == nil {
				h.log.Warn("relay_subscribe_failed", zap.Error(err))
			}
		}()
	}

	for {
		select {
		case s := <-h.register:
			set, ok := h.subs[s.topic]
			if !ok {
				set = make(map[*Subscription]bool)
				h.subs[s.topic] = set
			}
			set[s] = true

		case s := <-h.unregister:
			h.drop(s)

		case d := <-h.broadcast:
			for s := range h.subs[d.env.Event] {
				select {
				case s.ch <- d.env:
				default:
					h.log.Warn("subscriber_dropped", zap.String("topic", s.topic))
					h.drop(s)
				}
			}
			if d.mirror && h.relay != nil {
				if err := h.relay.Publish(ctx, d.env); err != nil {
					h.log.Warn("relay_publish_failed", zap.String("event", d.env.Event), zap.Error(err))
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) drop(s *Subscription) {
	set, ok := h.subs[s.topic]
	if !ok || !set[s] {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(h.subs, s.topic)
	}
}

// Subscribe registers interest in one topic. On a stopped hub the returned
// subscription is already closed.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan Envelope, subscriberBuffer)
	s := &Subscription{C: ch, topic: topic, ch: ch, hub: h}
	select {
	case h.register <- s:
	case <-h.done:
		close(ch)
	}
	return s
}

// Dispatch hands an inbound socket event to subscribers and to the relay.
func (h *Hub) Dispatch(env Envelope) {
	h.deliver(delivery{env: env, mirror: true})
}

func (h *Hub) deliver(d delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }
