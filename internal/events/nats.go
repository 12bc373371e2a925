package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/logger"
)

// NATS subjects. The firehose carries every event; message events are
// additionally published per-thread so peers can subscribe narrowly.
const (
	SubjectEvents   = "drift.events"
	SubjectMessages = "drift.msg"   // + .<threadID>
	SubjectMatches  = "drift.match" // + .<userID>
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "drift",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient wraps the NATS connection with lifecycle logging and
// subscription bookkeeping.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSClient connects to NATS and returns a ready client. The initial
// connection must succeed; reconnects afterwards are automatic.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logger.L("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	log.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// SubscribeEvents registers a handler for the event firehose, typically to
// forward peer-instance events into the local WS fanout.
func (c *NATSClient) SubscribeEvents(handler func(data []byte)) error {
	return c.subscribe(SubjectEvents, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// SubscribeThread registers a handler for one thread's message events.
func (c *NATSClient) SubscribeThread(threadID string, handler func(data []byte)) error {
	return c.subscribe(SubjectMessages+"."+threadID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (c *NATSClient) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("events: nats subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and the connection.
func (c *NATSClient) Close() {
	log := logger.L("nats")
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn("drain subscription failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn("connection drain failed", zap.Error(err))
	}
}

// NATSPublisher bridges the hub to NATS. Publishing is best effort: a
// circuit breaker opens after repeated failures and events are dropped
// with a log line until the broker recovers.
type NATSPublisher struct {
	client  *NATSClient
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewNATSPublisher wraps a connected client.
func NewNATSPublisher(client *NATSClient) *NATSPublisher {
	log := logger.L("nats")
	settings := gobreaker.Settings{
		Name: "nats-publish",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &NATSPublisher{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// pairCarrier is implemented by payloads that concern a pair of users,
// letting the bridge fan a match out to both sides without importing the
// engine packages.
type pairCarrier interface {
	Pair() (string, string)
}

// Publish forwards ev to the firehose, message events additionally to the
// per-thread subject, and match events to both users' subjects. Failures
// are logged, never surfaced.
func (p *NATSPublisher) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal event failed", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}

	_, err = p.breaker.Execute(func() (any, error) {
		if err := p.client.Publish(SubjectEvents, data); err != nil {
			return nil, err
		}
		if ev.Kind == KindMessageAppended && ev.ThreadID != "" {
			if err := p.client.Publish(SubjectMessages+"."+ev.ThreadID, data); err != nil {
				return nil, err
			}
		}
		if ev.Kind == KindMatchCreated {
			if pc, ok := ev.Payload.(pairCarrier); ok {
				a, b := pc.Pair()
				if err := p.client.Publish(SubjectMatches+"."+a, data); err != nil {
					return nil, err
				}
				if err := p.client.Publish(SubjectMatches+"."+b, data); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		p.log.Debug("event publish dropped", zap.String("kind", ev.Kind), zap.Error(err))
	}
}
