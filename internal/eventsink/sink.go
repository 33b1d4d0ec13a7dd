// Package eventsink forwards domain events from the in-process bus to an
// external broker so other systems can follow tag submissions, escalations
// and fines without polling the store.
package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkinbot/internal/config"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/metrics"
	logx "checkinbot/pkg/logx"
)

const (
	DriverNone  = "none"
	DriverKafka = "kafka"
	DriverAMQP  = "amqp"
)

// Envelope is the wire form of one exported event.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	GroupID int64           `json:"group_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers one encoded envelope. Key is a partition hint.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope, body []byte) error
	Close() error
}

// Subscriber is the part of the bus the sink reads from.
type Subscriber interface {
	SubscribeTypes(buffer int, prefixes ...string) (<-chan eventbus.Event, func())
}

type Sink struct {
	driver  string
	pub     Publisher
	bus     Subscriber
	log     logx.Logger
	timeout time.Duration
	buffer  int
}

// Open builds the publisher selected by cfg.Driver. Driver "none" (or empty)
// returns a nil Sink and no error.
func Open(ctx context.Context, cfg config.EventSinkConfig, bus Subscriber, log logx.Logger) (*Sink, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		pub Publisher
		err error
	)
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverKafka:
		pub, err = NewKafka(cfg.Brokers, cfg.Topic)
	case DriverAMQP:
		pub, err = DialAMQP(ctx, cfg.AMQPURL, cfg.Exchange, cfg.Queue)
	default:
		return nil, fmt.Errorf("event sink: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("event sink %s: %w", driver, err)
	}
	return New(driver, pub, bus, log, config.MustDuration(cfg.PublishTimeout, 5*time.Second), cfg.Buffer), nil
}

func New(driver string, pub Publisher, bus Subscriber, log logx.Logger, timeout time.Duration, buffer int) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{
		driver:  driver,
		pub:     pub,
		bus:     bus,
		log:     log.With(logx.String("comp", "eventsink"), logx.String("driver", driver)),
		timeout: timeout,
		buffer:  buffer,
	}
}

func (s *Sink) Driver() string { return s.driver }

// Run forwards events until ctx ends. A failed publish is logged and counted;
// the event is not retried.
func (s *Sink) Run(ctx context.Context) error {
	events, unsub := s.bus.SubscribeTypes(s.buffer, eventbus.DomainPrefixes...)
	defer unsub()
	s.log.Info("event sink started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.forward(ctx, ev)
		}
	}
}

func (s *Sink) forward(ctx context.Context, ev eventbus.Event) {
	env, body, err := Encode(ev)
	if err != nil {
		metrics.SinkPublished.WithLabelValues(s.driver, "encode_error").Inc()
		s.log.Warn("event encode failed", logx.String("type", ev.Type), logx.Err(err))
		return
	}
	key := ""
	if env.GroupID != 0 {
		key = strconv.FormatInt(env.GroupID, 10)
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.pub.Publish(pctx, key, env, body)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		metrics.SinkPublished.WithLabelValues(s.driver, "error").Inc()
		s.log.Warn("event publish failed", logx.String("type", ev.Type), logx.String("id", env.ID), logx.Err(err))
		return
	}
	metrics.SinkPublished.WithLabelValues(s.driver, "ok").Inc()
	s.log.Debug("event published", logx.String("type", ev.Type), logx.String("id", env.ID))
}

func (s *Sink) Close() error {
	if s == nil || s.pub == nil {
		return nil
	}
	return s.pub.Close()
}

// groupProbe picks the group id out of the payloads that carry one, either
// directly or through their period instance.
type groupProbe struct {
	GroupID  int64 `json:"group_id"`
	Instance struct {
		GroupID int64 `json:"group_id"`
	} `json:"instance"`
}

// Encode wraps ev in an envelope with a fresh id and returns it with its
// JSON body.
func Encode(ev eventbus.Event) (Envelope, []byte, error) {
	env := Envelope{ID: uuid.NewString(), Type: ev.Type, Time: ev.Time.UTC()}
	if ev.Data != nil {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return Envelope{}, nil, err
		}
		env.Data = data
		var p groupProbe
		if json.Unmarshal(data, &p) == nil {
			env.GroupID = p.GroupID
			if env.GroupID == 0 {
				env.GroupID = p.Instance.GroupID
			}
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, body, nil
}
