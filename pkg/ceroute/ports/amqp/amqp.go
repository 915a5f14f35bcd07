// Package amqp consumes and publishes CloudEvents over AMQP 0-9-1 brokers
// such as RabbitMQ.
//
// Events travel in structured mode: the message body is the JSON event and
// the content type is application/cloudevents+json.
//
// As an input the port consumes a queue with manual acknowledgment. The
// kernel's result settles the delivery: an ack acks it, a transient nack
// requeues it and a permanent nack rejects it without requeue so the
// broker can dead-letter it. Bodies that do not decode are rejected.
//
// As an output the port publishes to an exchange. With confirm enabled the
// channel is put in confirm mode and a delivery is acked only once the
// broker confirms it.
//
// Blob keys:
//
//	uri              broker URI (required)
//	queue            input: queue to consume (required for inputs)
//	exchange         output: exchange to publish to; input: exchange to bind
//	exchange_kind    kind used when declaring the exchange (default fanout)
//	routing_key      publish key, or binding key for inputs
//	ensure           declare the queue/exchange before use (default false)
//	prefetch         input: unacked deliveries in flight (default 32)
//	confirm          output: wait for publisher confirms (default true)
//	publish_timeout  output: bound on publish plus confirm (default 5s)
//	consumer_tag     input: consumer tag (default ceroute-<port id>-<uuid>)
package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "amqp"

// Settings is the parsed blob of an AMQP port.
type Settings struct {
	URI            string
	Queue          string
	Exchange       string
	ExchangeKind   string
	RoutingKey     string
	Ensure         bool
	Prefetch       int
	Confirm        bool
	PublishTimeout time.Duration
	ConsumerTag    string
}

// ParseSettings reads the AMQP keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	uri, err := c.Require("uri")
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		URI:            uri,
		Queue:          c.String("queue", ""),
		Exchange:       c.String("exchange", ""),
		ExchangeKind:   c.String("exchange_kind", "fanout"),
		RoutingKey:     c.String("routing_key", ""),
		Ensure:         c.Bool("ensure", false),
		Prefetch:       c.Int("prefetch", 32),
		Confirm:        c.Bool("confirm", true),
		PublishTimeout: c.Duration("publish_timeout", 5*time.Second),
		ConsumerTag:    c.String("consumer_tag", fmt.Sprintf("ceroute-%s-%s", spec.ID, uuid.NewString()[:8])),
	}

	switch s.ExchangeKind {
	case "direct", "fanout", "topic", "headers":
	default:
		return s, fmt.Errorf("unknown exchange_kind %q", s.ExchangeKind)
	}
	if spec.Direction == config.DirectionInput {
		if s.Queue == "" {
			return s, fmt.Errorf("config key %q is required", "queue")
		}
		if s.Prefetch < 1 {
			return s, fmt.Errorf("prefetch must be at least 1, got %d", s.Prefetch)
		}
	} else if s.Exchange == "" && s.RoutingKey == "" {
		// The default exchange routes by queue name, so a routing key alone
		// is a valid target.
		return s, fmt.Errorf("output needs an exchange or a routing_key")
	}
	if s.PublishTimeout <= 0 {
		return s, fmt.Errorf("publish_timeout must be positive")
	}
	return s, nil
}

// New is the port.Factory for the AMQP type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	s, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Direction == config.DirectionInput {
		return &Consumer{settings: s, logger: logger}, nil
	}
	return &Publisher{settings: s, logger: logger}, nil
}

// Register adds the AMQP type to r for both directions.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput, config.DirectionOutput)
}
