// Package kafka consumes and produces CloudEvents on Kafka topics using
// franz-go.
//
// Records use the CloudEvents Kafka binding in structured mode: the value
// is the JSON event, the content-type header is
// application/cloudevents+json and the key is the event id.
//
// Kafka cannot nack a single record, so an input emits every record of a
// poll, waits for the results, re-emits records that failed transiently
// with backoff, and commits the poll once every record is settled.
// Records that still fail after the retries, or fail permanently, are
// logged and skipped.
//
// Blob keys:
//
//	brokers          seed brokers (required)
//	topic            topic to consume or produce to (required)
//	group            input: consumer group (default ceroute-<port id>)
//	client_id        client id (default ceroute-<port id>)
//	produce_timeout  output: bound on one produce (default 10s)
//	max_poll         input: records per poll (default 100)
//	redeliveries     input: re-emits of a transiently failed record (default 3)
package kafka

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "kafka"

// Settings is the parsed blob of a Kafka port.
type Settings struct {
	Brokers        []string
	Topic          string
	Group          string
	ClientID       string
	ProduceTimeout time.Duration
	MaxPoll        int
	Redeliveries   int
}

// ParseSettings reads the Kafka keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	topic, err := c.Require("topic")
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Brokers:        c.StringSlice("brokers", nil),
		Topic:          topic,
		Group:          c.String("group", "ceroute-"+string(spec.ID)),
		ClientID:       c.String("client_id", "ceroute-"+string(spec.ID)),
		ProduceTimeout: c.Duration("produce_timeout", 10*time.Second),
		MaxPoll:        c.Int("max_poll", 100),
		Redeliveries:   c.Int("redeliveries", 3),
	}
	switch {
	case len(s.Brokers) == 0:
		return s, fmt.Errorf("config key %q is required", "brokers")
	case s.ProduceTimeout <= 0:
		return s, fmt.Errorf("produce_timeout must be positive")
	case s.MaxPoll < 1:
		return s, fmt.Errorf("max_poll must be at least 1, got %d", s.MaxPoll)
	case s.Redeliveries < 0:
		return s, fmt.Errorf("redeliveries must not be negative, got %d", s.Redeliveries)
	}
	return s, nil
}

// clientOptions returns the kgo options shared by both directions plus the
// direction-specific ones.
func (s Settings) clientOptions(dir config.Direction) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.Brokers...),
		kgo.ClientID(s.ClientID),
	}
	if dir == config.DirectionInput {
		return append(opts,
			kgo.ConsumerGroup(s.Group),
			kgo.ConsumeTopics(s.Topic),
			kgo.DisableAutoCommit(),
			kgo.BlockRebalanceOnPoll(),
		)
	}
	return append(opts,
		kgo.DefaultProduceTopic(s.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
}

// New is the port.Factory for the Kafka type.
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
	return &Producer{settings: s, logger: logger}, nil
}

// Register adds the Kafka type to r for both directions.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput, config.DirectionOutput)
}

const contentTypeHeader = "content-type"

// Record builds the structured-mode record for evt.
func Record(evt *event.Event, body []byte) *kgo.Record {
	return &kgo.Record{
		Key:   []byte(evt.ID()),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: contentTypeHeader, Value: []byte(event.ContentType)},
		},
	}
}

// Decode reads the event carried by a structured-mode record.
func Decode(rec *kgo.Record) (*event.Event, error) {
	for _, h := range rec.Headers {
		if h.Key == contentTypeHeader && !isStructured(string(h.Value)) {
			return nil, fmt.Errorf("unsupported content type %q", h.Value)
		}
	}
	return event.Decode(rec.Value)
}

func isStructured(ct string) bool {
	return strings.HasPrefix(ct, "application/cloudevents+json")
}
