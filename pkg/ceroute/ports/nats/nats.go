// Package nats consumes and publishes CloudEvents over NATS, with or
// without JetStream.
//
// Core NATS has no acknowledgments. A core input answers request-style
// messages (those with a reply subject) with "ack", "nack" or "reject" and
// is otherwise best effort. With jetstream enabled the input uses a durable
// pull consumer: an ack acks the message, a transient nack naks it for
// redelivery and a permanent nack terminates it.
//
// Outputs publish the structured JSON event. With jetstream enabled a
// delivery is acked once the stream stores the message; a core publish is
// acked once the server has received it (flush).
//
// Blob keys:
//
//	url              server URL (default nats://127.0.0.1:4222)
//	subject          subject to consume or publish (required)
//	queue            core input: queue group
//	jetstream        use JetStream (default false)
//	stream           JetStream input: stream name (required with jetstream)
//	durable          JetStream input: durable consumer name (default ceroute-<port id>)
//	publish_timeout  output: bound on publish plus ack (default 5s)
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "nats"

// Reply bodies sent to core requesters.
const (
	ReplyAck    = "ack"
	ReplyNack   = "nack"
	ReplyReject = "reject"
)

// Settings is the parsed blob of a NATS port.
type Settings struct {
	URL            string
	Subject        string
	Queue          string
	JetStream      bool
	Stream         string
	Durable        string
	PublishTimeout time.Duration
}

// ParseSettings reads the NATS keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	subject, err := c.Require("subject")
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		URL:            c.String("url", "nats://127.0.0.1:4222"),
		Subject:        subject,
		Queue:          c.String("queue", ""),
		JetStream:      c.Bool("jetstream", false),
		Stream:         c.String("stream", ""),
		Durable:        c.String("durable", "ceroute-"+string(spec.ID)),
		PublishTimeout: c.Duration("publish_timeout", 5*time.Second),
	}
	if spec.Direction == config.DirectionInput && s.JetStream && s.Stream == "" {
		return s, fmt.Errorf("config key %q is required with jetstream", "stream")
	}
	if s.PublishTimeout <= 0 {
		return s, fmt.Errorf("publish_timeout must be positive")
	}
	return s, nil
}

// New is the port.Factory for the NATS type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	s, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Direction == config.DirectionInput {
		return &Subscriber{settings: s, logger: logger, name: "ceroute-" + string(spec.ID)}, nil
	}
	return &Publisher{settings: s, logger: logger, name: "ceroute-" + string(spec.ID)}, nil
}

// Register adds the NATS type to r for both directions.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput, config.DirectionOutput)
}

// replyFor maps a kernel result to the core reply body.
func replyFor(r port.Result) string {
	switch r {
	case port.ResultAck:
		return ReplyAck
	case port.ResultPermanentError:
		return ReplyReject
	default:
		return ReplyNack
	}
}
