// Package mqtt subscribes to and publishes CloudEvents on an MQTT broker
// using the Eclipse Paho client.
//
// Payloads are structured-mode JSON events. Inputs subscribe with manual
// acknowledgment: a message is acked to the broker only when the kernel
// acks it, so with QoS 1 or 2 a nacked message is redelivered after the
// next reconnect. Automatic reconnect is off; a lost connection ends the
// port and the kernel's crash policy decides whether it comes back.
//
// Blob keys:
//
//	broker           broker URL, e.g. tcp://localhost:1883 (required)
//	topic            topic filter to subscribe, or topic to publish (required)
//	qos              0, 1 or 2 (default 1)
//	client_id        client id (default ceroute-<port id>-<uuid>)
//	username, password
//	publish_timeout  output: bound on one publish (default 5s)
package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "mqtt"

// Settings is the parsed blob of an MQTT port.
type Settings struct {
	Broker         string
	Topic          string
	QoS            byte
	ClientID       string
	Username       string
	Password       string
	PublishTimeout time.Duration
}

// ParseSettings reads the MQTT keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	broker, err := c.Require("broker")
	if err != nil {
		return Settings{}, err
	}
	topic, err := c.Require("topic")
	if err != nil {
		return Settings{}, err
	}
	qos := c.Int("qos", 1)
	if qos < 0 || qos > 2 {
		return Settings{}, fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
	}
	s := Settings{
		Broker:         broker,
		Topic:          topic,
		QoS:            byte(qos),
		ClientID:       c.String("client_id", fmt.Sprintf("ceroute-%s-%s", spec.ID, uuid.NewString()[:8])),
		Username:       c.String("username", ""),
		Password:       c.String("password", ""),
		PublishTimeout: c.Duration("publish_timeout", 5*time.Second),
	}
	if s.PublishTimeout <= 0 {
		return s, fmt.Errorf("publish_timeout must be positive")
	}
	return s, nil
}

// New is the port.Factory for the MQTT type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	s, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Direction == config.DirectionInput {
		return &Subscriber{settings: s, logger: logger}, nil
	}
	return &Publisher{settings: s, logger: logger}, nil
}

// Register adds the MQTT type to r for both directions.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput, config.DirectionOutput)
}
