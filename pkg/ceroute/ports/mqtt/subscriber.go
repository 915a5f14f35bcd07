package mqtt

import (
	"context"
	"fmt"
	"log/slog"

	paho "github.com/eclipse/paho.mqtt.golang"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Subscriber is the MQTT input port.
type Subscriber struct {
	settings Settings
	logger   *slog.Logger

	client paho.Client
	msgs   chan paho.Message
	lost   chan error
	done   chan struct{}
}

// Open implements port.Port.
func (s *Subscriber) Open(ctx context.Context) error {
	s.msgs = make(chan paho.Message, 64)
	s.lost = make(chan error, 1)
	s.done = make(chan struct{})

	client, err := connect(ctx, clientOptions(s.settings, true, s.lost), s.settings.Broker)
	if err != nil {
		return err
	}
	tok := client.Subscribe(s.settings.Topic, s.settings.QoS, func(_ paho.Client, m paho.Message) {
		select {
		case s.msgs <- m:
		case <-s.done:
		}
	})
	if err := wait(ctx, tok); err != nil {
		disconnect(client, s.logger)
		return fmt.Errorf("subscribe %s: %w", s.settings.Topic, err)
	}
	s.client = client
	s.logger.Info("subscribed", slog.String("topic", s.settings.Topic), slog.Int("qos", int(s.settings.QoS)))
	return nil
}

// Serve implements port.Port.
func (s *Subscriber) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(runCtx) }()

	err := s.receive(ctx, in)

	s.client.Unsubscribe(s.settings.Topic)
	close(s.done)
	stopRun()
	if runErr := <-runDone; err == nil {
		err = runErr
	}
	disconnect(s.client, s.logger)
	return err
}

func (s *Subscriber) receive(ctx context.Context, in *port.Input) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.lost:
			return lostError(err)
		case m := <-s.msgs:
			if err := s.handle(ctx, in, m.Topic(), m.Payload(), settler(m)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// settler acks m on success. Nacked messages are left unacknowledged so
// the broker redelivers them on the next session.
func settler(m paho.Message) port.ResultFunc {
	return func(r port.Result) {
		if r == port.ResultAck {
			m.Ack()
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, in *port.Input, topic string, payload []byte, settle port.ResultFunc) error {
	evt, err := event.Decode(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message",
			slog.String("error", (&ceerrors.DecodeError{Source: topic, Err: err}).Error()))
		// Acked so a poison message is not redelivered forever.
		settle(port.ResultAck)
		return nil
	}
	if err := in.Emit(ctx, evt, settle); err != nil {
		return fmt.Errorf("emit event %s: %w", evt.ID(), err)
	}
	return nil
}
