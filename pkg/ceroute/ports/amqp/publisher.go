package amqp

import (
	"context"
	"fmt"
	"log/slog"

	amqp091 "github.com/rabbitmq/amqp091-go"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Publisher is the AMQP output port.
type Publisher struct {
	settings Settings
	logger   *slog.Logger

	sess *session
}

// Open implements port.Port.
func (p *Publisher) Open(ctx context.Context) error {
	sess, err := dial(ctx, p.settings.URI, "ceroute-publisher")
	if err != nil {
		return err
	}
	if err := p.setup(sess); err != nil {
		sess.close()
		return err
	}
	p.sess = sess
	return nil
}

func (p *Publisher) setup(sess *session) error {
	s := p.settings
	if s.Confirm {
		if err := sess.ch.Confirm(false); err != nil {
			return fmt.Errorf("enable publisher confirms: %w", err)
		}
	}
	if s.Ensure && s.Exchange != "" {
		if err := sess.ch.ExchangeDeclare(s.Exchange, s.ExchangeKind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", s.Exchange, err)
		}
	}
	return nil
}

// Serve implements port.Port. A lost connection ends Serve with an error
// so the kernel treats the port as crashed.
func (p *Publisher) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer p.sess.close()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- port.ServeOutput(serveCtx, ep, p.publish, port.OutputOptions{
			Logger:       p.logger,
			DrainTimeout: p.settings.PublishTimeout,
		})
	}()

	select {
	case err := <-done:
		return err
	case amqpErr := <-p.sess.closed:
		cancel()
		<-done
		return lost(amqpErr)
	}
}

func (p *Publisher) publish(ctx context.Context, evt *event.Event) error {
	body, err := event.Encode(evt)
	if err != nil {
		return ceerrors.Permanent(err, "encode event")
	}
	msg := Message(evt, body)

	ctx, cancel := context.WithTimeout(ctx, p.settings.PublishTimeout)
	defer cancel()

	s := p.settings
	if !s.Confirm {
		return p.sess.ch.PublishWithContext(ctx, s.Exchange, s.RoutingKey, false, false, msg)
	}
	confirm, err := p.sess.ch.PublishWithDeferredConfirmWithContext(ctx, s.Exchange, s.RoutingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return &ceerrors.TimeoutError{Operation: "publisher confirm", Duration: s.PublishTimeout}
	}
	if !acked {
		// A broker nack is an internal broker failure, worth retrying.
		return ceerrors.Transient(fmt.Errorf("broker nacked event %s", evt.ID()), "publisher confirm")
	}
	return nil
}

// Message builds the structured-mode AMQP message for evt.
func Message(evt *event.Event, body []byte) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  event.ContentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    evt.ID(),
		Type:         evt.Type(),
		Timestamp:    evt.Time(),
		Body:         body,
	}
}
