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

// Consumer is the AMQP input port.
type Consumer struct {
	settings Settings
	logger   *slog.Logger

	sess       *session
	deliveries <-chan amqp091.Delivery
}

// Open implements port.Port. It connects, declares and binds the queue
// when ensure is set, and starts consuming.
func (c *Consumer) Open(ctx context.Context) error {
	sess, err := dial(ctx, c.settings.URI, c.settings.ConsumerTag)
	if err != nil {
		return err
	}
	if err := c.setup(sess); err != nil {
		sess.close()
		return err
	}
	c.sess = sess
	c.logger.Info("consuming",
		slog.String("queue", c.settings.Queue),
		slog.String("consumer_tag", c.settings.ConsumerTag),
	)
	return nil
}

func (c *Consumer) setup(sess *session) error {
	s := c.settings
	if err := sess.ch.Qos(s.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	if s.Ensure {
		if _, err := sess.ch.QueueDeclare(s.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", s.Queue, err)
		}
		if s.Exchange != "" {
			if err := sess.ch.ExchangeDeclare(s.Exchange, s.ExchangeKind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", s.Exchange, err)
			}
			if err := sess.ch.QueueBind(s.Queue, s.RoutingKey, s.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", s.Queue, s.Exchange, err)
			}
		}
	}
	deliveries, err := sess.ch.Consume(s.Queue, s.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", s.Queue, err)
	}
	c.deliveries = deliveries
	return nil
}

// Serve implements port.Port.
func (c *Consumer) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer c.sess.close()

	in := port.NewInput(ep)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(runCtx) }()

	err := c.consume(ctx, in)

	// Cancel the consumer so the broker stops pushing, then let the results
	// of what was already emitted settle before the channel closes.
	_ = c.sess.ch.Cancel(c.settings.ConsumerTag, false)
	stopRun()
	if runErr := <-runDone; err == nil {
		err = runErr
	}
	return err
}

func (c *Consumer) consume(ctx context.Context, in *port.Input) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-c.sess.closed:
			return lost(amqpErr)
		case d, ok := <-c.deliveries:
			if !ok {
				return lost(nil)
			}
			if err := c.handle(ctx, in, d); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// handle decodes one delivery and emits it. The delivery is settled from
// the result callback.
func (c *Consumer) handle(ctx context.Context, in *port.Input, d amqp091.Delivery) error {
	evt, err := event.Decode(d.Body)
	if err != nil {
		c.logger.Warn("rejecting undecodable message",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("error", (&ceerrors.DecodeError{Source: c.settings.Queue, Err: err}).Error()),
		)
		c.settle(d, port.ResultPermanentError)
		return nil
	}
	if err := in.Emit(ctx, evt, func(r port.Result) { c.settle(d, r) }); err != nil {
		// Never handed to the kernel: give it back to the broker.
		c.settle(d, port.ResultTransientError)
		return fmt.Errorf("emit event %s: %w", evt.ID(), err)
	}
	return nil
}

// settle maps a kernel result to the AMQP acknowledgment.
func (c *Consumer) settle(d amqp091.Delivery, r port.Result) {
	var err error
	switch r {
	case port.ResultAck:
		err = d.Ack(false)
	case port.ResultPermanentError:
		err = d.Nack(false, false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		c.logger.Warn("settle failed",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("result", r.String()),
			slog.String("error", err.Error()),
		)
	}
}
