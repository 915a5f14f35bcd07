package nats

import (
	"context"
	"fmt"
	"log/slog"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// inbound is one received message and the way to settle it.
type inbound struct {
	data   []byte
	settle func(port.Result)
}

// Subscriber is the NATS input port.
type Subscriber struct {
	settings Settings
	logger   *slog.Logger
	name     string

	conn   *natsgo.Conn
	closed <-chan struct{}
	msgs   chan inbound
	stop   func()
	done   chan struct{}
}

// Open implements port.Port.
func (s *Subscriber) Open(ctx context.Context) error {
	conn, closed, err := connect(ctx, s.settings.URL, s.name, s.logger)
	if err != nil {
		return err
	}
	s.conn, s.closed = conn, closed
	s.msgs = make(chan inbound, 64)
	s.done = make(chan struct{})

	if s.settings.JetStream {
		err = s.consumeStream(ctx)
	} else {
		err = s.subscribe()
	}
	if err != nil {
		conn.Close()
		return err
	}
	s.logger.Info("subscribed",
		slog.String("subject", s.settings.Subject),
		slog.Bool("jetstream", s.settings.JetStream),
	)
	return nil
}

func (s *Subscriber) subscribe() error {
	raw := make(chan *natsgo.Msg, 64)
	var (
		sub *natsgo.Subscription
		err error
	)
	if s.settings.Queue != "" {
		sub, err = s.conn.ChanQueueSubscribe(s.settings.Subject, s.settings.Queue, raw)
	} else {
		sub, err = s.conn.ChanSubscribe(s.settings.Subject, raw)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.settings.Subject, err)
	}
	s.stop = func() { _ = sub.Unsubscribe() }

	go func() {
		for {
			select {
			case <-s.done:
				return
			case m := <-raw:
				s.forward(inbound{data: m.Data, settle: s.replier(m)})
			}
		}
	}()
	return nil
}

func (s *Subscriber) consumeStream(ctx context.Context) error {
	js, err := jetstream.New(s.conn)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, s.settings.Stream, jetstream.ConsumerConfig{
		Durable:       s.settings.Durable,
		FilterSubject: s.settings.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s on %s: %w", s.settings.Durable, s.settings.Stream, err)
	}
	cc, err := cons.Consume(func(m jetstream.Msg) {
		s.forward(inbound{data: m.Data(), settle: s.streamSettler(m)})
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.settings.Stream, err)
	}
	s.stop = cc.Stop
	return nil
}

// forward hands a message to Serve, or drops it once Serve has returned.
// Dropped stream messages are redelivered after their ack wait.
func (s *Subscriber) forward(m inbound) {
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *Subscriber) replier(m *natsgo.Msg) func(port.Result) {
	return func(r port.Result) {
		if m.Reply == "" {
			return
		}
		if err := m.Respond([]byte(replyFor(r))); err != nil {
			s.logger.Debug("reply not sent", slog.String("error", err.Error()))
		}
	}
}

func (s *Subscriber) streamSettler(m jetstream.Msg) func(port.Result) {
	return func(r port.Result) {
		var err error
		switch r {
		case port.ResultAck:
			err = m.Ack()
		case port.ResultPermanentError:
			err = m.Term()
		default:
			err = m.Nak()
		}
		if err != nil {
			s.logger.Warn("settle failed", slog.String("result", r.String()), slog.String("error", err.Error()))
		}
	}
}

// Serve implements port.Port.
func (s *Subscriber) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(runCtx) }()

	err := s.receive(ctx, in)

	s.stop()
	close(s.done)
	stopRun()
	if runErr := <-runDone; err == nil {
		err = runErr
	}
	s.conn.Close()
	return err
}

func (s *Subscriber) receive(ctx context.Context, in *port.Input) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return errConnectionClosed
		case m := <-s.msgs:
			if err := s.handle(ctx, in, m); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, in *port.Input, m inbound) error {
	evt, err := event.Decode(m.data)
	if err != nil {
		s.logger.Warn("dropping undecodable message",
			slog.String("error", (&ceerrors.DecodeError{Source: s.settings.Subject, Err: err}).Error()))
		m.settle(port.ResultPermanentError)
		return nil
	}
	if err := in.Emit(ctx, evt, m.settle); err != nil {
		m.settle(port.ResultTransientError)
		return fmt.Errorf("emit event %s: %w", evt.ID(), err)
	}
	return nil
}
