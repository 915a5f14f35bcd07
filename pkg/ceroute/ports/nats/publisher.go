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

// Publisher is the NATS output port.
type Publisher struct {
	settings Settings
	logger   *slog.Logger
	name     string

	conn   *natsgo.Conn
	closed <-chan struct{}
	js     jetstream.JetStream
}

// Open implements port.Port.
func (p *Publisher) Open(ctx context.Context) error {
	conn, closed, err := connect(ctx, p.settings.URL, p.name, p.logger)
	if err != nil {
		return err
	}
	if p.settings.JetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return fmt.Errorf("jetstream: %w", err)
		}
		p.js = js
	}
	p.conn, p.closed = conn, closed
	return nil
}

// Serve implements port.Port.
func (p *Publisher) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer p.conn.Close()

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
	case <-p.closed:
		cancel()
		<-done
		return errConnectionClosed
	}
}

func (p *Publisher) publish(ctx context.Context, evt *event.Event) error {
	msg, err := Message(p.settings.Subject, evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.settings.PublishTimeout)
	defer cancel()

	if p.js != nil {
		if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(evt.ID())); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
		return nil
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Message builds the structured-mode NATS message for evt.
func Message(subject string, evt *event.Event) (*natsgo.Msg, error) {
	body, err := event.Encode(evt)
	if err != nil {
		return nil, ceerrors.Permanent(err, "encode event")
	}
	msg := natsgo.NewMsg(subject)
	msg.Header.Set("Content-Type", event.ContentType)
	msg.Header.Set("Ce-Id", evt.ID())
	msg.Data = body
	return msg, nil
}
