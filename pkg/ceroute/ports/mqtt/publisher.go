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

// Publisher is the MQTT output port.
type Publisher struct {
	settings Settings
	logger   *slog.Logger

	client paho.Client
	lost   chan error
}

// Open implements port.Port.
func (p *Publisher) Open(ctx context.Context) error {
	p.lost = make(chan error, 1)
	client, err := connect(ctx, clientOptions(p.settings, false, p.lost), p.settings.Broker)
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

// Serve implements port.Port.
func (p *Publisher) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer disconnect(p.client, p.logger)

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
	case err := <-p.lost:
		cancel()
		<-done
		return lostError(err)
	}
}

func (p *Publisher) publish(ctx context.Context, evt *event.Event) error {
	body, err := event.Encode(evt)
	if err != nil {
		return ceerrors.Permanent(err, "encode event")
	}
	ctx, cancel := context.WithTimeout(ctx, p.settings.PublishTimeout)
	defer cancel()
	if err := wait(ctx, p.client.Publish(p.settings.Topic, p.settings.QoS, false, body)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.settings.Topic, err)
	}
	return nil
}
