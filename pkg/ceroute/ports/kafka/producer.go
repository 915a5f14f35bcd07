package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Producer is the Kafka output port.
type Producer struct {
	settings Settings
	logger   *slog.Logger

	client *kgo.Client
}

// Open implements port.Port.
func (p *Producer) Open(ctx context.Context) error {
	client, err := open(ctx, p.settings.clientOptions(config.DirectionOutput))
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

// Serve implements port.Port.
func (p *Producer) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer p.client.Close()
	return port.ServeOutput(ctx, ep, p.produce, port.OutputOptions{
		Logger:       p.logger,
		DrainTimeout: p.settings.ProduceTimeout,
	})
}

func (p *Producer) produce(ctx context.Context, evt *event.Event) error {
	body, err := event.Encode(evt)
	if err != nil {
		return ceerrors.Permanent(err, "encode event")
	}
	ctx, cancel := context.WithTimeout(ctx, p.settings.ProduceTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, Record(evt, body)).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.settings.Topic, err)
	}
	return nil
}
