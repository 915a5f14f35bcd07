package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Consumer is the Kafka input port.
type Consumer struct {
	settings Settings
	logger   *slog.Logger

	client *kgo.Client
}

// Open implements port.Port.
func (c *Consumer) Open(ctx context.Context) error {
	client, err := open(ctx, c.settings.clientOptions(config.DirectionInput))
	if err != nil {
		return err
	}
	c.client = client
	c.logger.Info("consuming",
		slog.String("topic", c.settings.Topic),
		slog.String("group", c.settings.Group),
	)
	return nil
}

// open creates a client and checks that a broker answers.
func open(ctx context.Context, opts []kgo.Opt) (*kgo.Client, error) {
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	if err := ceerrors.Retry(ctx, ceerrors.DefaultRetry, client.Ping); err != nil {
		client.Close()
		return nil, &ceerrors.ConnectError{Address: "kafka", Err: err}
	}
	return client, nil
}

// Serve implements port.Port.
func (c *Consumer) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(runCtx) }()

	err := c.poll(ctx, in)

	// Uncommitted records are redelivered to the group.
	c.client.Close()
	stopRun()
	if runErr := <-runDone; err == nil {
		err = runErr
	}
	return err
}

func (c *Consumer) poll(ctx context.Context, in *port.Input) error {
	for {
		fetches := c.client.PollRecords(ctx, c.settings.MaxPoll)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err)
		}

		recs := fetches.Records()
		if err := c.process(ctx, in, recs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.client.CommitRecords(ctx, recs...); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", slog.Int("records", len(recs)), slog.String("error", err.Error()))
		}
		c.client.AllowRebalance()
	}
}

// process emits recs and re-emits the ones nacked transiently until they
// succeed or the redeliveries are spent.
func (c *Consumer) process(ctx context.Context, in *port.Input, recs []*kgo.Record) error {
	pending := recs
	var emitErr error
	retry := ceerrors.NewRetryConfig(
		ceerrors.WithMaxAttempts(c.settings.Redeliveries+1),
		ceerrors.WithInitialBackoff(250*time.Millisecond),
		ceerrors.WithMaxBackoff(5*time.Second),
	)
	err := ceerrors.Retry(ctx, retry, func(ctx context.Context) error {
		failed, err := c.emitAll(ctx, in, pending)
		if err != nil {
			emitErr = err
			return ceerrors.Permanent(err, "emit")
		}
		pending = failed
		if len(failed) > 0 {
			return fmt.Errorf("%d records nacked", len(failed))
		}
		return nil
	})
	switch {
	case emitErr != nil:
		return emitErr
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		for _, rec := range pending {
			c.logger.Error("record skipped after redeliveries", recordAttrs(rec)...)
		}
	}
	return nil
}

// emitAll hands recs to the kernel and returns the records nacked
// transiently.
func (c *Consumer) emitAll(ctx context.Context, in *port.Input, recs []*kgo.Record) ([]*kgo.Record, error) {
	type outcome struct {
		rec *kgo.Record
		ch  chan port.Result
	}
	outcomes := make([]outcome, 0, len(recs))
	for _, rec := range recs {
		evt, err := Decode(rec)
		if err != nil {
			c.logger.Warn("skipping undecodable record", append(recordAttrs(rec), slog.String("error", err.Error()))...)
			continue
		}
		ch := make(chan port.Result, 1)
		if err := in.Emit(ctx, evt, func(r port.Result) { ch <- r }); err != nil {
			return nil, fmt.Errorf("emit record %s/%d/%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
		}
		outcomes = append(outcomes, outcome{rec: rec, ch: ch})
	}

	var failed []*kgo.Record
	for _, o := range outcomes {
		select {
		case r := <-o.ch:
			switch r {
			case port.ResultAck:
			case port.ResultPermanentError:
				c.logger.Warn("record rejected", recordAttrs(o.rec)...)
			default:
				failed = append(failed, o.rec)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return failed, nil
}

func recordAttrs(rec *kgo.Record) []any {
	return []any{
		slog.String("topic", rec.Topic),
		slog.Int("partition", int(rec.Partition)),
		slog.Int64("offset", rec.Offset),
	}
}
