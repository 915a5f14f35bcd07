// Package generator provides an input port that produces a numbered stream
// of synthetic events. It is useful for demos, smoke tests and load tests.
//
// Blob keys:
//
//	type          event type (default "ceroute.sequence")
//	source        event source (default "/ceroute/generator/<port id>")
//	interval      time between events (default 1s)
//	rate          events per second; overrides interval
//	burst         rate limiter burst (default 1)
//	count         stop producing after this many events; 0 means unbounded
//	content_type  payload media type (default "application/json")
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "generator"

// SequenceExtension carries the sequence number of a generated event.
const SequenceExtension = "sequence"

// Settings is the parsed blob of a generator port.
type Settings struct {
	EventType   string
	Source      string
	Interval    time.Duration
	Rate        float64
	Burst       int
	Count       int
	ContentType string
}

// ParseSettings reads the generator keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	s := Settings{
		EventType:   c.String("type", "ceroute.sequence"),
		Source:      c.String("source", "/ceroute/generator/"+string(spec.ID)),
		Interval:    c.Duration("interval", time.Second),
		Rate:        c.Float("rate", 0),
		Burst:       c.Int("burst", 1),
		Count:       c.Int("count", 0),
		ContentType: c.String("content_type", "application/json"),
	}
	switch {
	case s.Interval <= 0:
		return s, fmt.Errorf("interval must be positive, got %s", s.Interval)
	case s.Rate < 0:
		return s, fmt.Errorf("rate must not be negative, got %v", s.Rate)
	case s.Burst < 1:
		return s, fmt.Errorf("burst must be at least 1, got %d", s.Burst)
	case s.Count < 0:
		return s, fmt.Errorf("count must not be negative, got %d", s.Count)
	}
	return s, nil
}

// limiter returns the rate limiter that paces production.
func (s Settings) limiter() *rate.Limiter {
	if s.Rate > 0 {
		return rate.NewLimiter(rate.Limit(s.Rate), s.Burst)
	}
	return rate.NewLimiter(rate.Every(s.Interval), s.Burst)
}

// Generator is the generator input port.
type Generator struct {
	id       config.PortID
	settings Settings
	logger   *slog.Logger

	emitted atomic.Int64
	acked   atomic.Int64
	nacked  atomic.Int64
}

// New is the port.Factory for the generator type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	settings, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{id: spec.ID, settings: settings, logger: logger}, nil
}

// Register adds the generator type to r.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput)
}

// Open implements port.Port. There is nothing to connect to.
func (g *Generator) Open(context.Context) error { return nil }

// Serve implements port.Port.
func (g *Generator) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return in.Run(ctx) })
	grp.Go(func() error { return g.produce(gctx, in) })
	err := grp.Wait()
	g.logger.Info("generator stopped",
		slog.Int64("emitted", g.emitted.Load()),
		slog.Int64("acked", g.acked.Load()),
		slog.Int64("nacked", g.nacked.Load()),
	)
	return err
}

func (g *Generator) produce(ctx context.Context, in *port.Input) error {
	lim := g.settings.limiter()
	for seq := 1; g.settings.Count == 0 || seq <= g.settings.Count; seq++ {
		if err := lim.Wait(ctx); err != nil {
			return nil
		}
		evt := g.build(seq)
		if err := in.Emit(ctx, evt, g.onResult(evt.ID())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("emit event %d: %w", seq, err)
		}
		g.emitted.Add(1)
	}

	g.logger.Info("generator finished", slog.Int("count", g.settings.Count))
	<-ctx.Done()
	return nil
}

func (g *Generator) build(seq int) *event.Event {
	data := []byte(`{"sequence":` + strconv.Itoa(seq) + `}`)
	return event.New(g.settings.EventType, g.settings.Source,
		event.WithID(uuid.NewString()),
		event.WithData(g.settings.ContentType, data),
		event.WithExtension(SequenceExtension, int64(seq)),
	)
}

func (g *Generator) onResult(eventID string) port.ResultFunc {
	return func(r port.Result) {
		if r == port.ResultAck {
			g.acked.Add(1)
			return
		}
		g.nacked.Add(1)
		g.logger.Debug("generated event not delivered",
			slog.String("event_id", eventID),
			slog.String("result", r.String()),
		)
	}
}

// Stats returns how many events were emitted, acked and nacked so far.
func (g *Generator) Stats() (emitted, acked, nacked int64) {
	return g.emitted.Load(), g.acked.Load(), g.nacked.Load()
}
