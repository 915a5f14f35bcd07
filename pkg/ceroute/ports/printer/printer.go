// Package printer provides an output port that writes every delivered
// event to stdout or stderr and acks it.
//
// Blob keys:
//
//	format  "text" (default) or "json"
//	target  "stdout" (default) or "stderr"
package printer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "printer"

// Printer is the printer output port.
type Printer struct {
	format string
	logger *slog.Logger

	mu sync.Mutex
	w  io.Writer
}

// New is the port.Factory for the printer type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	format := spec.Config.String("format", "text")
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown format %q (want text or json)", format)
	}
	var w io.Writer
	switch target := spec.Config.String("target", "stdout"); target {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		return nil, fmt.Errorf("unknown target %q (want stdout or stderr)", target)
	}
	return NewWriter(w, format, logger), nil
}

// NewWriter creates a printer that writes to w.
func NewWriter(w io.Writer, format string, logger *slog.Logger) *Printer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Printer{format: format, logger: logger, w: w}
}

// Register adds the printer type to r.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionOutput)
}

// Open implements port.Port.
func (p *Printer) Open(context.Context) error { return nil }

// Serve implements port.Port.
func (p *Printer) Serve(ctx context.Context, ep *port.Endpoint) error {
	return port.ServeOutput(ctx, ep, p.print, port.OutputOptions{Logger: p.logger})
}

func (p *Printer) print(_ context.Context, evt *event.Event) error {
	var line []byte
	if p.format == "json" {
		b, err := evt.MarshalJSON()
		if err != nil {
			return err
		}
		line = append(b, '\n')
	} else {
		line = []byte(evt.String() + "\n")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.w.Write(line)
	return err
}
