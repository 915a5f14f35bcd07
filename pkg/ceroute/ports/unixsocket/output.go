package unixsocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Writer is the unix socket output port. A broken connection is redialled
// on the next delivery; the delivery that hit the break is nacked.
type Writer struct {
	settings Settings
	logger   *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewWriter creates an output port that writes to s.Path.
func NewWriter(s Settings, logger *slog.Logger) *Writer {
	return &Writer{settings: s, logger: logger}
}

// Open implements port.Port. It dials with the default connect retry.
func (w *Writer) Open(ctx context.Context) error {
	return ceerrors.Retry(ctx, ceerrors.DefaultRetry, func(ctx context.Context) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.dial(ctx)
	})
}

// Serve implements port.Port.
func (w *Writer) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer w.close()
	return port.ServeOutput(ctx, ep, w.write, port.OutputOptions{
		Logger:       w.logger,
		DrainTimeout: w.settings.WriteTimeout,
	})
}

// dial must be called with mu held.
func (w *Writer) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: w.settings.DialTimeout}
	conn, err := d.DialContext(ctx, "unix", w.settings.Path)
	if err != nil {
		return &ceerrors.ConnectError{Address: w.settings.Path, Err: err}
	}
	w.conn = conn
	return nil
}

func (w *Writer) write(ctx context.Context, evt *event.Event) error {
	b, err := event.Encode(evt)
	if err != nil {
		return ceerrors.Permanent(err, "encode event")
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		if err := w.dial(ctx); err != nil {
			return err
		}
		w.logger.Info("reconnected", slog.String("path", w.settings.Path))
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.settings.WriteTimeout))
	if _, err := w.conn.Write(b); err != nil {
		_ = w.conn.Close()
		w.conn = nil
		return fmt.Errorf("write to %s: %w", w.settings.Path, err)
	}
	return nil
}

func (w *Writer) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}
