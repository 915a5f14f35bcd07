package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
)

// connect dials the server. The returned channel is closed once the
// connection is permanently closed.
func connect(ctx context.Context, url, name string, logger *slog.Logger) (*natsgo.Conn, <-chan struct{}, error) {
	closed := make(chan struct{})
	var once sync.Once
	var conn *natsgo.Conn
	err := ceerrors.Retry(ctx, ceerrors.DefaultRetry, func(context.Context) error {
		c, err := natsgo.Connect(url,
			natsgo.Name(name),
			natsgo.MaxReconnects(5),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", slog.String("error", err.Error()))
				}
			}),
			natsgo.ReconnectHandler(func(c *natsgo.Conn) {
				logger.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
			}),
			natsgo.ClosedHandler(func(*natsgo.Conn) { once.Do(func() { close(closed) }) }),
		)
		if err != nil {
			return &ceerrors.ConnectError{Address: url, Err: err}
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, closed, nil
}

var errConnectionClosed = errors.New("nats connection closed")
