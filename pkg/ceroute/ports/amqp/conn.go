package amqp

import (
	"context"
	"errors"
	"fmt"

	amqp091 "github.com/rabbitmq/amqp091-go"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
)

// session is one connection with one channel.
type session struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	closed chan *amqp091.Error
}

func dial(ctx context.Context, uri, name string) (*session, error) {
	var s *session
	err := ceerrors.Retry(ctx, ceerrors.DefaultRetry, func(context.Context) error {
		conn, err := amqp091.DialConfig(uri, amqp091.Config{
			Properties: amqp091.Table{"connection_name": name},
		})
		if err != nil {
			return &ceerrors.ConnectError{Address: redact(uri), Err: err}
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("open channel: %w", err)
		}
		s = &session{
			conn:   conn,
			ch:     ch,
			closed: conn.NotifyClose(make(chan *amqp091.Error, 1)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) close() error {
	var errs []error
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// lost converts a close notification into the error Serve returns.
func lost(amqpErr *amqp091.Error) error {
	if amqpErr == nil {
		return errors.New("amqp connection closed")
	}
	return fmt.Errorf("amqp connection lost: %w", amqpErr)
}

// redact hides the password in a broker URI.
func redact(uri string) string {
	u, err := amqp091.ParseURI(uri)
	if err != nil {
		return "amqp broker"
	}
	u.Password = ""
	return u.String()
}
