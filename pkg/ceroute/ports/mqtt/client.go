package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
)

// clientOptions builds the paho options for s. lost receives the error
// that ended the connection.
func clientOptions(s Settings, manualAck bool, lost chan<- error) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(s.Broker).
		SetClientID(s.ClientID).
		SetCleanSession(!manualAck).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})
	if s.Username != "" {
		opts.SetUsername(s.Username).SetPassword(s.Password)
	}
	if manualAck {
		opts.SetAutoAckDisabled(true)
	}
	return opts
}

// connect dials the broker with the default connect retry.
func connect(ctx context.Context, opts *paho.ClientOptions, broker string) (paho.Client, error) {
	var client paho.Client
	err := ceerrors.Retry(ctx, ceerrors.DefaultRetry, func(ctx context.Context) error {
		c := paho.NewClient(opts)
		if err := wait(ctx, c.Connect()); err != nil {
			return &ceerrors.ConnectError{Address: broker, Err: err}
		}
		client = c
		return nil
	})
	return client, err
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errConnectionLost = errors.New("mqtt connection lost")

func lostError(err error) error {
	if err == nil {
		return errConnectionLost
	}
	return fmt.Errorf("%w: %w", errConnectionLost, err)
}

func disconnect(client paho.Client, logger *slog.Logger) {
	if client.IsConnected() {
		client.Disconnect(250)
		logger.Debug("mqtt disconnected")
	}
}
