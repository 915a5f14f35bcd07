package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

func spec(blob map[string]any) config.PortSpec {
	return config.PortSpec{ID: "m1", Direction: config.DirectionInput, Type: Type, Config: config.New(blob)}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(spec(map[string]any{"broker": "tcp://localhost:1883", "topic": "events/#"}))
	require.NoError(t, err)
	assert.Equal(t, byte(1), s.QoS)
	assert.Contains(t, s.ClientID, "ceroute-m1-")
	assert.Equal(t, 5*time.Second, s.PublishTimeout)

	for _, blob := range []map[string]any{
		{"topic": "t"},
		{"broker": "tcp://b:1883"},
		{"broker": "tcp://b:1883", "topic": "t", "qos": 3},
		{"broker": "tcp://b:1883", "topic": "t", "publish_timeout": "-1s"},
	} {
		_, err := ParseSettings(spec(blob))
		assert.Error(t, err, "%v", blob)
	}
}

func TestClientOptions(t *testing.T) {
	s := Settings{Broker: "tcp://localhost:1883", ClientID: "c1", Username: "u", Password: "p"}

	in := clientOptions(s, true, make(chan error, 1))
	assert.True(t, in.AutoAckDisabled)
	assert.False(t, in.CleanSession, "inputs keep their session so unacked messages come back")
	assert.False(t, in.AutoReconnect)
	assert.Equal(t, "c1", in.ClientID)
	assert.Equal(t, "u", in.Username)
	require.Len(t, in.Servers, 1)
	assert.Equal(t, "localhost:1883", in.Servers[0].Host)

	out := clientOptions(s, false, make(chan error, 1))
	assert.False(t, out.AutoAckDisabled)
	assert.True(t, out.CleanSession)
}

func TestSubscriberHandle(t *testing.T) {
	s := &Subscriber{settings: Settings{Topic: "events"}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	kep, pep := port.NewPair(8)
	in := port.NewInput(pep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = in.Run(ctx) }()

	settled := make(chan port.Result, 2)
	settle := func(r port.Result) { settled <- r }

	require.NoError(t, s.handle(ctx, in, "events", []byte("{bad"), settle))
	assert.Equal(t, port.ResultAck, <-settled, "poison messages are acked away")

	body, err := event.Encode(event.New("com.example.m", "/m", event.WithID("m-1")))
	require.NoError(t, err)
	require.NoError(t, s.handle(ctx, in, "events", body, settle))

	msg, err := kep.Receive(5 * time.Second)
	require.NoError(t, err)
	require.NoError(t, kep.Send(port.Processed{ID: msg.(port.Incoming).ID, Result: port.ResultTransientError}, time.Second))

	select {
	case r := <-settled:
		assert.Equal(t, port.ResultTransientError, r)
	case <-time.After(5 * time.Second):
		t.Fatal("message never settled")
	}
}
