// Package unixsocket carries newline-delimited CloudEvents JSON over a unix
// domain socket.
//
// As an input the port listens on path and accepts any number of clients.
// Every line a client writes is one structured-mode event. With reply
// enabled the port answers each event on the same connection with a line
// "ack <id>", "nack <id>" (transient) or "reject <id>" (permanent). Lines
// that do not decode are answered with "reject -" and dropped.
//
// As an output the port dials path and writes one line per event. A
// successful write is an ack.
//
// Blob keys:
//
//	path           socket path (required)
//	reply          input only: write result lines back (default false)
//	dial_timeout   output only (default 5s)
//	write_timeout  output only (default 5s)
//	max_line       largest accepted line in bytes (default 1 MiB)
package unixsocket

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "unix_socket"

// Settings is the parsed blob of a unix socket port.
type Settings struct {
	Path         string
	Reply        bool
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLine      int
}

// ParseSettings reads the unix socket keys from a port spec.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	path, err := spec.Config.Require("path")
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Path:         path,
		Reply:        spec.Config.Bool("reply", false),
		DialTimeout:  spec.Config.Duration("dial_timeout", 5*time.Second),
		WriteTimeout: spec.Config.Duration("write_timeout", 5*time.Second),
		MaxLine:      spec.Config.Int("max_line", 1<<20),
	}
	if s.MaxLine < 64 {
		return s, fmt.Errorf("max_line must be at least 64, got %d", s.MaxLine)
	}
	if s.DialTimeout <= 0 || s.WriteTimeout <= 0 {
		return s, fmt.Errorf("timeouts must be positive")
	}
	return s, nil
}

// New is the port.Factory for the unix socket type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	s, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Direction == config.DirectionInput {
		return NewListener(s, logger), nil
	}
	return NewWriter(s, logger), nil
}

// Register adds the unix socket type to r for both directions.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionInput, config.DirectionOutput)
}
