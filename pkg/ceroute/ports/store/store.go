// Package store provides an output port that persists every delivered
// event and acks it once the write is durable.
//
// Events are keyed by (source, id), the pair CloudEvents defines as unique,
// so a redelivered event is acked without being stored twice.
//
// Blob keys:
//
//	backend  "sqlite" (default) or "memory"
//	path     database file, required for sqlite (":memory:" is allowed)
//	table    table name (default "events")
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name.
const Type = "store"

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrClosed is returned by a backend used after Close.
var ErrClosed = errors.New("event store closed")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Record is one stored event.
type Record struct {
	Source   string
	ID       string
	Type     string
	StoredAt time.Time
	Event    *event.Event
}

// Backend persists events.
type Backend interface {
	// Append stores evt. It reports false when an event with the same
	// source and id is already stored.
	Append(ctx context.Context, evt *event.Event) (bool, error)

	// List returns every stored event in insertion order.
	List(ctx context.Context) ([]Record, error)

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// Settings is the parsed port blob.
type Settings struct {
	Backend string
	Path    string
	Table   string
}

// ParseSettings validates spec's blob.
func ParseSettings(spec config.PortSpec) (Settings, error) {
	c := spec.Config
	s := Settings{
		Backend: c.String("backend", BackendSQLite),
		Path:    c.String("path", ""),
		Table:   c.String("table", "events"),
	}
	switch s.Backend {
	case BackendSQLite:
		if s.Path == "" {
			return Settings{}, errors.New("path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return Settings{}, fmt.Errorf("unknown backend %q (want sqlite or memory)", s.Backend)
	}
	if !tableName.MatchString(s.Table) {
		return Settings{}, fmt.Errorf("invalid table name %q", s.Table)
	}
	return s, nil
}

// Store is the store output port.
type Store struct {
	settings Settings
	logger   *slog.Logger
	backend  Backend
}

// New is the port.Factory for the store type.
func New(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	s, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{settings: s, logger: logger}, nil
}

// NewWithBackend creates a store port over an already open backend.
func NewWithBackend(b Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: b, logger: logger}
}

// Register adds the store type to r.
func Register(r *port.Registry) error {
	return r.Register(Type, New, config.DirectionOutput)
}

// Backend returns the open backend, or nil before Open.
func (s *Store) Backend() Backend { return s.backend }

// Open implements port.Port.
func (s *Store) Open(context.Context) error {
	if s.backend != nil {
		return nil
	}
	switch s.settings.Backend {
	case BackendMemory:
		s.backend = NewMemoryBackend()
	default:
		b, err := NewSQLiteBackend(s.settings.Path, s.settings.Table)
		if err != nil {
			return err
		}
		s.backend = b
	}
	return nil
}

// Serve implements port.Port.
func (s *Store) Serve(ctx context.Context, ep *port.Endpoint) error {
	defer func() {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("close event store", slog.String("error", err.Error()))
		}
	}()
	return port.ServeOutput(ctx, ep, s.append, port.OutputOptions{Logger: s.logger})
}

func (s *Store) append(ctx context.Context, evt *event.Event) error {
	inserted, err := s.backend.Append(ctx, evt)
	if err != nil {
		var categorized *ceerrors.CategorizedError
		if errors.As(err, &categorized) {
			return err
		}
		return ceerrors.Transient(err, "append")
	}
	if !inserted {
		s.logger.Debug("event already stored",
			slog.String("event_id", evt.ID()),
			slog.String("source", evt.Source()))
	}
	return nil
}
