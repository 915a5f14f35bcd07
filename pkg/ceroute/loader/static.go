package loader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
)

// Static serves a single snapshot.
type Static struct {
	snapshot *config.Snapshot
	logger   *slog.Logger
}

// Compile-time interface checks.
var (
	_ config.Loader        = (*Static)(nil)
	_ config.RejectionSink = (*Static)(nil)
)

// NewStatic creates a loader that emits s once.
func NewStatic(s *config.Snapshot, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{snapshot: s, logger: logger}
}

// Snapshots implements config.Loader. The stream stays open until ctx is
// done so the kernel does not mistake it for an exhausted source.
func (l *Static) Snapshots(ctx context.Context) (<-chan *config.Snapshot, error) {
	if l.snapshot == nil {
		return nil, errors.New("static loader: nil snapshot")
	}
	out := make(chan *config.Snapshot, 1)
	out <- l.snapshot
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// Rejected implements config.RejectionSink.
func (l *Static) Rejected(s *config.Snapshot, err error) {
	l.logger.Error("static configuration rejected",
		slog.String("version", s.Version),
		slog.String("error", err.Error()),
	)
}
