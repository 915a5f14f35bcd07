package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
)

// EnvPrefix prefixes environment overrides of top-level keys, for example
// CEROUTE_VERSION.
const EnvPrefix = "ceroute"

// DefaultDebounce is how long File waits for a burst of file events to
// settle before reloading.
const DefaultDebounce = 250 * time.Millisecond

// FileOption configures a File loader.
type FileOption func(*File)

// WithDebounce sets the reload debounce delay.
func WithDebounce(d time.Duration) FileOption {
	return func(f *File) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// WithoutWatch emits the initial snapshot only.
func WithoutWatch() FileOption {
	return func(f *File) { f.watch = false }
}

// File loads snapshots from a configuration file and reloads it when it
// changes. Keys are case-insensitive, as usual with viper.
type File struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	watch    bool
}

// Compile-time interface checks.
var (
	_ config.Loader        = (*File)(nil)
	_ config.RejectionSink = (*File)(nil)
)

// NewFile creates a loader for path.
func NewFile(path string, logger *slog.Logger, opts ...FileOption) *File {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{
		path:     path,
		logger:   logger.With(slog.String("config_file", path)),
		debounce: DefaultDebounce,
		watch:    true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load reads and parses the file once.
func (f *File) Load() (*config.Snapshot, error) {
	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return config.ParseSnapshot(config.New(v.AllSettings()))
}

// Snapshots implements config.Loader. The first snapshot must load; later
// parse failures are logged and the previous configuration stays active.
func (f *File) Snapshots(ctx context.Context) (<-chan *config.Snapshot, error) {
	first, err := f.Load()
	if err != nil {
		return nil, err
	}

	var w *fsnotify.Watcher
	if f.watch {
		w, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create config watcher: %w", err)
		}
		// Editors replace files by rename, so watch the directory.
		if err := w.Add(filepath.Dir(f.path)); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %q: %w", f.path, err)
		}
	}

	out := make(chan *config.Snapshot, 1)
	out <- first
	go f.run(ctx, w, out)
	return out, nil
}

func (f *File) run(ctx context.Context, w *fsnotify.Watcher, out chan<- *config.Snapshot) {
	defer close(out)
	if w == nil {
		<-ctx.Done()
		return
	}
	defer w.Close()

	target := filepath.Clean(f.path)
	reload := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(f.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Error("config watcher failed", slog.String("error", err.Error()))

		case <-reload:
			s, err := f.Load()
			if err != nil {
				f.logger.Error("config reload failed, keeping current configuration",
					slog.String("error", err.Error()))
				continue
			}
			f.logger.Info("config file changed", slog.String("version", s.Version))
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Rejected implements config.RejectionSink.
func (f *File) Rejected(s *config.Snapshot, err error) {
	f.logger.Error("configuration rejected, fix the file to retry",
		slog.String("version", s.Version),
		slog.String("error", err.Error()),
	)
}
