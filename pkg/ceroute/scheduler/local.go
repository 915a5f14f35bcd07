package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Strategy maps a unit's body onto an execution resource.
type Strategy interface {
	Go(fn func())
	Name() string
}

type goroutines struct{}

func (goroutines) Go(fn func()) { go fn() }
func (goroutines) Name() string { return "goroutine" }

type lockedThreads struct{}

func (lockedThreads) Go(fn func()) {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
}
func (lockedThreads) Name() string { return "thread" }

var (
	// Goroutines runs every unit on its own goroutine.
	Goroutines Strategy = goroutines{}

	// LockedThreads runs every unit on a goroutine locked to a dedicated OS
	// thread for its whole lifetime.
	LockedThreads Strategy = lockedThreads{}
)

// StrategyByName resolves "goroutine" or "thread".
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", Goroutines.Name():
		return Goroutines, nil
	case LockedThreads.Name():
		return LockedThreads, nil
	default:
		return nil, fmt.Errorf("unknown scheduling strategy %q", name)
	}
}

// Config configures a Local scheduler.
type Config struct {
	// Strategy decides where units execute. Default: Goroutines.
	Strategy Strategy

	// StartGrace is used for specs without their own grace. Default: 5s.
	StartGrace time.Duration

	// StopGrace is used when Stop gets a non-positive grace. Default: 5s.
	StopGrace time.Duration

	// CrashBuffer is the capacity of the crash stream. Reports beyond it
	// wait in memory until the stream has room; none is dropped.
	// Default: 64.
	CrashBuffer int

	// Logger receives lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig holds the defaults applied to zero Config fields.
var DefaultConfig = Config{
	Strategy:    Goroutines,
	StartGrace:  5 * time.Second,
	StopGrace:   5 * time.Second,
	CrashBuffer: 64,
}

// Local schedules units inside the current process.
type Local struct {
	cfg     Config
	logger  *slog.Logger
	crashes chan Crash

	mu     sync.Mutex
	active map[*Handle]struct{}

	// crash reports waiting for room in crashes, oldest first
	qmu        sync.Mutex
	overflow   []Crash
	forwarding bool
}

// Compile-time interface check.
var _ Scheduler = (*Local)(nil)

// NewLocal creates an in-process scheduler.
func NewLocal(cfg Config) *Local {
	if cfg.Strategy == nil {
		cfg.Strategy = DefaultConfig.Strategy
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = DefaultConfig.StartGrace
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultConfig.StopGrace
	}
	if cfg.CrashBuffer <= 0 {
		cfg.CrashBuffer = DefaultConfig.CrashBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		cfg:     cfg,
		logger:  logger.With(slog.String("strategy", cfg.Strategy.Name())),
		crashes: make(chan Crash, cfg.CrashBuffer),
		active:  make(map[*Handle]struct{}),
	}
}

// Start implements Scheduler.
func (s *Local) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Unit == nil {
		return nil, &StartError{ID: spec.ID, Err: fmt.Errorf("nil unit")}
	}
	grace := spec.StartGrace
	if grace <= 0 {
		grace = s.cfg.StartGrace
	}

	// Units outlive the caller's context; only Stop ends them.
	unitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(spec.ID, cancel)
	ready := make(chan error, 1)

	s.cfg.Strategy.Go(func() {
		defer close(h.done)
		err := safeCall(func() error { return spec.Unit.Init(unitCtx) })
		ready <- err
		if err != nil {
			return
		}
		select {
		case <-h.running:
		case <-unitCtx.Done():
			return
		}
		s.finish(h, safeCall(func() error { return spec.Unit.Run(unitCtx) }))
	})

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var startErr error
	select {
	case err := <-ready:
		startErr = err
	case <-timer.C:
		startErr = fmt.Errorf("not ready after %s", grace)
	case <-ctx.Done():
		startErr = ctx.Err()
	}

	h.mu.Lock()
	if startErr != nil {
		h.state = StateFailed
		h.err = startErr
		h.mu.Unlock()
		cancel()
		return nil, &StartError{ID: spec.ID, Err: startErr}
	}
	h.state = StateRunning
	h.startedAt = time.Now()
	h.mu.Unlock()

	s.mu.Lock()
	s.active[h] = struct{}{}
	s.mu.Unlock()
	close(h.running)
	return h, nil
}

// Stop implements Scheduler. Stopping a unit that already exited is a no-op.
func (s *Local) Stop(h *Handle, grace time.Duration) error {
	if h == nil {
		return nil
	}
	if grace <= 0 {
		grace = s.cfg.StopGrace
	}

	h.mu.Lock()
	switch h.state {
	case StateStopped, StateCrashed, StateFailed:
		h.mu.Unlock()
		return nil
	case StateRunning, StateStarting:
		h.state = StateStopping
	}
	h.mu.Unlock()
	h.cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		s.mu.Lock()
		delete(s.active, h)
		s.mu.Unlock()
		s.logger.Warn("abandoning component after stop grace",
			slog.String("component", h.id),
			slog.Duration("grace", grace),
		)
		return fmt.Errorf("%w: %s after %s", ErrUngracefulStop, h.id, grace)
	}
}

// Crashes implements Scheduler.
func (s *Local) Crashes() <-chan Crash {
	return s.crashes
}

// Active returns the ids of units that are currently scheduled, sorted.
func (s *Local) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for h := range s.active {
		ids = append(ids, h.id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Local) finish(h *Handle, err error) {
	s.mu.Lock()
	delete(s.active, h)
	s.mu.Unlock()

	h.mu.Lock()
	if h.state == StateStopping {
		h.state = StateStopped
		h.err = err
		h.mu.Unlock()
		return
	}
	if err == nil {
		err = fmt.Errorf("exited without being stopped")
	}
	h.state = StateCrashed
	h.err = fmt.Errorf("%w: %w", ErrComponentCrashed, err)
	crash := Crash{ID: h.id, Err: h.err, At: time.Now()}
	h.mu.Unlock()

	s.report(crash)
}

// report puts a crash on the stream. When the stream is full the crash is
// queued and one forwarder goroutine feeds the queue in as the reader
// catches up, so reports keep their order.
func (s *Local) report(c Crash) {
	s.qmu.Lock()
	if !s.forwarding {
		select {
		case s.crashes <- c:
			s.qmu.Unlock()
			return
		default:
		}
		s.forwarding = true
		s.overflow = append(s.overflow, c)
		s.qmu.Unlock()
		s.logger.Warn("crash stream full, queueing crash report",
			slog.String("component", c.ID),
		)
		go s.forward()
		return
	}
	s.overflow = append(s.overflow, c)
	s.qmu.Unlock()
}

func (s *Local) forward() {
	for {
		s.qmu.Lock()
		if len(s.overflow) == 0 {
			s.forwarding = false
			s.overflow = nil
			s.qmu.Unlock()
			return
		}
		c := s.overflow[0]
		s.overflow = s.overflow[1:]
		s.qmu.Unlock()
		s.crashes <- c
	}
}

// safeCall converts a panic in fn into an error so a faulty unit cannot take
// the process down.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// PanicError carries a panic recovered from a unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
